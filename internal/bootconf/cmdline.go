// Package bootconf builds the startup configuration of the installer from
// the boot command line and the configuration file.
package bootconf

import (
	"os"
	"strings"

	"github.com/osbuild/installer-core/internal/common"
)

// Cmdline is the parsed boot command line. Unknown keys are kept but
// never interpreted.
type Cmdline map[string]string

// accumulating keys collect every occurrence instead of keeping the last
// one.
var accumulating = map[string]bool{
	"modprobe.blacklist": true,
}

// ParseCmdline splits a kernel command line. Values may be double quoted
// and a key without a value maps to the empty string.
func ParseCmdline(line string) Cmdline {
	c := Cmdline{}
	for _, arg := range splitCmdline(line) {
		key, value, _ := strings.Cut(arg, "=")
		if key == "" {
			continue
		}
		if accumulating[key] {
			if prev, ok := c[key]; ok && prev != "" {
				value = prev + "," + value
			}
		}
		c[key] = value
	}
	return c
}

// ReadCmdline parses the command line stored in the given file, usually
// /proc/cmdline.
func ReadCmdline(path string) (Cmdline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCmdline(string(data)), nil
}

func splitCmdline(line string) []string {
	var args []string
	var cur strings.Builder
	quoted := false
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			quoted = !quoted
		case (r == ' ' || r == '\t' || r == '\n') && !quoted:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

// Get returns the value of key. Keys with the inst. prefix also match
// their legacy spelling without it.
func (c Cmdline) Get(key string) (string, bool) {
	if v, ok := c[key]; ok {
		return v, true
	}
	if bare, ok := strings.CutPrefix(key, "inst."); ok {
		v, ok := c[bare]
		return v, ok
	}
	return "", false
}

// GetString returns the value of key or def when the key is absent.
func (c Cmdline) GetString(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Bool interprets key as a switch. A bare key is true, the values 0, no,
// off and false are false and absence yields def.
func (c Cmdline) Bool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	return !common.IsFalsey(v)
}

// List splits a comma separated value.
func (c Cmdline) List(key string) []string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
