// dnfjson_mock provides a fake dnf-json helper and the data it answers
// with.
package dnfjson_mock

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Error has the shape of a dnf-json error answer.
type Error struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

var DepsolvePackageNotExistError = Error{
	Kind:   "MarkingErrors",
	Reason: "Error occurred when marking packages for installation: Problems in request:\nmissing packages: fash",
}

var DepsolveBadError = Error{
	Kind:   "DepsolveError",
	Reason: "There was a problem depsolving ['go2rpm']: \n Problem: conflicting requests\n  - nothing provides askalono-cli needed by go2rpm-1-4.fc31.noarch",
}

var FetchError = Error{
	Kind:   "FetchError",
	Reason: "There was a problem when fetching packages.",
}

// Stream is the answer to a streaming command.
type Stream struct {
	Progress []string `json:"progress"`
	// Error, when set, is written instead of the final result and the
	// helper exits with 1.
	Error *Error `json:"error,omitempty"`
}

// TestCase maps commands to their answers. Answers of type Error make the
// helper fail.
type TestCase struct {
	// RecordDir, when set, receives a copy of every request as
	// <command>.json.
	RecordDir string                     `json:"record_dir,omitempty"`
	Answers   map[string]json.RawMessage `json:"answers"`
	Streams   map[string]Stream          `json:"streams"`
}

// BasePackageNames returns package0 to package21.
func BasePackageNames() []string {
	var names []string
	for i := 0; i < 22; i++ {
		names = append(names, fmt.Sprintf("package%d", i))
	}
	return names
}

// BaseDepsolveResult resolves to three packages of known sizes.
func BaseDepsolveResult() map[string]interface{} {
	var pkgs []map[string]interface{}
	for i := 0; i < 3; i++ {
		pkgs = append(pkgs, map[string]interface{}{
			"name":          fmt.Sprintf("package%d", i),
			"epoch":         0,
			"version":       fmt.Sprintf("%d.0", i),
			"release":       fmt.Sprintf("%d.fc40", i),
			"arch":          "x86_64",
			"repo_id":       "fedora",
			"download_size": 1000,
			"install_size":  3000,
		})
	}
	return map[string]interface{}{
		"packages": pkgs,
		"warnings": []string{"package9 is not available"},
	}
}

// BaseComps has two groups and one default environment.
func BaseComps() map[string]interface{} {
	return map[string]interface{}{
		"groups": []map[string]interface{}{
			{"id": "core", "name": "Core", "description": "Smallest possible installation"},
			{"id": "development-tools", "name": "Development Tools", "description": "A basic development environment."},
		},
		"environments": []map[string]interface{}{
			{
				"id":              "server-product-environment",
				"name":            "Fedora Server Edition",
				"description":     "An integrated, easier to manage server.",
				"default_groups":  []string{"core"},
				"optional_groups": []string{"development-tools"},
			},
		},
		"default_environment": "server-product-environment",
	}
}

// BaseTestCase answers every command successfully.
func BaseTestCase() TestCase {
	answers := map[string]json.RawMessage{}
	for cmd, v := range map[string]interface{}{
		"depsolve":    BaseDepsolveResult(),
		"dump":        map[string]interface{}{"packages": BasePackageNames()},
		"comps":       BaseComps(),
		"import-keys": map[string]interface{}{},
	} {
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		answers[cmd] = data
	}
	return TestCase{
		Answers: answers,
		Streams: map[string]Stream{
			"download": {Progress: []string{"Downloading 1 of 3", "Downloading 2 of 3", "Downloading 3 of 3"}},
			"install":  {Progress: []string{"Installing package0", "Installing package1", "Installing package2"}},
		},
	}
}

// SetError makes command fail with e.
func (tc *TestCase) SetError(command string, e Error) {
	if s, ok := tc.Streams[command]; ok {
		s.Error = &e
		tc.Streams[command] = s
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	tc.Answers[command] = data
}

// Write stores the test case in dir and returns its path.
func (tc TestCase) Write(dir string) (string, error) {
	data, err := json.Marshal(tc)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "dnf-json-case.json")
	return path, os.WriteFile(path, data, 0600)
}

func isError(msg json.RawMessage) bool {
	var e Error
	if err := json.Unmarshal(msg, &e); err != nil {
		return false
	}
	return e.Kind != "" && e.Reason != ""
}

// Serve answers one request read from stdin according to the test case
// stored at casePath and returns the exit code of the helper.
func Serve(casePath string, stdin io.Reader, stdout io.Writer) int {
	data, err := os.ReadFile(casePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read test case %q: %v\n", casePath, err)
		return 2
	}
	var tc TestCase
	if err := json.Unmarshal(data, &tc); err != nil {
		fmt.Fprintf(os.Stderr, "invalid test case %q: %v\n", casePath, err)
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if tc.RecordDir != "" {
		if err := os.WriteFile(filepath.Join(tc.RecordDir, req.Command+".json"), raw, 0600); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	if s, ok := tc.Streams[req.Command]; ok {
		enc := json.NewEncoder(stdout)
		for _, p := range s.Progress {
			_ = enc.Encode(map[string]string{"progress": p})
		}
		if s.Error != nil {
			_ = enc.Encode(s.Error)
			return 1
		}
		_ = enc.Encode(map[string]bool{"done": true})
		return 0
	}

	answer, ok := tc.Answers[req.Command]
	if !ok {
		fmt.Fprintf(stdout, `{"kind": "InvalidRequest", "reason": "unsupported command %s"}`, req.Command)
		return 1
	}
	_, _ = stdout.Write(answer)
	if isError(answer) {
		return 1
	}
	return 0
}
