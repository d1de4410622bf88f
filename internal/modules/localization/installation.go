package localization

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/task"
)

func writeConfig(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return installerrors.Wrap(installerrors.ErrorInstallation, err, "")
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot write %s", path)
	}
	return nil
}

// LanguageInstallationTask writes /etc/locale.conf.
type LanguageInstallationTask struct {
	sysroot string
	lang    string
}

func NewLanguageInstallationTask(sysroot, lang string) *LanguageInstallationTask {
	return &LanguageInstallationTask{sysroot: sysroot, lang: lang}
}

func (t *LanguageInstallationTask) Name() string {
	return "Configure language"
}

func (t *LanguageInstallationTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	r.ReportProgress("Setting the language to " + t.lang)
	path := filepath.Join(t.sysroot, "etc/locale.conf")
	return nil, writeConfig(path, []byte(fmt.Sprintf("LANG=%q\n", t.lang)))
}

// KeyboardInstallationTask writes the console keymap to /etc/vconsole.conf
// and the X layouts to the X11 keyboard configuration.
type KeyboardInstallationTask struct {
	sysroot       string
	vcKeymap      string
	xLayouts      []string
	switchOptions []string
}

func NewKeyboardInstallationTask(sysroot, vcKeymap string, xLayouts, switchOptions []string) *KeyboardInstallationTask {
	return &KeyboardInstallationTask{
		sysroot:       sysroot,
		vcKeymap:      vcKeymap,
		xLayouts:      xLayouts,
		switchOptions: switchOptions,
	}
}

func (t *KeyboardInstallationTask) Name() string {
	return "Configure keyboard"
}

// ParseLayout splits "cz (qwerty)" into its layout and variant.
func ParseLayout(spec string) (layout, variant string) {
	layout, variant, found := strings.Cut(spec, "(")
	layout = strings.TrimSpace(layout)
	if !found {
		return layout, ""
	}
	return layout, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(variant), ")"))
}

// keymapForLayout guesses a console keymap from an X layout.
func keymapForLayout(spec string) string {
	layout, variant := ParseLayout(spec)
	if variant == "" {
		return layout
	}
	return layout + "-" + variant
}

func (t *KeyboardInstallationTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	keymap := t.vcKeymap
	if keymap == "" && len(t.xLayouts) > 0 {
		keymap = keymapForLayout(t.xLayouts[0])
		logrus.Infof("no console keymap, using %s from the X layouts", keymap)
	}

	if keymap != "" {
		r.ReportProgress("Setting the console keymap to " + keymap)
		if err := t.writeVConsole(keymap); err != nil {
			return nil, err
		}
	}
	if len(t.xLayouts) > 0 {
		r.ReportProgress("Setting the X layouts to " + strings.Join(t.xLayouts, ", "))
		if err := t.writeX11(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// writeVConsole replaces the KEYMAP line and keeps the rest.
func (t *KeyboardInstallationTask) writeVConsole(keymap string) error {
	path := filepath.Join(t.sysroot, "etc/vconsole.conf")
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot read %s", path)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "KEYMAP=%q\n", keymap)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "KEYMAP=") {
			continue
		}
		fmt.Fprintln(&out, line)
	}
	return writeConfig(path, out.Bytes())
}

func (t *KeyboardInstallationTask) writeX11() error {
	var layouts, variants []string
	for _, spec := range t.xLayouts {
		l, v := ParseLayout(spec)
		layouts = append(layouts, l)
		variants = append(variants, v)
	}

	var out bytes.Buffer
	fmt.Fprintln(&out, `Section "InputClass"`)
	fmt.Fprintln(&out, `        Identifier "system-keyboard"`)
	fmt.Fprintln(&out, `        MatchIsKeyboard "on"`)
	fmt.Fprintf(&out, "        Option \"XkbLayout\" %q\n", strings.Join(layouts, ","))
	if strings.Join(variants, "") != "" {
		fmt.Fprintf(&out, "        Option \"XkbVariant\" %q\n", strings.Join(variants, ","))
	}
	if len(t.switchOptions) > 0 {
		fmt.Fprintf(&out, "        Option \"XkbOptions\" %q\n", strings.Join(t.switchOptions, ","))
	}
	fmt.Fprintln(&out, "EndSection")

	return writeConfig(filepath.Join(t.sysroot, "etc/X11/xorg.conf.d/00-keyboard.conf"), out.Bytes())
}
