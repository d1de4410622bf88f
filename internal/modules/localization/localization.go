// Package localization is the module owning the system language and the
// keyboard layouts.
package localization

import (
	"context"
	"fmt"
	"regexp"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
)

const (
	Name = "Localization"

	DefaultLanguage = "en_US.UTF-8"
)

var localePattern = regexp.MustCompile(`^[a-z]{2,3}(_[A-Z]{2})?(\.[A-Za-z0-9-]+)?(@[a-z]+)?$`)

// IsValidLocale checks the shape of a locale name.
func IsValidLocale(locale string) bool {
	return localePattern.MatchString(locale)
}

type Module struct {
	module.Base

	env *module.Env

	language        *priority.Cell[string]
	languageSupport []string
	vcKeymap        *priority.Cell[string]
	xLayouts        *priority.Cell[[]string]
	switchOptions   []string
}

func New(env *module.Env) *Module {
	defaults, _ := DefaultsFor(DefaultLanguage)
	m := &Module{
		Base:     module.NewBase(Name, "lang", "keyboard"),
		env:      env,
		language: priority.NewCell("language", DefaultLanguage),
		vcKeymap: priority.NewCell("vc-keymap", defaults.Keymap),
		xLayouts: priority.NewCell("x-layouts", defaults.XLayouts),
	}
	m.language.Changed.Connect(func(lang string) {
		m.Logger().Infof("language is set to %s", lang)
		m.PropertyChanged("Language")
		m.applyLanguageDefaults(lang)
	})
	m.vcKeymap.Changed.Connect(func(string) { m.PropertyChanged("VirtualConsoleKeymap") })
	m.xLayouts.Changed.Connect(func([]string) { m.PropertyChanged("XLayouts") })

	if f := env.Flags; f != nil {
		if f.Lang != "" {
			m.language.Set(f.Lang, priority.Kickstart)
		}
		if f.Keymap != "" {
			m.vcKeymap.Set(f.Keymap, priority.Kickstart)
		}
	}
	return m
}

// applyLanguageDefaults proposes the keyboard that goes with lang.
func (m *Module) applyLanguageDefaults(lang string) {
	d, ok := DefaultsFor(lang)
	if !ok {
		return
	}
	m.vcKeymap.Set(d.Keymap, priority.Language)
	m.xLayouts.Set(d.XLayouts, priority.Language)
}

func (m *Module) Language() string {
	return m.language.Get()
}

// LanguageCell is the cell holding the language.
func (m *Module) LanguageCell() *priority.Cell[string] {
	return m.language
}

func (m *Module) SetLanguage(lang string, p priority.Priority) error {
	if !IsValidLocale(lang) {
		return installerrors.InvalidRequest("invalid locale %q", lang)
	}
	m.language.Set(lang, p)
	return nil
}

func (m *Module) LanguageSupport() []string {
	return append([]string(nil), m.languageSupport...)
}

func (m *Module) SetLanguageSupport(locales []string) error {
	for _, l := range locales {
		if !IsValidLocale(l) {
			return installerrors.InvalidRequest("invalid locale %q", l)
		}
	}
	m.languageSupport = append([]string(nil), locales...)
	m.PropertyChanged("LanguageSupport")
	return nil
}

func (m *Module) VirtualConsoleKeymap() string {
	return m.vcKeymap.Get()
}

func (m *Module) SetVirtualConsoleKeymap(keymap string, p priority.Priority) {
	m.vcKeymap.Set(keymap, p)
}

func (m *Module) XLayouts() []string {
	return append([]string(nil), m.xLayouts.Get()...)
}

func (m *Module) SetXLayouts(layouts []string, p priority.Priority) {
	m.xLayouts.Set(append([]string(nil), layouts...), p)
}

func (m *Module) LayoutSwitchOptions() []string {
	return append([]string(nil), m.switchOptions...)
}

func (m *Module) SetLayoutSwitchOptions(options []string) {
	m.switchOptions = append([]string(nil), options...)
	m.PropertyChanged("LayoutSwitchOptions")
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	if l := data.Lang; l != nil {
		if err := m.SetLanguage(l.Lang, priority.Kickstart); err != nil {
			return err
		}
		if err := m.SetLanguageSupport(l.AddSupport); err != nil {
			return err
		}
	}
	if kb := data.Keyboard; kb != nil {
		if kb.VCKeymap != "" {
			m.vcKeymap.Set(kb.VCKeymap, priority.Kickstart)
		}
		if len(kb.XLayouts) > 0 {
			m.SetXLayouts(kb.XLayouts, priority.Kickstart)
		}
		m.SetLayoutSwitchOptions(kb.SwitchOptions)
	}
	return nil
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.Lang = &kickstart.Lang{
		Lang:       m.language.Get(),
		AddSupport: m.LanguageSupport(),
	}
	data.Keyboard = nil
	if m.vcKeymap.Get() != "" || len(m.xLayouts.Get()) > 0 || len(m.switchOptions) > 0 {
		data.Keyboard = &kickstart.Keyboard{
			VCKeymap:      m.vcKeymap.Get(),
			XLayouts:      m.XLayouts(),
			SwitchOptions: m.LayoutSwitchOptions(),
		}
	}
}

// CollectRequirements asks for the language packs of the language and of
// the supported languages.
func (m *Module) CollectRequirements() []requirement.Requirement {
	var reqs []requirement.Requirement
	seen := map[string]bool{}
	for _, locale := range append([]string{m.language.Get()}, m.languageSupport...) {
		code := LanguageCode(locale)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		reqs = append(reqs, requirement.Package("langpacks-"+code,
			fmt.Sprintf("Required to support the locale '%s'.", locale)))
	}
	return reqs
}

func (m *Module) InstallWithTasks() []task.Task {
	return []task.Task{
		NewLanguageInstallationTask(m.env.Sysroot(), m.language.Get()),
		NewKeyboardInstallationTask(m.env.Sysroot(), m.vcKeymap.Get(), m.XLayouts(), m.LayoutSwitchOptions()),
	}
}

// LocaleData describes a locale for front-ends.
type LocaleData struct {
	Locale   string `structure:",required" description:"Locale name, for example cs_CZ.UTF-8."`
	Keymap   string `description:"Console keymap used with the locale."`
	Timezone string `description:"Timezone most common for the locale."`
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("Language", m.Language, func(_ context.Context, v string) error {
				return m.SetLanguage(v, priority.User)
			}),
			bus.ReadWrite("LanguageSupport", m.LanguageSupport, func(_ context.Context, v []string) error {
				return m.SetLanguageSupport(v)
			}),
			bus.ReadWrite("VirtualConsoleKeymap", m.VirtualConsoleKeymap, func(_ context.Context, v string) error {
				m.SetVirtualConsoleKeymap(v, priority.User)
				return nil
			}),
			bus.ReadWrite("XLayouts", m.XLayouts, func(_ context.Context, v []string) error {
				m.SetXLayouts(v, priority.User)
				return nil
			}),
			bus.ReadWrite("LayoutSwitchOptions", m.LayoutSwitchOptions, func(_ context.Context, v []string) error {
				m.SetLayoutSwitchOptions(v)
				return nil
			}),
		},
		Methods: []bus.Method{
			bus.Query("GetLocales", func(context.Context) ([]LocaleData, error) {
				var locales []LocaleData
				for _, l := range KnownLocales() {
					d, _ := DefaultsFor(l)
					locales = append(locales, LocaleData{Locale: l, Keymap: d.Keymap, Timezone: d.Timezone})
				}
				return locales, nil
			}),
			bus.Function("GetLocaleDefaults", "locale", func(_ context.Context, locale string) (LocaleData, error) {
				d, ok := DefaultsFor(locale)
				if !ok {
					return LocaleData{}, installerrors.InvalidRequest("no defaults for locale %q", locale)
				}
				return LocaleData{Locale: locale, Keymap: d.Keymap, Timezone: d.Timezone}, nil
			}),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}
