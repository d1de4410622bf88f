package localization

import (
	"sort"
	"strings"
)

// LocaleDefaults are the settings that usually go with a locale.
type LocaleDefaults struct {
	Keymap   string
	XLayouts []string
	Timezone string
}

var localeDefaults = map[string]LocaleDefaults{
	"cs_CZ": {Keymap: "cz", XLayouts: []string{"cz", "us"}, Timezone: "Europe/Prague"},
	"de_AT": {Keymap: "at-nodeadkeys", XLayouts: []string{"at (nodeadkeys)"}, Timezone: "Europe/Vienna"},
	"de_CH": {Keymap: "ch-de_nodeadkeys", XLayouts: []string{"ch (de_nodeadkeys)"}, Timezone: "Europe/Zurich"},
	"de_DE": {Keymap: "de-nodeadkeys", XLayouts: []string{"de (nodeadkeys)"}, Timezone: "Europe/Berlin"},
	"en_GB": {Keymap: "gb", XLayouts: []string{"gb"}, Timezone: "Europe/London"},
	"en_US": {Keymap: "us", XLayouts: []string{"us"}, Timezone: "America/New_York"},
	"es_ES": {Keymap: "es", XLayouts: []string{"es"}, Timezone: "Europe/Madrid"},
	"fr_FR": {Keymap: "fr-oss", XLayouts: []string{"fr (oss)"}, Timezone: "Europe/Paris"},
	"it_IT": {Keymap: "it", XLayouts: []string{"it"}, Timezone: "Europe/Rome"},
	"ja_JP": {Keymap: "jp", XLayouts: []string{"jp"}, Timezone: "Asia/Tokyo"},
	"pl_PL": {Keymap: "pl2", XLayouts: []string{"pl"}, Timezone: "Europe/Warsaw"},
	"pt_BR": {Keymap: "br-abnt2", XLayouts: []string{"br"}, Timezone: "America/Sao_Paulo"},
	"ru_RU": {Keymap: "ru", XLayouts: []string{"ru", "us"}, Timezone: "Europe/Moscow"},
	"sk_SK": {Keymap: "sk-qwertz", XLayouts: []string{"sk (qwerty)", "us"}, Timezone: "Europe/Bratislava"},
	"zh_CN": {Keymap: "us", XLayouts: []string{"cn"}, Timezone: "Asia/Shanghai"},
}

// languageTerritories maps a bare language to its most common locale.
var languageTerritories = map[string]string{
	"cs": "cs_CZ",
	"de": "de_DE",
	"en": "en_US",
	"es": "es_ES",
	"fr": "fr_FR",
	"it": "it_IT",
	"ja": "ja_JP",
	"pl": "pl_PL",
	"pt": "pt_BR",
	"ru": "ru_RU",
	"sk": "sk_SK",
	"zh": "zh_CN",
}

// splitLocale splits cs_CZ.UTF-8@euro into its language, territory,
// encoding and modifier.
func splitLocale(locale string) (language, territory, encoding, modifier string) {
	rest := locale
	rest, modifier, _ = strings.Cut(rest, "@")
	rest, encoding, _ = strings.Cut(rest, ".")
	language, territory, _ = strings.Cut(rest, "_")
	return
}

// LanguageCode returns the language part of a locale, "cs" for
// "cs_CZ.UTF-8".
func LanguageCode(locale string) string {
	language, _, _, _ := splitLocale(locale)
	return language
}

// DefaultsFor returns the defaults of a locale like cs_CZ.UTF-8 or cs.
func DefaultsFor(locale string) (LocaleDefaults, bool) {
	language, territory, _, _ := splitLocale(locale)
	key := language + "_" + territory
	if territory == "" {
		key = languageTerritories[language]
	}
	d, ok := localeDefaults[key]
	return d, ok
}

// KnownLocales returns the locales with known defaults, sorted.
func KnownLocales() []string {
	locales := make([]string, 0, len(localeDefaults))
	for l := range localeDefaults {
		locales = append(locales, l+".UTF-8")
	}
	sort.Strings(locales)
	return locales
}
