package common

import (
	"net/url"
	"regexp"
	"runtime"
	"strings"
)

var RuntimeGOARCH = runtime.GOARCH

func CurrentArch() string {
	if RuntimeGOARCH == "amd64" {
		return "x86_64"
	} else if RuntimeGOARCH == "arm64" {
		return "aarch64"
	} else if RuntimeGOARCH == "ppc64le" {
		return "ppc64le"
	} else if RuntimeGOARCH == "s390x" {
		return "s390x"
	} else {
		panic("unsupported architecture")
	}
}

// IsS390 reports whether the installer runs on IBM Z, where the hardware
// clock is not managed by the installed system.
func IsS390() bool {
	return RuntimeGOARCH == "s390x"
}

func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

func ToPtr[T any](x T) *T {
	return &x
}

// IsFalsey returns true for the boot option values that switch a feature
// off.
func IsFalsey(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "no", "off", "false":
		return true
	}
	return false
}

// RedactURL removes the password from any credentials embedded in a URL.
// Strings that do not parse as URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s'"]+`)

// RedactURLs applies RedactURL to every URL found in a free form message.
func RedactURLs(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, RedactURL)
}
