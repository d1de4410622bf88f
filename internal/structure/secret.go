package structure

import (
	"fmt"
)

// SecretType is the state of a secret value.
type SecretType string

const (
	// SecretNone means no value was set.
	SecretNone SecretType = "NONE"
	// SecretText means the cleartext is present.
	SecretText SecretType = "TEXT"
	// SecretHidden means a value was set and has since been redacted.
	SecretHidden SecretType = "HIDDEN"
)

func (t SecretType) valid() bool {
	return t == SecretNone || t == SecretText || t == SecretHidden
}

// SecretData holds a single secret such as a password. The cleartext is
// kept as bytes so it can be wiped when hidden or cleared.
type SecretData struct {
	Type  SecretType
	Value []byte
}

// NewSecret returns a TEXT secret holding value.
func NewSecret(value string) SecretData {
	s := SecretData{}
	s.SetSecret(value)
	return s
}

func (s *SecretData) SetSecret(value string) {
	s.wipe()
	s.Type = SecretText
	s.Value = []byte(value)
}

// ClearSecret drops any value and returns the secret to NONE.
func (s *SecretData) ClearSecret() {
	s.wipe()
	s.Type = SecretNone
}

// HideSecret redacts a TEXT secret. NONE and HIDDEN are left alone.
func (s *SecretData) HideSecret() {
	if s.Type == SecretText {
		s.Type = SecretHidden
	}
	s.wipe()
}

// Text returns the cleartext, or "" unless the secret is TEXT.
func (s SecretData) Text() string {
	if s.Type != SecretText {
		return ""
	}
	return string(s.Value)
}

// IsSet reports whether a value was ever given, hidden or not.
func (s SecretData) IsSet() bool {
	return s.Type == SecretText || s.Type == SecretHidden
}

func (s *SecretData) wipe() {
	for i := range s.Value {
		s.Value[i] = 0
	}
	s.Value = nil
}

func (s SecretData) repr() string {
	return fmt.Sprintf("SecretData(type=%s, value_set=%s)", reprString(string(s.typeOrNone())), reprBool(s.Type == SecretText))
}

func (s SecretData) typeOrNone() SecretType {
	if s.Type == "" {
		return SecretNone
	}
	return s.Type
}

func (s SecretData) String() string {
	return s.repr()
}

func (s SecretData) GoString() string {
	return s.repr()
}

// SecretDataList holds a list of secrets that share one state, such as
// subscription activation keys.
type SecretDataList struct {
	Type  SecretType
	Value [][]byte
}

func NewSecretList(values []string) SecretDataList {
	s := SecretDataList{}
	s.SetSecret(values)
	return s
}

func (s *SecretDataList) SetSecret(values []string) {
	s.wipe()
	s.Type = SecretText
	for _, v := range values {
		s.Value = append(s.Value, []byte(v))
	}
}

func (s *SecretDataList) ClearSecret() {
	s.wipe()
	s.Type = SecretNone
}

func (s *SecretDataList) HideSecret() {
	if s.Type == SecretText {
		s.Type = SecretHidden
	}
	s.wipe()
}

func (s SecretDataList) Texts() []string {
	if s.Type != SecretText {
		return nil
	}
	out := make([]string, 0, len(s.Value))
	for _, v := range s.Value {
		out = append(out, string(v))
	}
	return out
}

func (s SecretDataList) IsSet() bool {
	return s.Type == SecretText || s.Type == SecretHidden
}

func (s *SecretDataList) wipe() {
	for _, v := range s.Value {
		for i := range v {
			v[i] = 0
		}
	}
	s.Value = nil
}

func (s SecretDataList) typeOrNone() SecretType {
	if s.Type == "" {
		return SecretNone
	}
	return s.Type
}

func (s SecretDataList) repr() string {
	return fmt.Sprintf("SecretDataList(type=%s, value_set=%s)", reprString(string(s.typeOrNone())), reprBool(s.Type == SecretText))
}

func (s SecretDataList) String() string {
	return s.repr()
}

func (s SecretDataList) GoString() string {
	return s.repr()
}

// secret is implemented by both secret kinds.
type secret interface {
	HideSecret()
}
