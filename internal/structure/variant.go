package structure

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Type signatures of variant values.
const (
	SigBool      = "b"
	SigInt       = "x"
	SigString    = "s"
	SigBytes     = "ay"
	SigStructure = "a{sv}"
)

// Variant is a value tagged with its type signature.
//
// Values use a small set of Go types: bool, int64, string, []byte,
// []interface{} for lists, map[string]interface{} for string maps and
// Structure for nested records.
type Variant struct {
	Signature string
	Value     interface{}
}

// Structure is the transport form of a record.
type Structure map[string]Variant

func NewVariant(sig string, value interface{}) Variant {
	return Variant{Signature: sig, Value: value}
}

type jsonVariant struct {
	Signature string          `json:"t"`
	Value     json.RawMessage `json:"v"`
}

func (v Variant) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(v.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonVariant{Signature: v.Signature, Value: value})
}

func (v *Variant) UnmarshalJSON(data []byte) error {
	var raw jsonVariant
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Signature == "" {
		return installerrors.Schema("variant without a type signature")
	}
	value, err := decodeJSONBySignature(raw.Signature, raw.Value)
	if err != nil {
		return err
	}
	v.Signature = raw.Signature
	v.Value = value
	return nil
}

// listElem returns the element signature of a list signature.
func listElem(sig string) (string, bool) {
	if strings.HasPrefix(sig, "a") && !strings.HasPrefix(sig, "a{") && len(sig) > 1 {
		return sig[1:], true
	}
	return "", false
}

// mapElem returns the value signature of a string map signature.
func mapElem(sig string) (string, bool) {
	if strings.HasPrefix(sig, "a{s") && strings.HasSuffix(sig, "}") && sig != SigStructure {
		return sig[3 : len(sig)-1], true
	}
	return "", false
}

func decodeJSONBySignature(sig string, raw json.RawMessage) (interface{}, error) {
	switch sig {
	case SigBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, wrapDecode(sig, err)
	case SigInt:
		var i int64
		err := json.Unmarshal(raw, &i)
		return i, wrapDecode(sig, err)
	case SigString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, wrapDecode(sig, err)
	case SigBytes:
		var b []byte
		err := json.Unmarshal(raw, &b)
		if b == nil {
			b = []byte{}
		}
		return b, wrapDecode(sig, err)
	case SigStructure:
		var s Structure
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, wrapDecode(sig, err)
		}
		if s == nil {
			s = Structure{}
		}
		return s, nil
	}

	if elem, ok := mapElem(sig); ok {
		var items map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, wrapDecode(sig, err)
		}
		out := make(map[string]interface{}, len(items))
		for k, item := range items {
			v, err := decodeJSONBySignature(elem, item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}

	if elem, ok := listElem(sig); ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, wrapDecode(sig, err)
		}
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			v, err := decodeJSONBySignature(elem, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	return nil, installerrors.Schema("unsupported type signature %q", sig)
}

func wrapDecode(sig string, err error) error {
	if err == nil {
		return nil
	}
	return installerrors.Wrap(installerrors.ErrorSchema, err, "cannot decode value of type %q", sig)
}

func (v Variant) String() string {
	return fmt.Sprintf("<%s %v>", v.Signature, v.Value)
}
