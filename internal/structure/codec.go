package structure

import (
	"reflect"
	"sort"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Defaulter is implemented by records whose fields start from non-zero
// defaults. FromStructure calls SetDefaults before applying fields.
type Defaulter interface {
	SetDefaults()
}

// ToStructure converts a record to its structure form.
func ToStructure(record interface{}) (Structure, error) {
	s, err := SchemaOf(record)
	if err != nil {
		return nil, err
	}
	return s.ToStructure(record)
}

// ToStructure converts a record of this schema's type. Any other type is a
// SchemaError.
func (s *Schema) ToStructure(record interface{}) (Structure, error) {
	rv := reflect.ValueOf(record)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, installerrors.Schema("nil %s record", s.Name)
		}
		rv = rv.Elem()
	}
	if rv.Type() != s.Type {
		return nil, installerrors.Schema("expected a %s record, got %s", s.Name, rv.Type())
	}
	return s.encode(rv), nil
}

func (s *Schema) encode(rv reflect.Value) Structure {
	out := make(Structure, len(s.Fields))
	for _, f := range s.Fields {
		out[f.WireName] = Variant{Signature: f.Signature, Value: encodeValue(rv.Field(f.index))}
	}
	return out
}

func encodeValue(rv reflect.Value) interface{} {
	t := rv.Type()
	switch t {
	case secretDataType:
		sd := rv.Interface().(SecretData)
		return Structure{
			"type":  NewVariant(SigString, string(sd.typeOrNone())),
			"value": NewVariant(SigString, sd.Text()),
		}
	case secretDataListType:
		sl := rv.Interface().(SecretDataList)
		values := []interface{}{}
		for _, v := range sl.Texts() {
			values = append(values, v)
		}
		return Structure{
			"type":  NewVariant(SigString, string(sl.typeOrNone())),
			"value": NewVariant("a"+SigString, values),
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return b
		}
		out := make([]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, encodeValue(rv.Index(i)))
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = encodeValue(iter.Value())
		}
		return out
	case reflect.Struct:
		schema, err := schemaFor(t)
		if err != nil {
			// signatureOf validated nested types when the parent schema
			// was derived
			panic(err)
		}
		return schema.encode(rv)
	}
	panic("unsupported kind " + t.Kind().String())
}

// FromStructure builds a record of type T from its structure form. Unknown
// keys, type mismatches and missing required fields are a SchemaError and
// no partial record is returned.
func FromStructure[T any](st Structure) (T, error) {
	var zero T
	s, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	rv, err := s.decode(st)
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}

// FromStructure is the non-generic form of FromStructure. It returns a
// pointer to a new record.
func (s *Schema) FromStructure(st Structure) (interface{}, error) {
	rv, err := s.decode(st)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(s.Type)
	ptr.Elem().Set(rv)
	return ptr.Interface(), nil
}

func (s *Schema) decode(st Structure) (reflect.Value, error) {
	ptr := reflect.New(s.Type)
	if d, ok := ptr.Interface().(Defaulter); ok {
		d.SetDefaults()
	}
	rv := ptr.Elem()

	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f, ok := s.Field(key)
		if !ok {
			return reflect.Value{}, installerrors.Schema("unknown field %q in %s", key, s.Name)
		}
		v := st[key]
		if v.Signature != f.Signature {
			return reflect.Value{}, installerrors.Schema("field %q of %s has type %q, expected %q", key, s.Name, v.Signature, f.Signature)
		}
		fv, err := decodeValue(v.Value, f.typ)
		if err != nil {
			return reflect.Value{}, installerrors.Wrap(installerrors.ErrorSchema, err, "field %q of %s", key, s.Name)
		}
		rv.Field(f.index).Set(fv)
	}

	for _, f := range s.Fields {
		if _, ok := st[f.WireName]; f.Required && !ok {
			return reflect.Value{}, installerrors.Schema("missing required field %q in %s", f.WireName, s.Name)
		}
	}
	return rv, nil
}

func mismatch(value interface{}, t reflect.Type) error {
	return installerrors.Schema("cannot use %T as %s", value, t)
}

func decodeValue(value interface{}, t reflect.Type) (reflect.Value, error) {
	switch t {
	case secretDataType:
		st, ok := value.(Structure)
		if !ok {
			return reflect.Value{}, mismatch(value, t)
		}
		kind, raw, err := decodeSecretHeader(st, SigString)
		if err != nil {
			return reflect.Value{}, err
		}
		sd := SecretData{Type: kind}
		if kind == SecretText {
			text, ok := raw.(string)
			if !ok {
				return reflect.Value{}, mismatch(raw, reflect.TypeOf(""))
			}
			sd.Value = []byte(text)
		}
		return reflect.ValueOf(sd), nil
	case secretDataListType:
		st, ok := value.(Structure)
		if !ok {
			return reflect.Value{}, mismatch(value, t)
		}
		kind, raw, err := decodeSecretHeader(st, "a"+SigString)
		if err != nil {
			return reflect.Value{}, err
		}
		sl := SecretDataList{Type: kind}
		if kind == SecretText {
			items, ok := raw.([]interface{})
			if !ok {
				return reflect.Value{}, mismatch(raw, reflect.TypeOf([]string{}))
			}
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return reflect.Value{}, mismatch(item, reflect.TypeOf(""))
				}
				sl.Value = append(sl.Value, []byte(s))
			}
		}
		return reflect.ValueOf(sl), nil
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return out, mismatch(value, t)
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := value.(int64)
		if !ok {
			return out, mismatch(value, t)
		}
		if out.OverflowInt(i) {
			return out, installerrors.Schema("value %d overflows %s", i, t)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := value.(int64)
		if !ok {
			return out, mismatch(value, t)
		}
		if i < 0 || out.OverflowUint(uint64(i)) {
			return out, installerrors.Schema("value %d overflows %s", i, t)
		}
		out.SetUint(uint64(i))
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return out, mismatch(value, t)
		}
		out.SetString(s)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, ok := value.([]byte)
			if !ok {
				return out, mismatch(value, t)
			}
			if len(b) > 0 {
				cp := reflect.MakeSlice(t, len(b), len(b))
				reflect.Copy(cp, reflect.ValueOf(b))
				out.Set(cp)
			}
			return out, nil
		}
		items, ok := value.([]interface{})
		if !ok {
			return out, mismatch(value, t)
		}
		if len(items) == 0 {
			return out, nil
		}
		list := reflect.MakeSlice(t, 0, len(items))
		for _, item := range items {
			iv, err := decodeValue(item, t.Elem())
			if err != nil {
				return out, err
			}
			list = reflect.Append(list, iv)
		}
		out.Set(list)
	case reflect.Map:
		items, ok := value.(map[string]interface{})
		if !ok {
			return out, mismatch(value, t)
		}
		if len(items) == 0 {
			return out, nil
		}
		m := reflect.MakeMapWithSize(t, len(items))
		for k, item := range items {
			iv, err := decodeValue(item, t.Elem())
			if err != nil {
				return out, err
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), iv)
		}
		out.Set(m)
	case reflect.Struct:
		st, ok := value.(Structure)
		if !ok {
			return out, mismatch(value, t)
		}
		schema, err := schemaFor(t)
		if err != nil {
			return out, err
		}
		return schema.decode(st)
	default:
		return out, installerrors.Schema("unsupported field type %s", t)
	}
	return out, nil
}

func decodeSecretHeader(st Structure, valueSig string) (SecretType, interface{}, error) {
	for k := range st {
		if k != "type" && k != "value" {
			return "", nil, installerrors.Schema("unknown field %q in secret", k)
		}
	}
	tv, ok := st["type"]
	if !ok || tv.Signature != SigString {
		return "", nil, installerrors.Schema("secret without a type")
	}
	name, _ := tv.Value.(string)
	kind := SecretType(name)
	if !kind.valid() {
		return "", nil, installerrors.Schema("invalid secret type %q", kind)
	}
	vv, ok := st["value"]
	if !ok {
		if kind == SecretText {
			return "", nil, installerrors.Schema("secret of type TEXT without a value")
		}
		return kind, nil, nil
	}
	if vv.Signature != valueSig {
		return "", nil, installerrors.Schema("secret value has type %q, expected %q", vv.Signature, valueSig)
	}
	return kind, vv.Value, nil
}

// ToStructureList converts an ordered list of records.
func ToStructureList[T any](records []T) ([]Structure, error) {
	out := make([]Structure, 0, len(records))
	for _, r := range records {
		st, err := ToStructure(r)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// FromStructureList converts an ordered list of structures.
func FromStructureList[T any](structures []Structure) ([]T, error) {
	out := make([]T, 0, len(structures))
	for _, st := range structures {
		r, err := FromStructure[T](st)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Equal compares two records field by field.
func Equal(a, b interface{}) bool {
	sa, err := ToStructure(a)
	if err != nil {
		return false
	}
	sb, err := ToStructure(b)
	if err != nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(sa, sb)
}

// SignatureFor returns the type signature of T.
func SignatureFor[T any]() (string, error) {
	return signatureOf(reflect.TypeOf((*T)(nil)).Elem())
}

// VariantOf wraps a plain value or a record in a variant.
func VariantOf(v interface{}) (Variant, error) {
	if v == nil {
		return Variant{}, installerrors.Schema("cannot wrap nil in a variant")
	}
	rv := reflect.ValueOf(v)
	sig, err := signatureOf(rv.Type())
	if err != nil {
		return Variant{}, err
	}
	return Variant{Signature: sig, Value: encodeValue(rv)}, nil
}

// FromVariant unwraps a variant into T. The signature must match the one of
// T.
func FromVariant[T any](v Variant) (T, error) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	sig, err := signatureOf(t)
	if err != nil {
		return zero, err
	}
	if v.Signature != sig {
		return zero, installerrors.Schema("expected a value of type %q, got %q", sig, v.Signature)
	}
	rv, err := decodeValue(v.Value, t)
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}
