package structure

import (
	"reflect"
	"strings"
	"sync"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Field describes one field of a record.
type Field struct {
	// Name is the snake_case code name.
	Name string
	// WireName is the kebab-case name used in structures.
	WireName    string
	Signature   string
	Description string
	Required    bool
	Secret      bool

	index int
	typ   reflect.Type
}

// Schema describes a record type. Fields are in declaration order.
type Schema struct {
	Name   string
	Type   reflect.Type
	Fields []Field

	byWire map[string]int
}

var (
	secretDataType     = reflect.TypeOf(SecretData{})
	secretDataListType = reflect.TypeOf(SecretDataList{})
	bytesType          = reflect.TypeOf([]byte(nil))
)

var schemaCache sync.Map

// SchemaOf returns the schema of the record type of v. v may be a struct
// value, a pointer to one or a reflect.Type.
func SchemaOf(v interface{}) (*Schema, error) {
	var t reflect.Type
	switch vt := v.(type) {
	case reflect.Type:
		t = vt
	default:
		t = reflect.TypeOf(v)
	}
	if t == nil {
		return nil, installerrors.Schema("nil is not a record")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return schemaFor(t)
}

// SchemaFor is SchemaOf for a type parameter.
func SchemaFor[T any]() (*Schema, error) {
	return schemaFor(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaFor(t reflect.Type) (*Schema, error) {
	return schemaIn(t, map[reflect.Type]bool{})
}

// schemaIn derives the schema of t. deriving holds the record types whose
// schema is being derived further up the stack.
func schemaIn(t reflect.Type, deriving map[reflect.Type]bool) (*Schema, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*Schema), nil
	}
	if deriving[t] {
		return nil, installerrors.Schema("record type %s refers to itself", t.Name())
	}
	deriving[t] = true
	defer delete(deriving, t)

	s, err := deriveSchema(t, deriving)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

func deriveSchema(t reflect.Type, deriving map[reflect.Type]bool) (*Schema, error) {
	if t.Kind() != reflect.Struct || t == secretDataType || t == secretDataListType {
		return nil, installerrors.Schema("%s is not a record type", t)
	}
	if t.NumField() == 0 {
		return nil, installerrors.Schema("record type %s has no fields", t.Name())
	}

	s := &Schema{
		Name:   t.Name(),
		Type:   t,
		byWire: map[string]int{},
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			return nil, installerrors.Schema("field %s of record type %s is not accessible", sf.Name, t.Name())
		}
		name := snakeCase(sf.Name)
		required := false
		if tag, ok := sf.Tag.Lookup("structure"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "required" {
					required = true
				}
			}
		}
		sig, err := signatureIn(sf.Type, deriving)
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorSchema, err, "field %s of record type %s", sf.Name, t.Name())
		}
		f := Field{
			Name:        name,
			WireName:    WireName(name),
			Signature:   sig,
			Description: sf.Tag.Get("description"),
			Required:    required,
			Secret:      sf.Type == secretDataType || sf.Type == secretDataListType,
			index:       i,
			typ:         sf.Type,
		}
		if _, dup := s.byWire[f.WireName]; dup {
			return nil, installerrors.Schema("record type %s declares %q twice", t.Name(), f.WireName)
		}
		s.byWire[f.WireName] = len(s.Fields)
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

// Field looks up a field by its wire name.
func (s *Schema) Field(wireName string) (Field, bool) {
	i, ok := s.byWire[wireName]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

func signatureOf(t reflect.Type) (string, error) {
	return signatureIn(t, map[reflect.Type]bool{})
}

func signatureIn(t reflect.Type, deriving map[reflect.Type]bool) (string, error) {
	switch {
	case t == secretDataType, t == secretDataListType:
		return SigStructure, nil
	case t == bytesType:
		return SigBytes, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return SigBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return SigInt, nil
	case reflect.String:
		return SigString, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return SigBytes, nil
		}
		elem, err := signatureIn(t.Elem(), deriving)
		if err != nil {
			return "", err
		}
		return "a" + elem, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return "", installerrors.Schema("map keys of %s must be strings", t)
		}
		elem, err := signatureIn(t.Elem(), deriving)
		if err != nil {
			return "", err
		}
		return "a{s" + elem + "}", nil
	case reflect.Struct:
		if _, err := schemaIn(t, deriving); err != nil {
			return "", err
		}
		return SigStructure, nil
	}
	return "", installerrors.Schema("unsupported field type %s", t)
}
