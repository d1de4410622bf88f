package structure

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Repr renders a record as TypeName(field='value', ...) with fields in
// alphabetical order. Secrets only show their type and whether a cleartext
// value is present, so Repr is safe to log.
func Repr(record interface{}) string {
	rv := reflect.ValueOf(record)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "None"
		}
		rv = rv.Elem()
	}
	return reprValue(rv)
}

func reprRecord(s *Schema, rv reflect.Value) string {
	fields := make([]Field, len(s.Fields))
	copy(fields, s.Fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Name+"="+reprValue(rv.Field(f.index)))
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

func reprValue(rv reflect.Value) string {
	t := rv.Type()
	switch t {
	case secretDataType:
		return rv.Interface().(SecretData).repr()
	case secretDataListType:
		return rv.Interface().(SecretDataList).repr()
	}

	switch t.Kind() {
	case reflect.Bool:
		return reprBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", rv.Uint())
	case reflect.String:
		return reprString(rv.String())
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "b" + reprString(string(rv.Bytes()))
		}
		items := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, reprValue(rv.Index(i)))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			v := rv.MapIndex(reflect.ValueOf(k).Convert(t.Key()))
			items = append(items, reprString(k)+": "+reprValue(v))
		}
		return "{" + strings.Join(items, ", ") + "}"
	case reflect.Struct:
		if s, err := schemaFor(t); err == nil {
			return reprRecord(s, rv)
		}
	}
	return fmt.Sprintf("%v", rv.Interface())
}

func reprString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return "'" + s + "'"
}

func reprBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
