package structure

import (
	"reflect"
)

// Clone returns a deep copy of a record. Secret values are copied, never
// shared, so wiping one copy leaves the other intact.
func Clone[T any](record T) T {
	rv := reflect.ValueOf(&record).Elem()
	out := reflect.New(rv.Type()).Elem()
	deepCopy(out, rv)
	return out.Interface().(T)
}

// PublicCopy returns a deep copy with every first-level secret hidden.
// Secrets nested in lists or records are left as they are.
func PublicCopy[T any](record T) T {
	c := Clone(record)
	rv := reflect.ValueOf(&c).Elem()
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return c
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return c
	}
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanAddr() || !f.CanInterface() {
			continue
		}
		if s, ok := f.Addr().Interface().(secret); ok {
			s.HideSecret()
		}
	}
	return c
}

func deepCopy(dst, src reflect.Value) {
	switch src.Kind() {
	case reflect.Ptr:
		if src.IsNil() {
			return
		}
		p := reflect.New(src.Elem().Type())
		deepCopy(p.Elem(), src.Elem())
		dst.Set(p)
	case reflect.Slice:
		if src.IsNil() {
			return
		}
		s := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			deepCopy(s.Index(i), src.Index(i))
		}
		dst.Set(s)
	case reflect.Map:
		if src.IsNil() {
			return
		}
		m := reflect.MakeMapWithSize(src.Type(), src.Len())
		iter := src.MapRange()
		for iter.Next() {
			v := reflect.New(iter.Value().Type()).Elem()
			deepCopy(v, iter.Value())
			m.SetMapIndex(iter.Key(), v)
		}
		dst.Set(m)
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			if !dst.Field(i).CanSet() {
				continue
			}
			deepCopy(dst.Field(i), src.Field(i))
		}
	default:
		dst.Set(src)
	}
}
