// Package bridge implements the Value Bridge: bidirectional conversion
// between native Go values and the closed set of script-visible shapes
// the engine interface exchanges as `any`. The reflective struct-field
// walk mirrors cryguy-worker's JSON-tag-driven binding conversion in its
// webapi request parsing, generalized from JSON tags to a `bridge`
// struct tag.
package bridge

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/kestrel-run/kestrel/internal/errs"
	"github.com/kestrel-run/kestrel/internal/weakhandle"
)

// ErrCantConvert is returned for every script->native conversion failure.
var ErrCantConvert = errs.ErrCantConvert

// Optional represents an optional value: a native optional converts to
// script null when absent.
type Optional struct {
	Valid bool
	Value any
}

func Some(v any) Optional { return Optional{Valid: true, Value: v} }
func None() Optional       { return Optional{} }

// Opaque wraps a script-engine value that passes through unchanged in
// both directions.
type Opaque struct{ Value any }

// EnumValue is a string-sum type tag: converts to its Name on the way
// out; on the way in, lookup is case-insensitive against Names, falling
// back to integer conversion, then to Default if set.
type EnumValue struct {
	Name    string
	Ordinal int
}

// EnumSpec describes one enum type for conversion in both directions.
type EnumSpec struct {
	Names   []string // index == ordinal
	Default int      // used when Script->Native lookup fails and no error is wanted
	HasDefault bool
}

// ToScript converts a native Go value into the shape the script engine
// expects. u64 values above math.MaxInt64 are passed through as a
// decimal string; smaller ones become int64, mirroring how a bigint literal must be constructed
// script-side since Go has no native bigint type to hand the engine.
func ToScript(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Optional:
		if !x.Valid {
			return nil, nil
		}
		return ToScript(x.Value)
	case Opaque:
		return x.Value, nil
	case EnumValue:
		if x.Name != "" {
			return x.Name, nil
		}
		return x.Ordinal, nil
	case error:
		return x.Error(), nil
	case []byte:
		// raw byte buffer: passed through as-is; the engine layer is
		// responsible for building a typed array over this backing
		// store (tommie/v8go's ArrayBuffer, or the quickjs equivalent).
		return x, nil
	case string, bool, int, int8, int16, int32, float32, float64:
		return x, nil
	case int64:
		return x, nil
	case uint64:
		if x > uint64(math.MaxInt64) {
			return strconv.FormatUint(x, 10), nil
		}
		return int64(x), nil
	case uint, uint8, uint16, uint32:
		return x, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		return structToScript(rv)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			conv, err := ToScript(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return ToScript(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			conv, err := ToScript(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = conv
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported native type %T", ErrCantConvert, v)
}

// structToScript reflectively enumerates a record's fields, honoring a
// `bridge:"name"` tag for the script-visible key and `bridge:"-"` to skip
// a field.
func structToScript(rv reflect.Value) (any, error) {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		conv, err := ToScript(rv.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		out[name] = conv
	}
	return out, nil
}

func fieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("bridge")
	if tag == "-" {
		return "", true
	}
	if tag == "" {
		return f.Name, false
	}
	if comma := strings.IndexByte(tag, ','); comma >= 0 {
		tag = tag[:comma]
	}
	if tag == "" {
		return f.Name, false
	}
	return tag, false
}

// FromScript converts a script-supplied value into a native Go value of
// out's type (out must be a non-nil pointer). Numeric narrowing
// range-checks; struct conversion treats an all-optional-fields target
// as constructible from a missing/null value (every field defaults to
// its zero value).
func FromScript(v any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%w: FromScript requires a non-nil pointer", ErrCantConvert)
	}
	return assign(v, rv.Elem())
}

func assign(v any, dst reflect.Value) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", ErrCantConvert, v)
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool, got %T", ErrCantConvert, v)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asFloat(v)
		if err != nil {
			return err
		}
		if !fitsSignedRange(n, dst.Kind()) {
			return fmt.Errorf("%w: %v out of range for %s", ErrCantConvert, n, dst.Kind())
		}
		dst.SetInt(int64(n))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := v.(string); ok {
			// large u64-as-bigint-string form, the inverse of ToScript's
			// uint64 overflow handling.
			u, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCantConvert, err)
			}
			dst.SetUint(u)
			return nil
		}
		n, err := asFloat(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: negative value for unsigned field", ErrCantConvert)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		n, err := asFloat(v)
		if err != nil {
			return err
		}
		dst.SetFloat(n)
		return nil
	case reflect.Slice:
		return assignSlice(v, dst)
	case reflect.Ptr:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(v, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Struct:
		return assignStruct(v, dst)
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v))
		return nil
	}
	return fmt.Errorf("%w: unsupported target kind %s", ErrCantConvert, dst.Kind())
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrCantConvert, v)
}

func fitsSignedRange(n float64, kind reflect.Kind) bool {
	switch kind {
	case reflect.Int8:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case reflect.Int16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case reflect.Int32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	default:
		return n >= -(1 << 53) && n <= (1<<53)
	}
}

func assignSlice(v any, dst reflect.Value) error {
	if b, ok := v.([]byte); ok && dst.Type().Elem().Kind() == reflect.Uint8 {
		dst.SetBytes(b)
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: expected array, got %T", ErrCantConvert, v)
	}
	out := reflect.MakeSlice(dst.Type(), len(items), len(items))
	for i, item := range items {
		if err := assign(item, out.Index(i)); err != nil {
			return err
		}
	}
	dst.Set(out)
	return nil
}

// assignStruct converts a script object (map[string]any) into a native
// struct. If every field carries `bridge:"omitempty"` (all-optional) and
// v is nil/missing, the zero-value struct is used.
func assignStruct(v any, dst reflect.Value) error {
	m, ok := v.(map[string]any)
	if !ok {
		if allOptional(dst.Type()) {
			return nil
		}
		return fmt.Errorf("%w: expected object, got %T", ErrCantConvert, v)
	}
	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		raw, present := m[name]
		if !present {
			if isOptionalField(f) {
				continue
			}
			return fmt.Errorf("%w: missing field %q", ErrCantConvert, name)
		}
		if err := assign(raw, dst.Field(i)); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func isOptionalField(f reflect.StructField) bool {
	tag := f.Tag.Get("bridge")
	return strings.Contains(tag, "omitempty") || f.Type.Kind() == reflect.Ptr
}

func allOptional(rt reflect.Type) bool {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if _, skip := fieldName(f); skip {
			continue
		}
		if !isOptionalField(f) {
			return false
		}
	}
	return true
}

// WeakHandleToNative validates a weak handle id against table and returns
// its native ptr, surfacing HandleExpired when the slot has been
// deinited (tag Null).
func WeakHandleToNative(table *weakhandle.Table, id int) (any, error) {
	ptr, tag, err := table.Lookup(id)
	if err != nil || tag == weakhandle.TagNull {
		return nil, errs.Coded(errs.ErrHandleExpired, errs.CodeHandleExpired)
	}
	return ptr, nil
}

// EnumToScript renders an ordinal as its name when in range, falling
// back to the bare ordinal otherwise.
func EnumToScript(spec EnumSpec, ordinal int) any {
	if ordinal >= 0 && ordinal < len(spec.Names) {
		return spec.Names[ordinal]
	}
	return ordinal
}

// EnumFromScript supports case-insensitive string-sum lookup and integer
// conversion with an optional Default fallback.
func EnumFromScript(spec EnumSpec, v any) (int, error) {
	switch x := v.(type) {
	case string:
		for i, name := range spec.Names {
			if strings.EqualFold(name, x) {
				return i, nil
			}
		}
	case float64:
		n := int(x)
		if n >= 0 && n < len(spec.Names) {
			return n, nil
		}
	}
	if spec.HasDefault {
		return spec.Default, nil
	}
	return 0, fmt.Errorf("%w: no enum member matches %v", ErrCantConvert, v)
}
