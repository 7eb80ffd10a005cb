package querykey

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// KeySeparator delimits the path, type and input sections of a serialized key.
const KeySeparator = "::"

// Serializer flattens a structural Key into a stable string suitable for the
// cache engine's storage layer. Implementations must be deterministic: equal
// keys (per Key.Equal) serialize to equal strings.
type Serializer interface {
	Serialize(key Key) string
}

// defaultSerializer implements Serializer using reflection-based
// serialization. It handles function pointers with %p formatting, recursive
// slices and maps with sorted keys, and falls back to JSON for complex types
// while keeping output deterministic across runs.
type defaultSerializer struct{}

// NewDefaultSerializer creates a new instance of the default key serializer.
func NewDefaultSerializer() Serializer {
	return &defaultSerializer{}
}

// Serialize renders the key as path, optional type tag, optional input, all
// joined by KeySeparator. Bare path keys serialize to just the joined path,
// so every descriptor-carrying key under that path keeps it as a prefix.
func (s *defaultSerializer) Serialize(key Key) string {
	parts := []string{strings.Join(key.Path, PathSeparator)}

	if d := key.Descriptor; d != nil {
		if d.Type != "" {
			parts = append(parts, "type="+string(d.Type))
		}
		if d.Input != nil {
			parts = append(parts, "input="+s.serializeValue(d.Input))
		}
	}

	return strings.Join(parts, KeySeparator)
}

// serializeValue handles individual value serialization based on type.
func (s *defaultSerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := reflect.TypeOf(v)

	switch rt.Kind() {
	case reflect.Func:
		// %p keeps function-valued inputs stable within a process.
		return fmt.Sprintf("func:%p", v)

	case reflect.Ptr:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())

	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return s.serializeList("slice", rv)

	case reflect.Array:
		return s.serializeList("array", rv)

	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)

	case reflect.Struct:
		return s.serializeStruct(rv, rt)

	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)

	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	return s.jsonFallback(v)
}

// serializeList handles slices and arrays recursively.
func (s *defaultSerializer) serializeList(label string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}

	return fmt.Sprintf("%s[%d]:{%s}", label, length, strings.Join(parts, ","))
}

// serializeMap renders key=value pairs sorted by serialized key so output is
// deterministic regardless of map iteration order.
func (s *defaultSerializer) serializeMap(rv reflect.Value) string {
	keys := rv.MapKeys()
	pairs := make([]string, len(keys))

	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%s",
			s.serializeValue(k.Interface()),
			s.serializeValue(rv.MapIndex(k).Interface()))
	}
	sort.Strings(pairs)

	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct renders exported fields as name:value pairs in declaration
// order.
func (s *defaultSerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		value := rv.Field(i)
		if !value.CanInterface() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s", field.Name, s.serializeValue(value.Interface())))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// jsonFallback provides JSON serialization as a last resort.
func (s *defaultSerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// If JSON marshaling fails, fall back to type information rather
		// than panicking so cache operations keep working.
		return fmt.Sprintf("fallback:%s", reflect.TypeOf(v).String())
	}
	return fmt.Sprintf("json:%s", string(data))
}
