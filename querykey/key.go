package querykey

import (
	"reflect"
	"strings"
)

// PathSeparator is the delimiter used when a procedure path is supplied as a
// single dotted string (e.g. "users.getById").
const PathSeparator = "."

// AccessType tags how a cache key will be consumed. Query and infinite-query
// reads produce distinct keys for the same path and input; TypeAny produces an
// untyped key that matches both.
type AccessType string

const (
	// TypeQuery marks a single-shot read.
	TypeQuery AccessType = "query"

	// TypeInfinite marks a paginated read. Pagination-only fields are
	// stripped from the input before it is embedded in the key so that
	// successive pages share one cache entry.
	TypeInfinite AccessType = "infinite"

	// TypeAny marks an untyped request. The type is omitted from the
	// resulting key, which makes the key match both query and infinite
	// entries during bulk operations.
	TypeAny AccessType = "any"
)

// paginationFields are the input fields that vary per page and must not
// fragment the cache. Matching is case-insensitive against map keys, struct
// field names and json tags.
var paginationFields = map[string]struct{}{
	"cursor":    {},
	"direction": {},
}

// Descriptor carries the optional input/type qualifier of a cache key.
// A nil Input means the caller supplied no input; falsy-but-present values
// (0, "", false) are kept and produce distinct keys. An empty Type means the
// request was untyped.
type Descriptor struct {
	Input any
	Type  AccessType
}

// Key is the canonical, structurally-comparable identifier for a fetched or
// fetchable value: a procedure path plus an optional descriptor. The zero
// value is the empty key, which matches every other key.
type Key struct {
	Path       []string
	Descriptor *Descriptor
}

// Derive builds a Key from a procedure path, an optional input and an access
// type. It is pure and never fails; malformed inputs are embedded opaquely.
//
// A single path element containing PathSeparator is split into segments, so
// callers may pass either []string{"users", "getById"} or
// []string{"users.getById"}.
//
// When input is nil and access is TypeAny the descriptor is omitted entirely,
// producing a bare path key. The bare form is what makes bulk invalidation
// work: it structurally matches every key sharing that path prefix. As a
// special case, a nil input with TypeAny and an empty path yields the zero
// Key rather than a key holding an empty path.
func Derive(path []string, input any, access AccessType) Key {
	segments := SplitPath(path)

	if input == nil && access == TypeAny {
		if len(segments) == 0 {
			return Key{}
		}
		return Key{Path: segments}
	}

	if access == TypeInfinite {
		input = stripPagination(input)
	}

	d := &Descriptor{Input: input}
	if access != TypeAny {
		d.Type = access
	}

	return Key{Path: segments, Descriptor: d}
}

// SplitPath normalizes a path slice, splitting any element that contains
// PathSeparator and dropping empty segments.
func SplitPath(path []string) []string {
	var segments []string
	for _, p := range path {
		for _, s := range strings.Split(p, PathSeparator) {
			if s != "" {
				segments = append(segments, s)
			}
		}
	}
	return segments
}

// IsZero reports whether k is the empty key.
func (k Key) IsZero() bool {
	return len(k.Path) == 0 && k.Descriptor == nil
}

// Equal reports structural equality of two keys: same path and deeply equal
// descriptors. Identity of the underlying values is irrelevant.
func (k Key) Equal(other Key) bool {
	if len(k.Path) != len(other.Path) {
		return false
	}
	for i := range k.Path {
		if k.Path[i] != other.Path[i] {
			return false
		}
	}
	if (k.Descriptor == nil) != (other.Descriptor == nil) {
		return false
	}
	if k.Descriptor == nil {
		return true
	}
	return k.Descriptor.Type == other.Descriptor.Type &&
		reflect.DeepEqual(k.Descriptor.Input, other.Descriptor.Input)
}

// Matches reports whether k, used as a filter, selects candidate. The filter
// path must be a prefix of the candidate path. A filter without a descriptor
// matches any descriptor; a filter with one requires a structural match on
// input, and on type unless the filter's type is untyped.
func (k Key) Matches(candidate Key) bool {
	if len(k.Path) > len(candidate.Path) {
		return false
	}
	for i := range k.Path {
		if k.Path[i] != candidate.Path[i] {
			return false
		}
	}
	if k.Descriptor == nil {
		return true
	}
	if candidate.Descriptor == nil {
		return false
	}
	if k.Descriptor.Type != "" && k.Descriptor.Type != candidate.Descriptor.Type {
		return false
	}
	return reflect.DeepEqual(k.Descriptor.Input, candidate.Descriptor.Input)
}

// stripPagination removes pagination-only fields from an input before it is
// embedded in an infinite key. Map inputs are copied without the matching
// keys; struct inputs are flattened to a map of their exported fields with
// the matching fields (by name or json tag) dropped. Anything else passes
// through untouched.
func stripPagination(input any) any {
	if input == nil {
		return nil
	}

	if m, ok := input.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for key, v := range m {
			if _, skip := paginationFields[strings.ToLower(key)]; skip {
				continue
			}
			out[key] = v
		}
		return out
	}

	rv := reflect.ValueOf(input)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return input
	}

	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			if comma := strings.Index(tag, ","); comma >= 0 {
				tag = tag[:comma]
			}
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if _, skip := paginationFields[strings.ToLower(name)]; skip {
			continue
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}
