// Package querykey derives canonical cache keys from procedure paths and
// call inputs.
//
// # Overview
//
// Every cached read in this module is identified by a Key: the procedure path
// that produced it plus an optional descriptor carrying the call input and an
// access type ("query" or "infinite"). Keys are structural values: two keys
// address the same entry if and only if Key.Equal reports true, which is
// what makes prefix-based bulk operations possible.
//
// # Derivation Rules
//
// Derive is pure and total. The rules that matter in practice:
//
//   - A nil input with TypeAny yields a bare path key. Bare keys act as
//     prefixes: they match every key under that path regardless of input or
//     type, which is how "invalidate everything under users.getById" works.
//   - A nil input with an empty path and TypeAny yields the zero Key, the
//     prefix that matches every key in the cache.
//   - Present-but-falsy inputs (0, "", false) are embedded; only a nil input
//     is treated as absent.
//   - TypeInfinite strips pagination-only fields (cursor, direction) from
//     map and struct inputs so that successive pages of one query share a
//     single cache entry.
//
// # Serialization
//
// The cache engine stores entries under flat strings. Serializer flattens a
// Key deterministically: sorted map pairs, recursive slices, exported struct
// fields, %p for function values, and a JSON fallback for anything else. The
// bare path key serializes to a strict prefix of every descriptor-carrying
// key under the same path, so string prefix matching in the storage layer
// agrees with structural Key.Matches.
//
// # Custom Serializers
//
// Implement Serializer when a different key format is needed, for example a
// backend that rejects certain characters or a deployment that needs stable
// keys for function-valued inputs across process restarts.
package querykey
