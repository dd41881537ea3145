// Package keyspace maps namespace names to key prefixes inside one shared
// ordered keyspace.
//
// A namespace owns the prefix uvarint(len(name)) || name. Because the name
// length is part of the prefix, keys of one namespace can never alias keys
// of another: "a" and "ab" produce prefixes that differ in their first
// byte's length field.
package keyspace

import "encoding/binary"

// Prefix returns the key prefix owned by a namespace.
func Prefix(namespace string) []byte {
	buf := make([]byte, binary.MaxVarintLen64+len(namespace))
	n := binary.PutUvarint(buf, uint64(len(namespace)))
	n += copy(buf[n:], namespace)
	return buf[:n]
}

// Key returns the absolute key for a record inside a namespace.
func Key(namespace string, key []byte) []byte {
	p := Prefix(namespace)
	return append(p, key...)
}

// Strip removes a namespace prefix from an absolute key. The second return
// is false when the key does not carry the prefix.
func Strip(prefix, key []byte) ([]byte, bool) {
	if len(key) < len(prefix) {
		return nil, false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return nil, false
		}
	}
	return key[len(prefix):], true
}

// Advance returns the smallest byte string greater than every string that
// has s as a prefix, forming the half-open upper bound [s, Advance(s)).
//
// Trailing 0xFF bytes cannot be incremented and are stripped first; a
// string that is empty or all 0xFF has no successor and ok is false,
// meaning the scan is unbounded above.
func Advance(s []byte) (next []byte, ok bool) {
	end := len(s)
	for end > 0 && s[end-1] == 0xFF {
		end--
	}
	if end == 0 {
		return nil, false
	}
	next = append([]byte(nil), s[:end]...)
	next[end-1]++
	return next, true
}
