// Package keys provides byte-string keys and half-open key ranges used
// by kv stores and their consumers.
package keys

import "bytes"

// Key is a single key.
type Key []byte

// Compare compares two keys lexicographically.
// -1 means a < b
// 1 means a > b
// 0 means a = b
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Inc returns the lexicographically smallest key greater than every
// key having this key as a prefix. It returns nil if no such key
// exists (all bytes were 0xff), meaning the range extends to the end
// of the keyspace.
func Inc(key Key) Key {
	after := make(Key, len(key))
	copy(after, key)

	for i := len(after) - 1; i >= 0; i-- {
		if after[i] < 0xff {
			after[i]++

			return after[:i+1]
		}
	}

	return nil
}

// Next returns the immediate successor of the key: the smallest key
// greater than it.
func Next(key Key) Key {
	next := make(Key, len(key)+1)
	copy(next, key)

	return next
}
