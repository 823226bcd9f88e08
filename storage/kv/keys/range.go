package keys

// Range is a half-open key interval [Min, Max). A nil Min means the
// lowest key; a nil Max means the range extends to the end of the
// keyspace.
type Range struct {
	Min Key
	Max Key
}

// All returns the range covering the whole keyspace.
func All() Range {
	return Range{}
}

// Prefix returns the range of keys having the given prefix.
func Prefix(prefix Key) Range {
	return Range{Min: prefix, Max: Inc(prefix)}
}

// Contains reports whether the key falls inside the range.
func (r Range) Contains(key Key) bool {
	if r.Min != nil && Compare(key, r.Min) < 0 {
		return false
	}

	if r.Max != nil && Compare(key, r.Max) >= 0 {
		return false
	}

	return true
}
