// Package secret provides helpers for wiping sensitive data from memory
// after use, such as passwords and access tokens.
package secret

// WipeBytes overwrites the contents of the provided byte slice with zeros.
//
// If the slice is nil, the function does nothing.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeString returns an empty string and is intended to be used as
//
//	s = secret.WipeString(s)
//
// Go strings are immutable, so the backing array cannot be zeroed in place;
// dropping the last reference is the best that can be done portably.
func WipeString(string) string {
	return ""
}
