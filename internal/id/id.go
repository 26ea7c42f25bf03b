package id

import "github.com/google/uuid"

// New returns a random request id.
func New() string {
	return uuid.NewString()
}

// Valid reports whether in looks like a caller-supplied request id we can echo back.
func Valid(in string) bool {
	if in == "" || len(in) > 128 {
		return false
	}
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
