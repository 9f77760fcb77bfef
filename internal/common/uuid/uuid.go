// Package uuid wraps github.com/google/uuid with UUIDv7 as the default version.
// Version 7 identifiers are time ordered and carry 74 random bits, which makes
// them suitable as collision resistant session identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// UUID is an alias of github.com/google/uuid.UUID.
type UUID = uuid.UUID

// Nil is the zero UUID value.
var Nil = uuid.Nil

// UUID7 generates a new UUIDv7. It returns Nil if the random source fails.
func UUID7() UUID {
	uuidv7, _ := uuid.NewV7()
	return uuidv7
}

// NewRandom returns a new UUIDv7 and any error encountered during generation.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// Parse parses a UUID string.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsUUIDv7 reports whether id is a version 7 UUID.
func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}
