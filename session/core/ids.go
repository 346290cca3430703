// ABOUTME: Identifier helpers: uuid session ids and crypto/rand-backed ULIDs for journal events.
// ABOUTME: Centralizes id creation so all code uses the same entropy source.
package core

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id parses as a uuid.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewULID generates a new ULID using crypto/rand entropy.
func NewULID() ulid.ULID {
	return ulid.MustNew(ulid.Now(), rand.Reader)
}
