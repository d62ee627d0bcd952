// Package uuidv7 issues time-ordered identifiers for translation jobs.
package uuidv7

import "github.com/google/uuid"

// New returns a RFC 9562 version 7 UUID string. V7 ids sort by creation
// time, which keeps job listings cheap to order. Falls back to v4 if the
// system clock misbehaves badly enough for NewV7 to fail.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
