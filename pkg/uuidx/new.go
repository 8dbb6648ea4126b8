package uuidx

import "github.com/google/uuid"

// New generates a version 7 UUID. Version 7 ids sort by creation time, which
// keeps peer and listener listings in launch order.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a version 7 UUID and returns its canonical string form.
func NewString() string {
	return New().String()
}

// OrNew returns id when it is non-empty and a freshly generated id otherwise.
// Callers use it for identifiers that a remote side may optionally supply.
func OrNew(id string) string {
	if id != "" {
		return id
	}
	return NewString()
}
