package model

import "errors"

// Sentinel errors for the key-management domain. Adapters wrap their own
// failures; these cover the conditions handlers dispatch on with errors.Is.
var (
	// ErrNotFound is returned when an operation references an unknown key ID.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned when adding a credential that is already
	// present in the collection.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrParseEmpty is returned when batch input yields no credential-shaped
	// token at all.
	ErrParseEmpty = errors.New("no api keys found in input")
)
