package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist or has
	// expired.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when registering an email that already has
	// an account.
	ErrEmailTaken = errors.New("email already registered")

	errNotInitialized = errors.New("store is not initialized")
)
