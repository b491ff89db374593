package service

import "errors"

var (
	// ErrUnauthorized means the caller does not own the account it acts for.
	ErrUnauthorized = errors.New("account not owned by caller")
	// ErrAccountNotFound is returned where an account must exist to continue.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAccount rejects malformed account registrations.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrUnhandledActivity marks an activity kind without a routing rule. It is a
	// missing feature, never a transient failure.
	ErrUnhandledActivity = errors.New("unhandled activity kind")
)
