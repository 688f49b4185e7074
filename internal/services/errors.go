// Package services defines the business logic for verification, certificate
// lookup, and role assignment. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrInvalidRole is returned when a requested role is not one of
	// candidate, recruiter, or institution.
	ErrInvalidRole = errors.New("requested role is not recognized")

	// ErrNoRole indicates the authenticated subject has no role assigned
	// yet. Callers treat this as "no role", not as an authentication
	// failure.
	ErrNoRole = errors.New("no role assigned")
)
