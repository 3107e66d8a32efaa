package application

import "errors"

var (
	// ErrInvalidServiceOpts ...
	ErrInvalidServiceOpts = errors.New("invalid service options")
	// ErrSessionRoleMismatch is returned when a service is asked to run a
	// session of the other role.
	ErrSessionRoleMismatch = errors.New("session belongs to the other role")
)
