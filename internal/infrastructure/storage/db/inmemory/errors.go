package inmemory

import "errors"

var (
	// ErrSessionInvalidRequest ...
	ErrSessionInvalidRequest = errors.New("session is null")
)
