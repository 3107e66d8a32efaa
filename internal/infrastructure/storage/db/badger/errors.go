package dbbadger

import "errors"

var (
	// ErrSessionInvalidRequest ...
	ErrSessionInvalidRequest = errors.New("session is null")
)
