package domain

import "errors"

var (
	// ErrSessionUnknownRole ...
	ErrSessionUnknownRole = errors.New("session role must be either receiver or sender")
	// ErrSessionNullState ...
	ErrSessionNullState = errors.New("session state must not be null")
	// ErrSessionNullPsbt ...
	ErrSessionNullPsbt = errors.New("session psbt must not be null")
	// ErrSessionMustBeCreated is returned when sending the first request of a
	// session that already progressed or failed.
	ErrSessionMustBeCreated = errors.New("session must be in created status")
	// ErrSessionMustBeWaiting ...
	ErrSessionMustBeWaiting = errors.New("session must be in waiting status")
	// ErrSessionMustBeProposalReceived ...
	ErrSessionMustBeProposalReceived = errors.New(
		"session must be in proposal received status",
	)
	// ErrSessionNotActive is returned when updating a completed or failed
	// session.
	ErrSessionNotActive = errors.New("session is either completed or failed")
	// ErrSessionExpired ...
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotExpired ...
	ErrSessionNotExpired = errors.New("session has not expired yet")
	// ErrSessionNotFound ...
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists ...
	ErrSessionAlreadyExists = errors.New("session already exists")
)
