package session

import "errors"

var (
	// ErrEmptyMessage is returned when a submit carries only whitespace.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrBusy is returned when a submit arrives while one is running.
	ErrBusy = errors.New("session: a submission is already in progress")

	// ErrNoCredential is returned when no API credential is configured for
	// the active provider.
	ErrNoCredential = errors.New("session: no API credential configured")
)
