// Package errs holds the sentinel errors shared across the gate. Callers wrap
// them with fmt.Errorf("...: %w", err) and match with errors.Is.
package errs

import "errors"

var (
	// ErrConnectivity means neither the remote nor the local store could be
	// reached, or a specifically requested store is unavailable.
	ErrConnectivity = errors.New("store unreachable")

	// ErrDataIntegrity marks a stored record that cannot be decoded or a
	// write that references a missing identity.
	ErrDataIntegrity = errors.New("data integrity")

	// ErrHardware marks a device that failed to open, capture or score.
	ErrHardware = errors.New("hardware failure")

	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for empty identity ids and unknown
	// verification methods.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrCancelled = errors.New("cancelled")
)
