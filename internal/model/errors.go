package model

import "errors"

// Storage and decision error taxonomy. Transport failures trigger tier
// failover and are never surfaced raw; the rest map to structured outcomes.
var (
	// ErrTransport marks a tier as unreachable (network, timeout, broker
	// down). Wrapped by the concrete stores.
	ErrTransport = errors.New("store transport failure")

	// ErrUserNotFound is a logical outcome: the user record does not exist
	// in the authoritative tier. Never triggers failover.
	ErrUserNotFound = errors.New("user not found")

	// ErrDeviceNotFound reports a remove of a fingerprint that is not
	// registered. Surfaced as a structured outcome, not an error response.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrConflict reports a failed conditional update on the remote tier:
	// another session changed the device list between read and write.
	// Callers re-read and retry.
	ErrConflict = errors.New("device list version conflict")

	// ErrUnavailable means every tier failed (or the fallback had nothing
	// usable). The decision engine fails open on it.
	ErrUnavailable = errors.New("no store tier available")

	// ErrParse marks a malformed persisted record. Treated as "no record"
	// and overwritten on the next successful registration.
	ErrParse = errors.New("malformed device record")
)
