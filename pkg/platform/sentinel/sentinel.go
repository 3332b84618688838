package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, brokers and upstream
// clients return these (optionally wrapped) so services can translate them
// into domain errors.
//
// - ErrNotFound: no record for the key
// - ErrConflict: optimistic write lost against a newer version
// - ErrClosed: component already shut down
// - ErrUnavailable: upstream or backend temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrClosed      = errors.New("closed")
	ErrUnavailable = errors.New("unavailable")
)
