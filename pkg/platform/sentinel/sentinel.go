package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: document does not exist
//   - ErrConflict: conditional write lost (stale revision)
//   - ErrUnavailable: backend temporarily unavailable, safe to retry
//   - ErrSkipped: a validate callback declined the mutation; nothing was written
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrSkipped     = errors.New("skipped")
)
