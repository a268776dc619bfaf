// Package store persists reports and serves live queries over them.
//
// Stores return sentinel errors (pkg/platform/sentinel); the report service
// translates them into coded domain errors.
package store

import "aeroinsight/internal/report/models"

// Mutation edits a private copy of a report. Returning an error discards the
// copy; returning sentinel.ErrSkipped signals a deliberate no-op.
type Mutation func(*models.Report) error

// AnyRevision disables the revision compare in Execute.
const AnyRevision int64 = 0
