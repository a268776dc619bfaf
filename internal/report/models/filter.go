package models

import (
	"sort"
	"time"
)

// Filter selects reports. The zero value matches every report; Deny matches
// none. Results are always ordered by SortReports.
type Filter struct {
	Deny       bool
	ReporterID string
	// MissingRisk restricts to reports the risk trigger has not stamped.
	MissingRisk bool
	// SubmittedBefore, when set, excludes reports submitted at or after it.
	SubmittedBefore time.Time
}

// MatchAll returns the unrestricted filter.
func MatchAll() Filter { return Filter{} }

// MatchNone returns a filter that matches nothing.
func MatchNone() Filter { return Filter{Deny: true} }

// MatchReporter restricts to reports attributed to uid.
func MatchReporter(uid string) Filter { return Filter{ReporterID: uid} }

// Matches reports whether r is selected by f.
func (f Filter) Matches(r *Report) bool {
	if f.Deny {
		return false
	}
	if f.ReporterID != "" && r.ReporterID != f.ReporterID {
		return false
	}
	if f.MissingRisk && r.HasRisk() {
		return false
	}
	if !f.SubmittedBefore.IsZero() && !r.DateSubmitted.Before(f.SubmittedBefore) {
		return false
	}
	return true
}

// SortReports orders newest first, breaking ties by ascending id so the
// order is total.
func SortReports(reports []*Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if !a.DateSubmitted.Equal(b.DateSubmitted) {
			return a.DateSubmitted.After(b.DateSubmitted)
		}
		return a.ID < b.ID
	})
}

// Snapshot is one immutable result of a live query. Seq strictly increases
// across the snapshots of one subscription; a snapshot replaced before
// delivery leaves a gap.
type Snapshot struct {
	Seq     uint64    `json:"seq"`
	Reports []*Report `json:"reports"`
}
