// Package policy decides which reports a caller may see and change. Every
// function is pure; callers re-evaluate on each fetch and on each document of
// every live snapshot.
package policy

import (
	idModels "aeroinsight/internal/identity/models"
	reportModels "aeroinsight/internal/report/models"
	dErrors "aeroinsight/pkg/domain-errors"
)

// Subject is the caller as the policy sees it.
type Subject struct {
	UID        string
	Role       idModels.Role
	HasProfile bool
}

// SubjectFor builds a Subject from a principal uid and an optional profile.
func SubjectFor(uid string, profile *idModels.Profile) Subject {
	if profile == nil {
		return Subject{UID: uid}
	}
	return Subject{UID: uid, Role: idModels.ParseRole(string(profile.Role)), HasProfile: true}
}

// Privileged reports whether s may see and review every report.
func (s Subject) Privileged() bool {
	return s.HasProfile && s.Role.IsPrivileged()
}

// ScopeListQuery returns the store filter for s's list queries. Privileged
// subjects see everything, reporters see their own named reports, and
// subjects without a profile see nothing.
func ScopeListQuery(s Subject) reportModels.Filter {
	switch {
	case !s.HasProfile || s.UID == "":
		return reportModels.MatchNone()
	case s.Privileged():
		return reportModels.MatchAll()
	case s.UID == reportModels.AnonymousReporter:
		return reportModels.MatchNone()
	default:
		return reportModels.MatchReporter(s.UID)
	}
}

// CanRead reports whether s may read r.
func CanRead(s Subject, r *reportModels.Report) bool {
	if !s.HasProfile || r == nil {
		return false
	}
	return s.Privileged() || r.Owned(s.UID)
}

// CanReviewWrite reports whether s may apply review updates to r.
func CanReviewWrite(s Subject, r *reportModels.Report) bool {
	return r != nil && s.Privileged()
}

// AuthorizeRead returns nil when s may read r, otherwise a coded error.
func AuthorizeRead(s Subject, r *reportModels.Report) error {
	if !s.HasProfile {
		return dErrors.New(dErrors.CodeProfileMissing, "no profile is provisioned for this account")
	}
	if !CanRead(s, r) {
		return dErrors.New(dErrors.CodeForbidden, "not permitted to read this report")
	}
	return nil
}

// AuthorizeReview returns nil when s may review r, otherwise a coded error.
func AuthorizeReview(s Subject, r *reportModels.Report) error {
	if !s.HasProfile {
		return dErrors.New(dErrors.CodeProfileMissing, "no profile is provisioned for this account")
	}
	if !CanReviewWrite(s, r) {
		return dErrors.New(dErrors.CodeForbidden, "only safety officers and admins may review reports")
	}
	return nil
}

// FilterReadable keeps the reports s may read, preserving order.
func FilterReadable(s Subject, reports []*reportModels.Report) []*reportModels.Report {
	out := make([]*reportModels.Report, 0, len(reports))
	for _, r := range reports {
		if CanRead(s, r) {
			out = append(out, r)
		}
	}
	return out
}
