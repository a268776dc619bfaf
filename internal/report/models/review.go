package models

import (
	"time"

	dErrors "aeroinsight/pkg/domain-errors"
)

// DefaultReviewerName is recorded when the reviewer's profile has no name.
const DefaultReviewerName = "Admin"

// ReviewUpdate is a reviewer's requested change. Only Status and
// ReviewerNotes are writable; ForbiddenFields lists any other report fields
// the caller tried to set.
type ReviewUpdate struct {
	Status           *Status
	ReviewerNotes    *string
	ExpectedRevision int64
	ForbiddenFields  []string
}

// ApplyReview validates the update against the lifecycle and writes it.
// Closed reports reject every review write, including notes.
func (r *Report) ApplyReview(u ReviewUpdate, reviewerName string, now time.Time) error {
	if len(u.ForbiddenFields) > 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "review may only change status and reviewerNotes")
	}
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "closed reports cannot be modified")
	}
	if u.Status == nil && u.ReviewerNotes == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "review must change status or reviewerNotes")
	}
	next := r.Status
	if u.Status != nil {
		next = *u.Status
		if next != r.Status && !r.Status.CanTransitionTo(next) {
			return dErrors.New(dErrors.CodeInvariantViolation, "status cannot move from "+string(r.Status)+" to "+string(next))
		}
	}

	r.Status = next
	if u.ReviewerNotes != nil {
		r.ReviewerNotes = *u.ReviewerNotes
	}
	if reviewerName == "" {
		reviewerName = DefaultReviewerName
	}
	r.ReviewerName = reviewerName
	r.DateReviewed = &now
	return nil
}
