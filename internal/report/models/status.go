package models

// Status is the lifecycle state of a report.
type Status string

const (
	StatusNew      Status = "New"
	StatusInReview Status = "In Review"
	StatusClosed   Status = "Closed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusNew, StatusInReview, StatusClosed:
		return st, true
	}
	return "", false
}

// CanTransitionTo reports whether next is a forward edge of the lifecycle
// graph: New to In Review, New to Closed, In Review to Closed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusNew:
		return next == StatusInReview || next == StatusClosed
	case StatusInReview:
		return next == StatusClosed
	default:
		return false
	}
}

// IsTerminal reports whether no further review writes are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}
