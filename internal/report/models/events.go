package models

import "time"

// ReportCreated is published after a report is appended. It carries only the
// id; consumers reload the document.
type ReportCreated struct {
	ReportID   string    `json:"reportId"`
	OccurredAt time.Time `json:"occurredAt"`
}
