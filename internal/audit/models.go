package audit

import "time"

// Action names recorded in the audit trail.
const (
	ActionReportSubmitted  = "report.submitted"
	ActionReportReviewed   = "report.reviewed"
	ActionReviewRejected   = "report.review_rejected"
	ActionRiskAssigned     = "report.risk_assigned"
	ActionReportReadDenied = "report.read_denied"
)

// Event is emitted from domain logic to capture key actions. Actor is the
// acting uid, or the anonymous sentinel for anonymous submissions, so the
// trail never re-identifies an anonymous reporter.
type Event struct {
	Timestamp time.Time
	Actor     string
	Action    string
	ReportID  string
	Status    string
	Outcome   string
	RequestID string
	ClientIP  string
	Device    string
}
