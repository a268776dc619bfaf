package models

import (
	"strings"
	"time"

	dErrors "aeroinsight/pkg/domain-errors"
)

// Type identifies the report schema. Only voluntary safety reports exist.
type Type string

const TypeVSR Type = "VSR"

// Sentinel attribution values. Anonymous reports store AnonymousReporter for
// both reporter fields so the submitter cannot be recovered by any reader.
const (
	AnonymousReporter = "anonymous"
	UnknownEmail      = "Unknown"
)

// Category is the closed set of event categories.
type Category string

const (
	CategoryFlightOps   Category = "Flight Ops"
	CategoryGroundOps   Category = "Ground Ops"
	CategoryMaintenance Category = "Maintenance"
	CategoryATCWeather  Category = "ATC/Weather"
)

// ParseCategory validates a submitted category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryFlightOps, CategoryGroundOps, CategoryMaintenance, CategoryATCWeather:
		return c, true
	}
	return "", false
}

// Initial risk stamped on every new report until a reviewer reassesses it.
const (
	InitialSeverity    = 5
	InitialProbability = "E"
	InitialRiskScore   = "5E"
	InitialRiskLevel   = "Extreme"
)

// Report is a voluntary safety report. Risk fields are nil until the risk
// trigger has run; reviewer fields are empty until the first review.
type Report struct {
	ID            string   `json:"id"`
	Type          Type     `json:"type"`
	EventDate     string   `json:"eventDate"`
	Category      Category `json:"category"`
	Description   string   `json:"description"`
	IsAnonymous   bool     `json:"isAnonymous"`
	ReporterID    string   `json:"reporter_id"`
	ReporterEmail string   `json:"reporter_email"`
	ContactEmail  string   `json:"contactEmail,omitempty"`
	Status        Status   `json:"status"`

	Severity       *int       `json:"severity,omitempty"`
	Probability    *string    `json:"probability,omitempty"`
	RiskScore      *string    `json:"riskScore,omitempty"`
	RiskLevel      *string    `json:"riskLevel,omitempty"`
	ReviewRequired *bool      `json:"reviewRequired,omitempty"`
	RiskAssessedAt *time.Time `json:"riskAssessedAt,omitempty"`

	ReviewerNotes string     `json:"reviewerNotes,omitempty"`
	ReviewerName  string     `json:"reviewerName,omitempty"`
	DateReviewed  *time.Time `json:"dateReviewed,omitempty"`

	DateSubmitted time.Time `json:"dateSubmitted"`
	Revision      int64     `json:"revision"`
}

// Reporter is the identity a non-anonymous submission is attributed to.
type Reporter struct {
	UID   string
	Email string
}

// Submission is the submitter-controlled part of a new report.
type Submission struct {
	EventDate    string
	Category     string
	Description  string
	IsAnonymous  bool
	ContactEmail string
}

// NewVSR builds a report in status New. The anonymity branch discards the
// reporter entirely.
func NewVSR(id string, sub Submission, reporter Reporter, now time.Time) (*Report, error) {
	if _, err := time.Parse(time.DateOnly, sub.EventDate); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "eventDate must be a YYYY-MM-DD date")
	}
	category, ok := ParseCategory(sub.Category)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "category is not recognized")
	}
	description := strings.TrimSpace(sub.Description)
	if description == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "description is required")
	}
	contact := strings.TrimSpace(sub.ContactEmail)
	if sub.IsAnonymous && contact != "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contactEmail is not accepted on anonymous reports")
	}
	if contact != "" && !looksLikeEmail(contact) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contactEmail is not a valid email address")
	}

	r := &Report{
		ID:            id,
		Type:          TypeVSR,
		EventDate:     sub.EventDate,
		Category:      category,
		Description:   description,
		IsAnonymous:   sub.IsAnonymous,
		Status:        StatusNew,
		DateSubmitted: now,
	}
	if sub.IsAnonymous {
		r.ReporterID = AnonymousReporter
		r.ReporterEmail = AnonymousReporter
		return r, nil
	}
	if reporter.UID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "non-anonymous reports need a reporter")
	}
	r.ReporterID = reporter.UID
	r.ReporterEmail = reporter.Email
	if r.ReporterEmail == "" {
		r.ReporterEmail = UnknownEmail
	}
	r.ContactEmail = contact
	return r, nil
}

// HasRisk reports whether the initial risk assessment has been written.
func (r *Report) HasRisk() bool {
	return r.Severity != nil || r.Probability != nil
}

// ApplyInitialRisk stamps the default risk assessment. It returns false and
// leaves the report untouched when any risk field is already present.
func (r *Report) ApplyInitialRisk(now time.Time) bool {
	if r.HasRisk() {
		return false
	}
	severity := InitialSeverity
	probability := InitialProbability
	score := InitialRiskScore
	level := InitialRiskLevel
	required := true
	r.Severity = &severity
	r.Probability = &probability
	r.RiskScore = &score
	r.RiskLevel = &level
	r.ReviewRequired = &required
	r.RiskAssessedAt = &now
	return true
}

// Owned reports whether uid submitted r under its own name.
func (r *Report) Owned(uid string) bool {
	return uid != "" && !r.IsAnonymous && r.ReporterID == uid
}

// Clone returns a deep copy so snapshots handed to readers never alias store
// state.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Severity = clonePtr(r.Severity)
	out.Probability = clonePtr(r.Probability)
	out.RiskScore = clonePtr(r.RiskScore)
	out.RiskLevel = clonePtr(r.RiskLevel)
	out.ReviewRequired = clonePtr(r.ReviewRequired)
	out.RiskAssessedAt = clonePtr(r.RiskAssessedAt)
	out.DateReviewed = clonePtr(r.DateReviewed)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n") && strings.Count(s, "@") == 1
}
