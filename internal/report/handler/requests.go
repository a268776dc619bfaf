package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"aeroinsight/internal/report/models"
	dErrors "aeroinsight/pkg/domain-errors"
)

// SubmitRequest is the body of POST /reports.
type SubmitRequest struct {
	EventDate    string `json:"eventDate"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	IsAnonymous  bool   `json:"isAnonymous"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

// Validate checks required fields. Format rules are enforced by the model.
func (r *SubmitRequest) Validate() error {
	r.EventDate = strings.TrimSpace(r.EventDate)
	r.Category = strings.TrimSpace(r.Category)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
	switch {
	case r.EventDate == "":
		return dErrors.New(dErrors.CodeValidation, "eventDate is required")
	case r.Category == "":
		return dErrors.New(dErrors.CodeValidation, "category is required")
	case strings.TrimSpace(r.Description) == "":
		return dErrors.New(dErrors.CodeValidation, "description is required")
	}
	return nil
}

func (r *SubmitRequest) Submission() models.Submission {
	return models.Submission{
		EventDate:    r.EventDate,
		Category:     r.Category,
		Description:  r.Description,
		IsAnonymous:  r.IsAnonymous,
		ContactEmail: r.ContactEmail,
	}
}

// reportFields are the remaining report attributes. A review body naming one
// of them is well formed but not permitted.
var reportFields = map[string]struct{}{
	"id": {}, "type": {}, "eventDate": {}, "category": {}, "description": {},
	"isAnonymous": {}, "reporter_id": {}, "reporter_email": {}, "contactEmail": {},
	"severity": {}, "probability": {}, "riskScore": {}, "riskLevel": {},
	"reviewRequired": {}, "riskAssessedAt": {}, "reviewerName": {},
	"dateReviewed": {}, "dateSubmitted": {},
}

// ReviewRequest is the body of PATCH /reports/{id}/review.
type ReviewRequest struct {
	Status          *string
	ReviewerNotes   *string
	Revision        int64
	ForbiddenFields []string
}

// UnmarshalJSON accepts status, reviewerNotes and revision, records other
// report fields as forbidden and rejects anything else.
func (r *ReviewRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "status":
			if err := decodeOptional(value, &r.Status); err != nil {
				return fmt.Errorf("status: %w", err)
			}
		case "reviewerNotes":
			if err := decodeOptional(value, &r.ReviewerNotes); err != nil {
				return fmt.Errorf("reviewerNotes: %w", err)
			}
		case "revision":
			if err := json.Unmarshal(value, &r.Revision); err != nil {
				return fmt.Errorf("revision: %w", err)
			}
		default:
			if _, ok := reportFields[key]; !ok {
				return fmt.Errorf("unknown field %q", key)
			}
			r.ForbiddenFields = append(r.ForbiddenFields, key)
		}
	}
	sort.Strings(r.ForbiddenFields)
	return nil
}

func decodeOptional(value json.RawMessage, dst **string) error {
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return err
	}
	*dst = &s
	return nil
}

// Validate checks the request shape. Lifecycle rules are enforced by the
// model so that they also hold for callers other than HTTP.
func (r *ReviewRequest) Validate() error {
	if r.Revision <= 0 {
		return dErrors.New(dErrors.CodeValidation, "revision is required")
	}
	if r.Status == nil && r.ReviewerNotes == nil && len(r.ForbiddenFields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "status or reviewerNotes is required")
	}
	if r.Status != nil {
		if _, ok := models.ParseStatus(*r.Status); !ok {
			return dErrors.New(dErrors.CodeValidation, "status must be one of New, In Review, Closed")
		}
	}
	return nil
}

// Update converts a validated request into a review update.
func (r *ReviewRequest) Update() models.ReviewUpdate {
	u := models.ReviewUpdate{
		ReviewerNotes:    r.ReviewerNotes,
		ExpectedRevision: r.Revision,
		ForbiddenFields:  r.ForbiddenFields,
	}
	if r.Status != nil {
		status, _ := models.ParseStatus(*r.Status)
		u.Status = &status
	}
	return u
}

// ListResponse is the body of GET /reports.
type ListResponse struct {
	Reports []*models.Report `json:"reports"`
}
