package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "aeroinsight/pkg/domain-errors"
)

type ReviewSuite struct {
	suite.Suite
	report *Report
	now    time.Time
}

func TestReviewSuite(t *testing.T) {
	suite.Run(t, new(ReviewSuite))
}

func (s *ReviewSuite) SetupTest() {
	r, err := NewVSR("r-1", validSubmission(), Reporter{UID: "u1"}, submittedAt)
	s.Require().NoError(err)
	s.report = r
	s.now = submittedAt.Add(time.Hour)
}

func status(st Status) *Status { return &st }
func notes(n string) *string   { return &n }

func (s *ReviewSuite) TestTransitions() {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusNew, StatusInReview, true},
		{StatusNew, StatusClosed, true},
		{StatusInReview, StatusClosed, true},
		{StatusNew, StatusNew, true},
		{StatusInReview, StatusInReview, true},
		{StatusInReview, StatusNew, false},
		{StatusClosed, StatusInReview, false},
		{StatusClosed, StatusNew, false},
		{StatusClosed, StatusClosed, false},
	}
	for _, tc := range cases {
		s.Run(string(tc.from)+" to "+string(tc.to), func() {
			r := s.report.Clone()
			r.Status = tc.from
			err := r.ApplyReview(ReviewUpdate{Status: status(tc.to)}, "Olive", s.now)
			if tc.ok {
				s.Require().NoError(err)
				s.Equal(tc.to, r.Status)
				s.Equal("Olive", r.ReviewerName)
				s.Equal(s.now, *r.DateReviewed)
				return
			}
			s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
			s.Equal(tc.from, r.Status)
			s.Nil(r.DateReviewed)
		})
	}
}

func (s *ReviewSuite) TestNotesOnly() {
	s.Require().NoError(s.report.ApplyReview(ReviewUpdate{ReviewerNotes: notes("checked FDM data")}, "", s.now))
	s.Equal(StatusNew, s.report.Status)
	s.Equal("checked FDM data", s.report.ReviewerNotes)
	s.Equal(DefaultReviewerName, s.report.ReviewerName)
}

func (s *ReviewSuite) TestClosedRejectsNotes() {
	s.report.Status = StatusClosed
	err := s.report.ApplyReview(ReviewUpdate{ReviewerNotes: notes("late note")}, "Olive", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Empty(s.report.ReviewerNotes)
}

func (s *ReviewSuite) TestForbiddenFields() {
	err := s.report.ApplyReview(ReviewUpdate{Status: status(StatusInReview), ForbiddenFields: []string{"severity"}}, "Olive", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Equal(StatusNew, s.report.Status)
}

func (s *ReviewSuite) TestEmptyUpdate() {
	err := s.report.ApplyReview(ReviewUpdate{}, "Olive", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ReviewSuite) TestParseStatus() {
	st, ok := ParseStatus("In Review")
	s.True(ok)
	s.Equal(StatusInReview, st)
	_, ok = ParseStatus("Reopened")
	s.False(ok)
}
