// Package evidence checks submitted evidence before a curator reviews it.
// Reports are advisory: approval never depends on Passed.
package evidence

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
)

// Submission is the evidence a participant hands in.
type Submission struct {
	SubjectID   uuid.UUID // task or instance id
	Description string
	Links       []string
	TakenAt     time.Time
	SubmittedAt time.Time
}

// Verifier produces a report for a submission.
type Verifier interface {
	Verify(ctx context.Context, s Submission) (*domain.VerificationReport, error)
}

// LinkCounter reports how often a link was cited by other submissions.
type LinkCounter interface {
	CountEvidenceLink(ctx context.Context, link string, exclude uuid.UUID) (int, error)
}

// DefaultMinWork is how long a submission is expected to take at minimum.
const DefaultMinWork = 10 * time.Minute

// LinkVerifier validates link syntax, flags links reused across
// submissions and flags submissions handed in right after taking the task.
type LinkVerifier struct {
	links   LinkCounter
	minWork time.Duration
}

// NewLinkVerifier creates a verifier. minWork <= 0 uses DefaultMinWork.
func NewLinkVerifier(links LinkCounter, minWork time.Duration) *LinkVerifier {
	if minWork <= 0 {
		minWork = DefaultMinWork
	}
	return &LinkVerifier{links: links, minWork: minWork}
}

func (v *LinkVerifier) Verify(ctx context.Context, s Submission) (*domain.VerificationReport, error) {
	r := &domain.VerificationReport{}
	seen := make(map[string]bool, len(s.Links))
	for _, raw := range s.Links {
		link := strings.TrimSpace(raw)
		if link == "" {
			continue
		}
		if seen[link] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("link listed twice: %s", link))
			continue
		}
		seen[link] = true

		if !validLink(link) {
			r.Errors = append(r.Errors, fmt.Sprintf("not a web link: %s", link))
			continue
		}
		if v.links == nil {
			continue
		}
		n, err := v.links.CountEvidenceLink(ctx, link, s.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("checking link reuse: %w", err)
		}
		if n > 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("link already used by %d other submission(s): %s", n, link))
		}
	}

	if !s.TakenAt.IsZero() && !s.SubmittedAt.IsZero() {
		if took := s.SubmittedAt.Sub(s.TakenAt); took < v.minWork {
			r.Warnings = append(r.Warnings, fmt.Sprintf("submitted %s after taking the task", took.Round(time.Second)))
		}
	}
	r.Passed = len(r.Errors) == 0
	return r, nil
}

func validLink(link string) bool {
	u, err := url.ParseRequestURI(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
