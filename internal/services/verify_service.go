// Package services – VerifyService
//
// This file implements VerifyService, the application-level component that
// owns AI-backed certificate verification. It sanitizes caller-supplied
// labels, forwards the request to the provider adapter, and normalizes the
// assessment into the result envelope returned to callers.
//
// Observability: Verify is OpenTelemetry-instrumented; spans record the
// subject and whether evidence was attached, never the label contents.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/provider"
	"github.com/credentia/go-verify-gateway/internal/sanitize"
)

// VerifyService coordinates sanitization, the provider call, and result
// normalization for the AI verification route.
type VerifyService struct {
	Provider provider.Verifier

	// TitleLocale drives casing of extracted fields defaulted from caller
	// input when the model returns none.
	TitleLocale language.Tag
}

// NewVerifyService constructs a VerifyService with English title casing.
func NewVerifyService(p provider.Verifier) *VerifyService {
	return &VerifyService{Provider: p, TitleLocale: language.English}
}

// Verify runs one AI verification. Inputs arrive schema-validated (length
// bounds enforced by the handler); sanitization here is the prompt-injection
// pass applied before anything reaches the provider.
//
// Provider errors (rate limit, quota, timeout) pass through untouched so the
// handler can map them to their distinct statuses.
func (s *VerifyService) Verify(ctx context.Context, subjectID, title, issuer, imageBase64 string) (*domain.VerificationResult, error) {
	tr := otel.Tracer("services/VerifyService")
	ctx, span := tr.Start(ctx, "Verify",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.Bool("evidence.attached", imageBase64 != ""),
		),
	)
	defer span.End()

	req := provider.Request{
		Title:       sanitize.Field(title),
		Issuer:      sanitize.Field(issuer),
		ImageBase64: imageBase64,
	}

	a, err := s.Provider.Assess(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.normalize(req, a), nil
}

// normalize maps a raw provider assessment onto the result envelope:
// confidence clamped to [0,100], extracted fields defaulted from the
// sanitized input when the model returned none, warnings never nil.
func (s *VerifyService) normalize(req provider.Request, a *provider.Assessment) *domain.VerificationResult {
	confidence := a.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	caser := cases.Title(s.TitleLocale)
	extractedTitle := a.Title
	if extractedTitle == "" {
		extractedTitle = caser.String(req.Title)
	}
	extractedIssuer := a.Issuer
	if extractedIssuer == "" {
		extractedIssuer = caser.String(req.Issuer)
	}

	warnings := a.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	if req.ImageBase64 == "" {
		warnings = append(warnings, "No certificate image was provided; assessment is based on metadata only")
	}

	details := a.Details
	if details == "" {
		details = "No additional details were reported by the analysis."
	}

	return &domain.VerificationResult{
		Verified:        a.Verified,
		Confidence:      confidence,
		ExtractedTitle:  extractedTitle,
		ExtractedIssuer: extractedIssuer,
		ExtractedDate:   a.Date,
		Details:         details,
		Warnings:        warnings,
	}
}
