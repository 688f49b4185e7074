// Package services – LookupService
//
// This file implements the public certificate lookup: a single point read by
// primary key, projected onto the public-safe field set. The route is
// unauthenticated, so the projection must never expose the owner identity or
// the internal verification message.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/repo"
)

// LookupService resolves certificate ids for unauthenticated callers.
type LookupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// Lookup fetches the certificate with certificateID. A missing certificate
// is a normal outcome (Found=false with a caller-safe message), not an
// error; the id must already be UUID-validated by the caller.
func (s *LookupService) Lookup(ctx context.Context, certificateID string) (*domain.LookupResult, error) {
	cert, err := repo.GetCertificate(ctx, s.DB, certificateID)
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.LookupResult{
			Found:   false,
			Message: "No certificate found with this ID",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	pub := cert.Public()
	return &domain.LookupResult{Found: true, Certificate: &pub}, nil
}
