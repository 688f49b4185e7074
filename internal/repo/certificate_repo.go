// Package repo implements the data persistence layer for gateway entities,
// backed by GORM. This file provides certificate reads for the public lookup
// route and the insert used by issuing components and tests.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/credentia/go-verify-gateway/internal/domain"
)

// GetCertificate fetches a certificate by primary key, or ErrNotFound.
// Callers are expected to have validated id as a UUID already; the lookup
// never runs for malformed ids.
func GetCertificate(ctx context.Context, db *gorm.DB, id string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := db.WithContext(ctx).First(&cert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// CreateCertificate inserts a certificate row. ID is generated when empty.
func CreateCertificate(ctx context.Context, db *gorm.DB, cert *domain.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.Status == "" {
		cert.Status = domain.CertStatusPending
	}
	now := time.Now().UTC()
	cert.CreatedAt = now
	cert.UpdatedAt = now
	return db.WithContext(ctx).Create(cert).Error
}
