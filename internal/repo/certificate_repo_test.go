package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/credentia/go-verify-gateway/internal/domain"
)

func newCertDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("cert_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Certificate{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateCertificate_GeneratesIDAndDefaults(t *testing.T) {
	db := newCertDB(t)

	cert := &domain.Certificate{
		OwnerID: "sub-1",
		Title:   "AWS Solutions Architect",
		Issuer:  "Amazon Web Services",
	}
	if err := CreateCertificate(context.Background(), db, cert); err != nil {
		t.Fatalf("create: %v", err)
	}
	if cert.ID == "" {
		t.Fatal("expected generated id")
	}
	if cert.Status != domain.CertStatusPending {
		t.Fatalf("status = %q, want %q", cert.Status, domain.CertStatusPending)
	}
	if cert.CreatedAt.IsZero() {
		t.Fatal("CreatedAt unset")
	}
}

func TestGetCertificate_RoundTrip(t *testing.T) {
	db := newCertDB(t)
	ctx := context.Background()

	seeded := &domain.Certificate{
		OwnerID: "sub-1",
		Title:   "Kubernetes Administrator",
		Issuer:  "CNCF",
		Status:  domain.CertStatusVerified,
	}
	if err := CreateCertificate(ctx, db, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetCertificate(ctx, db, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != seeded.Title || got.Issuer != seeded.Issuer || got.Status != domain.CertStatusVerified {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetCertificate_NotFound(t *testing.T) {
	db := newCertDB(t)
	if _, err := GetCertificate(context.Background(), db, "b2a6f9be-3f61-4ded-9e0c-111111111111"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
