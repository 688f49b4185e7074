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

func newRoleDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("role_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.SubjectRole{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetSubjectRole_NotFound(t *testing.T) {
	db := newRoleDB(t)
	if _, err := GetSubjectRole(context.Background(), db, "nobody"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertSubjectRole_CreateThenRead(t *testing.T) {
	db := newRoleDB(t)
	ctx := context.Background()

	if err := UpsertSubjectRole(ctx, db, "sub-1", domain.RoleCandidate); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	role, err := GetSubjectRole(ctx, db, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if role != domain.RoleCandidate {
		t.Fatalf("role = %q, want %q", role, domain.RoleCandidate)
	}
}

func TestUpsertSubjectRole_SameRoleIsIdempotent(t *testing.T) {
	db := newRoleDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := UpsertSubjectRole(ctx, db, "sub-1", domain.RoleRecruiter); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	var n int64
	if err := db.Model(&domain.SubjectRole{}).Where("subject_id = ?", "sub-1").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows for subject = %d, want exactly 1", n)
	}
	role, err := GetSubjectRole(ctx, db, "sub-1")
	if err != nil || role != domain.RoleRecruiter {
		t.Fatalf("role = %q err = %v", role, err)
	}
}

func TestUpsertSubjectRole_ReplacesExistingRole(t *testing.T) {
	db := newRoleDB(t)
	ctx := context.Background()

	if err := UpsertSubjectRole(ctx, db, "sub-1", domain.RoleCandidate); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := UpsertSubjectRole(ctx, db, "sub-1", domain.RoleInstitution); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	role, err := GetSubjectRole(ctx, db, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if role != domain.RoleInstitution {
		t.Fatalf("role = %q, want %q", role, domain.RoleInstitution)
	}
	var n int64
	if err := db.Model(&domain.SubjectRole{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("total rows = %d, want 1", n)
	}
}

func TestUpsertSubjectRole_SubjectsAreIndependent(t *testing.T) {
	db := newRoleDB(t)
	ctx := context.Background()

	if err := UpsertSubjectRole(ctx, db, "a", domain.RoleCandidate); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := UpsertSubjectRole(ctx, db, "b", domain.RoleRecruiter); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	if role, _ := GetSubjectRole(ctx, db, "a"); role != domain.RoleCandidate {
		t.Fatalf("subject a role = %q", role)
	}
	if role, _ := GetSubjectRole(ctx, db, "b"); role != domain.RoleRecruiter {
		t.Fatalf("subject b role = %q", role)
	}
}
