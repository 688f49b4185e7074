// Package repo implements the data persistence layer for gateway entities,
// backed by GORM. This file provides the one-row-per-subject role table with
// upsert semantics so role assignment is idempotent under retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/credentia/go-verify-gateway/internal/domain"
)

// GetSubjectRole returns the role assigned to subjectID, or ErrNotFound when
// the subject has no role yet.
func GetSubjectRole(ctx context.Context, db *gorm.DB, subjectID string) (domain.Role, error) {
	var row domain.SubjectRole
	err := db.WithContext(ctx).First(&row, "subject_id = ?", subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Role, nil
}

// UpsertSubjectRole assigns role to subjectID, updating the existing row if
// one exists. Re-assigning the same role is a no-op success; the unique index
// on subject_id guarantees at most one row per subject either way.
func UpsertSubjectRole(ctx context.Context, db *gorm.DB, subjectID string, role domain.Role) error {
	now := time.Now().UTC()
	row := &domain.SubjectRole{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.Assignments(map[string]any{"role": role, "updated_at": now}),
	}).Create(row).Error
	if err != nil && isDuplicate(err) {
		// Drivers without upsert support surface the unique violation; fall
		// back to an explicit update.
		return db.WithContext(ctx).Model(&domain.SubjectRole{}).
			Where("subject_id = ?", subjectID).
			Updates(map[string]any{"role": role, "updated_at": now}).Error
	}
	return err
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
