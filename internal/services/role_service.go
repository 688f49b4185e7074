// Package services – RoleService
//
// This file implements role assignment and role lookup for authenticated
// subjects. Assignment is update-if-exists else insert against the
// one-row-per-subject role table, so re-invoking with the same role is a
// no-op success and the operation is safe under retry.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/repo"
)

// RoleService implements the use-cases around subject roles.
type RoleService struct {
	// DB is the database handle used for all role operations.
	DB *gorm.DB
}

// Assign sets requested as subjectID's role.
//
// Semantics:
//   - requested must be one of candidate, recruiter, institution; otherwise
//     ErrInvalidRole.
//   - A subject has at most one role row; assignment upserts it.
//   - Assigning the already-held role succeeds without change.
func (s *RoleService) Assign(ctx context.Context, subjectID string, requested domain.Role) (*domain.RoleResult, error) {
	if !requested.Valid() {
		return nil, ErrInvalidRole
	}
	if err := repo.UpsertSubjectRole(ctx, s.DB, subjectID, requested); err != nil {
		return nil, err
	}
	return &domain.RoleResult{Success: true, Role: requested}, nil
}

// RoleOf returns subjectID's current role, or ErrNoRole when none is
// assigned yet.
func (s *RoleService) RoleOf(ctx context.Context, subjectID string) (domain.Role, error) {
	role, err := repo.GetSubjectRole(ctx, s.DB, subjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrNoRole
	}
	if err != nil {
		return "", err
	}
	return role, nil
}
