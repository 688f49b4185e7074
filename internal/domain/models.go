// Package domain defines the persistence models for rate-limit counters,
// certificates, and subject roles, plus the transient result envelopes the
// gateway returns to callers. Persistence types are mapped with GORM and form
// the data layer of the verification gateway.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role is the access role assigned to an authenticated subject.
type Role string

// Recognized subject roles.
const (
	RoleCandidate   Role = "candidate"
	RoleRecruiter   Role = "recruiter"
	RoleInstitution Role = "institution"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCandidate, RoleRecruiter, RoleInstitution:
		return true
	}
	return false
}

// Certificate status values.
const (
	CertStatusPending  = "pending"
	CertStatusVerified = "verified"
	CertStatusRejected = "rejected"
)

// RateLimitCounter is one live fixed-window counter row. The key is a
// composite of a route prefix and an identity (subject id or client IP),
// e.g. "lookup:ip:203.0.113.7".
//
// Invariant: at most one row exists per key. A counter whose window has
// elapsed is logically dead; it is overwritten in place when the key is next
// used, never deleted.
type RateLimitCounter struct {
	Key         string    `json:"key"          gorm:"type:varchar(255);primaryKey"`
	Count       int       `json:"count"        gorm:"not null;check:count >= 0"`
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateLimitCounter.
func (RateLimitCounter) TableName() string { return "rate_limit_counters" }

// Certificate is an uploaded credential owned by a candidate. The gateway
// reads certificates for the public lookup route; issuance and browsing are
// owned by other components sharing the store.
//
// OwnerID and VerificationMessage are internal: the public lookup projection
// (PublicCertificate) must never include them.
type Certificate struct {
	ID                  string         `json:"id"         gorm:"type:char(36);primaryKey"`
	OwnerID             string         `json:"owner_id"   gorm:"type:varchar(64);not null;index:idx_owner_certs"`
	Title               string         `json:"title"      gorm:"type:varchar(200);not null"`
	Issuer              string         `json:"issuer"     gorm:"type:varchar(200);not null"`
	Status              string         `json:"status"     gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','verified','rejected')"`
	IssueDate           *time.Time     `json:"issue_date,omitempty"`
	VerifiedAt          *time.Time     `json:"verified_at,omitempty"`
	VerificationMessage string         `json:"verification_message,omitempty" gorm:"type:text"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Certificate.
func (Certificate) TableName() string { return "certificates" }

// SubjectRole assigns a role to an authenticated subject. One row per
// subject, enforced by the unique index; assignment is an idempotent upsert.
type SubjectRole struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	SubjectID string         `json:"subject_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_subject_role"`
	Role      Role           `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('candidate','recruiter','institution')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for SubjectRole.
func (SubjectRole) TableName() string { return "subject_roles" }

//
// Transient result envelopes (never persisted by the gateway)
//

// PublicCertificate is the public-safe projection of a Certificate returned
// by the unauthenticated lookup route.
type PublicCertificate struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Issuer     string     `json:"issuer"`
	Status     string     `json:"status"`
	IssueDate  *time.Time `json:"issueDate,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Public projects c onto its public-safe fields.
func (c *Certificate) Public() PublicCertificate {
	return PublicCertificate{
		ID:         c.ID,
		Title:      c.Title,
		Issuer:     c.Issuer,
		Status:     c.Status,
		IssueDate:  c.IssueDate,
		VerifiedAt: c.VerifiedAt,
	}
}

// VerificationResult is the normalized outcome of an AI verification call.
// Confidence is always within [0,100].
type VerificationResult struct {
	Verified        bool     `json:"verified"`
	Confidence      int      `json:"confidence"`
	ExtractedTitle  string   `json:"extractedTitle"`
	ExtractedIssuer string   `json:"extractedIssuer"`
	ExtractedDate   *string  `json:"extractedDate"`
	Details         string   `json:"details"`
	Warnings        []string `json:"warnings"`
}

// LookupResult is the outcome of a public certificate lookup.
type LookupResult struct {
	Found       bool               `json:"found"`
	Certificate *PublicCertificate `json:"certificate,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// RoleResult is the outcome of a role assignment.
type RoleResult struct {
	Success bool `json:"success"`
	Role    Role `json:"role"`
}
