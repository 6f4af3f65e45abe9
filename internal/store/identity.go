package store

import (
	"context"
	"database/sql"
	"errors"
)

// Record classes sharing the identity namespace.
const (
	ClassUsers   = "users"
	ClassMembers = "members"
)

// IdentityService is the single uniqueness authority for usernames and
// emails across the users and members record classes. Both classes write
// claims here; the unique index on (field, lower(value)) is what actually
// enforces uniqueness.
type IdentityService struct {
	db *sql.DB
}

func NewIdentityService(db *sql.DB) *IdentityService {
	return &IdentityService{db: db}
}

// Claim records that value is now held by the given record. It runs on the
// caller's transaction so the claim commits or rolls back with the record
// write it protects.
func (s *IdentityService) Claim(ctx context.Context, tx *sql.Tx, field, value, class string, recordID int64) error {
	const query = `
		INSERT INTO identity_claims (field, value, record_class, record_id)
		VALUES ($1, $2, $3, $4)`
	_, err := tx.ExecContext(ctx, query, field, value, class, recordID)
	return err
}

// Release drops a claim, typically before re-claiming a changed value.
func (s *IdentityService) Release(ctx context.Context, tx *sql.Tx, field, value, class string) error {
	const query = `
		DELETE FROM identity_claims
		WHERE field = $1 AND lower(value) = lower($2) AND record_class = $3`
	_, err := tx.ExecContext(ctx, query, field, value, class)
	return err
}

// Owner reports which record class currently holds a claim on value.
func (s *IdentityService) Owner(ctx context.Context, field, value string) (string, error) {
	const query = `
		SELECT record_class FROM identity_claims
		WHERE field = $1 AND lower(value) = lower($2)`
	var class string
	err := s.db.QueryRowContext(ctx, query, field, value).Scan(&class)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return class, nil
}

// Taken reports whether value is claimed by any record class.
func (s *IdentityService) Taken(ctx context.Context, field, value string) (bool, error) {
	_, err := s.Owner(ctx, field, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
