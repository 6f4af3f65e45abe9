package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/egolife/directory/types"
	"github.com/lib/pq"
)

const (
	readTimeout  = 3 * time.Second
	writeTimeout = 5 * time.Second

	userColumns = "id, first_name, last_name, username, email, password_hash, active, meta, role, created_at, updated_at"
)

// UserStore handles persistence for user records.
type UserStore struct {
	db    *sql.DB
	ident *IdentityService
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, ident: NewIdentityService(db)}
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByIDs returns the records for the given ids in the requested order.
// Ids with no record are silently omitted.
func (s *UserStore) GetByIDs(ctx context.Context, ids []int64, orderBy, direction string) ([]types.User, error) {
	if len(ids) == 0 {
		return []types.User{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) ORDER BY ` + orderClause(orderBy, direction)
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows, len(ids))
}

// ListAll returns every record, ordered, with no pagination.
func (s *UserStore) ListAll(ctx context.Context, orderBy, direction string) ([]types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users ORDER BY ` + orderClause(orderBy, direction)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows, 0)
}

// ListPage returns one page of records. Excluded ids are filtered in SQL
// before LIMIT/OFFSET, so page boundaries are computed on the filtered set.
func (s *UserStore) ListPage(ctx context.Context, orderBy, direction string, page, perPage int, excludeIDs []int64) (types.Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 25
	}

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	exclude := excludeArray(excludeIDs)

	countQuery := `SELECT COUNT(1) FROM users WHERE NOT (id = ANY($1))`
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, exclude).Scan(&total); err != nil {
		return types.Page{}, err
	}

	listQuery := `SELECT ` + userColumns + ` FROM users WHERE NOT (id = ANY($1)) ORDER BY ` +
		orderClause(orderBy, direction) + ` LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, listQuery, exclude, perPage, (page-1)*perPage)
	if err != nil {
		return types.Page{}, err
	}
	defer rows.Close()

	users, err := collectUsers(rows, perPage)
	if err != nil {
		return types.Page{}, err
	}

	return types.Page{Users: users, Total: total, Page: page, PerPage: perPage}, nil
}

// Create inserts a user and claims its username and email in the shared
// identity namespace, all in one transaction. A missing role is resolved by
// the first-record rule: the first user ever stored becomes super
// administrator, later ones default to plain user. The emptiness check runs
// inside the insert transaction, which narrows but does not close the race
// under concurrent first-time creation.
func (s *UserStore) Create(ctx context.Context, user types.User) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer tx.Rollback()

	if user.Role == "" {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists); err != nil {
			return types.User{}, err
		}
		if exists {
			user.Role = types.RoleUser
		} else {
			user.Role = types.RoleSuperAdministrator
		}
	}

	const insertQuery = `
		INSERT INTO users (first_name, last_name, username, email, password_hash, active, meta, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		user.FirstName,
		user.LastName,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Active,
		nullableJSON(user.Meta),
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, err
	}

	for _, claim := range []struct {
		field, value string
	}{
		{"username", user.Username},
		{"email", user.Email},
	} {
		if err := s.ident.Claim(ctx, tx, claim.field, claim.value, ClassUsers, user.ID); err != nil {
			return types.User{}, s.duplicateOrErr(ctx, err, claim.field, claim.value)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Update rewrites a user's stored fields and re-claims its identities when
// the username or email changed.
func (s *UserStore) Update(ctx context.Context, id int64, user types.User) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	user.ID = id
	user.UpdatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer tx.Rollback()

	var prevUsername, prevEmail string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT username, email, created_at FROM users WHERE id = $1 FOR UPDATE`, id).
		Scan(&prevUsername, &prevEmail, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.CreatedAt = createdAt

	for _, change := range []struct {
		field, prev, next string
	}{
		{"username", prevUsername, user.Username},
		{"email", prevEmail, user.Email},
	} {
		if change.prev == change.next {
			continue
		}
		if err := s.ident.Release(ctx, tx, change.field, change.prev, ClassUsers); err != nil {
			return types.User{}, err
		}
		if err := s.ident.Claim(ctx, tx, change.field, change.next, ClassUsers, id); err != nil {
			return types.User{}, s.duplicateOrErr(ctx, err, change.field, change.next)
		}
	}

	const updateQuery = `
		UPDATE users
		SET first_name = $1,
			last_name = $2,
			username = $3,
			email = $4,
			password_hash = $5,
			active = $6,
			meta = $7,
			role = $8,
			updated_at = $9
		WHERE id = $10`
	if _, err := tx.ExecContext(
		ctx,
		updateQuery,
		user.FirstName,
		user.LastName,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Active,
		nullableJSON(user.Meta),
		user.Role,
		user.UpdatedAt,
		id,
	); err != nil {
		return types.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// duplicateOrErr turns a unique violation on the identity claims index into
// a DuplicateError naming the owning record class. The lookup runs outside
// the aborted transaction.
func (s *UserStore) duplicateOrErr(ctx context.Context, err error, field, value string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	class, lookupErr := s.ident.Owner(ctx, field, value)
	if lookupErr != nil {
		class = "unknown"
	}
	return &DuplicateError{Field: field, Class: class}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var meta []byte
	if err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Active,
		&meta,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return types.User{}, err
	}
	user.Meta = meta
	return user, nil
}

func collectUsers(rows *sql.Rows, sizeHint int) ([]types.User, error) {
	users := make([]types.User, 0, sizeHint)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// excludeArray builds the exclusion-list parameter for the listing queries.
// A nil slice must encode as an empty array, not SQL NULL: the predicate
// NOT (id = ANY(NULL)) is NULL and would match no rows at all.
func excludeArray(ids []int64) driver.Valuer {
	if ids == nil {
		ids = []int64{}
	}
	return pq.Array(ids)
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
