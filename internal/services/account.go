package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/egolife/directory/config"
	"github.com/egolife/directory/internal/store"
	"github.com/egolife/directory/types"
	"github.com/egolife/directory/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultOrderBy   = "first_name"
	DefaultDirection = "asc"
	DefaultPerPage   = 25

	maxReadRetries = 2
)

// UserStore defines persistence operations for user records.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByIDs(ctx context.Context, ids []int64, orderBy, direction string) ([]types.User, error)
	ListAll(ctx context.Context, orderBy, direction string) ([]types.User, error)
	ListPage(ctx context.Context, orderBy, direction string, page, perPage int, excludeIDs []int64) (types.Page, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, id int64, user types.User) (types.User, error)
}

// SearchIndex defines the write-through index the service keeps in sync.
type SearchIndex interface {
	Index(ctx context.Context, id int64, text string) error
	Search(ctx context.Context, query string) ([]int64, error)
}

// Notifier publishes directory events for external collaborators.
type Notifier interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Avatars holds profile images keyed by user id.
type Avatars interface {
	Put(ctx context.Context, userID int64, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, userID int64) (io.ReadCloser, error)
}

// Fields is a caller-supplied create/update payload. Only whitelisted keys
// are honored; everything else is silently dropped.
type Fields map[string]any

var writableFields = map[string]struct{}{
	"first_name":            {},
	"last_name":             {},
	"username":              {},
	"email":                 {},
	"password":              {},
	"password_confirmation": {},
	"active":                {},
	"meta":                  {},
}

// WriteResult is the outcome of a create or update. Warning, when non-nil,
// is a PartialWriteWarning: the record is durable but not yet searchable.
type WriteResult struct {
	User    types.User
	Warning error
}

// AccountService composes the record store, search index, notifier and
// avatar storage behind the directory's public operations. Computed fields
// are derived on every record returned, never stored.
type AccountService struct {
	store    UserStore
	index    SearchIndex
	notifier Notifier
	avatars  Avatars
	reset    config.ResetConfig
	log      *zap.Logger
}

func NewAccountService(userStore UserStore, index SearchIndex, log *zap.Logger) *AccountService {
	return &AccountService{
		store: userStore,
		index: index,
		log:   log.With(zap.String("module", "account")),
	}
}

// WithNotifier attaches the password-reset event transport.
func (s *AccountService) WithNotifier(n Notifier, reset config.ResetConfig) *AccountService {
	s.notifier = n
	s.reset = reset
	return s
}

// WithAvatars attaches profile image storage.
func (s *AccountService) WithAvatars(a Avatars) *AccountService {
	s.avatars = a
	return s
}

// GetByID looks up a single record.
func (s *AccountService) GetByID(ctx context.Context, id int64) (types.User, error) {
	var user types.User
	err := s.retryRead(ctx, func() error {
		var err error
		user, err = s.store.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return types.User{}, err
	}
	user.Derive()
	return user, nil
}

// GetByIDs returns the records for the given ids, ordered by the requested
// field. Missing ids are silently omitted.
func (s *AccountService) GetByIDs(ctx context.Context, ids []int64, orderBy, direction string) ([]types.User, error) {
	orderBy, direction = orderDefaults(orderBy, direction)

	var users []types.User
	err := s.retryRead(ctx, func() error {
		var err error
		users, err = s.store.GetByIDs(ctx, ids, orderBy, direction)
		return err
	})
	if err != nil {
		return nil, err
	}
	deriveAll(users)
	return users, nil
}

// ListAll returns every record, ordered, with no pagination.
func (s *AccountService) ListAll(ctx context.Context, orderBy, direction string) ([]types.User, error) {
	orderBy, direction = orderDefaults(orderBy, direction)

	var users []types.User
	err := s.retryRead(ctx, func() error {
		var err error
		users, err = s.store.ListAll(ctx, orderBy, direction)
		return err
	})
	if err != nil {
		return nil, err
	}
	deriveAll(users)
	return users, nil
}

// List returns one page of records, excluding the given ids before the page
// boundaries are computed.
func (s *AccountService) List(ctx context.Context, orderBy, direction string, page, perPage int, exclude []int64) (types.Page, error) {
	orderBy, direction = orderDefaults(orderBy, direction)
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	var result types.Page
	err := s.retryRead(ctx, func() error {
		var err error
		result, err = s.store.ListPage(ctx, orderBy, direction, page, perPage, exclude)
		return err
	})
	if err != nil {
		return types.Page{}, err
	}
	deriveAll(result.Users)
	return result, nil
}

// Search resolves free text to an id set via the index, subtracts the
// exclusions, then routes the surviving ids back through the record store so
// projection stays uniform with every other read path. Results keep the
// index's relevance order.
func (s *AccountService) Search(ctx context.Context, query string, page, perPage int, exclude []int64) (types.Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	var ranked []int64
	err := s.retryRead(ctx, func() error {
		var err error
		ranked, err = s.index.Search(ctx, query)
		return err
	})
	if err != nil {
		return types.Page{}, err
	}

	excluded := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	filtered := make([]int64, 0, len(ranked))
	for _, id := range ranked {
		if _, skip := excluded[id]; skip {
			continue
		}
		filtered = append(filtered, id)
	}

	total := len(filtered)
	offset := (page - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	pageIDs := filtered[offset:end]

	var users []types.User
	err = s.retryRead(ctx, func() error {
		var err error
		users, err = s.store.GetByIDs(ctx, pageIDs, "id", "asc")
		return err
	})
	if err != nil {
		return types.Page{}, err
	}

	byID := make(map[int64]types.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	ordered := make([]types.User, 0, len(users))
	for _, id := range pageIDs {
		if user, ok := byID[id]; ok {
			ordered = append(ordered, user)
		}
	}
	deriveAll(ordered)

	return types.Page{Users: ordered, Total: total, Page: page, PerPage: perPage}, nil
}

// Create validates the whitelisted candidate fields, hashes the password,
// writes through the store (the store resolves the default role inside its
// transaction) and then indexes. An index failure leaves the record durable
// and returns it with a PartialWriteWarning instead of rolling back; there
// is no cross-store transaction.
func (s *AccountService) Create(ctx context.Context, fields Fields) (WriteResult, error) {
	f := filterFields(fields)

	values := map[string]string{
		"first_name": stringField(f, "first_name"),
		"last_name":  stringField(f, "last_name"),
		"username":   stringField(f, "username"),
		"email":      stringField(f, "email"),
		"password":   stringField(f, "password"),
	}
	confirmation := stringField(f, "password_confirmation")

	violations := validation.Violations{}
	for _, rule := range validation.UserRules {
		rule.Apply(values[rule.Field], confirmation, violations)
	}
	if !violations.Empty() {
		return WriteResult{}, &ValidationError{Fields: violations}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(values["password"]), bcrypt.DefaultCost)
	if err != nil {
		return WriteResult{}, err
	}

	meta, err := metaField(f)
	if err != nil {
		return WriteResult{}, &ValidationError{Fields: validation.Violations{"meta": "must_be_valid_json"}}
	}

	user := types.User{
		FirstName:    values["first_name"],
		LastName:     values["last_name"],
		Username:     values["username"],
		Email:        values["email"],
		PasswordHash: string(hash),
		Active:       boolField(f, "active", true),
		Meta:         meta,
	}
	if legacy, ok := user.MetaRole(); ok {
		user.Role = types.ParseRole(legacy)
	}

	created, err := s.store.Create(ctx, user)
	if err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{User: created}
	if err := s.index.Index(ctx, created.ID, created.SearchText()); err != nil {
		result.Warning = &PartialWriteWarning{Op: "create", Err: err}
		s.log.Warn("record stored but not indexed",
			zap.Int64("user_id", created.ID),
			zap.Error(err),
		)
	}
	result.User.Derive()
	return result, nil
}

// Update merges the whitelisted candidate fields over the stored record,
// revalidates, writes through the store and reindexes.
func (s *AccountService) Update(ctx context.Context, id int64, fields Fields) (WriteResult, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}

	f := filterFields(fields)
	merged := current
	if v, ok := f["first_name"]; ok {
		merged.FirstName = asString(v)
	}
	if v, ok := f["last_name"]; ok {
		merged.LastName = asString(v)
	}
	if v, ok := f["username"]; ok {
		merged.Username = asString(v)
	}
	if v, ok := f["email"]; ok {
		merged.Email = asString(v)
	}
	if _, ok := f["active"]; ok {
		merged.Active = boolField(f, "active", merged.Active)
	}
	if _, ok := f["meta"]; ok {
		_, hadMetaRole := merged.MetaRole()
		meta, err := metaField(f)
		if err != nil {
			return WriteResult{}, &ValidationError{Fields: validation.Violations{"meta": "must_be_valid_json"}}
		}
		merged.Meta = meta
		if legacy, ok := merged.MetaRole(); ok {
			merged.Role = types.ParseRole(legacy)
		} else if hadMetaRole {
			// a role that lived in the meta blob disappears with it; roles
			// assigned at creation survive meta updates
			merged.Role = types.RoleUnknown
		}
	}

	password := stringField(f, "password")
	confirmation := stringField(f, "password_confirmation")

	violations := validation.Violations{}
	for _, rule := range validation.UserRules {
		switch rule.Field {
		case "password":
			// The password is only revalidated when the payload carries one;
			// an update without it keeps the stored hash.
			if _, ok := f["password"]; ok {
				rule.Apply(password, confirmation, violations)
			}
		case "first_name":
			rule.Apply(merged.FirstName, "", violations)
		case "last_name":
			rule.Apply(merged.LastName, "", violations)
		case "username":
			rule.Apply(merged.Username, "", violations)
		case "email":
			rule.Apply(merged.Email, "", violations)
		}
	}
	if !violations.Empty() {
		return WriteResult{}, &ValidationError{Fields: violations}
	}

	if _, ok := f["password"]; ok {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return WriteResult{}, err
		}
		merged.PasswordHash = string(hash)
	}

	updated, err := s.store.Update(ctx, id, merged)
	if err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{User: updated}
	if err := s.index.Index(ctx, updated.ID, updated.SearchText()); err != nil {
		result.Warning = &PartialWriteWarning{Op: "update", Err: err}
		s.log.Warn("record stored but not indexed",
			zap.Int64("user_id", updated.ID),
			zap.Error(err),
		)
	}
	result.User.Derive()
	return result, nil
}

// SetAvatar stores a profile image for an existing record.
func (s *AccountService) SetAvatar(ctx context.Context, id int64, r io.Reader, size int64, contentType string) error {
	if s.avatars == nil {
		return ErrAvatarsDisabled
	}
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return err
	}
	return s.avatars.Put(ctx, id, r, size, contentType)
}

// Avatar opens a record's profile image.
func (s *AccountService) Avatar(ctx context.Context, id int64) (io.ReadCloser, error) {
	if s.avatars == nil {
		return nil, ErrAvatarsDisabled
	}
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.avatars.Get(ctx, id)
}

// retryRead retries an idempotent read with short exponential backoff.
// Writes are never routed through here: retrying an ambiguous write risks
// duplicate creation.
func (s *AccountService) retryRead(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxReadRetries), ctx))
}

func orderDefaults(orderBy, direction string) (string, string) {
	if orderBy == "" {
		orderBy = DefaultOrderBy
	}
	if direction == "" {
		direction = DefaultDirection
	}
	return orderBy, direction
}

func deriveAll(users []types.User) {
	for i := range users {
		users[i].Derive()
	}
}

func filterFields(fields Fields) Fields {
	filtered := make(Fields, len(fields))
	for key, value := range fields {
		if _, ok := writableFields[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}

func stringField(fields Fields, key string) string {
	if value, ok := fields[key]; ok {
		return asString(value)
	}
	return ""
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func boolField(fields Fields, key string, fallback bool) bool {
	if value, ok := fields[key]; ok {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return fallback
}

func metaField(fields Fields) (json.RawMessage, error) {
	value, ok := fields["meta"]
	if !ok || value == nil {
		return nil, nil
	}
	switch typed := value.(type) {
	case json.RawMessage:
		return typed, nil
	case []byte:
		return typed, nil
	case string:
		if typed == "" {
			return nil, nil
		}
		if !json.Valid([]byte(typed)) {
			return nil, errors.New("invalid meta json")
		}
		return json.RawMessage(typed), nil
	default:
		return json.Marshal(typed)
	}
}
