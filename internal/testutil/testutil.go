// Package testutil provides in-memory doubles for the record store, search
// index and notifier, so service and handler tests run without Postgres,
// Redis or a broker.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/egolife/directory/internal/search"
	"github.com/egolife/directory/internal/store"
	"github.com/egolife/directory/types"
)

// MemStore is an in-memory UserStore with the same uniqueness and ordering
// semantics as the Postgres-backed one.
type MemStore struct {
	mu     sync.Mutex
	seq    int64
	users  map[int64]types.User
	claims map[string]map[string]string // field -> lower(value) -> record class

	// FailReads, when set, is returned by every read until cleared.
	FailReads error
}

func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[int64]types.User),
		claims: map[string]map[string]string{
			"username": {},
			"email":    {},
		},
	}
}

// ClaimMember seeds an identity claim owned by the external members class.
func (m *MemStore) ClaimMember(field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[field][strings.ToLower(value)] = store.ClassMembers
}

func (m *MemStore) GetByID(_ context.Context, id int64) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return types.User{}, m.FailReads
	}
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *MemStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return types.User{}, m.FailReads
	}
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *MemStore) GetByIDs(_ context.Context, ids []int64, orderBy, direction string) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return nil, m.FailReads
	}
	users := make([]types.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			users = append(users, user)
		}
	}
	sortUsers(users, orderBy, direction)
	return users, nil
}

func (m *MemStore) ListAll(_ context.Context, orderBy, direction string) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return nil, m.FailReads
	}
	users := m.snapshot(nil)
	sortUsers(users, orderBy, direction)
	return users, nil
}

func (m *MemStore) ListPage(_ context.Context, orderBy, direction string, page, perPage int, excludeIDs []int64) (types.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return types.Page{}, m.FailReads
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 25
	}

	excluded := make(map[int64]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	users := m.snapshot(excluded)
	sortUsers(users, orderBy, direction)

	total := len(users)
	offset := (page - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}

	return types.Page{Users: users[offset:end], Total: total, Page: page, PerPage: perPage}, nil
}

func (m *MemStore) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.Role == "" {
		if len(m.users) == 0 {
			user.Role = types.RoleSuperAdministrator
		} else {
			user.Role = types.RoleUser
		}
	}

	for _, claim := range []struct{ field, value string }{
		{"username", user.Username},
		{"email", user.Email},
	} {
		if class, taken := m.claims[claim.field][strings.ToLower(claim.value)]; taken {
			return types.User{}, &store.DuplicateError{Field: claim.field, Class: class}
		}
	}

	m.seq++
	user.ID = m.seq
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	m.claims["username"][strings.ToLower(user.Username)] = store.ClassUsers
	m.claims["email"][strings.ToLower(user.Email)] = store.ClassUsers
	return user, nil
}

func (m *MemStore) Update(_ context.Context, id int64, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}

	for _, change := range []struct{ field, prev, next string }{
		{"username", current.Username, user.Username},
		{"email", current.Email, user.Email},
	} {
		if strings.EqualFold(change.prev, change.next) {
			continue
		}
		if class, taken := m.claims[change.field][strings.ToLower(change.next)]; taken {
			return types.User{}, &store.DuplicateError{Field: change.field, Class: class}
		}
		delete(m.claims[change.field], strings.ToLower(change.prev))
		m.claims[change.field][strings.ToLower(change.next)] = store.ClassUsers
	}

	user.ID = id
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now()
	m.users[id] = user
	return user, nil
}

func (m *MemStore) snapshot(excluded map[int64]struct{}) []types.User {
	users := make([]types.User, 0, len(m.users))
	for id, user := range m.users {
		if _, skip := excluded[id]; skip {
			continue
		}
		users = append(users, user)
	}
	return users
}

func sortUsers(users []types.User, orderBy, direction string) {
	desc := strings.EqualFold(direction, "desc")
	key := func(u types.User) string {
		switch strings.ToLower(orderBy) {
		case "last_name":
			return u.LastName
		case "username":
			return u.Username
		case "email":
			return u.Email
		default:
			return u.FirstName
		}
	}
	sort.SliceStable(users, func(a, b int) bool {
		if strings.ToLower(orderBy) == "id" {
			if desc {
				return users[a].ID > users[b].ID
			}
			return users[a].ID < users[b].ID
		}
		ka, kb := key(users[a]), key(users[b])
		if ka != kb {
			if desc {
				return ka > kb
			}
			return ka < kb
		}
		return users[a].ID < users[b].ID
	})
}

// MemIndex is an in-memory SearchIndex with the same token semantics as the
// Redis-backed one.
type MemIndex struct {
	mu   sync.Mutex
	docs map[int64][]string

	// FailWith, when set, makes every call fail. Search wraps it in
	// search.ErrUnavailable like the real index does.
	FailWith error
}

func NewMemIndex() *MemIndex {
	return &MemIndex{docs: make(map[int64][]string)}
}

func (m *MemIndex) Index(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return fmt.Errorf("%w: %v", search.ErrUnavailable, m.FailWith)
	}
	m.docs[id] = search.Tokenize(text)
	return nil
}

func (m *MemIndex) Search(_ context.Context, query string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrUnavailable, m.FailWith)
	}

	tokens := search.Tokenize(query)
	hits := make(map[int64]int)
	for id, doc := range m.docs {
		indexed := make(map[string]struct{}, len(doc))
		for _, token := range doc {
			indexed[token] = struct{}{}
		}
		for _, token := range tokens {
			if _, ok := indexed[token]; ok {
				hits[id]++
			}
		}
	}

	ids := make([]int64, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		if hits[ids[a]] != hits[ids[b]] {
			return hits[ids[a]] > hits[ids[b]]
		}
		return ids[a] < ids[b]
	})
	return ids, nil
}

// Published is one event captured by MemNotifier.
type Published struct {
	Channel string
	Data    []byte
	Attrs   map[string]string
}

// MemNotifier records published events.
type MemNotifier struct {
	mu     sync.Mutex
	Events []Published
}

func NewMemNotifier() *MemNotifier {
	return &MemNotifier{}
}

func (m *MemNotifier) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, Published{Channel: channel, Data: data, Attrs: attrs})
	return fmt.Sprintf("msg-%d", len(m.Events)), nil
}
