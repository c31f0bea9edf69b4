// stores.go
//
// Shared in-memory mock of the Postgres store. Implements account.Store and
// social.Store so handler and service tests across packages share one fake.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockStore behaves like the real store: users, edges, and posts live in maps,
// email uniqueness is case-insensitive, and the guarded updates refuse stale writes.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr  error
	GetUserErr     error
	UpdateUserErr  error
	SetRememberErr error
	DeleteUserErr  error
	FollowErr      error
	PostErr        error
	FeedErr        error
	HealthErr      error

	Users map[uuid.UUID]*store.User
	Edges map[[2]uuid.UUID]bool // [follower, followed]
	Posts map[uuid.UUID]*mockPost

	seq int64
	mu  sync.Mutex
}

type mockPost struct {
	post store.Micropost
	seq  int64
}

// NewMockStore returns a MockStore seeded with the given users.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users: make(map[uuid.UUID]*store.User),
		Edges: make(map[[2]uuid.UUID]bool),
		Posts: make(map[uuid.UUID]*mockPost),
	}
	for _, u := range users {
		cp := *u
		ms.Users[u.ID] = &cp
	}
	return ms
}

// User returns a copy of the stored user, or nil.
func (m *MockStore) User(id uuid.UUID) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// --- users ---

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrDuplicateEmail
		}
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
	}
	m.Users[u.ID] = &cp
	return nil
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// withUser runs fn on the stored user under the lock, or returns ErrNotFound.
func (m *MockStore) withUser(id uuid.UUID, fn func(u *store.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) UpdateUserProfile(_ context.Context, id uuid.UUID, name, email string, passwordDigest *string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	for otherID, other := range m.Users {
		if otherID != id && strings.EqualFold(other.Email, email) {
			m.mu.Unlock()
			return store.ErrDuplicateEmail
		}
	}
	m.mu.Unlock()
	return m.withUser(id, func(u *store.User) error {
		u.Name = name
		u.Email = email
		if passwordDigest != nil {
			d := *passwordDigest
			u.PasswordDigest = &d
		}
		return nil
	})
}

func (m *MockStore) SetPasswordDigest(_ context.Context, id uuid.UUID, digest string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	return m.withUser(id, func(u *store.User) error {
		u.PasswordDigest = &digest
		return nil
	})
}

func (m *MockStore) SetRememberDigest(_ context.Context, id uuid.UUID, digest *string) error {
	if m.SetRememberErr != nil {
		return m.SetRememberErr
	}
	return m.withUser(id, func(u *store.User) error {
		if digest == nil {
			u.RememberDigest = nil
			return nil
		}
		d := *digest
		u.RememberDigest = &d
		return nil
	})
}

func (m *MockStore) ActivateUser(_ context.Context, id uuid.UUID, at time.Time) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	return m.withUser(id, func(u *store.User) error {
		if u.Activated {
			return store.ErrNotFound
		}
		u.Activated = true
		u.ActivatedAt = &at
		return nil
	})
}

func (m *MockStore) SetResetDigest(_ context.Context, id uuid.UUID, digest string, sentAt time.Time) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	return m.withUser(id, func(u *store.User) error {
		u.ResetDigest = &digest
		u.ResetSentAt = &sentAt
		return nil
	})
}

func (m *MockStore) ResetPassword(_ context.Context, id uuid.UUID, resetDigest, passwordDigest string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	return m.withUser(id, func(u *store.User) error {
		if u.ResetDigest == nil || *u.ResetDigest != resetDigest {
			return store.ErrNotFound
		}
		u.PasswordDigest = &passwordDigest
		u.ResetDigest = nil
		return nil
	})
}

// ListActivatedUsers returns activated users ordered by CreatedAt then id.
func (m *MockStore) ListActivatedUsers(_ context.Context, page store.Page) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []store.User
	for _, u := range m.Users {
		if u.Activated {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return paginate(users, page), nil
}

func (m *MockStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[id]; !ok {
		return store.ErrNotFound
	}
	for pid, p := range m.Posts {
		if p.post.UserID == id {
			delete(m.Posts, pid)
		}
	}
	for edge := range m.Edges {
		if edge[0] == id || edge[1] == id {
			delete(m.Edges, edge)
		}
	}
	delete(m.Users, id)
	return nil
}

func paginate[T any](items []T, page store.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(items))
	return items[page.Offset:end]
}
