// graph.go
//
// Follow-graph, micropost, and feed methods of MockStore.
package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

func (m *MockStore) Follow(_ context.Context, followerID, followedID uuid.UUID) error {
	if m.FollowErr != nil {
		return m.FollowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edges[[2]uuid.UUID{followerID, followedID}] = true
	return nil
}

func (m *MockStore) Unfollow(_ context.Context, followerID, followedID uuid.UUID) error {
	if m.FollowErr != nil {
		return m.FollowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Edges, [2]uuid.UUID{followerID, followedID})
	return nil
}

func (m *MockStore) IsFollowing(_ context.Context, followerID, followedID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Edges[[2]uuid.UUID{followerID, followedID}], nil
}

// listEdges returns activated users on the far side of userID's edges, ordered by name then id.
// outgoing selects who userID follows; otherwise who follows userID.
func (m *MockStore) listEdges(userID uuid.UUID, outgoing bool, page store.Page) []store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []store.User
	for edge := range m.Edges {
		var other uuid.UUID
		switch {
		case outgoing && edge[0] == userID:
			other = edge[1]
		case !outgoing && edge[1] == userID:
			other = edge[0]
		default:
			continue
		}
		if u, ok := m.Users[other]; ok && u.Activated {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return paginate(users, page)
}

func (m *MockStore) ListFollowing(_ context.Context, userID uuid.UUID, page store.Page) ([]store.User, error) {
	return m.listEdges(userID, true, page), nil
}

func (m *MockStore) ListFollowers(_ context.Context, userID uuid.UUID, page store.Page) ([]store.User, error) {
	return m.listEdges(userID, false, page), nil
}

func (m *MockStore) CountFollows(_ context.Context, userID uuid.UUID) (following, followers int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := func(id uuid.UUID) bool {
		u, ok := m.Users[id]
		return ok && u.Activated
	}
	for edge := range m.Edges {
		if edge[0] == userID && active(edge[1]) {
			following++
		}
		if edge[1] == userID && active(edge[0]) {
			followers++
		}
	}
	return following, followers, nil
}

func (m *MockStore) CreateMicropost(_ context.Context, id, userID uuid.UUID, content string) (*store.Micropost, error) {
	if m.PostErr != nil {
		return nil, m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.seq++
	p := &mockPost{
		post: store.Micropost{ID: id, UserID: userID, AuthorName: u.Name, Content: content, CreatedAt: time.Now()},
		seq:  m.seq,
	}
	m.Posts[id] = p
	cp := p.post
	return &cp, nil
}

func (m *MockStore) GetMicropost(_ context.Context, id uuid.UUID) (*store.Micropost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := p.post
	return &cp, nil
}

func (m *MockStore) DeleteMicropost(_ context.Context, id uuid.UUID) error {
	if m.PostErr != nil {
		return m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.Posts, id)
	return nil
}

// posts returns every post matching keep, newest first with insertion order breaking ties.
func (m *MockStore) posts(keep func(authorID uuid.UUID) bool, page store.Page) []store.Micropost {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*mockPost
	for _, p := range m.Posts {
		if keep(p.post.UserID) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.post.CreatedAt.Equal(b.post.CreatedAt) {
			return a.post.CreatedAt.After(b.post.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]store.Micropost, len(matched))
	for i, p := range matched {
		out[i] = p.post
	}
	return paginate(out, page)
}

func (m *MockStore) ListUserMicroposts(_ context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error) {
	return m.posts(func(author uuid.UUID) bool { return author == userID }, page), nil
}

func (m *MockStore) Feed(_ context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error) {
	if m.FeedErr != nil {
		return nil, m.FeedErr
	}
	m.mu.Lock()
	followed := make(map[uuid.UUID]bool)
	for edge := range m.Edges {
		if edge[0] == userID {
			followed[edge[1]] = true
		}
	}
	m.mu.Unlock()
	return m.posts(func(author uuid.UUID) bool { return author == userID || followed[author] }, page), nil
}
