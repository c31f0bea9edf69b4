// views.go -- JSON shapes for users and microposts.
package auth

import (
	"time"

	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

type userView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Admin     bool      `json:"admin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// newUserView renders u for viewer. Email is only shown to the user themselves.
func newUserView(u *store.User, viewer *store.User) userView {
	v := userView{ID: u.ID, Name: u.Name, Admin: u.Admin, CreatedAt: u.CreatedAt}
	if viewer != nil && viewer.ID == u.ID {
		v.Email = u.Email
	}
	return v
}

func newUserViews(users []store.User, viewer *store.User) []userView {
	out := make([]userView, 0, len(users))
	for i := range users {
		out = append(out, newUserView(&users[i], viewer))
	}
	return out
}

type micropostView struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func newMicropostViews(posts []store.Micropost) []micropostView {
	out := make([]micropostView, 0, len(posts))
	for _, p := range posts {
		out = append(out, micropostView(p))
	}
	return out
}
