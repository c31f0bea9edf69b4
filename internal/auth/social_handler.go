// social_handler.go -- Feed, microposts, and follow relationships.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/session"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

type listFunc func(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.User, error)

// Feed handles GET /feed: the current user's posts plus those of everyone they follow.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	u := session.CurrentUser(r.Context())
	posts, err := h.Social.Feed(r.Context(), u.ID, parsePage(r))
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"microposts": newMicropostViews(posts)})
}

// CreateMicropost handles POST /microposts.
func (h *Handler) CreateMicropost(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &in) {
		return
	}

	u := session.CurrentUser(r.Context())
	p, err := h.Social.PostMicropost(r.Context(), u.ID, in.Content)
	if err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			Unprocessable(w, verr)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	p.AuthorName = u.Name
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Micropost created!",
		"micropost": newMicropostViews([]store.Micropost{*p})[0],
	})
}

// DeleteMicropost handles DELETE /microposts/{id}. Only the author may delete.
func (h *Handler) DeleteMicropost(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	u := session.CurrentUser(r.Context())
	err := h.Social.DeleteMicropost(r.Context(), u.ID, id)
	switch {
	case errors.Is(err, social.ErrNotFound):
		NotFound(w)
	case errors.Is(err, account.ErrForbidden):
		logWarn(r, "micropost delete forbidden", "micropost_id", id)
		Forbidden(w)
	case err != nil:
		InternalServerError(w, r, err)
	default:
		SeeOther(w, "/", map[string]string{"message": "Micropost deleted"})
	}
}

// CreateRelationship handles POST /relationships with body {"followed_id": ...}.
func (h *Handler) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FollowedID uuid.UUID `json:"followed_id"`
	}
	if !decode(w, r, &in) {
		return
	}

	target, err := h.Accounts.FindByID(r.Context(), in.FollowedID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			NotFound(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}
	if !target.Activated {
		NotFound(w)
		return
	}

	u := session.CurrentUser(r.Context())
	if err := h.Social.Follow(r.Context(), u.ID, target.ID); err != nil {
		InternalServerError(w, r, err)
		return
	}
	SeeOther(w, userPath(target.ID), map[string]any{"following": true})
}

// DeleteRelationship handles DELETE /relationships/{followed_id}.
func (h *Handler) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "followed_id")
	if !ok {
		return
	}
	u := session.CurrentUser(r.Context())
	if err := h.Social.Unfollow(r.Context(), u.ID, id); err != nil {
		InternalServerError(w, r, err)
		return
	}
	SeeOther(w, userPath(id), map[string]any{"following": false})
}
