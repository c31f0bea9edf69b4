// users_handler.go -- User listing, profiles, profile edits, and account deletion.
package auth

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/session"
	"github.com/MGallo-Code/murmur/internal/store"
)

// activeUser loads the user named by the {id} URL param.
// Unknown and not-yet-activated users both answer 404.
func (h *Handler) activeUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return nil, false
	}
	u, err := h.Accounts.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			NotFound(w)
			return nil, false
		}
		InternalServerError(w, r, err)
		return nil, false
	}
	if !u.Activated {
		NotFound(w)
		return nil, false
	}
	return u, true
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.ListActivated(r.Context(), parsePage(r))
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	viewer := session.CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"users": newUserViews(users, viewer)})
}

// ShowUser handles GET /users/{id}: profile, follow counts, and a page of microposts.
func (h *Handler) ShowUser(w http.ResponseWriter, r *http.Request) {
	u, ok := h.activeUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	posts, err := h.Social.UserMicroposts(ctx, u.ID, parsePage(r))
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	following, followers, err := h.Social.Counts(ctx, u.ID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	viewer := session.CurrentUser(ctx)
	body := map[string]any{
		"user":       newUserView(u, viewer),
		"microposts": newMicropostViews(posts),
		"following":  following,
		"followers":  followers,
	}
	if viewer != nil && viewer.ID != u.ID {
		isFollowing, err := h.Social.IsFollowing(ctx, viewer.ID, u.ID)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		body["is_following"] = isFollowing
	}
	writeJSON(w, http.StatusOK, body)
}

// UpdateUser handles PATCH /users/{id}. Only the user themselves may edit.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.activeUser(w, r)
	if !ok {
		return
	}
	actor := session.CurrentUser(r.Context())
	if actor.ID != target.ID {
		logWarn(r, "profile edit forbidden", "target_user_id", target.ID)
		Forbidden(w)
		return
	}

	var in account.UpdateInput
	if !decode(w, r, &in) {
		return
	}

	u, err := h.Accounts.Update(r.Context(), actor, target, in)
	if err != nil {
		var verr *account.ValidationError
		switch {
		case errors.As(err, &verr):
			Unprocessable(w, verr)
		case errors.Is(err, account.ErrForbidden):
			Forbidden(w)
		default:
			InternalServerError(w, r, err)
		}
		return
	}

	logInfo(r, "profile updated")
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated",
		"user":    newUserView(u, actor),
	})
}

// DeleteUser handles DELETE /users/{id}. Admins may delete anyone; users may delete themselves.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	target, err := h.Accounts.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			NotFound(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	actor := session.CurrentUser(r.Context())
	if err := h.Accounts.Delete(r.Context(), actor, target); err != nil {
		if errors.Is(err, account.ErrForbidden) {
			logWarn(r, "user delete forbidden", "target_user_id", target.ID)
			Forbidden(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	if actor.ID == target.ID {
		if err := h.Sessions.Logout(w, r); err != nil {
			logWarn(r, "logout after self-delete failed", "error", err)
		}
	}
	logInfo(r, "user deleted", "target_user_id", target.ID)
	SeeOther(w, "/users", map[string]string{"message": "User deleted"})
}

// Following handles GET /users/{id}/following.
func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.followList(w, r, h.Social.Following)
}

// Followers handles GET /users/{id}/followers.
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.followList(w, r, h.Social.Followers)
}

func (h *Handler) followList(w http.ResponseWriter, r *http.Request, list listFunc) {
	u, ok := h.activeUser(w, r)
	if !ok {
		return
	}
	users, err := list(r.Context(), u.ID, parsePage(r))
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	viewer := session.CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  newUserView(u, viewer),
		"users": newUserViews(users, viewer),
	})
}
