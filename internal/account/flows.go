// flows.go -- account activation and password reset state machines.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/MGallo-Code/murmur/internal/store"
)

// ResetInput is the new-password form of a reset link.
type ResetInput struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Activate marks u active as of now.
// Returns ErrInvalidLink if u was activated concurrently.
func (s *Service) Activate(ctx context.Context, u *store.User) error {
	at := s.now()
	if err := s.Users.ActivateUser(ctx, u.ID, at); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidLink
		}
		return fmt.Errorf("activating user: %w", err)
	}
	u.Activated = true
	u.ActivatedAt = &at
	return nil
}

// ActivateByLink activates the account behind an activation link.
// The user must exist, be inactive, and the token must match; otherwise ErrInvalidLink.
func (s *Service) ActivateByLink(ctx context.Context, email, token string) (*store.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if u == nil || u.Activated || !s.Authenticated(u, KindActivation, token) {
		metrics.Activations.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidLink
	}
	if err := s.Activate(ctx, u); err != nil {
		if errors.Is(err, ErrInvalidLink) {
			metrics.Activations.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}
	metrics.Activations.WithLabelValues("success").Inc()
	return u, nil
}

// CreateResetDigest issues a reset token for u, replacing any pending one.
func (s *Service) CreateResetDigest(ctx context.Context, u *store.User) (string, error) {
	token, err := credential.NewToken()
	if err != nil {
		return "", err
	}
	digest, err := s.Hasher.Hash(token)
	if err != nil {
		return "", fmt.Errorf("hashing reset token: %w", err)
	}
	sentAt := s.now()
	if err := s.Users.SetResetDigest(ctx, u.ID, digest, sentAt); err != nil {
		return "", fmt.Errorf("storing reset digest: %w", err)
	}
	u.ResetDigest = &digest
	u.ResetSentAt = &sentAt
	return token, nil
}

// RequestReset starts a password reset for email and mails the link.
// Returns ErrNotFound for unknown emails; callers should not reveal that.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	token, err := s.CreateResetDigest(ctx, u)
	if err != nil {
		return err
	}
	metrics.PasswordResets.WithLabelValues("requested").Inc()
	if err := s.Mail.SendPasswordReset(ctx, u.Email, token, ResetTTL, map[string]string{"name": u.Name}); err != nil {
		slog.Warn("password reset mail not sent", "user_id", u.ID, "error", err)
	}
	return nil
}

// ResetExpired reports whether u's reset link is older than ResetTTL.
func (s *Service) ResetExpired(u *store.User) bool {
	if u.ResetSentAt == nil {
		return true
	}
	return s.now().Sub(*u.ResetSentAt) > ResetTTL
}

// CheckResetLink validates a reset link without consuming it.
// ErrInvalidLink unless the user exists, is active, and the token matches;
// ErrExpiredToken once the link is older than ResetTTL.
func (s *Service) CheckResetLink(ctx context.Context, email, token string) (*store.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if u == nil || !u.Activated || !s.Authenticated(u, KindReset, token) {
		metrics.PasswordResets.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidLink
	}
	if s.ResetExpired(u) {
		metrics.PasswordResets.WithLabelValues("expired").Inc()
		return nil, ErrExpiredToken
	}
	return u, nil
}

// CompleteReset sets a new password through a reset link and burns the link.
// An empty password is rejected outright instead of meaning "keep the old one".
func (s *Service) CompleteReset(ctx context.Context, email, token string, in ResetInput) (*store.User, error) {
	u, err := s.CheckResetLink(ctx, email, token)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if in.Password == "" {
		verr.add("password", "Password can't be empty")
		return nil, verr
	}
	validatePassword(verr, in.Password, in.PasswordConfirmation)
	if !verr.empty() {
		return nil, verr
	}

	digest, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	if err := s.Users.ResetPassword(ctx, u.ID, *u.ResetDigest, digest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Consumed or replaced between the check and the write.
			metrics.PasswordResets.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidLink
		}
		return nil, fmt.Errorf("resetting password: %w", err)
	}
	u.PasswordDigest = &digest
	u.ResetDigest = nil
	metrics.PasswordResets.WithLabelValues("completed").Inc()
	return u, nil
}
