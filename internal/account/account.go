// Package account owns the user lifecycle: signup, login credentials,
// persistent-login digests, activation, and password reset.
//
// account.go -- Service, sentinel errors, and the core user operations.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/mail"
	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotActivated is returned by LogIn when the password matched but the account is not active yet.
	ErrNotActivated = errors.New("account not activated")

	// ErrInvalidLink is returned for any activation or reset link that does not check out.
	ErrInvalidLink = errors.New("invalid link")

	// ErrExpiredToken is returned when a reset link is valid but older than ResetTTL.
	ErrExpiredToken = errors.New("token expired")

	// ErrForbidden is returned when the actor may not touch the target user.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
)

// ResetTTL is how long a password reset link stays usable.
const ResetTTL = 2 * time.Hour

// Kind selects which digest on a user a token is checked against.
type Kind int

const (
	KindPassword Kind = iota
	KindRemember
	KindActivation
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindPassword:
		return "password"
	case KindRemember:
		return "remember"
	case KindActivation:
		return "activation"
	case KindReset:
		return "reset"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// digestFor returns the digest field matching kind, nil when unset or unknown.
func digestFor(u *store.User, kind Kind) *string {
	switch kind {
	case KindPassword:
		return u.PasswordDigest
	case KindRemember:
		return u.RememberDigest
	case KindActivation:
		return u.ActivationDigest
	case KindReset:
		return u.ResetDigest
	}
	return nil
}

// Store defines the user persistence the service needs.
// Satisfied by *store.PostgresStore.
type Store interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email string, passwordDigest *string) error
	SetPasswordDigest(ctx context.Context, id uuid.UUID, digest string) error
	SetRememberDigest(ctx context.Context, id uuid.UUID, digest *string) error
	ActivateUser(ctx context.Context, id uuid.UUID, at time.Time) error
	SetResetDigest(ctx context.Context, id uuid.UUID, digest string, sentAt time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, resetDigest, passwordDigest string) error
	ListActivatedUsers(ctx context.Context, page store.Page) ([]store.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// Service implements the account operations on top of a Store.
type Service struct {
	Users  Store
	Hasher *credential.Hasher
	Mail   mail.Mailer

	// Now is the clock used for activation and reset timestamps. Defaults to time.Now.
	Now func() time.Time
}

// NewService wires a Service with the wall clock.
func NewService(users Store, hasher *credential.Hasher, mailer mail.Mailer) *Service {
	return &Service{Users: users, Hasher: hasher, Mail: mailer, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// SignupInput is the signup form.
type SignupInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// UpdateInput is the profile edit form. Empty password and confirmation keep the current password.
type UpdateInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Create validates in, persists an unactivated user, and returns it with the plaintext activation token.
func (s *Service) Create(ctx context.Context, in SignupInput) (*store.User, string, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	verr := &ValidationError{}
	validateName(verr, name)
	validateEmail(verr, email)
	validatePassword(verr, in.Password, in.PasswordConfirmation)
	if !verr.empty() {
		return nil, "", verr
	}
	if err := s.checkEmailFree(ctx, email, uuid.Nil); err != nil {
		return nil, "", err
	}

	passwordDigest, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}
	token, err := credential.NewToken()
	if err != nil {
		return nil, "", err
	}
	activationDigest, err := s.Hasher.Hash(token)
	if err != nil {
		return nil, "", fmt.Errorf("hashing activation token: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, "", fmt.Errorf("generating user id: %w", err)
	}

	now := s.now()
	u := &store.User{
		ID:               id,
		Name:             name,
		Email:            email,
		PasswordDigest:   &passwordDigest,
		ActivationDigest: &activationDigest,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, "", emailTaken()
		}
		return nil, "", fmt.Errorf("creating user: %w", err)
	}
	return u, token, nil
}

// Signup creates the user and hands the activation link to the mailer.
// Mail failures are logged; the account exists either way.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*store.User, error) {
	u, token, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.Mail.SendAccountActivation(ctx, u.Email, token, map[string]string{"name": u.Name}); err != nil {
		slog.Warn("activation mail not sent", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// checkEmailFree returns a ValidationError when email belongs to a user other than self.
func (s *Service) checkEmailFree(ctx context.Context, email string, self uuid.UUID) error {
	existing, err := s.Users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("checking email: %w", err)
	case existing.ID != self:
		return emailTaken()
	}
	return nil
}

// FindByEmail looks a user up by email, ignoring case.
func (s *Service) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := s.Users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// FindByID looks a user up by id.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, err := s.Users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Update edits target's profile. Only the user themselves may do it.
func (s *Service) Update(ctx context.Context, actor, target *store.User, in UpdateInput) (*store.User, error) {
	if actor == nil || actor.ID != target.ID {
		return nil, ErrForbidden
	}

	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	verr := &ValidationError{}
	validateName(verr, name)
	validateEmail(verr, email)
	changePassword := in.Password != ""
	if changePassword {
		validatePassword(verr, in.Password, in.PasswordConfirmation)
	}
	if !verr.empty() {
		return nil, verr
	}
	if err := s.checkEmailFree(ctx, email, target.ID); err != nil {
		return nil, err
	}

	var digest *string
	if changePassword {
		d, err := s.Hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		digest = &d
	}

	if err := s.Users.UpdateUserProfile(ctx, target.ID, name, email, digest); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return nil, emailTaken()
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}

	updated := *target
	updated.Name = name
	updated.Email = email
	if digest != nil {
		updated.PasswordDigest = digest
	}
	updated.UpdatedAt = s.now()
	return &updated, nil
}

// Authenticate reports whether password matches the user's password digest.
func (s *Service) Authenticate(u *store.User, password string) bool {
	return s.Authenticated(u, KindPassword, password)
}

// Authenticated reports whether token matches the digest kind selects.
// Always false when that digest is unset.
func (s *Service) Authenticated(u *store.User, kind Kind, token string) bool {
	return s.Hasher.Verify(digestFor(u, kind), token)
}

// LogIn checks email and password. Unknown emails still pay for one hash verification.
// Returns ErrInvalidCredentials or ErrNotActivated on rejection.
func (s *Service) LogIn(ctx context.Context, email, password string) (*store.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Hasher.Verify(s.Hasher.Dummy(), password)
			metrics.Logins.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.Authenticate(u, password) {
		metrics.Logins.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !u.Activated {
		metrics.Logins.WithLabelValues("inactive").Inc()
		return nil, ErrNotActivated
	}

	if s.Hasher.NeedsRehash(*u.PasswordDigest) {
		if digest, err := s.Hasher.Hash(password); err == nil {
			if err := s.Users.SetPasswordDigest(ctx, u.ID, digest); err != nil {
				slog.Warn("password rehash not saved", "user_id", u.ID, "error", err)
			} else {
				u.PasswordDigest = &digest
			}
		}
	}
	metrics.Logins.WithLabelValues("success").Inc()
	return u, nil
}

// Remember issues a fresh persistent-login token and stores its digest.
// Any earlier remember token for the user stops working.
func (s *Service) Remember(ctx context.Context, u *store.User) (string, error) {
	token, err := credential.NewToken()
	if err != nil {
		return "", err
	}
	digest, err := s.Hasher.Hash(token)
	if err != nil {
		return "", fmt.Errorf("hashing remember token: %w", err)
	}
	if err := s.Users.SetRememberDigest(ctx, u.ID, &digest); err != nil {
		return "", fmt.Errorf("storing remember digest: %w", err)
	}
	u.RememberDigest = &digest
	return token, nil
}

// Forget clears the persistent-login digest, which also invalidates every live session.
func (s *Service) Forget(ctx context.Context, u *store.User) error {
	if err := s.Users.SetRememberDigest(ctx, u.ID, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("clearing remember digest: %w", err)
	}
	u.RememberDigest = nil
	return nil
}

// SessionToken returns the value a session binds to: the current remember digest,
// created on demand when the user has none.
func (s *Service) SessionToken(ctx context.Context, u *store.User) (string, error) {
	if u.RememberDigest != nil && *u.RememberDigest != "" {
		return *u.RememberDigest, nil
	}
	if _, err := s.Remember(ctx, u); err != nil {
		return "", err
	}
	return *u.RememberDigest, nil
}

// ListActivated returns one page of activated users.
func (s *Service) ListActivated(ctx context.Context, page store.Page) ([]store.User, error) {
	return s.Users.ListActivatedUsers(ctx, page)
}

// Delete removes target with their posts and relationships. Admins may delete anyone,
// other users only themselves.
func (s *Service) Delete(ctx context.Context, actor, target *store.User) error {
	if actor == nil || (!actor.Admin && actor.ID != target.ID) {
		return ErrForbidden
	}
	if err := s.Users.DeleteUser(ctx, target.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}
