// Package social holds the follow graph, microposts, and the feed.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MaxContentLen is the longest micropost accepted, in characters.
const MaxContentLen = 140

// ErrNotFound is returned when a micropost does not exist.
var ErrNotFound = errors.New("micropost not found")

// Store defines the graph and micropost persistence the service needs.
// Satisfied by *store.PostgresStore.
type Store interface {
	Follow(ctx context.Context, followerID, followedID uuid.UUID) error
	Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error
	IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error)
	ListFollowing(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.User, error)
	ListFollowers(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.User, error)
	CountFollows(ctx context.Context, userID uuid.UUID) (following, followers int, err error)
	CreateMicropost(ctx context.Context, id, userID uuid.UUID, content string) (*store.Micropost, error)
	GetMicropost(ctx context.Context, id uuid.UUID) (*store.Micropost, error)
	DeleteMicropost(ctx context.Context, id uuid.UUID) error
	ListUserMicroposts(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error)
	Feed(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error)
}

// Service implements the social operations.
type Service struct {
	Graph Store
}

// NewService returns a Service backed by graph.
func NewService(graph Store) *Service {
	return &Service{Graph: graph}
}

// Follow makes follower follow followed. Following yourself and following twice are no-ops.
func (s *Service) Follow(ctx context.Context, follower, followed uuid.UUID) error {
	if follower == followed {
		return nil
	}
	if err := s.Graph.Follow(ctx, follower, followed); err != nil {
		return fmt.Errorf("following: %w", err)
	}
	metrics.GraphChanges.WithLabelValues("follow").Inc()
	return nil
}

// Unfollow removes the edge if present.
func (s *Service) Unfollow(ctx context.Context, follower, followed uuid.UUID) error {
	if err := s.Graph.Unfollow(ctx, follower, followed); err != nil {
		return fmt.Errorf("unfollowing: %w", err)
	}
	metrics.GraphChanges.WithLabelValues("unfollow").Inc()
	return nil
}

// IsFollowing reports whether follower follows followed.
func (s *Service) IsFollowing(ctx context.Context, follower, followed uuid.UUID) (bool, error) {
	return s.Graph.IsFollowing(ctx, follower, followed)
}

// Following lists activated users userID follows.
func (s *Service) Following(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.User, error) {
	return s.Graph.ListFollowing(ctx, userID, page)
}

// Followers lists activated users following userID.
func (s *Service) Followers(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.User, error) {
	return s.Graph.ListFollowers(ctx, userID, page)
}

// Counts returns how many users userID follows and is followed by.
func (s *Service) Counts(ctx context.Context, userID uuid.UUID) (following, followers int, err error) {
	return s.Graph.CountFollows(ctx, userID)
}

// Feed returns userID's posts and those of everyone userID follows, newest first.
func (s *Service) Feed(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error) {
	return s.Graph.Feed(ctx, userID, page)
}

// UserMicroposts returns userID's own posts, newest first.
func (s *Service) UserMicroposts(ctx context.Context, userID uuid.UUID, page store.Page) ([]store.Micropost, error) {
	return s.Graph.ListUserMicroposts(ctx, userID, page)
}

// PostMicropost publishes content as author. Content is trimmed and must be 1..140 characters.
func (s *Service) PostMicropost(ctx context.Context, author uuid.UUID, content string) (*store.Micropost, error) {
	content = strings.TrimSpace(content)

	verr := &account.ValidationError{}
	switch {
	case content == "":
		verr.Errors = append(verr.Errors, account.FieldError{Field: "content", Message: "Content can't be blank"})
	case utf8.RuneCountInString(content) > MaxContentLen:
		verr.Errors = append(verr.Errors, account.FieldError{Field: "content", Message: "Content is too long (maximum is 140 characters)"})
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating micropost id: %w", err)
	}
	post, err := s.Graph.CreateMicropost(ctx, id, author, content)
	if err != nil {
		return nil, fmt.Errorf("creating micropost: %w", err)
	}
	return post, nil
}

// DeleteMicropost removes a post. Only its author may do it.
func (s *Service) DeleteMicropost(ctx context.Context, actor, postID uuid.UUID) error {
	post, err := s.Graph.GetMicropost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if post.UserID != actor {
		return account.ErrForbidden
	}
	if err := s.Graph.DeleteMicropost(ctx, postID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting micropost: %w", err)
	}
	return nil
}
