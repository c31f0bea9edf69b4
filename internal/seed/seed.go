// Package seed fills a development database with an admin, fake users,
// microposts, and a follow graph.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gofrs/uuid/v5"
)

// Admin credentials for the seeded administrator.
const (
	AdminName     = "Example User"
	AdminEmail    = "example@murmur.dev"
	AdminPassword = "password123"
	// UserPassword is shared by every fake user.
	UserPassword = "password"
)

// Store is the user write the seeder needs; posts and follows go through social.Service.
type Store interface {
	CreateUser(ctx context.Context, u *store.User) error
}

// Options controls how much data is generated.
type Options struct {
	Users        int   // fake users besides the admin
	PostingUsers int   // the first N users get microposts
	PostsPerUser int
	Seed         int64 // gofakeit seed; 0 picks a random one
}

// DefaultOptions mirrors the classic sample data set.
func DefaultOptions(users int) Options {
	return Options{Users: users, PostingUsers: 6, PostsPerUser: 50}
}

// Result counts what was written.
type Result struct {
	Users      int
	Microposts int
	Follows    int
}

// Run writes the sample data set. Emails are fixed per index, so running it
// twice against the same database fails on the first duplicate.
func Run(ctx context.Context, users Store, graph *social.Service, hasher *credential.Hasher, opts Options) (Result, error) {
	var res Result
	faker := gofakeit.New(opts.Seed)

	adminDigest, err := hasher.Hash(AdminPassword)
	if err != nil {
		return res, fmt.Errorf("hashing admin password: %w", err)
	}
	// One digest for every fake user keeps seeding fast under Argon2id.
	userDigest, err := hasher.Hash(UserPassword)
	if err != nil {
		return res, fmt.Errorf("hashing user password: %w", err)
	}

	all := make([]*store.User, 0, opts.Users+1)
	admin, err := createUser(ctx, users, AdminName, AdminEmail, adminDigest, true)
	if err != nil {
		return res, err
	}
	all = append(all, admin)

	for i := 1; i <= opts.Users; i++ {
		u, err := createUser(ctx, users, faker.Name(), fmt.Sprintf("example-%d@murmur.dev", i), userDigest, false)
		if err != nil {
			return res, err
		}
		all = append(all, u)
	}
	res.Users = len(all)
	slog.Info("seeded users", "count", res.Users)

	posters := all[:min(opts.PostingUsers, len(all))]
	for range opts.PostsPerUser {
		for _, u := range posters {
			if _, err := graph.PostMicropost(ctx, u.ID, content(faker)); err != nil {
				return res, fmt.Errorf("seeding micropost: %w", err)
			}
			res.Microposts++
		}
	}
	slog.Info("seeded microposts", "count", res.Microposts)

	// The admin follows users 3..51 and is followed by users 4..41.
	for _, followed := range window(all, 2, 51) {
		if err := graph.Follow(ctx, admin.ID, followed.ID); err != nil {
			return res, err
		}
		res.Follows++
	}
	for _, follower := range window(all, 3, 41) {
		if err := graph.Follow(ctx, follower.ID, admin.ID); err != nil {
			return res, err
		}
		res.Follows++
	}
	slog.Info("seeded relationships", "count", res.Follows)

	return res, nil
}

func createUser(ctx context.Context, users Store, name, email, digest string, admin bool) (*store.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	now := time.Now()
	u := &store.User{
		ID:             id,
		Name:           truncate(name, 50),
		Email:          email,
		PasswordDigest: &digest,
		Activated:      true,
		ActivatedAt:    &now,
		Admin:          admin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("seeding user %s: %w", email, err)
	}
	return u, nil
}

func content(faker *gofakeit.Faker) string {
	return truncate(faker.Sentence(5), social.MaxContentLen)
}

// window returns s[from:to] clipped to s.
func window(s []*store.User, from, to int) []*store.User {
	if from >= len(s) {
		return nil
	}
	return s[from:min(to, len(s))]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
