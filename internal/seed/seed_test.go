package seed

import (
	"context"
	"testing"

	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/MGallo-Code/murmur/internal/testutil"
)

func newHasher(t *testing.T) *credential.Hasher {
	t.Helper()
	h, err := credential.NewHasher(credential.MinParams)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewMockStore()
	hasher := newHasher(t)

	res, err := Run(ctx, db, social.NewService(db), hasher, Options{Users: 60, PostingUsers: 3, PostsPerUser: 4, Seed: 42})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	t.Run("counts", func(t *testing.T) {
		if res.Users != 61 || len(db.Users) != 61 {
			t.Errorf("users: result %d, stored %d, expected 61", res.Users, len(db.Users))
		}
		if res.Microposts != 12 || len(db.Posts) != 12 {
			t.Errorf("microposts: result %d, stored %d, expected 12", res.Microposts, len(db.Posts))
		}
		// 49 followed plus 38 followers.
		if res.Follows != 87 || len(db.Edges) != 87 {
			t.Errorf("follows: result %d, stored %d, expected 87", res.Follows, len(db.Edges))
		}
	})

	t.Run("admin can log in", func(t *testing.T) {
		admin, err := db.GetUserByEmail(ctx, AdminEmail)
		if err != nil {
			t.Fatalf("admin not stored: %v", err)
		}
		if !admin.Admin || !admin.Activated {
			t.Error("admin should be an activated administrator")
		}
		if !hasher.Verify(admin.PasswordDigest, AdminPassword) {
			t.Error("admin password should verify")
		}
	})

	t.Run("fake users are activated and not admins", func(t *testing.T) {
		u, err := db.GetUserByEmail(ctx, "example-1@murmur.dev")
		if err != nil {
			t.Fatalf("fake user not stored: %v", err)
		}
		if u.Admin || !u.Activated || u.Name == "" {
			t.Errorf("unexpected fake user %+v", u)
		}
		if !hasher.Verify(u.PasswordDigest, UserPassword) {
			t.Error("fake user password should verify")
		}
	})

	t.Run("posts fit the length limit", func(t *testing.T) {
		admin, _ := db.GetUserByEmail(ctx, AdminEmail)
		posts, err := db.ListUserMicroposts(ctx, admin.ID, store.Page{Limit: 100})
		if err != nil {
			t.Fatalf("ListUserMicroposts: %v", err)
		}
		if len(posts) != 4 {
			t.Errorf("admin posts: expected 4, got %d", len(posts))
		}
		for _, p := range posts {
			if p.Content == "" || len([]rune(p.Content)) > social.MaxContentLen {
				t.Errorf("bad content %q", p.Content)
			}
		}
	})
}

func TestRun_SmallUserCount(t *testing.T) {
	db := testutil.NewMockStore()
	res, err := Run(context.Background(), db, social.NewService(db), newHasher(t), Options{Users: 2, PostingUsers: 6, PostsPerUser: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Users != 3 || res.Microposts != 3 {
		t.Errorf("expected 3 users and 3 posts, got %+v", res)
	}
	// Only user index 2 is in the followed window; nobody is in the follower window.
	if res.Follows != 1 {
		t.Errorf("expected 1 follow, got %d", res.Follows)
	}
}

func TestRun_DuplicateAdminFails(t *testing.T) {
	db := testutil.NewMockStore()
	hasher := newHasher(t)
	graph := social.NewService(db)
	if _, err := Run(context.Background(), db, graph, hasher, Options{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := Run(context.Background(), db, graph, hasher, Options{}); err == nil {
		t.Error("second run should fail on the existing admin email")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("expected hé, got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected short, got %q", got)
	}
}
