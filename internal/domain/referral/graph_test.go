package referral

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refnet/backend/internal/domain/shared"
)

// stubUserRepository backs graph walks with a plain map.
type stubUserRepository struct {
	users map[uuid.UUID]*User
}

func newStubUserRepository(users ...*User) *stubUserRepository {
	repo := &stubUserRepository{users: make(map[uuid.UUID]*User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *stubUserRepository) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (r *stubUserRepository) FindByEmail(context.Context, string) (*User, error) {
	return nil, shared.ErrNotFound
}

func (r *stubUserRepository) FindByReferralCode(context.Context, string) (*User, error) {
	return nil, shared.ErrNotFound
}

func (r *stubUserRepository) FindAll(context.Context, shared.Filter) ([]User, error) {
	return nil, nil
}

func (r *stubUserRepository) Count(context.Context, shared.Filter) (int64, error) {
	return 0, nil
}

func (r *stubUserRepository) FindDirectDownline(_ context.Context, userID uuid.UUID) ([]User, error) {
	var downline []User
	for _, u := range r.users {
		if u.ReferrerID != nil && *u.ReferrerID == userID {
			downline = append(downline, *u)
		}
	}
	return downline, nil
}

func (r *stubUserRepository) CountDownlineWithMinRank(ctx context.Context, userID uuid.UUID, minRank Rank) (int64, error) {
	downline, _ := r.FindDirectDownline(ctx, userID)
	var n int64
	for _, u := range downline {
		if u.Rank >= minRank {
			n++
		}
	}
	return n, nil
}

func (r *stubUserRepository) Save(_ context.Context, user *User) error {
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepository) SaveWithLock(_ context.Context, user *User) error {
	r.users[user.ID] = user
	return nil
}

// chainOf builds a referral chain root -> ... -> leaf and returns the
// users leaf-first.
func chainOf(t *testing.T, length int) []*User {
	t.Helper()
	users := make([]*User, length)
	for i := range users {
		u, err := NewUser("User", "user@example.com", uuid.NewString())
		require.NoError(t, err)
		users[i] = u
		if i > 0 {
			require.NoError(t, users[i-1].AttachReferrer(u.ID))
		}
	}
	return users
}

func TestAncestorsOf(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ancestors nearest first", func(t *testing.T) {
		users := chainOf(t, 4) // leaf, parent, grandparent, root
		walker := NewGraphWalker(newStubUserRepository(users...))

		ancestors, err := walker.AncestorsOf(ctx, users[0].ID, 10)

		require.NoError(t, err)
		require.Len(t, ancestors, 3)
		assert.Equal(t, users[1].ID, ancestors[0].UserID)
		assert.Equal(t, 1, ancestors[0].Depth)
		assert.Equal(t, users[2].ID, ancestors[1].UserID)
		assert.Equal(t, 2, ancestors[1].Depth)
		assert.Equal(t, users[3].ID, ancestors[2].UserID)
		assert.Equal(t, 3, ancestors[2].Depth)
	})

	t.Run("stops at maxDepth", func(t *testing.T) {
		users := chainOf(t, 5)
		walker := NewGraphWalker(newStubUserRepository(users...))

		ancestors, err := walker.AncestorsOf(ctx, users[0].ID, 2)

		require.NoError(t, err)
		assert.Len(t, ancestors, 2)
	})

	t.Run("root user has no ancestors", func(t *testing.T) {
		root, _ := NewUser("Root", "root@example.com", "REF-ROOT")
		walker := NewGraphWalker(newStubUserRepository(root))

		ancestors, err := walker.AncestorsOf(ctx, root.ID, 10)

		require.NoError(t, err)
		assert.Empty(t, ancestors)
	})

	t.Run("unknown starting user", func(t *testing.T) {
		walker := NewGraphWalker(newStubUserRepository())

		_, err := walker.AncestorsOf(ctx, uuid.New(), 10)

		assert.ErrorIs(t, err, shared.ErrUnknownUser)
	})

	t.Run("detects a cycle instead of looping", func(t *testing.T) {
		a, _ := NewUser("A", "a@example.com", "REF-A")
		b, _ := NewUser("B", "b@example.com", "REF-B")
		require.NoError(t, a.AttachReferrer(b.ID))
		require.NoError(t, b.AttachReferrer(a.ID)) // corrupt on purpose
		walker := NewGraphWalker(newStubUserRepository(a, b))

		_, err := walker.AncestorsOf(ctx, a.ID, 10)

		assert.ErrorIs(t, err, shared.ErrGraphCycle)
	})

	t.Run("dangling parent pointer ends the chain", func(t *testing.T) {
		orphan, _ := NewUser("Orphan", "orphan@example.com", "REF-ORPHAN")
		require.NoError(t, orphan.AttachReferrer(uuid.New())) // parent never stored
		walker := NewGraphWalker(newStubUserRepository(orphan))

		ancestors, err := walker.AncestorsOf(ctx, orphan.ID, 10)

		require.NoError(t, err)
		assert.Empty(t, ancestors)
	})

	t.Run("non-positive depth walks nothing", func(t *testing.T) {
		users := chainOf(t, 3)
		walker := NewGraphWalker(newStubUserRepository(users...))

		ancestors, err := walker.AncestorsOf(ctx, users[0].ID, 0)

		require.NoError(t, err)
		assert.Empty(t, ancestors)
	})
}

func TestDirectDownlineOf(t *testing.T) {
	ctx := context.Background()

	t.Run("returns only direct children", func(t *testing.T) {
		parent, _ := NewUser("Parent", "parent@example.com", "REF-PARENT")
		child1, _ := NewUser("C1", "c1@example.com", "REF-C1")
		child2, _ := NewUser("C2", "c2@example.com", "REF-C2")
		grandchild, _ := NewUser("GC", "gc@example.com", "REF-GC")
		require.NoError(t, child1.AttachReferrer(parent.ID))
		require.NoError(t, child2.AttachReferrer(parent.ID))
		require.NoError(t, grandchild.AttachReferrer(child1.ID))
		walker := NewGraphWalker(newStubUserRepository(parent, child1, child2, grandchild))

		downline, err := walker.DirectDownlineOf(ctx, parent.ID)

		require.NoError(t, err)
		assert.Len(t, downline, 2)
	})
}
