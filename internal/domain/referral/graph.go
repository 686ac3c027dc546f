package referral

import (
	"context"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// GraphWalker walks the referral forest upward through parent pointers.
// The graph is acyclic by construction (AttachReferrer never re-parents),
// but a walk must still survive corrupted data, so every traversal keeps a
// visited set and fails with shared.ErrGraphCycle instead of looping.
type GraphWalker struct {
	users UserRepository
}

// NewGraphWalker creates a GraphWalker over the given directory.
func NewGraphWalker(users UserRepository) *GraphWalker {
	return &GraphWalker{users: users}
}

// AncestorsOf returns the chain of ancestors of the given user, nearest
// first, up to maxDepth hops or the root, whichever comes first. The
// starting user itself is not included; the direct referrer is depth 1.
func (w *GraphWalker) AncestorsOf(ctx context.Context, userID uuid.UUID, maxDepth int) ([]Ancestor, error) {
	if maxDepth <= 0 {
		return nil, nil
	}

	start, err := w.users.FindByID(ctx, userID)
	if err != nil {
		if err == shared.ErrNotFound {
			return nil, shared.ErrUnknownUser
		}
		return nil, err
	}

	visited := map[uuid.UUID]struct{}{start.ID: {}}
	ancestors := make([]Ancestor, 0, maxDepth)

	current := start
	for depth := 1; depth <= maxDepth && current.HasReferrer(); depth++ {
		parentID := *current.ReferrerID
		if _, seen := visited[parentID]; seen {
			return nil, shared.ErrGraphCycle
		}

		parent, err := w.users.FindByID(ctx, parentID)
		if err != nil {
			if err == shared.ErrNotFound {
				// Dangling parent pointer: treat the chain as ending here
				// rather than failing the whole walk.
				break
			}
			return nil, err
		}

		visited[parentID] = struct{}{}
		ancestors = append(ancestors, Ancestor{UserID: parentID, Depth: depth})
		current = parent
	}

	return ancestors, nil
}

// DirectDownlineOf returns the users directly referred by the given user.
func (w *GraphWalker) DirectDownlineOf(ctx context.Context, userID uuid.UUID) ([]User, error) {
	return w.users.FindDirectDownline(ctx, userID)
}
