package musehub

import (
	"context"
	"fmt"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
)

// maxWalk bounds ancestry traversals. Repos near this commit count are
// far beyond anything a session produces; the bound exists so a
// corrupted parent graph cannot pin a request forever.
const maxWalk = 100000

// CommitGetter loads one commit by id. ok is false when the commit is
// unknown to this source; walks treat unknown parents as roots.
type CommitGetter func(ctx context.Context, id string) (c *domain.Commit, ok bool, err error)

// storeGetter adapts a store to a CommitGetter for one repo.
func storeGetter(s store.Store, repoID string) CommitGetter {
	return func(ctx context.Context, id string) (*domain.Commit, bool, error) {
		c, err := s.GetCommit(ctx, repoID, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return c, true, nil
	}
}

// overlayGetter consults the in-payload commits first, then falls
// through. Push uses it to test ancestry before anything is persisted.
func overlayGetter(payload map[string]*domain.Commit, next CommitGetter) CommitGetter {
	return func(ctx context.Context, id string) (*domain.Commit, bool, error) {
		if c, ok := payload[id]; ok {
			return c, true, nil
		}
		return next(ctx, id)
	}
}

// IsAncestor reports whether ancestorID is reachable from headID by
// following parent edges. A commit counts as its own ancestor.
func IsAncestor(ctx context.Context, get CommitGetter, ancestorID, headID string) (bool, error) {
	if ancestorID == "" || headID == "" {
		return false, nil
	}
	seen := map[string]bool{}
	queue := []string{headID}
	for len(queue) > 0 {
		if len(seen) > maxWalk {
			return false, fmt.Errorf("ancestry walk exceeded %d commits", maxWalk)
		}
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if id == ancestorID {
			return true, nil
		}
		c, ok, err := get(ctx, id)
		if err != nil {
			return false, fmt.Errorf("walk ancestry: %w", err)
		}
		if !ok {
			continue
		}
		queue = append(queue, c.ParentIDs...)
	}
	return false, nil
}

// WalkAncestry collects commits reachable from `from`, breadth-first,
// the head itself first. maxDepth limits how many parent generations
// are included (1 = just the head); zero or negative walks everything.
func WalkAncestry(ctx context.Context, get CommitGetter, from string, maxDepth int) ([]*domain.Commit, error) {
	if from == "" {
		return nil, nil
	}
	type frame struct {
		id    string
		depth int
	}
	seen := map[string]bool{}
	queue := []frame{{from, 1}}
	var out []*domain.Commit
	for len(queue) > 0 {
		if len(seen) > maxWalk {
			return nil, fmt.Errorf("ancestry walk exceeded %d commits", maxWalk)
		}
		f := queue[0]
		queue = queue[1:]
		if seen[f.id] {
			continue
		}
		if maxDepth > 0 && f.depth > maxDepth {
			continue
		}
		seen[f.id] = true
		c, ok, err := get(ctx, f.id)
		if err != nil {
			return nil, fmt.Errorf("walk ancestry: %w", err)
		}
		if !ok {
			continue
		}
		out = append(out, c)
		for _, p := range c.ParentIDs {
			queue = append(queue, frame{p, f.depth + 1})
		}
	}
	return out, nil
}

// MissingCommits returns the commits reachable from head that are not
// in haves, stopping each walk at the have frontier. The result is the
// set a puller needs to catch up to head.
func MissingCommits(ctx context.Context, get CommitGetter, head string, haves map[string]bool) ([]*domain.Commit, error) {
	if head == "" {
		return nil, nil
	}
	seen := map[string]bool{}
	queue := []string{head}
	var out []*domain.Commit
	for len(queue) > 0 {
		if len(seen) > maxWalk {
			return nil, fmt.Errorf("ancestry walk exceeded %d commits", maxWalk)
		}
		id := queue[0]
		queue = queue[1:]
		if seen[id] || haves[id] {
			continue
		}
		seen[id] = true
		c, ok, err := get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("walk missing commits: %w", err)
		}
		if !ok {
			continue
		}
		out = append(out, c)
		queue = append(queue, c.ParentIDs...)
	}
	return out, nil
}

// FirstParentHistory follows only the first parent from `from`, the
// way a branch's linear log reads. limit <= 0 returns the whole line.
func FirstParentHistory(ctx context.Context, get CommitGetter, from string, limit int) ([]*domain.Commit, error) {
	var out []*domain.Commit
	id := from
	for id != "" {
		if limit > 0 && len(out) >= limit {
			break
		}
		if len(out) > maxWalk {
			return nil, fmt.Errorf("history walk exceeded %d commits", maxWalk)
		}
		c, ok, err := get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("walk history: %w", err)
		}
		if !ok {
			break
		}
		out = append(out, c)
		if len(c.ParentIDs) == 0 {
			break
		}
		id = c.ParentIDs[0]
	}
	return out, nil
}
