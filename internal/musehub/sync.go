package musehub

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// PushInput is the body of POST /musehub/repos/:repoId/push. Commits
// and objects the server already holds are skipped, so re-pushing is
// cheap and safe.
type PushInput struct {
	Branch             string           `json:"branch"`
	HeadCommitID       string           `json:"head_commit_id"`
	Commits            []*domain.Commit `json:"commits,omitempty"`
	Objects            []*domain.Object `json:"objects,omitempty"`
	Force              bool             `json:"force,omitempty"`
	ForceWithLease     bool             `json:"force_with_lease,omitempty"`
	ExpectedRemoteHead string           `json:"expected_remote_head,omitempty"`
	Tags               []*domain.Tag    `json:"tags,omitempty"`
}

// PushResult reports what the server accepted.
type PushResult struct {
	Branch          string `json:"branch"`
	NewHeadCommitID string `json:"new_head_commit_id"`
	CommitsAccepted int    `json:"commits_accepted"`
	ObjectsAccepted int    `json:"objects_accepted"`
	FastForward     bool   `json:"fast_forward"`
}

// Push applies the branch update rules: unborn branches are created,
// fast-forwards advance, anything else needs force or a matching
// lease. Commit and object payloads are verified against their content
// addresses before anything persists.
func (s *Service) Push(ctx context.Context, ref, actorID string, input PushInput) (*PushResult, error) {
	// Step 1: Validate the request shape.
	branchName := strings.TrimSpace(input.Branch)
	if branchName == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "branch is required")
	}
	if input.HeadCommitID == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "head_commit_id is required")
	}
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}

	// Step 2: Verify content addresses. A payload whose ids do not
	// match its bytes is rejected outright; nothing is persisted.
	payload := make(map[string]*domain.Commit, len(input.Commits))
	for _, c := range input.Commits {
		c.RepoID = repo.ID
		if !c.VerifyID() {
			return nil, apperrors.BadRequest(apperrors.CodeIntegrityMismatch,
				"commit id does not match its content").
				WithParams(map[string]interface{}{"commit_id": c.ID})
		}
		payload[c.ID] = c
	}
	for _, o := range input.Objects {
		o.RepoID = repo.ID
		o.SizeBytes = int64(len(o.Content))
		if !o.VerifyID() {
			return nil, apperrors.BadRequest(apperrors.CodeIntegrityMismatch,
				"object id does not match its content").
				WithParams(map[string]interface{}{"object_id": o.ID})
		}
	}

	var result *PushResult
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		// Step 3: The new head has to come from somewhere.
		if _, inPayload := payload[input.HeadCommitID]; !inPayload {
			exists, err := tx.CommitExists(ctx, repo.ID, input.HeadCommitID)
			if err != nil {
				return fmt.Errorf("commit exists: %w", err)
			}
			if !exists {
				return apperrors.Unprocessable(apperrors.CodeValidationFailed,
					"head commit is neither in the payload nor on the server").
					WithParams(map[string]interface{}{"head_commit_id": input.HeadCommitID})
			}
		}

		// Step 4: Decide the branch update.
		fastForward := true
		current, err := tx.GetBranch(ctx, repo.ID, branchName)
		switch {
		case store.IsNotFound(err):
			// Unborn branch: first push creates it.
		case err != nil:
			return fmt.Errorf("get branch: %w", err)
		case current.HeadCommitID == input.HeadCommitID:
			// Heads already agree; still persist payload and tags.
		default:
			get := overlayGetter(payload, storeGetter(tx, repo.ID))
			ff, err := IsAncestor(ctx, get, current.HeadCommitID, input.HeadCommitID)
			if err != nil {
				return err
			}
			if !ff {
				switch {
				case input.ForceWithLease:
					if input.ExpectedRemoteHead != current.HeadCommitID {
						return apperrors.Conflict(apperrors.CodeLeaseFailed,
							"remote branch moved past the expected head").
							WithParams(map[string]interface{}{
								"branch":        branchName,
								"expected_head": input.ExpectedRemoteHead,
								"remote_head":   current.HeadCommitID,
							})
					}
					fastForward = false
				case input.Force:
					fastForward = false
				default:
					return apperrors.ErrNonFastForwardf(branchName, current.HeadCommitID)
				}
			}
		}

		// Step 5: Persist objects before the commits that reference
		// them, skipping anything already stored.
		var commitsAccepted, objectsAccepted int
		for _, o := range input.Objects {
			exists, err := tx.ObjectExists(ctx, repo.ID, o.ID)
			if err != nil {
				return fmt.Errorf("object exists: %w", err)
			}
			if exists {
				continue
			}
			if err := tx.PutObject(ctx, o); err != nil {
				return err
			}
			objectsAccepted++
		}
		for _, c := range input.Commits {
			exists, err := tx.CommitExists(ctx, repo.ID, c.ID)
			if err != nil {
				return fmt.Errorf("commit exists: %w", err)
			}
			if exists {
				continue
			}
			if err := tx.PutCommit(ctx, c); err != nil {
				return err
			}
			commitsAccepted++
		}

		// Step 6: Advance the ref and upsert pushed tags.
		if err := tx.UpsertBranch(ctx, &domain.Branch{
			RepoID:       repo.ID,
			Name:         branchName,
			HeadCommitID: input.HeadCommitID,
		}); err != nil {
			return fmt.Errorf("advance branch: %w", err)
		}
		for _, t := range input.Tags {
			t.RepoID = repo.ID
			if t.TaggerID == "" {
				t.TaggerID = actorID
			}
			if err := tx.UpsertTag(ctx, t); err != nil {
				return fmt.Errorf("upsert tag %s: %w", t.Name, err)
			}
		}

		recordActivity(ctx, tx, domain.ActivityEvent{
			RepoID:  repo.ID,
			Kind:    domain.ActivityPush,
			ActorID: actorID,
			Ref:     branchName,
			Detail:  fmt.Sprintf("pushed %d commits", commitsAccepted),
		})
		result = &PushResult{
			Branch:          branchName,
			NewHeadCommitID: input.HeadCommitID,
			CommitsAccepted: commitsAccepted,
			ObjectsAccepted: objectsAccepted,
			FastForward:     fastForward,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Push accepted",
		zap.String("repo_id", repo.ID),
		zap.String("branch", branchName),
		zap.String("head", domain.ShortID(input.HeadCommitID)),
		zap.Int("commits_accepted", result.CommitsAccepted),
		zap.Int("objects_accepted", result.ObjectsAccepted),
		zap.Bool("fast_forward", result.FastForward),
	)
	return result, nil
}

// PullInput is the body of POST /musehub/repos/:repoId/pull. Rebase
// and ff_only ride along for logging; the integration strategy is the
// client's business.
type PullInput struct {
	Branch      string   `json:"branch"`
	HaveCommits []string `json:"have_commits,omitempty"`
	HaveObjects []string `json:"have_objects,omitempty"`
	Rebase      bool     `json:"rebase,omitempty"`
	FFOnly      bool     `json:"ff_only,omitempty"`
}

// PullResult carries everything the client lacks to reach the remote
// head. Diverged means the client holds commits the remote does not.
type PullResult struct {
	Branch     string           `json:"branch"`
	RemoteHead string           `json:"remote_head"`
	Commits    []*domain.Commit `json:"commits"`
	Objects    []*domain.Object `json:"objects"`
	Diverged   bool             `json:"diverged"`
}

// Pull computes the commit and object delta between the remote head
// and the client's have sets.
func (s *Service) Pull(ctx context.Context, ref string, input PullInput) (*PullResult, error) {
	branchName := strings.TrimSpace(input.Branch)
	if branchName == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "branch is required")
	}
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	branch, err := s.store.GetBranch(ctx, repo.ID, branchName)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeBranchNotFound, "branch not found").
				WithParams(map[string]interface{}{"branch": branchName})
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}

	get := storeGetter(s.store, repo.ID)
	haves := make(map[string]bool, len(input.HaveCommits))
	for _, id := range input.HaveCommits {
		haves[id] = true
	}
	missing, err := MissingCommits(ctx, get, branch.HeadCommitID, haves)
	if err != nil {
		return nil, err
	}

	diverged := false
	for _, have := range input.HaveCommits {
		ok, err := IsAncestor(ctx, get, have, branch.HeadCommitID)
		if err != nil {
			return nil, err
		}
		if !ok {
			diverged = true
			break
		}
	}

	col := newObjectCollector(input.HaveObjects)
	if err := col.addCommitObjects(ctx, s.store, repo.ID, missing, ""); err != nil {
		return nil, err
	}

	return &PullResult{
		Branch:     branchName,
		RemoteHead: branch.HeadCommitID,
		Commits:    missing,
		Objects:    col.objects,
		Diverged:   diverged,
	}, nil
}

// FetchInput is the body of POST /musehub/repos/:repoId/fetch. Known
// lists the branches the client currently tracks, so the response can
// hint at newness and name prune candidates.
type FetchInput struct {
	Branches []string `json:"branches,omitempty"`
	Known    []string `json:"known,omitempty"`
	Prune    bool     `json:"prune,omitempty"`
}

// FetchBranch is one ref advertisement. IsNew is advisory; the client
// decides from its own tracking state.
type FetchBranch struct {
	Branch       string `json:"branch"`
	HeadCommitID string `json:"head_commit_id"`
	IsNew        bool   `json:"is_new"`
}

// FetchResult advertises branch heads without moving any objects.
type FetchResult struct {
	Branches []FetchBranch `json:"branches"`
	Pruned   []string      `json:"pruned,omitempty"`
}

// Fetch lists branch heads. With prune, branches the client tracks
// that no longer exist on the server are called out for deletion.
func (s *Service) Fetch(ctx context.Context, ref string, input FetchInput) (*FetchResult, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	requested := make(map[string]bool, len(input.Branches))
	for _, name := range input.Branches {
		requested[name] = true
	}
	known := make(map[string]bool, len(input.Known))
	for _, name := range input.Known {
		known[name] = true
	}

	result := &FetchResult{}
	serverNames := make(map[string]bool, len(branches))
	for _, b := range branches {
		serverNames[b.Name] = true
		if len(requested) > 0 && !requested[b.Name] {
			continue
		}
		result.Branches = append(result.Branches, FetchBranch{
			Branch:       b.Name,
			HeadCommitID: b.HeadCommitID,
			IsNew:        !known[b.Name],
		})
	}
	if input.Prune {
		for _, name := range input.Known {
			if !serverNames[name] {
				result.Pruned = append(result.Pruned, name)
			}
		}
		sort.Strings(result.Pruned)
	}
	return result, nil
}

// CloneInput is the body of POST /musehub/repos/:repoId/clone. Depth
// shallows the history; SingleTrack narrows checkout content to one
// top-level track directory.
type CloneInput struct {
	Branch      string `json:"branch,omitempty"`
	Depth       int    `json:"depth,omitempty"`
	SingleTrack string `json:"single_track,omitempty"`
}

// CloneResult seeds a fresh workspace. CheckoutManifestID names the
// manifest the client should materialize; for single-track clones it
// is a server-rewritten manifest while the commits keep referencing
// their original snapshots.
type CloneResult struct {
	RepoID             string           `json:"repo_id"`
	DefaultBranch      string           `json:"default_branch"`
	Branch             string           `json:"branch"`
	RemoteHead         string           `json:"remote_head"`
	CheckoutManifestID string           `json:"checkout_manifest_id,omitempty"`
	Commits            []*domain.Commit `json:"commits"`
	Objects            []*domain.Object `json:"objects"`
}

// Clone ships history and content for a fresh checkout. Cloning an
// unborn branch is legal and returns an empty result the client can
// still initialize from.
func (s *Service) Clone(ctx context.Context, ref string, input CloneInput) (*CloneResult, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	branchName := strings.TrimSpace(input.Branch)
	if branchName == "" {
		branchName = repo.DefaultBranch
	}
	result := &CloneResult{
		RepoID:        repo.ID,
		DefaultBranch: repo.DefaultBranch,
		Branch:        branchName,
	}

	branch, err := s.store.GetBranch(ctx, repo.ID, branchName)
	if err != nil {
		if store.IsNotFound(err) {
			return result, nil
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	result.RemoteHead = branch.HeadCommitID

	commits, err := WalkAncestry(ctx, storeGetter(s.store, repo.ID), branch.HeadCommitID, input.Depth)
	if err != nil {
		return nil, err
	}
	result.Commits = commits

	col := newObjectCollector(nil)
	if err := col.addCommitObjects(ctx, s.store, repo.ID, commits, input.SingleTrack); err != nil {
		return nil, err
	}

	if len(commits) > 0 {
		result.CheckoutManifestID = commits[0].SnapshotID
		if input.SingleTrack != "" {
			manifest, err := loadManifest(ctx, s.store, repo.ID, commits[0].SnapshotID)
			if err != nil {
				return nil, err
			}
			filtered, err := domain.NewSnapshotObject(repo.ID, manifest.FilterTrack(input.SingleTrack))
			if err != nil {
				return nil, err
			}
			col.add(filtered)
			result.CheckoutManifestID = filtered.ID
		}
	}
	result.Objects = col.objects

	logger.Info("Clone served",
		zap.String("repo_id", repo.ID),
		zap.String("branch", branchName),
		zap.Int("commits", len(result.Commits)),
		zap.Int("objects", len(result.Objects)),
	)
	return result, nil
}

// objectCollector accumulates unique objects, skipping ids the client
// already holds.
type objectCollector struct {
	objects []*domain.Object
	seen    map[string]bool
}

func newObjectCollector(have []string) *objectCollector {
	seen := make(map[string]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	return &objectCollector{seen: seen}
}

func (c *objectCollector) add(obj *domain.Object) {
	if c.seen[obj.ID] {
		return
	}
	c.seen[obj.ID] = true
	c.objects = append(c.objects, obj)
}

// addCommitObjects gathers each commit's snapshot manifest plus the
// content objects it references. A client that already has a manifest
// has its entries too, so the walk skips both together. singleTrack
// narrows which content objects ship; manifests always ship whole.
func (c *objectCollector) addCommitObjects(ctx context.Context, st store.Store, repoID string, commits []*domain.Commit, singleTrack string) error {
	for _, commit := range commits {
		if commit.SnapshotID == "" || c.seen[commit.SnapshotID] {
			continue
		}
		manifestObj, err := st.GetObject(ctx, repoID, commit.SnapshotID)
		if err != nil {
			return fmt.Errorf("load snapshot %s: %w", domain.ShortID(commit.SnapshotID), err)
		}
		c.add(manifestObj)
		manifest, err := domain.DecodeSnapshot(manifestObj.Content)
		if err != nil {
			return err
		}
		if singleTrack != "" {
			manifest = manifest.FilterTrack(singleTrack)
		}
		for _, entry := range manifest.Entries {
			if c.seen[entry.ObjectID] {
				continue
			}
			obj, err := st.GetObject(ctx, repoID, entry.ObjectID)
			if err != nil {
				return fmt.Errorf("load object %s: %w", domain.ShortID(entry.ObjectID), err)
			}
			c.add(obj)
		}
	}
	return nil
}

// loadManifest fetches and decodes one snapshot manifest.
func loadManifest(ctx context.Context, st store.Store, repoID, snapshotID string) (domain.SnapshotManifest, error) {
	obj, err := st.GetObject(ctx, repoID, snapshotID)
	if err != nil {
		return domain.SnapshotManifest{}, fmt.Errorf("load snapshot %s: %w", domain.ShortID(snapshotID), err)
	}
	return domain.DecodeSnapshot(obj.Content)
}
