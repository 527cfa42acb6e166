package musehub

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// MergeStrategyMergeCommit is the only merge strategy the hub
// supports.
const MergeStrategyMergeCommit = "merge_commit"

// OpenPullInput is the body of POST /musehub/repos/:repoId/pulls.
type OpenPullInput struct {
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	FromBranch string `json:"from_branch"`
	ToBranch   string `json:"to_branch"`
	Draft      bool   `json:"draft,omitempty"`
}

// OpenPullRequest proposes merging one branch into another. The store
// assigns the repo-scoped number.
func (s *Service) OpenPullRequest(ctx context.Context, ref, actorID string, input OpenPullInput) (*domain.PullRequest, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "title must not be empty")
	}
	from := strings.TrimSpace(input.FromBranch)
	to := strings.TrimSpace(input.ToBranch)
	if from == "" || to == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "from_branch and to_branch are required")
	}
	if from == to {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "a branch cannot be merged into itself")
	}
	for _, name := range []string{from, to} {
		if _, err := s.store.GetBranch(ctx, repo.ID, name); err != nil {
			if store.IsNotFound(err) {
				return nil, apperrors.NotFound(apperrors.CodeBranchNotFound, "branch not found").
					WithParams(map[string]interface{}{"branch": name})
			}
			return nil, fmt.Errorf("get branch: %w", err)
		}
	}

	status := domain.PullOpen
	if input.Draft {
		status = domain.PullDraft
	}
	pr := &domain.PullRequest{
		ID:         newID(),
		RepoID:     repo.ID,
		Title:      title,
		Body:       strings.TrimSpace(input.Body),
		FromBranch: from,
		ToBranch:   to,
		Status:     status,
		AuthorID:   actorID,
	}
	if err := s.store.CreatePullRequest(ctx, pr); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	recordActivity(ctx, s.store, domain.ActivityEvent{
		RepoID:  repo.ID,
		Kind:    domain.ActivityPROpened,
		ActorID: actorID,
		Ref:     "#" + strconv.Itoa(pr.Number),
		Detail:  title,
	})
	logger.Info("Pull request opened",
		zap.String("repo_id", repo.ID),
		zap.Int("number", pr.Number),
		zap.String("from", from),
		zap.String("to", to),
	)
	return pr, nil
}

// ListPullRequests returns PRs newest first, optionally filtered by
// status.
func (s *Service) ListPullRequests(ctx context.Context, ref string, status domain.PullStatus) ([]*domain.PullRequest, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	if status != "" && !domain.ValidPullStatus(status) {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown pull request status").
			WithParams(map[string]interface{}{"status": status})
	}
	pulls, err := s.store.ListPullRequests(ctx, repo.ID, status)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	return pulls, nil
}

// GetPullRequest loads a PR by its repo-scoped number.
func (s *Service) GetPullRequest(ctx context.Context, ref string, number int) (*domain.PullRequest, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	pr, err := s.store.GetPullRequest(ctx, repo.ID, number)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodePullNotFound, "pull request not found").
				WithParams(map[string]interface{}{"number": number})
		}
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return pr, nil
}

// UpdatePullInput carries PATCH /pulls/:number fields. Status moves
// between open, draft, and closed; merged is reserved for the merge
// endpoint.
type UpdatePullInput struct {
	Title  *string            `json:"title,omitempty"`
	Body   *string            `json:"body,omitempty"`
	Status *domain.PullStatus `json:"status,omitempty"`
}

// allowedPullTransitions maps a current status to the statuses a PATCH
// may move it to.
var allowedPullTransitions = map[domain.PullStatus][]domain.PullStatus{
	domain.PullOpen:   {domain.PullClosed, domain.PullDraft},
	domain.PullDraft:  {domain.PullOpen, domain.PullClosed},
	domain.PullClosed: {domain.PullOpen},
}

// UpdatePullRequest patches title, body, or status of a PR.
func (s *Service) UpdatePullRequest(ctx context.Context, ref string, number int, actorID string, input UpdatePullInput) (*domain.PullRequest, error) {
	pr, err := s.GetPullRequest(ctx, ref, number)
	if err != nil {
		return nil, err
	}
	if pr.Status == domain.PullMerged {
		return nil, apperrors.Conflict(apperrors.CodePullNotOpen, "a merged pull request cannot be changed").
			WithParams(map[string]interface{}{"number": number})
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "title must not be empty")
		}
		pr.Title = title
	}
	if input.Body != nil {
		pr.Body = strings.TrimSpace(*input.Body)
	}

	var activityKind domain.ActivityKind
	var activityDetail string
	if input.Status != nil && *input.Status != pr.Status {
		next := *input.Status
		if !domain.ValidPullStatus(next) {
			return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown pull request status").
				WithParams(map[string]interface{}{"status": next})
		}
		if next == domain.PullMerged {
			return nil, apperrors.Unprocessable(apperrors.CodeValidationFailed,
				"merging happens through the merge endpoint")
		}
		if !transitionAllowed(pr.Status, next) {
			return nil, apperrors.Conflict(apperrors.CodeInvalidTransition,
				"cannot move pull request from "+string(pr.Status)+" to "+string(next)).
				WithParams(map[string]interface{}{"from": pr.Status, "to": next})
		}
		switch next {
		case domain.PullClosed:
			activityKind = domain.ActivityPRClosed
			activityDetail = pr.Title
		case domain.PullOpen:
			if pr.Status == domain.PullClosed {
				activityKind = domain.ActivityPROpened
				activityDetail = "reopened: " + pr.Title
			}
		}
		pr.Status = next
	}

	if err := s.store.UpdatePullRequest(ctx, pr); err != nil {
		return nil, fmt.Errorf("update pull request: %w", err)
	}
	if activityKind != "" {
		recordActivity(ctx, s.store, domain.ActivityEvent{
			RepoID:  pr.RepoID,
			Kind:    activityKind,
			ActorID: actorID,
			Ref:     "#" + strconv.Itoa(pr.Number),
			Detail:  activityDetail,
		})
	}
	return pr, nil
}

func transitionAllowed(from, to domain.PullStatus) bool {
	for _, next := range allowedPullTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MergePullRequest lands an open PR as a merge commit on the receiving
// branch: parents are [toHead, fromHead], the snapshot is the union of
// both trees with the source branch winning path conflicts, and the PR
// transitions to merged in the same transaction as the ref update.
func (s *Service) MergePullRequest(ctx context.Context, ref string, number int, actorID, strategy string) (*domain.PullRequest, error) {
	if strategy == "" {
		strategy = MergeStrategyMergeCommit
	}
	if strategy != MergeStrategyMergeCommit {
		return nil, apperrors.Unprocessable(apperrors.CodeUnknownStrategy,
			"only the merge_commit strategy is supported").
			WithParams(map[string]interface{}{"strategy": strategy})
	}
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	// Author identity resolves outside the transaction; the store's
	// transactional view is not safe for reads through s.store.
	author := s.authorFor(ctx, actorID)

	var merged *domain.PullRequest
	var mergeCommit *domain.Commit
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPullRequest(ctx, repo.ID, number)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFound(apperrors.CodePullNotFound, "pull request not found").
					WithParams(map[string]interface{}{"number": number})
			}
			return fmt.Errorf("get pull request: %w", err)
		}
		if pr.Status != domain.PullOpen {
			return apperrors.Conflict(apperrors.CodePullNotOpen,
				"pull request is "+string(pr.Status)+", not open").
				WithParams(map[string]interface{}{"number": number, "status": pr.Status})
		}

		from, err := mergeBranch(ctx, tx, repo.ID, pr.FromBranch)
		if err != nil {
			return err
		}
		to, err := mergeBranch(ctx, tx, repo.ID, pr.ToBranch)
		if err != nil {
			return err
		}

		toManifest, err := manifestForHead(ctx, tx, repo.ID, to.HeadCommitID)
		if err != nil {
			return err
		}
		fromManifest, err := manifestForHead(ctx, tx, repo.ID, from.HeadCommitID)
		if err != nil {
			return err
		}
		unionObj, err := domain.NewSnapshotObject(repo.ID, unionManifests(toManifest, fromManifest))
		if err != nil {
			return err
		}
		if err := tx.PutObject(ctx, unionObj); err != nil {
			return fmt.Errorf("store merge snapshot: %w", err)
		}

		mergeCommit = &domain.Commit{
			RepoID:     repo.ID,
			ParentIDs:  []string{to.HeadCommitID, from.HeadCommitID},
			SnapshotID: unionObj.ID,
			Message:    fmt.Sprintf("Merge pull request #%d from %s", pr.Number, pr.FromBranch),
			Author:     author,
			Timestamp:  time.Now().UTC().Truncate(time.Second),
			Metadata:   map[string]string{"pull_request": strconv.Itoa(pr.Number)},
		}
		mergeCommit.ID = mergeCommit.ComputeID()
		if err := tx.PutCommit(ctx, mergeCommit); err != nil {
			return fmt.Errorf("store merge commit: %w", err)
		}
		if err := tx.UpsertBranch(ctx, &domain.Branch{
			RepoID:       repo.ID,
			Name:         pr.ToBranch,
			HeadCommitID: mergeCommit.ID,
		}); err != nil {
			return fmt.Errorf("advance branch: %w", err)
		}

		pr.Status = domain.PullMerged
		pr.MergeCommitID = mergeCommit.ID
		if err := tx.UpdatePullRequest(ctx, pr); err != nil {
			return fmt.Errorf("update pull request: %w", err)
		}
		recordActivity(ctx, tx, domain.ActivityEvent{
			RepoID:  repo.ID,
			Kind:    domain.ActivityPRMerged,
			ActorID: actorID,
			Ref:     "#" + strconv.Itoa(pr.Number),
			Detail:  pr.Title,
		})
		merged = pr
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Pull request merged",
		zap.String("repo_id", repo.ID),
		zap.Int("number", merged.Number),
		zap.String("merge_commit", domain.ShortID(merged.MergeCommitID)),
	)
	return merged, nil
}

// mergeBranch loads a PR branch, mapping a missing ref to the 422 the
// merge contract specifies.
func mergeBranch(ctx context.Context, tx store.Store, repoID, name string) (*domain.Branch, error) {
	b, err := tx.GetBranch(ctx, repoID, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.Unprocessable(apperrors.CodeBranchNotFound,
				"pull request branch has no commits").
				WithParams(map[string]interface{}{"branch": name})
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

// manifestForHead resolves a branch head to its snapshot manifest.
func manifestForHead(ctx context.Context, tx store.Store, repoID, headID string) (domain.SnapshotManifest, error) {
	commit, err := tx.GetCommit(ctx, repoID, headID)
	if err != nil {
		return domain.SnapshotManifest{}, fmt.Errorf("load head commit %s: %w", domain.ShortID(headID), err)
	}
	return loadManifest(ctx, tx, repoID, commit.SnapshotID)
}

// unionManifests merges two trees path by path. On a conflicting path
// the `from` side wins, matching the merge contract.
func unionManifests(to, from domain.SnapshotManifest) domain.SnapshotManifest {
	byPath := make(map[string]string, len(to.Entries)+len(from.Entries))
	for _, e := range to.Entries {
		byPath[e.Path] = e.ObjectID
	}
	for _, e := range from.Entries {
		byPath[e.Path] = e.ObjectID
	}
	out := domain.SnapshotManifest{Entries: make([]domain.SnapshotEntry, 0, len(byPath))}
	for path, objectID := range byPath {
		out.Entries = append(out.Entries, domain.SnapshotEntry{Path: path, ObjectID: objectID})
	}
	return out
}
