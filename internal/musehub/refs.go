package musehub

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// ListBranches returns the repo's branches sorted by name.
func (s *Service) ListBranches(ctx context.Context, ref string) ([]*domain.Branch, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

// GetBranch returns one branch.
func (s *Service) GetBranch(ctx context.Context, ref, name string) (*domain.Branch, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	branch, err := s.store.GetBranch(ctx, repo.ID, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeBranchNotFound, "branch not found").
				WithParams(map[string]interface{}{"branch": name})
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return branch, nil
}

// CreateBranchInput is the body of POST /musehub/repos/:repoId/branches.
type CreateBranchInput struct {
	Name         string `json:"name"`
	FromCommitID string `json:"from_commit_id,omitempty"`
}

// CreateBranch points a new ref at a commit. Without from_commit_id the
// branch starts at the default branch head.
func (s *Service) CreateBranch(ctx context.Context, ref, actorID string, input CreateBranchInput) (*domain.Branch, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if err := validateRefName(name); err != nil {
		return nil, err
	}

	var branch *domain.Branch
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetBranch(ctx, repo.ID, name); err == nil {
			return apperrors.Conflict(apperrors.CodeBranchExists, "branch already exists").
				WithParams(map[string]interface{}{"branch": name})
		} else if !store.IsNotFound(err) {
			return fmt.Errorf("get branch: %w", err)
		}

		from := strings.TrimSpace(input.FromCommitID)
		if from == "" {
			def, err := tx.GetBranch(ctx, repo.ID, repo.DefaultBranch)
			if err != nil {
				if store.IsNotFound(err) {
					return apperrors.Unprocessable(apperrors.CodeValidationFailed,
						"repository has no commits to branch from")
				}
				return fmt.Errorf("get default branch: %w", err)
			}
			from = def.HeadCommitID
		}
		if exists, err := tx.CommitExists(ctx, repo.ID, from); err != nil {
			return fmt.Errorf("commit exists: %w", err)
		} else if !exists {
			return apperrors.NotFound(apperrors.CodeCommitNotFound, "commit not found").
				WithParams(map[string]interface{}{"commit_id": from})
		}

		branch = &domain.Branch{RepoID: repo.ID, Name: name, HeadCommitID: from}
		if err := tx.UpsertBranch(ctx, branch); err != nil {
			return fmt.Errorf("create branch: %w", err)
		}
		recordActivity(ctx, tx, domain.ActivityEvent{
			RepoID:  repo.ID,
			Kind:    domain.ActivityBranchCreated,
			ActorID: actorID,
			Ref:     name,
			Detail:  "branch created at " + domain.ShortID(branch.HeadCommitID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Branch created",
		zap.String("repo_id", repo.ID),
		zap.String("branch", name),
		zap.String("head", domain.ShortID(branch.HeadCommitID)),
	)
	return branch, nil
}

// DeleteBranch removes a ref. The default branch is protected.
func (s *Service) DeleteBranch(ctx context.Context, ref, name string) error {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return err
	}
	if name == repo.DefaultBranch {
		return apperrors.Unprocessable(apperrors.CodeBranchProtected, "the default branch cannot be deleted").
			WithParams(map[string]interface{}{"branch": name})
	}
	if err := s.store.DeleteBranch(ctx, repo.ID, name); err != nil {
		if store.IsNotFound(err) {
			return apperrors.NotFound(apperrors.CodeBranchNotFound, "branch not found").
				WithParams(map[string]interface{}{"branch": name})
		}
		return fmt.Errorf("delete branch: %w", err)
	}
	logger.Info("Branch deleted", zap.String("repo_id", repo.ID), zap.String("branch", name))
	return nil
}

// ListCommits walks a branch's first-parent history, newest first.
func (s *Service) ListCommits(ctx context.Context, ref, branchName string, limit int) ([]*domain.Commit, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	if branchName == "" {
		branchName = repo.DefaultBranch
	}
	branch, err := s.store.GetBranch(ctx, repo.ID, branchName)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeBranchNotFound, "branch not found").
				WithParams(map[string]interface{}{"branch": branchName})
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	commits, err := FirstParentHistory(ctx, storeGetter(s.store, repo.ID), branch.HeadCommitID, limit)
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// GetCommit loads one commit by id.
func (s *Service) GetCommit(ctx context.Context, ref, commitID string) (*domain.Commit, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	commit, err := s.store.GetCommit(ctx, repo.ID, commitID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeCommitNotFound, "commit not found").
				WithParams(map[string]interface{}{"commit_id": commitID})
		}
		return nil, fmt.Errorf("get commit: %w", err)
	}
	return commit, nil
}

// GetObjectMeta returns object metadata without content.
func (s *Service) GetObjectMeta(ctx context.Context, ref, objectID string) (*domain.Object, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.store.GetObjectMeta(ctx, repo.ID, objectID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeObjectNotFound, "object not found").
				WithParams(map[string]interface{}{"object_id": objectID})
		}
		return nil, fmt.Errorf("get object meta: %w", err)
	}
	return obj, nil
}

// GetObject returns the object with content, for direct downloads.
func (s *Service) GetObject(ctx context.Context, ref, objectID string) (*domain.Object, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.store.GetObject(ctx, repo.ID, objectID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeObjectNotFound, "object not found").
				WithParams(map[string]interface{}{"object_id": objectID})
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// ListTags returns the repo's tags sorted by name.
func (s *Service) ListTags(ctx context.Context, ref string) ([]*domain.Tag, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListTags(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// CreateTagInput is the body of POST /musehub/repos/:repoId/tags.
type CreateTagInput struct {
	Name     string `json:"name"`
	CommitID string `json:"commit_id"`
	Message  string `json:"message,omitempty"`
}

// CreateTag freezes a name at a commit. Unlike push tag upserts, the
// API refuses to move an existing tag.
func (s *Service) CreateTag(ctx context.Context, ref, actorID string, input CreateTagInput) (*domain.Tag, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if err := validateRefName(name); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTag(ctx, repo.ID, name); err == nil {
		return nil, apperrors.Conflict(apperrors.CodeTagExists, "tag already exists").
			WithParams(map[string]interface{}{"tag": name})
	} else if !store.IsNotFound(err) {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	if exists, err := s.store.CommitExists(ctx, repo.ID, input.CommitID); err != nil {
		return nil, fmt.Errorf("commit exists: %w", err)
	} else if !exists {
		return nil, apperrors.NotFound(apperrors.CodeCommitNotFound, "commit not found").
			WithParams(map[string]interface{}{"commit_id": input.CommitID})
	}

	tag := &domain.Tag{
		RepoID:   repo.ID,
		Name:     name,
		CommitID: input.CommitID,
		Message:  strings.TrimSpace(input.Message),
		TaggerID: actorID,
	}
	if err := s.store.UpsertTag(ctx, tag); err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	recordActivity(ctx, s.store, domain.ActivityEvent{
		RepoID:  repo.ID,
		Kind:    domain.ActivityTag,
		ActorID: actorID,
		Ref:     name,
		Detail:  "tag created at " + domain.ShortID(input.CommitID),
	})
	return tag, nil
}

// DeleteTag removes a tag ref.
func (s *Service) DeleteTag(ctx context.Context, ref, name string) error {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTag(ctx, repo.ID, name); err != nil {
		if store.IsNotFound(err) {
			return apperrors.NotFound(apperrors.CodeTagNotFound, "tag not found").
				WithParams(map[string]interface{}{"tag": name})
		}
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}
