package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// OpenPullRequest proposes merging one branch into another. Any
// authenticated user who can see the repo may open one.
func (s *Server) OpenPullRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.OpenPullInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	pr, err := s.hub.OpenPullRequest(c.Request.Context(), repo.ID, actorID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("pull request opened",
		zap.String("repo_id", repo.ID),
		zap.Int("number", pr.Number),
		zap.String("author_id", actorID),
	)
	c.JSON(http.StatusCreated, pr)
}

// ListPullRequests lists PRs, optionally filtered by status.
func (s *Server) ListPullRequests(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	prs, err := s.hub.ListPullRequests(c.Request.Context(), repo.ID, domain.PullStatus(c.Query("status")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if prs == nil {
		prs = []*domain.PullRequest{}
	}
	c.JSON(http.StatusOK, prs)
}

// GetPullRequest loads one PR by repo-scoped number.
func (s *Server) GetPullRequest(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	number, ok := pullNumber(c)
	if !ok {
		return
	}

	pr, err := s.hub.GetPullRequest(c.Request.Context(), repo.ID, number)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pr)
}

// UpdatePullRequest patches title, body, or status. Only the PR
// author, the repo owner, or an admin may touch it.
func (s *Server) UpdatePullRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	number, okNum := pullNumber(c)
	if !okNum {
		return
	}

	pr, err := s.hub.GetPullRequest(c.Request.Context(), repo.ID, number)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if actorID != pr.AuthorID && !s.canWriteRepo(c, repo) {
		_ = c.Error(apperrors.Forbidden(apperrors.CodeAuthFailed, "only the author or the repository owner may edit this pull request"))
		return
	}

	var input musehub.UpdatePullInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	updated, err := s.hub.UpdatePullRequest(c.Request.Context(), repo.ID, number, actorID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type mergeRequest struct {
	Strategy string `json:"strategy"`
}

// MergePullRequest merges an open PR into its target branch. Owner or
// admin only; the body may pick a strategy.
func (s *Server) MergePullRequest(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	number, ok := pullNumber(c)
	if !ok {
		return
	}

	var req mergeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
			return
		}
	}

	pr, err := s.hub.MergePullRequest(c.Request.Context(), repo.ID, number, actorFromCtx(c), req.Strategy)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("pull request merged",
		zap.String("repo_id", repo.ID),
		zap.Int("number", pr.Number),
		zap.String("merged_by", actorFromCtx(c)),
	)
	c.JSON(http.StatusOK, pr)
}

// pullNumber parses the :number path segment. Returns ok=false after
// writing the error.
func pullNumber(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "pull request number must be a positive integer"))
		return 0, false
	}
	return n, true
}
