package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/musehub"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// Push uploads commits and objects and moves a branch head. The
// service enforces fast-forward rules and content addressing.
func (s *Server) Push(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.PushInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	result, err := s.hub.Push(c.Request.Context(), repo.ID, actorFromCtx(c), input)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("push accepted",
		zap.String("repo_id", repo.ID),
		zap.String("branch", result.Branch),
		zap.Int("commits", result.CommitsAccepted),
		zap.Int("objects", result.ObjectsAccepted),
	)
	c.JSON(http.StatusOK, result)
}

// Pull computes what the client is missing to reach the remote head.
func (s *Server) Pull(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.PullInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	result, err := s.hub.Pull(c.Request.Context(), repo.ID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Fetch advertises branch heads without moving objects. The body is
// optional; an absent one advertises every branch.
func (s *Server) Fetch(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.FetchInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
			return
		}
	}

	result, err := s.hub.Fetch(c.Request.Context(), repo.ID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Clone seeds a fresh workspace from one branch head.
func (s *Server) Clone(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.CloneInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
			return
		}
	}

	result, err := s.hub.Clone(c.Request.Context(), repo.ID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
