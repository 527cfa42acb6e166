package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/assets"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// CreateRepo registers a repository owned by the caller.
func (s *Server) CreateRepo(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	var input musehub.CreateRepoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	repo, err := s.hub.CreateRepo(c.Request.Context(), actorID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("repository created",
		zap.String("repo_id", repo.ID),
		zap.String("slug", repo.Slug),
		zap.String("owner_id", actorID),
	)
	c.JSON(http.StatusCreated, repo)
}

// ListRepos lists repositories the caller may see: everything public
// plus the caller's own private repos. Admins see all.
func (s *Server) ListRepos(c *gin.Context) {
	filter := store.RepoFilter{OwnerID: c.Query("owner_id")}
	if v := c.Query("visibility"); v != "" {
		vis := domain.RepoVisibility(v)
		if !domain.ValidVisibility(vis) {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "visibility must be public or private"))
			return
		}
		filter.Visibility = vis
	}

	repos, err := s.hub.ListRepos(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	uid := middleware.GetUserID(c.Request.Context())
	admin := middleware.HasRole(c, middleware.AdminRole)
	visible := make([]*domain.Repo, 0, len(repos))
	for _, repo := range repos {
		if repo.Visibility == domain.RepoPublic || admin || (uid != "" && uid == repo.OwnerID) {
			visible = append(visible, repo)
		}
	}
	c.JSON(http.StatusOK, visible)
}

// GetRepo returns one repository by id or slug.
func (s *Server) GetRepo(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, repo)
}

// UpdateRepo patches repository settings. Owner or admin only.
func (s *Server) UpdateRepo(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.UpdateRepoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	updated, err := s.hub.UpdateRepo(c.Request.Context(), repo.ID, input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// GetActivity returns the repo's newest-first event feed.
func (s *Server) GetActivity(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	events, err := s.hub.Activity(c.Request.Context(), repo.ID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if events == nil {
		events = []*domain.ActivityEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// ListBranches lists the repo's branch refs.
func (s *Server) ListBranches(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	branches, err := s.hub.ListBranches(c.Request.Context(), repo.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if branches == nil {
		branches = []*domain.Branch{}
	}
	c.JSON(http.StatusOK, branches)
}

// CreateBranch points a new ref at a commit.
func (s *Server) CreateBranch(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.CreateBranchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	branch, err := s.hub.CreateBranch(c.Request.Context(), repo.ID, actorFromCtx(c), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

// DeleteBranch removes a branch ref. The route uses a wildcard so
// names like feature/solo resolve; gin hands the name back with a
// leading slash.
func (s *Server) DeleteBranch(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	name := strings.TrimPrefix(c.Param("name"), "/")

	if err := s.hub.DeleteBranch(c.Request.Context(), repo.ID, name); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCommits walks branch history, newest first.
func (s *Server) ListCommits(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	commits, err := s.hub.ListCommits(c.Request.Context(), repo.ID, c.Query("branch"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if commits == nil {
		commits = []*domain.Commit{}
	}
	c.JSON(http.StatusOK, commits)
}

// GetCommit loads one commit by id.
func (s *Server) GetCommit(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	commit, err := s.hub.GetCommit(c.Request.Context(), repo.ID, c.Param("commitId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, commit)
}

// GetObjectMeta returns object metadata without the payload.
func (s *Server) GetObjectMeta(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	obj, err := s.hub.GetObjectMeta(c.Request.Context(), repo.ID, c.Param("objectId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// DownloadObject hands out the object payload. With a bucket
// configured the response is a presigned URL; otherwise the content
// rides inline, base64-encoded.
func (s *Server) DownloadObject(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	objectID := c.Param("objectId")

	grant, err := s.presigner.PresignDownload(c.Request.Context(), repo.ID, objectID, s.presignTTL)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"url": grant.URL, "expires_at": grant.ExpiresAt})
		return
	}
	if !errors.Is(err, assets.ErrNotConfigured) {
		_ = c.Error(err)
		return
	}

	obj, err := s.hub.GetObject(c.Request.Context(), repo.ID, objectID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content":      obj.Content,
		"content_type": obj.ContentType,
		"size_bytes":   obj.SizeBytes,
	})
}

// ListTags returns the repo's tags sorted by name.
func (s *Server) ListTags(c *gin.Context) {
	repo, err := s.visibleRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	tags, err := s.hub.ListTags(c.Request.Context(), repo.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if tags == nil {
		tags = []*domain.Tag{}
	}
	c.JSON(http.StatusOK, tags)
}

// CreateTag freezes a name at a commit.
func (s *Server) CreateTag(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	var input musehub.CreateTagInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	tag, err := s.hub.CreateTag(c.Request.Context(), repo.ID, actorFromCtx(c), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

// DeleteTag removes a tag.
func (s *Server) DeleteTag(c *gin.Context) {
	repo, err := s.writableRepo(c, c.Param("repoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	name := strings.TrimPrefix(c.Param("name"), "/")

	if err := s.hub.DeleteTag(c.Request.Context(), repo.ID, name); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// intQuery parses an optional non-negative integer query parameter.
// Returns ok=false after writing the error.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, name+" must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
