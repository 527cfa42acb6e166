// Package handlers implements the HTTP handlers behind api/openapi.json.
//
// Handlers bind requests, call the service or use case layer, and
// funnel failures through c.Error so the ErrorHandler middleware can
// shape the envelope. Route registration lives in RegisterRoutes so
// the app router and tests mount the same tree.
package handlers

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/assets"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/usecase"
	"musehub.io/musehub/internal/variation"
)

// Server implements all API handlers.
type Server struct {
	jwtCfg      middleware.JWTConfig
	hub         *musehub.Service
	presigner   assets.Presigner
	manager     *state.Manager
	variations  *variation.Store
	broadcaster *variation.Broadcaster
	syncUC      *usecase.SyncProjectUseCase
	proposeUC   *usecase.ProposeVariationUseCase
	commitUC    *usecase.CommitVariationUseCase
	discardUC   *usecase.DiscardVariationUseCase
	heartbeat   time.Duration
	presignTTL  time.Duration
	draining    *atomic.Bool
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no Wire/Dig.
type ServerDeps struct {
	JWTCfg      middleware.JWTConfig
	Hub         *musehub.Service
	Presigner   assets.Presigner
	Manager     *state.Manager
	Variations  *variation.Store
	Broadcaster *variation.Broadcaster
	SyncUC      *usecase.SyncProjectUseCase
	ProposeUC   *usecase.ProposeVariationUseCase
	CommitUC    *usecase.CommitVariationUseCase
	DiscardUC   *usecase.DiscardVariationUseCase
	Heartbeat   time.Duration
	PresignTTL  time.Duration
	Draining    *atomic.Bool // set during shutdown to refuse new proposals
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	presigner := deps.Presigner
	if presigner == nil {
		presigner = assets.Disabled{}
	}
	draining := deps.Draining
	if draining == nil {
		draining = &atomic.Bool{}
	}
	return &Server{
		jwtCfg:      deps.JWTCfg,
		hub:         deps.Hub,
		presigner:   presigner,
		manager:     deps.Manager,
		variations:  deps.Variations,
		broadcaster: deps.Broadcaster,
		syncUC:      deps.SyncUC,
		proposeUC:   deps.ProposeUC,
		commitUC:    deps.CommitUC,
		discardUC:   deps.DiscardUC,
		heartbeat:   heartbeat,
		presignTTL:  deps.PresignTTL,
		draining:    draining,
	}
}

// actorFromCtx extracts the authenticated user ID from the request context.
// All handlers use this instead of hardcoded "anonymous".
func actorFromCtx(c interface{ GetString(any) string }) string {
	if uid := c.GetString("user_id"); uid != "" {
		return uid
	}
	return "anonymous"
}

// requireActor aborts with 401 when the request carries no
// authenticated user. Hub reads are public, so write handlers enforce
// authentication themselves instead of relying on route middleware.
func requireActor(c *gin.Context) (string, bool) {
	uid := middleware.GetUserID(c.Request.Context())
	if uid == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeAuthFailed, "authentication required"))
		return "", false
	}
	return uid, true
}

// visibleRepo resolves ref and enforces read visibility. Private repos
// answer 404 to strangers so their existence does not leak.
func (s *Server) visibleRepo(c *gin.Context, ref string) (*domain.Repo, error) {
	repo, err := s.hub.GetRepo(c.Request.Context(), ref)
	if err != nil {
		return nil, err
	}
	if !s.canReadRepo(c, repo) {
		return nil, apperrors.NotFound(apperrors.CodeRepoNotFound, "repository not found").
			WithParams(map[string]interface{}{"ref": ref})
	}
	return repo, nil
}

func (s *Server) canReadRepo(c *gin.Context, repo *domain.Repo) bool {
	if repo.Visibility == domain.RepoPublic {
		return true
	}
	uid := middleware.GetUserID(c.Request.Context())
	return uid != "" && (uid == repo.OwnerID || middleware.HasRole(c, middleware.AdminRole))
}

// canWriteRepo reports whether the caller may mutate the repo. Writes
// are owner-or-admin; there is no collaborator model yet.
func (s *Server) canWriteRepo(c *gin.Context, repo *domain.Repo) bool {
	uid := middleware.GetUserID(c.Request.Context())
	return uid != "" && (uid == repo.OwnerID || middleware.HasRole(c, middleware.AdminRole))
}

// writableRepo resolves ref and enforces write access on top of
// visibility.
func (s *Server) writableRepo(c *gin.Context, ref string) (*domain.Repo, error) {
	repo, err := s.visibleRepo(c, ref)
	if err != nil {
		return nil, err
	}
	if !s.canWriteRepo(c, repo) {
		return nil, apperrors.Forbidden(apperrors.CodeAuthFailed, "write access to this repository is required")
	}
	return repo, nil
}
