package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// Login verifies credentials and issues a JWT.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "username and password are required"))
		return
	}

	user, err := s.hub.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtCfg, user.ID, user.Username, user.Roles)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// GetCurrentUser returns the account behind the presented token.
func (s *Server) GetCurrentUser(c *gin.Context) {
	uid, ok := requireActor(c)
	if !ok {
		return
	}
	user, err := s.hub.GetUser(c.Request.Context(), uid)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type createUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// CreateUser registers an account. The route is admin-gated; the
// request may grant roles beyond the default.
func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}

	user, err := s.hub.CreateUser(c.Request.Context(), musehub.CreateUserInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Roles:       req.Roles,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("created_by", actorFromCtx(c)),
	)
	c.JSON(http.StatusCreated, user)
}
