package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/api"
	"musehub.io/musehub/internal/pkg/logger"
)

// GetLiveness answers as long as the process is serving requests.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness checks the hub store. A failed check reports degraded
// with 503 so load balancers stop routing here.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := map[string]string{"store": "ok"}
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.hub.Ping(c.Request.Context()); err != nil {
		logger.Warn("readiness check failed", zap.String("check", "store"), zap.Error(err))
		checks["store"] = "error"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}

// GetOpenAPISpec serves the embedded contract document.
func (s *Server) GetOpenAPISpec(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", api.Spec())
}
