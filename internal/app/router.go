package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"musehub.io/musehub/internal/api/handlers"
	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/config"
)

// newRouter assembles the middleware chain and mounts every route.
// Authentication is declared per route group inside RegisterRoutes;
// the contract validator sits in front of all of them.
func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	if len(cfg.Server.CORSOrigins) > 0 {
		router.Use(cors.New(buildCORSConfig(cfg.Server.CORSOrigins)))
	}

	router.Use(middleware.MustOpenAPIValidator("", cfg.Server.ValidateResponses))

	handlers.RegisterRoutes(router, server)
	return router
}

// buildCORSConfig maps configured origins onto gin-contrib defaults.
// Browser-hosted DAW frontends send Bearer tokens, so Authorization
// must be an allowed header. A lone "*" entry switches to allow-all,
// which gin-contrib rejects as a plain origin.
func buildCORSConfig(origins []string) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	for _, origin := range origins {
		if origin == "*" {
			corsCfg.AllowAllOrigins = true
			corsCfg.AllowOrigins = nil
			return corsCfg
		}
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}
