package handlers

import (
	"github.com/gin-gonic/gin"

	"musehub.io/musehub/internal/api/middleware"
)

// RegisterRoutes mounts every handler on r. The app router and the
// handler tests share this registration so they cannot drift apart.
//
// The Maestro surface under /api/v1 requires a token. The hub surface
// is soft-authenticated: anonymous reads are allowed and per-object
// visibility is the handlers' problem, while writes demand an actor.
func RegisterRoutes(r gin.IRouter, s *Server) {
	requireAuth := middleware.JWTAuth(s.jwtCfg.SigningKey)
	softAuth := middleware.JWTSoft(s.jwtCfg.SigningKey)

	r.GET("/healthz", s.GetLiveness)
	r.GET("/readyz", s.GetReadiness)
	r.GET("/openapi.json", s.GetOpenAPISpec)

	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", s.Login)
		auth.GET("/me", requireAuth, s.GetCurrentUser)
	}

	project := r.Group("/api/v1/project", requireAuth)
	{
		project.POST("/sync", s.SyncProject)
		project.GET("/:projectId/state", s.GetProjectState)
	}

	variation := r.Group("/api/v1/variation", requireAuth)
	{
		variation.POST("/propose", s.ProposeVariation)
		variation.GET("/:variationId", s.GetVariation)
		variation.GET("/:variationId/stream", s.StreamVariation)
		variation.POST("/:variationId/commit", s.CommitVariation)
		variation.POST("/:variationId/discard", s.DiscardVariation)
	}

	hub := r.Group("/musehub", softAuth)
	{
		hub.POST("/users", requireAuth, middleware.RequireRole(middleware.AdminRole), s.CreateUser)

		hub.GET("/repos", s.ListRepos)
		hub.POST("/repos", s.CreateRepo)

		repo := hub.Group("/repos/:repoId")
		{
			repo.GET("", s.GetRepo)
			repo.PATCH("", s.UpdateRepo)
			repo.GET("/activity", s.GetActivity)

			repo.GET("/branches", s.ListBranches)
			repo.POST("/branches", s.CreateBranch)
			// Wildcard so branch names may contain slashes (feature/x).
			repo.DELETE("/branches/*name", s.DeleteBranch)

			repo.GET("/commits", s.ListCommits)
			repo.GET("/commits/:commitId", s.GetCommit)

			repo.GET("/objects/:objectId", s.GetObjectMeta)
			repo.GET("/objects/:objectId/download", s.DownloadObject)

			repo.GET("/tags", s.ListTags)
			repo.POST("/tags", s.CreateTag)
			repo.DELETE("/tags/*name", s.DeleteTag)

			repo.POST("/push", s.Push)
			repo.POST("/pull", s.Pull)
			repo.POST("/fetch", s.Fetch)
			repo.POST("/clone", s.Clone)

			repo.GET("/pulls", s.ListPullRequests)
			repo.POST("/pulls", s.OpenPullRequest)
			repo.GET("/pulls/:number", s.GetPullRequest)
			repo.PATCH("/pulls/:number", s.UpdatePullRequest)
			repo.POST("/pulls/:number/merge", s.MergePullRequest)
		}
	}
}
