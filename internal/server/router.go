// Package server wires the node protocol handlers and a handful of
// operator endpoints into a single gin.Engine.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/meltforce/cast2md/internal/nodeprotocol"
)

type RouterConfig struct {
	NodeHandlers   *nodeprotocol.Handlers
	NodeAuth       *nodeprotocol.AuthMiddleware
	Operator       *OperatorHandlers
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Transcriber-Key"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", HealthCheck)

	api := router.Group("/api")

	if cfg.NodeHandlers != nil {
		// The node protocol's own path table puts a wildcard segment
		// (":id") directly alongside static siblings ("register", "jobs")
		// under /api/nodes — gin's route tree panics at registration time
		// if that's expressed as nested routes. A single catch-all lets
		// nodeprotocol.Dispatch resolve the eight paths by hand instead.
		nodeDispatch := nodeprotocol.Dispatch(cfg.NodeHandlers, cfg.NodeAuth)
		api.Any("/nodes/*nodepath", nodeDispatch)
	}

	if cfg.Operator != nil {
		api.GET("/jobs/id/:id", cfg.Operator.GetJob)
		api.GET("/jobs/status/counts", cfg.Operator.JobCounts)
		api.PATCH("/feeds/:id/title", cfg.Operator.SetFeedTitle)
		api.POST("/provisioning", cfg.Operator.CreatePodSetup)
		api.GET("/provisioning/:id", cfg.Operator.GetPodSetup)
	}

	return router
}
