// Package api implements the synchronous command/query HTTP surface
// and the SSE event stream, spec.md §6.1-§6.2. Grounded on the richest
// gin JSON-API shape in the example pack
// (codeready-toolchain-tarsy/pkg/api/handlers.go): a thin Server
// struct holding its collaborators, one method per route, gin.H for
// ad-hoc JSON, ShouldBindJSON + validator tags for request DTOs.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/orchestrator"
)

// Server holds the collaborators every handler needs.
type Server struct {
	Missions *orchestrator.Manager
	Store    *graphstore.Store
	Bus      *eventbus.Bus
	Log      *zap.Logger
}

func NewServer(missions *orchestrator.Manager, store *graphstore.Store, bus *eventbus.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Missions: missions, Store: store, Bus: bus, Log: log}
}

// Router builds the gin engine with every route spec.md §6.1/§6.2
// names wired to its handler.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	missions := r.Group("/missions")
	{
		missions.POST("", s.CreateMission)
		missions.GET("", s.ListMissions)
		missions.GET("/:id", s.GetMission)
		missions.POST("/:id/cancel", s.CancelMission)
		missions.DELETE("/:id", s.DeleteMission)
		missions.GET("/:id/stats", s.MissionStats)
		missions.GET("/:id/edges", s.MissionEdges)
		missions.GET("/:id/export", s.MissionExport)
	}

	r.POST("/nodes", s.UpsertNode)
	r.PATCH("/nodes/:id", s.PatchNode)
	r.POST("/nodes/query", s.QueryNodes)
	r.POST("/edges", s.UpsertEdge)
	r.POST("/edges/batch", s.BatchEdges)
	r.POST("/graph/batchUpsert", s.BatchUpsert)

	r.DELETE("/data/clear", s.ClearData)

	r.GET("/sse/events/:mission_id", s.StreamEvents)

	return r
}
