package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BetterCallFirewall/Hackerecon/internal/orchestrator"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
)

// CreateMission handles POST /missions, spec.md §6.1: builds and
// starts a mission, returning immediately (the mission runs to
// completion in the background; progress is observed via SSE or
// polling GetMission).
func (s *Server) CreateMission(c *gin.Context) {
	var req createMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = "balanced"
	}

	settings := pipeline.Settings{
		TargetDomain:           req.TargetDomain,
		Mode:                   req.Mode,
		MaxWorkers:             orDefaultInt(req.Options.MaxWorkers, 5),
		RiskThreshold:          orDefaultInt(req.Options.RiskThreshold, 40),
		MinSubdomainsForActive: req.Options.MinSubdomainsForActive,
		ActiveVerification:     req.Options.ActiveVerification,
	}

	m := orchestrator.NewMission(uuid.NewString(), req.TargetDomain, settings, req.SeedSubdomains)
	s.Missions.Start(m)

	c.JSON(http.StatusOK, toMissionResponse(m))
}

func orDefaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// ListMissions handles GET /missions?limit&offset.
func (s *Server) ListMissions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	missions, err := s.Missions.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]missionResponse, 0, len(missions))
	for _, m := range missions {
		out = append(out, toMissionResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

// GetMission handles GET /missions/{id}.
func (s *Server) GetMission(c *gin.Context) {
	m, ok := s.Missions.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "mission not found"})
		return
	}
	c.JSON(http.StatusOK, toMissionResponse(m))
}

// CancelMission handles POST /missions/{id}/cancel.
func (s *Server) CancelMission(c *gin.Context) {
	if !s.Missions.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mission not found or not running"})
		return
	}
	c.Status(http.StatusOK)
}

// DeleteMission handles DELETE /missions/{id}: cascade deletion,
// spec.md §6.1.
func (s *Server) DeleteMission(c *gin.Context) {
	if err := s.Missions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// MissionStats handles GET /missions/{id}/stats.
func (s *Server) MissionStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Stats(c.Param("id")))
}

// MissionEdges handles GET /missions/{id}/edges.
func (s *Server) MissionEdges(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.GetEdges(c.Param("id")))
}

// MissionExport handles GET /missions/{id}/export: the full graph
// snapshot, scope-filtered the same way a live subscription's initial
// SNAPSHOT frame is.
func (s *Server) MissionExport(c *gin.Context) {
	m, ok := s.Missions.Get(c.Request.Context(), c.Param("id"))
	domain := ""
	if ok {
		domain = m.TargetDomain
	}
	c.JSON(http.StatusOK, s.Store.ExportSnapshot(c.Param("id"), domain))
}

func toMissionResponse(m *orchestrator.Mission) missionResponse {
	return missionResponse{
		ID: m.ID, TargetDomain: m.TargetDomain, Mode: m.Mode, Status: m.Status,
		CurrentPhase: m.CurrentPhase, SeedSubdomains: m.SeedSubdomains,
		Progress: m.Progress, ErrorCode: m.ErrorCode,
	}
}
