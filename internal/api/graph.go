package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

// UpsertNode handles POST /nodes.
func (s *Server) UpsertNode(c *gin.Context) {
	var req upsertNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n := graphstore.Node{ID: req.ID, Type: req.Type, MissionID: req.MissionID, Properties: req.Properties}
	saved, err := s.Store.UpsertNode(c.Request.Context(), n, s.targetDomainOf(c, req.MissionID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, saved)
}

// PatchNode handles PATCH /nodes/{id}: a partial update whose evidence
// appends with hash dedup (graphstore.PatchNode's own behavior).
func (s *Server) PatchNode(c *gin.Context) {
	var req patchNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.Store.PatchNode(c.Request.Context(), req.MissionID, c.Param("id"), req.Properties, req.Evidence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, n)
}

// QueryNodes handles POST /nodes/query.
func (s *Server) QueryNodes(c *gin.Context) {
	var req queryNodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodes, total := s.Store.QueryNodes(req.MissionID, req.NodeTypes, req.RiskScoreMin, req.Limit, req.Offset)
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "total": total})
}

// UpsertEdge handles POST /edges. relation MUST be in the closed set
// (spec.md §6.1); an unknown relation fails the request rather than
// silently dropping the edge.
func (s *Server) UpsertEdge(c *gin.Context) {
	var req upsertEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := graphstore.Edge{
		Relation: req.relation(), From: req.from(), To: req.to(),
		MissionID: req.MissionID, Properties: req.Properties,
	}
	saved, created, err := s.Store.UpsertEdge(c.Request.Context(), e)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"edge": saved, "created": created})
}

// BatchEdges handles POST /edges/batch: per-edge pass/fail, spec.md
// §6.1 — one bad relation in the batch does not fail its siblings.
func (s *Server) BatchEdges(c *gin.Context) {
	var reqs []upsertEdgeRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	type outcome struct {
		Edge  graphstore.Edge `json:"edge,omitempty"`
		Error string          `json:"error,omitempty"`
	}
	results := make([]outcome, len(reqs))
	for i, req := range reqs {
		e := graphstore.Edge{
			Relation: req.relation(), From: req.from(), To: req.to(),
			MissionID: req.MissionID, Properties: req.Properties,
		}
		saved, _, err := s.Store.UpsertEdge(c.Request.Context(), e)
		if err != nil {
			results[i] = outcome{Error: err.Error()}
			continue
		}
		results[i] = outcome{Edge: saved}
	}
	c.JSON(http.StatusOK, results)
}

// BatchUpsert handles POST /graph/batchUpsert: atomic, all-or-nothing
// (graphstore.Store.BatchUpsert's own contract).
func (s *Server) BatchUpsert(c *gin.Context) {
	var req batchUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeCount, edgeCount, err := s.Store.BatchUpsert(c.Request.Context(), req.Nodes, req.Edges, s.targetDomainOf(c, req.MissionID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodeCount, "edges": edgeCount})
}

// ClearData handles DELETE /data/clear?confirm=YES: a destructive,
// explicit-confirmation wipe of every mission's graph and durable
// record (spec.md §6.1).
func (s *Server) ClearData(c *gin.Context) {
	if c.Query("confirm") != "YES" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "must pass ?confirm=YES"})
		return
	}
	missions, err := s.missionIDs(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, id := range missions {
		_, _ = s.Store.DeleteMission(c.Request.Context(), id)
	}
	c.Status(http.StatusOK)
}

// targetDomainOf resolves a mission's scope so raw graph-API writes
// apply the same scope invariant the pipeline's own writes do. Unknown
// missions resolve to "", which scope-filters SUBDOMAIN/HTTP_SERVICE/
// ENDPOINT nodes out entirely rather than accepting unscoped ones.
func (s *Server) targetDomainOf(c *gin.Context, missionID string) string {
	m, ok := s.Missions.Get(c.Request.Context(), missionID)
	if !ok {
		return ""
	}
	return m.TargetDomain
}

func (s *Server) missionIDs(c *gin.Context) ([]string, error) {
	missions, err := s.Missions.List(c.Request.Context(), 0, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(missions))
	for i, m := range missions {
		ids[i] = m.ID
	}
	return ids, nil
}
