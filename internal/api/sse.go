package api

import (
	"io"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
)

// StreamEvents handles GET /sse/events/{mission_id}, spec.md §6.2:
// optional Last-Event-ID header or lastEventId query resumes from
// backlog; a fresh subscriber gets a SNAPSHOT frame first; keepalive
// ticks at Bus.KeepaliveEvery().
func (s *Server) StreamEvents(c *gin.Context) {
	missionID := c.Param("mission_id")
	lastEventID := parseLastEventID(c)

	sub, backlog := s.Bus.Subscribe(missionID, lastEventID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	if lastEventID == 0 {
		domain := ""
		if m, ok := s.Missions.Get(c.Request.Context(), missionID); ok {
			domain = m.TargetDomain
		}
		snapshot := s.Store.ExportSnapshot(missionID, domain)
		writeEnvelope(c, eventbus.New(eventbus.TopicGraphEvents, eventbus.EventSnapshot, missionID, "", "api", snapshot))
	}
	for _, env := range backlog {
		writeEnvelope(c, env)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(s.Bus.KeepaliveEvery())
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-sub.Events:
			if !ok {
				return false
			}
			writeEnvelope(c, env)
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", "")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writeEnvelope(c *gin.Context, env eventbus.Envelope) {
	c.Render(-1, sse.Event{
		Id:    strconv.FormatUint(env.SSEID, 10),
		Event: string(env.EventType),
		Data:  env,
	})
}

func parseLastEventID(c *gin.Context) uint64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("lastEventId")
	}
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
