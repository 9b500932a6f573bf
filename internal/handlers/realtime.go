package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/realtime"
	"github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into inbox websocket streams.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream upgrades the request. Streams come from `?stream=` (repeatable) or
// `?streams=a,b`; the inbox stream is used when none is named.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamInbox}
	}
	for _, stream := range streams {
		if !h.hub.IsKnownStream(stream) {
			response.Error(c, errors.ErrNotFound.WithMessage("Unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(userID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string
	streams = append(streams, c.QueryArray("stream")...)
	if raw := c.Query("streams"); raw != "" {
		streams = append(streams, strings.Split(raw, ",")...)
	}

	seen := make(map[string]struct{}, len(streams))
	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = strings.ToLower(strings.TrimSpace(stream))
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
