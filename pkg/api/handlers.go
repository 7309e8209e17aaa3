package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
)

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// NodeResponse describes the local node
type NodeResponse struct {
	chat.Status
	KnownPeers int `json:"knownPeers"`
}

// PeerInfo is one registry entry
type PeerInfo struct {
	ID      string `json:"id"`
	ShortID string `json:"shortId"`
	Name    string `json:"name"`
	Self    bool   `json:"self"`
}

// PeersResponse lists known peers
type PeersResponse struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// SendMessageRequest queues a chat line
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessageResponse acknowledges a queued line
type SendMessageResponse struct {
	Queued bool `json:"queued"`
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleNode handles GET /api/v1/node
func (s *Server) handleNode(c *gin.Context) {
	c.JSON(http.StatusOK, NodeResponse{
		Status:     s.service.Status(),
		KnownPeers: s.directory.Len(),
	})
}

// handlePeers handles GET /api/v1/peers
func (s *Server) handlePeers(c *gin.Context) {
	entries := s.directory.Snapshot()

	peers := make([]PeerInfo, 0, len(entries))
	for _, e := range entries {
		peers = append(peers, PeerInfo{
			ID:      e.ID.String(),
			ShortID: e.ID.Short(),
			Name:    e.Name,
			Self:    e.Self,
		})
	}

	c.JSON(http.StatusOK, PeersResponse{Count: len(peers), Peers: peers})
}

// handleSendMessage handles POST /api/v1/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	if !validLine(req.Text, s.config.MaxTextLength) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid text",
			Message: "Text must be a single line of valid UTF-8 that fits in one frame",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.SubmitTimeout)
	defer cancel()

	if err := s.service.Submit(ctx, req.Text); err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, chat.ErrInputClosed) && !errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorResponse{
			Error:   "Message not queued",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, SendMessageResponse{Queued: true})
}

func validLine(text string, maxLen int) bool {
	return utf8.ValidString(text) &&
		!strings.ContainsAny(text, "\r\n") &&
		len(text) <= maxLen
}
