package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/internal/infrastructure/middleware"
	"pype/pkg/cache"
	"pype/pkg/errors"
	"pype/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes established sessions: media toggles, leaving and
// ending, the chat log and the stat series. Windowed stat reads are cached
// for one sample interval since dashboards poll them hard.
type SessionHandler struct {
	sessions ports.SessionManager
	chat     ports.ChatChannel
	stats    ports.StatsCollector

	statCache    *cache.Cache
	statCacheTTL time.Duration
	statWindow   time.Duration
}

func NewSessionHandler(
	sessions ports.SessionManager,
	chat ports.ChatChannel,
	stats ports.StatsCollector,
	statCacheTTL time.Duration,
	statWindow time.Duration,
) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		chat:         chat,
		stats:        stats,
		statCache:    cache.NewCache(statCacheTTL),
		statCacheTTL: statCacheTTL,
		statWindow:   statWindow,
	}
}

func (h *SessionHandler) SetupRoutes(authed *gin.RouterGroup) {
	authed.GET("/sessions", h.ListSessions)
	authed.GET("/sessions/:session_id", h.GetSession)
	authed.POST("/sessions/:session_id/media", h.SetMedia)
	authed.POST("/sessions/:session_id/leave", h.Leave)
	authed.POST("/sessions/:session_id/end", h.End)
	authed.GET("/sessions/:session_id/chat", h.ChatHistory)
	authed.POST("/sessions/:session_id/chat", h.ChatSend)
	authed.GET("/sessions/:session_id/stats/:peer_id", h.WindowedStats)
	authed.GET("/sessions/:session_id/stats/:peer_id/latency", h.SmoothedLatency)
}

// participant resolves the authenticated peer and checks session membership.
func (h *SessionHandler) participant(c *gin.Context) (domain.SessionID, domain.PeerID, bool) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return "", "", false
	}

	sessionID := domain.SessionID(c.Param("session_id"))
	if !h.sessions.IsParticipant(c.Request.Context(), sessionID, peerID) {
		c.Error(domain.ErrNotInSession)
		return "", "", false
	}
	return sessionID, peerID, true
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, _, ok := h.participant(c)
	if !ok {
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}
	elapsed, err := h.sessions.Elapsed(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":         session,
		"elapsed_seconds": int(elapsed / time.Second),
	})
}

type SetMediaRequest struct {
	AudioOn *bool `json:"audio_on"`
	VideoOn *bool `json:"video_on"`
}

func (h *SessionHandler) SetMedia(c *gin.Context) {
	sessionID, peerID, ok := h.participant(c)
	if !ok {
		return
	}

	var req SetMediaRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.AudioOn == nil && req.VideoOn == nil {
		c.Error(errors.NewInvalidInputError("audio_on or video_on required"))
		return
	}

	if err := h.sessions.SetMedia(c.Request.Context(), sessionID, peerID, req.AudioOn, req.VideoOn); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *SessionHandler) Leave(c *gin.Context) {
	sessionID, peerID, ok := h.participant(c)
	if !ok {
		return
	}

	if err := h.sessions.Leave(c.Request.Context(), sessionID, peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *SessionHandler) End(c *gin.Context) {
	sessionID, _, ok := h.participant(c)
	if !ok {
		return
	}

	if err := h.sessions.End(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *SessionHandler) ChatHistory(c *gin.Context) {
	sessionID, _, ok := h.participant(c)
	if !ok {
		return
	}

	messages, err := h.chat.History(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

type ChatSendRequest struct {
	Text        string `json:"text" binding:"required"`
	ClientMsgID string `json:"client_msg_id" binding:"max=100"`
}

func (h *SessionHandler) ChatSend(c *gin.Context) {
	sessionID, peerID, ok := h.participant(c)
	if !ok {
		return
	}

	var req ChatSendRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateChatText(req.Text); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	msg, err := h.chat.Append(c.Request.Context(), sessionID, peerID, req.Text, req.ClientMsgID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *SessionHandler) WindowedStats(c *gin.Context) {
	sessionID, _, ok := h.participant(c)
	if !ok {
		return
	}
	subject := domain.PeerID(c.Param("peer_id"))

	window := h.statWindow
	if raw := c.Query("window_seconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			c.Error(errors.NewInvalidInputError("window_seconds must be a positive integer"))
			return
		}
		window = time.Duration(seconds) * time.Second
	}

	key := fmt.Sprintf("stats:%s:%s:%d", sessionID, subject, int(window/time.Second))
	cached, err := h.statCache.GetOrSet(c.Request.Context(), key, func(ctx context.Context) (interface{}, error) {
		return h.stats.Windowed(ctx, sessionID, subject, window)
	}, h.statCacheTTL)
	if err != nil {
		c.Error(err)
		return
	}

	samples, _ := cached.([]domain.StatSample)
	c.JSON(http.StatusOK, gin.H{
		"samples":        samples,
		"count":          len(samples),
		"window_seconds": int(window / time.Second),
	})
}

func (h *SessionHandler) SmoothedLatency(c *gin.Context) {
	sessionID, _, ok := h.participant(c)
	if !ok {
		return
	}
	subject := domain.PeerID(c.Param("peer_id"))

	summary, found := h.stats.Smoothed(c.Request.Context(), sessionID, subject)
	if !found {
		c.JSON(http.StatusOK, gin.H{"latency": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"latency": summary})
}
