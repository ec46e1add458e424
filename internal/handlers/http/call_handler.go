package http

import (
	"net/http"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/internal/infrastructure/middleware"
	"pype/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CallHandler exposes call negotiation. All routes require an authenticated
// peer; the caller or callee is always the token's peer, never a request
// field.
type CallHandler struct {
	negotiator ports.CallNegotiator
}

func NewCallHandler(negotiator ports.CallNegotiator) *CallHandler {
	return &CallHandler{negotiator: negotiator}
}

func (h *CallHandler) SetupRoutes(authed *gin.RouterGroup) {
	authed.POST("/calls", h.Initiate)
	authed.GET("/calls", h.ListPending)
	authed.GET("/calls/:call_id", h.GetCall)
	authed.POST("/calls/:call_id/accept", h.Accept)
	authed.POST("/calls/:call_id/reject", h.Reject)
	authed.POST("/calls/:call_id/cancel", h.Cancel)
}

type InitiateCallRequest struct {
	Callee string `json:"callee" binding:"required,max=100"`
}

func (h *CallHandler) Initiate(c *gin.Context) {
	caller, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req InitiateCallRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	call, err := h.negotiator.Initiate(c.Request.Context(), caller, domain.PeerID(req.Callee))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"call": call})
}

func (h *CallHandler) ListPending(c *gin.Context) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	calls, err := h.negotiator.PendingFor(c.Request.Context(), peerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	call, err := h.negotiator.Get(c.Request.Context(), domain.CallID(c.Param("call_id")))
	if err != nil {
		c.Error(err)
		return
	}
	if !call.Involves(peerID) {
		c.Error(errors.NewAppError(errors.ErrCodeStaleCall, "no such call", http.StatusGone))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call":      call,
		"direction": call.Direction(peerID),
	})
}

func (h *CallHandler) Accept(c *gin.Context) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	session, err := h.negotiator.Accept(c.Request.Context(), domain.CallID(c.Param("call_id")), peerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *CallHandler) Reject(c *gin.Context) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	if err := h.negotiator.Reject(c.Request.Context(), domain.CallID(c.Param("call_id")), peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *CallHandler) Cancel(c *gin.Context) {
	peerID, ok := middleware.PeerFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	if err := h.negotiator.Cancel(c.Request.Context(), domain.CallID(c.Param("call_id")), peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
