package http

import (
	"net/http"
	"strings"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/internal/core/services"
	"pype/pkg/errors"
	"pype/pkg/validation"

	"github.com/gin-gonic/gin"
)

// PeerHandler exposes the directory: registration (which mints the access
// token) and roster reads.
type PeerHandler struct {
	directory   ports.Directory
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewPeerHandler(directory ports.Directory, authService services.AuthService, tokenTTL time.Duration) *PeerHandler {
	return &PeerHandler{
		directory:   directory,
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *PeerHandler) SetupRoutes(router *gin.Engine, authed *gin.RouterGroup) {
	router.POST("/api/v1/peers", h.Register)

	authed.GET("/peers", h.ListPeers)
	authed.GET("/peers/:peer_id", h.GetPeer)
}

type RegisterPeerRequest struct {
	PeerID      string `json:"peer_id" binding:"required,max=100"`
	DisplayName string `json:"display_name" binding:"max=50"`
	ColorTag    string `json:"color_tag" binding:"max=7"`
}

func (h *PeerHandler) Register(c *gin.Context) {
	var req RegisterPeerRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.PeerID = strings.TrimSpace(req.PeerID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		req.DisplayName = req.PeerID
	}

	if err := validation.ValidatePeerID(req.PeerID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.ColorTag != "" {
		if err := validation.ValidateColorTag(req.ColorTag); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	peer := &domain.Peer{
		ID:          domain.PeerID(req.PeerID),
		DisplayName: req.DisplayName,
		ColorTag:    req.ColorTag,
		JoinedAt:    time.Now(),
	}
	if err := h.directory.Register(c.Request.Context(), peer); err != nil {
		c.Error(err)
		return
	}

	token, err := h.authService.GenerateToken(peer.ID, peer.DisplayName)
	if err != nil {
		// Roll back so the id is not burned without a usable token.
		_ = h.directory.Remove(c.Request.Context(), peer.ID)
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"peer":         peer,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}

func (h *PeerHandler) ListPeers(c *gin.Context) {
	peers, err := h.directory.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peers": peers,
		"count": len(peers),
	})
}

func (h *PeerHandler) GetPeer(c *gin.Context) {
	peerID := domain.PeerID(c.Param("peer_id"))

	peer, err := h.directory.Get(c.Request.Context(), peerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"peer": peer})
}
