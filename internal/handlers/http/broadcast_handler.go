package http

import (
	"errors"
	"net/http"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/services"
	"stagecast/internal/infrastructure/middleware"
	apperrors "stagecast/pkg/errors"
	"stagecast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BroadcastHandler exposes the broadcast lifecycle and destination control
// surface. Host-only endpoints are gated by role middleware.
type BroadcastHandler struct {
	orchestrator *services.Orchestrator
	authService  services.AuthService
}

func NewBroadcastHandler(orchestrator *services.Orchestrator, authService services.AuthService) *BroadcastHandler {
	return &BroadcastHandler{
		orchestrator: orchestrator,
		authService:  authService,
	}
}

func (h *BroadcastHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/broadcast")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.GET("/status", h.Status)

		host := api.Group("")
		host.Use(middleware.RequireRole(h.authService, domain.RoleHost))
		{
			host.POST("/start", h.Start)
			host.POST("/stop", h.Stop)
			host.PUT("/recording", h.SetRecording)
			host.POST("/destinations", h.AddDestination)
			host.DELETE("/destinations/:id", h.RemoveDestination)
		}
	}
}

type destinationRequest struct {
	Platform      domain.Platform `json:"platform" binding:"required"`
	IngestURL     string          `json:"ingest_url" binding:"required"`
	CredentialRef string          `json:"credential_ref"`
	Label         string          `json:"label" binding:"max=100"`
}

func (r destinationRequest) toDomain() (domain.Destination, error) {
	if err := validation.ValidateIngestURL(r.IngestURL); err != nil {
		return domain.Destination{}, err
	}
	switch r.Platform {
	case domain.PlatformWebRTC, domain.PlatformRelay:
	default:
		return domain.Destination{}, errors.New("unknown platform")
	}
	return domain.Destination{
		ID:            domain.DestinationID(uuid.New().String()),
		Platform:      r.Platform,
		IngestURL:     r.IngestURL,
		CredentialRef: r.CredentialRef,
		Label:         r.Label,
	}, nil
}

func (h *BroadcastHandler) Start(c *gin.Context) {
	var req struct {
		Destinations []destinationRequest `json:"destinations"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	destinations := make([]domain.Destination, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		dest, err := d.toDomain()
		if err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
		destinations = append(destinations, dest)
	}

	if err := h.orchestrator.Start(c.Request.Context(), destinations); err != nil {
		if errors.Is(err, domain.ErrBroadcastAlreadyLive) {
			c.Error(apperrors.NewConflictError("broadcast is already live"))
			return
		}
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "live"})
}

func (h *BroadcastHandler) Stop(c *gin.Context) {
	if err := h.orchestrator.Stop(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrBroadcastNotLive) {
			c.Error(apperrors.NewConflictError("broadcast is not live"))
			return
		}
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *BroadcastHandler) Status(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *BroadcastHandler) SetRecording(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := h.orchestrator.SetRecording(req.Enabled); err != nil {
		c.Error(apperrors.NewConflictError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"recording": req.Enabled})
}

func (h *BroadcastHandler) AddDestination(c *gin.Context) {
	var req destinationRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	dest, err := req.toDomain()
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.orchestrator.AddDestination(c.Request.Context(), dest); err != nil {
		if errors.Is(err, domain.ErrBroadcastNotLive) {
			c.Error(apperrors.NewConflictError("broadcast is not live"))
			return
		}
		c.Error(apperrors.NewDestinationFailedError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"destination_id": dest.ID,
		"status":         "connecting",
	})
}

func (h *BroadcastHandler) RemoveDestination(c *gin.Context) {
	id := domain.DestinationID(c.Param("id"))
	if err := validation.ValidateDestinationID(string(id)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	h.orchestrator.RemoveDestination(id)
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}
