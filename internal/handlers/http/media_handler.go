package http

import (
	"errors"
	"net/http"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/services"
	"stagecast/internal/infrastructure/middleware"
	studiowebrtc "stagecast/internal/infrastructure/webrtc"
	apperrors "stagecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
)

// MediaHandler negotiates participant ingest sessions. A participant posts
// its SDP offer and receives the answer for its camera and microphone
// tracks; only the participant itself may open or close its session.
type MediaHandler struct {
	ingest      *studiowebrtc.IngestService
	authService services.AuthService
}

func NewMediaHandler(ingest *studiowebrtc.IngestService, authService services.AuthService) *MediaHandler {
	return &MediaHandler{
		ingest:      ingest,
		authService: authService,
	}
}

func (h *MediaHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/media")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.POST("/offer", h.Offer)
		api.DELETE("/session", h.CloseSession)
	}
}

func (h *MediaHandler) Offer(c *gin.Context) {
	participantID, ok := callerID(c)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("missing participant identity"))
		return
	}

	var offer webrtc.SessionDescription
	if err := c.BindJSON(&offer); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid session description"))
		return
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		c.Error(apperrors.NewInvalidInputError("expected an SDP offer"))
		return
	}

	answer, err := h.ingest.HandleOffer(c.Request.Context(), participantID, offer)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			c.Error(apperrors.NewNotFoundError("participant is not registered"))
			return
		}
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, answer)
}

func (h *MediaHandler) CloseSession(c *gin.Context) {
	participantID, ok := callerID(c)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("missing participant identity"))
		return
	}

	h.ingest.Close(participantID)
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func callerID(c *gin.Context) (domain.ParticipantID, bool) {
	raw, exists := c.Get("participant_id")
	if !exists {
		return "", false
	}
	id, ok := raw.(domain.ParticipantID)
	if !ok {
		if s, okStr := raw.(string); okStr {
			return domain.ParticipantID(s), true
		}
		return "", false
	}
	return id, true
}
