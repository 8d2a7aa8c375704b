package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/core/services"
	"stagecast/internal/infrastructure/middleware"
	apperrors "stagecast/pkg/errors"
	"stagecast/pkg/utils"
	"stagecast/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ParticipantHandler exposes joining plus the host moderation surface that
// drives stage transitions.
type ParticipantHandler struct {
	registry    ports.RegistryService
	authService services.AuthService
}

func NewParticipantHandler(registry ports.RegistryService, authService services.AuthService) *ParticipantHandler {
	return &ParticipantHandler{
		registry:    registry,
		authService: authService,
	}
}

func (h *ParticipantHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/participants")
	{
		api.POST("/join", h.Join)

		authed := api.Group("")
		authed.Use(middleware.AuthMiddleware(h.authService))
		{
			authed.GET("", h.List)
			authed.POST("/:id/leave", h.Leave)

			host := authed.Group("")
			host.Use(middleware.RequireRole(h.authService, domain.RoleHost))
			{
				host.POST("/:id/promote", h.Promote)
				host.POST("/:id/demote", h.Demote)
				host.POST("/:id/greenroom", h.MoveToGreenroom)
				host.POST("/:id/ban", h.Ban)
			}
		}
	}
}

type joinRequest struct {
	Name        string      `json:"name" binding:"required,min=1,max=64"`
	Role        domain.Role `json:"role"`
	Fingerprint string      `json:"fingerprint" binding:"required,max=128"`
}

func (h *ParticipantHandler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	role := req.Role
	switch role {
	case "":
		role = domain.RoleGuest
	case domain.RoleHost, domain.RoleGuest, domain.RoleViewerProxy:
	default:
		c.Error(apperrors.NewInvalidInputError("unknown role"))
		return
	}

	id := domain.ParticipantID(utils.GenerateParticipantID())
	participant, err := h.registry.Join(c.Request.Context(), id, req.Name, role, domain.Fingerprint(req.Fingerprint))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdentityBanned):
			c.Error(apperrors.NewForbiddenError("identity is banned from this session"))
		case errors.Is(err, domain.ErrSessionFull):
			c.Error(apperrors.NewSessionFullError())
		default:
			c.Error(apperrors.NewInternalError(err.Error()))
		}
		return
	}

	token, err := h.authService.GenerateToken(participant.ID, participant.Role)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"participant_id": participant.ID,
		"state":          participant.State,
		"access_token":   token,
	})
}

func (h *ParticipantHandler) List(c *gin.Context) {
	snapshot, err := h.registry.Snapshot(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"participants": snapshot})
}

func (h *ParticipantHandler) Promote(c *gin.Context) {
	h.applyTransition(c, h.registry.Promote, domain.StageLive)
}

func (h *ParticipantHandler) Demote(c *gin.Context) {
	h.applyTransition(c, h.registry.Demote, domain.StageBackstage)
}

func (h *ParticipantHandler) MoveToGreenroom(c *gin.Context) {
	h.applyTransition(c, h.registry.MoveToGreenroom, domain.StageGreenroom)
}

func (h *ParticipantHandler) Ban(c *gin.Context) {
	h.applyTransition(c, h.registry.Ban, domain.StageBanned)
}

// Leave lets a participant remove itself; hosts may remove anyone.
func (h *ParticipantHandler) Leave(c *gin.Context) {
	id := domain.ParticipantID(c.Param("id"))

	callerVal, _ := c.Get("claims")
	claims, ok := callerVal.(*services.Claims)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("invalid auth context"))
		return
	}
	if claims.ParticipantID != id {
		if err := h.authService.RequireRole(claims, domain.RoleHost); err != nil {
			c.Error(apperrors.NewForbiddenError("only hosts may remove other participants"))
			return
		}
	}

	if err := h.registry.Leave(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			c.Error(apperrors.NewNotFoundError("participant"))
			return
		}
		c.Error(apperrors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *ParticipantHandler) applyTransition(c *gin.Context, op func(ctx context.Context, id domain.ParticipantID) error, target domain.StageState) {
	id := domain.ParticipantID(c.Param("id"))
	if err := validation.ValidateParticipantID(string(id)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if err := op(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrParticipantNotFound):
			c.Error(apperrors.NewNotFoundError("participant"))
		case errors.Is(err, domain.ErrInvalidTransition):
			c.Error(apperrors.NewInvalidTransitionError(err.Error()))
		case errors.Is(err, domain.ErrStageFull):
			c.Error(apperrors.NewConflictError("stage is at capacity"))
		default:
			c.Error(apperrors.NewInternalError(err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant_id": id,
		"state":          target,
	})
}
