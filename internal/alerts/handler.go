package alerts

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/alerts/repository"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/routing"
)

// Handler manages a team's alert targets over HTTP.
type Handler struct {
	repo *repository.Repository
}

func NewHandler(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Name() string { return "alerts" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.Teams.Group("/alert-targets")
	rg.GET("", h.ListTargets)
	rg.POST("", h.CreateTarget)
	rg.DELETE("/:targetID", h.DeleteTarget)
}

func (h *Handler) ListTargets(c *gin.Context) {
	targets, err := h.repo.ListTargets(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"targets": targets})
}

type createTargetRequest struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

func (h *Handler) CreateTarget(c *gin.Context) {
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}

	target := repository.Target{
		TeamID:  middleware.TeamID(c),
		Channel: routing.AlertChannel(req.Channel),
		Target:  req.Target,
		Enabled: true,
	}
	if err := h.repo.CreateTarget(c.Request.Context(), &target); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, target)
}

func (h *Handler) DeleteTarget(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("targetID"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid target id", nil)
		return
	}
	if err := h.repo.DeleteTarget(c.Request.Context(), middleware.TeamID(c), targetID); err != nil {
		response.Err(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
