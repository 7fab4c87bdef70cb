// Package handler exposes the team SLA settings endpoints.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/sla"
	"leadflow_backend/internal/sla/repository"
)

type Handler struct {
	repo *repository.Repository
}

func New(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Name() string { return "sla" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.Teams.Group("/sla")
	rg.GET("/settings", h.GetSettings)
	rg.PUT("/settings", h.SaveSettings)
}

// GetSettings returns the team's SLA settings. Teams that never saved any get
// the defaults, the same ones the clock manager applies.
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.repo.GetSettings(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, settings)
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var settings sla.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	settings.TeamID = middleware.TeamID(c)
	if err := settings.Validate(); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	if err := h.repo.SaveSettings(c.Request.Context(), &settings); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, settings)
}
