// Package handler exposes scoring configuration and rule management.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/internal/scoring/repository"
	"leadflow_backend/platform/apperr"
)

type Handler struct {
	repo *repository.Repository
}

func New(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Name() string { return "scoring" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.Teams.Group("/scoring")
	rg.GET("/config", h.GetConfig)
	rg.PUT("/config", h.SaveConfig)
	rg.GET("/rules", h.ListRules)
	rg.POST("/rules", h.CreateRule)
	rg.PUT("/rules/:ruleID", h.UpdateRule)
	rg.DELETE("/rules/:ruleID", h.DeleteRule)
}

// GetConfig returns the team's active config, or the embedded defaults when
// nothing has been saved yet. The pipeline falls back the same way.
func (h *Handler) GetConfig(c *gin.Context) {
	teamID := middleware.TeamID(c)
	cfg, err := h.repo.GetActiveConfig(c.Request.Context(), teamID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			defCfg, _, derr := scoring.Defaults()
			if derr != nil {
				response.Err(c, derr)
				return
			}
			defCfg.TeamID = teamID
			response.OK(c, defCfg)
			return
		}
		response.Err(c, err)
		return
	}
	response.OK(c, cfg)
}

func (h *Handler) SaveConfig(c *gin.Context) {
	var cfg scoring.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := cfg.Bands.Validate(); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	cfg.TeamID = middleware.TeamID(c)

	if err := h.repo.SaveConfig(c.Request.Context(), &cfg); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, cfg)
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.repo.ListRules(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"rules": rules})
}

func (h *Handler) CreateRule(c *gin.Context) {
	var rule scoring.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	rule.TeamID = middleware.TeamID(c)
	if err := rule.Validate(); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	if err := h.repo.CreateRule(c.Request.Context(), &rule); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, rule)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	ruleID, ok := ruleParam(c)
	if !ok {
		return
	}
	var rule scoring.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	rule.ID = ruleID
	rule.TeamID = middleware.TeamID(c)
	if err := rule.Validate(); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	if err := h.repo.UpdateRule(c.Request.Context(), &rule); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	ruleID, ok := ruleParam(c)
	if !ok {
		return
	}
	if err := h.repo.DeleteRule(c.Request.Context(), middleware.TeamID(c), ruleID); err != nil {
		response.Err(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func ruleParam(c *gin.Context) (uuid.UUID, bool) {
	ruleID, err := uuid.Parse(c.Param("ruleID"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return uuid.Nil, false
	}
	return ruleID, true
}
