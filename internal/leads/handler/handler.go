// Package handler exposes the leads read and lifecycle endpoints.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/validator"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Name() string { return "leads" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.Teams.Group("/leads")
	rg.GET("", h.List)
	rg.GET("/:leadID", h.Get)
	rg.PATCH("/:leadID/status", h.UpdateStatus)
	rg.GET("/:leadID/messages", h.ListMessages)
	rg.POST("/:leadID/messages", h.CreateMessage)
	rg.GET("/:leadID/timeline", h.Timeline)
}

type listResponse struct {
	Leads []domain.Lead `json:"leads"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
}

func (h *Handler) List(c *gin.Context) {
	params := repository.ListParams{
		TeamID:   middleware.TeamID(c),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 50),
	}
	if s := c.Query("status"); s != "" {
		status := domain.Status(s)
		params.Status = &status
	}
	if b := c.Query("band"); b != "" {
		band := domain.Band(b)
		params.Band = &band
	}
	if o := c.Query("ownerId"); o != "" {
		ownerID, err := uuid.Parse(o)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid owner id", nil)
			return
		}
		params.OwnerID = &ownerID
	}

	leads, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, listResponse{Leads: leads, Total: total, Page: params.Page})
}

func (h *Handler) Get(c *gin.Context) {
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	lead, err := h.svc.Get(c.Request.Context(), middleware.TeamID(c), leadID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, lead)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	if err := h.svc.UpdateStatus(c.Request.Context(), middleware.TeamID(c), leadID, domain.Status(req.Status)); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"status": req.Status})
}

func (h *Handler) ListMessages(c *gin.Context) {
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	messages, err := h.svc.Messages(c.Request.Context(), middleware.TeamID(c), leadID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"messages": messages})
}

type createMessageRequest struct {
	Direction string `json:"direction" validate:"required,oneof=IN OUT"`
	Body      string `json:"body" validate:"required"`
	Source    string `json:"source"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	msg, err := h.svc.RecordMessage(c.Request.Context(), middleware.TeamID(c), leadID,
		domain.MessageDirection(req.Direction), req.Body, req.Source)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *Handler) Timeline(c *gin.Context) {
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	events, err := h.svc.Timeline(c.Request.Context(), middleware.TeamID(c), leadID, queryInt(c, "limit", 100))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"events": events})
}

func leadParam(c *gin.Context) (uuid.UUID, bool) {
	leadID, err := uuid.Parse(c.Param("leadID"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return uuid.Nil, false
	}
	return leadID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return value
}
