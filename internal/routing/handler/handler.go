// Package handler exposes routing rule, owner and pool management.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/routing/repository"
	"leadflow_backend/platform/validator"
)

type Handler struct {
	rules     *repository.Repository
	directory *repository.Directory
	val       *validator.Validator
}

func New(rules *repository.Repository, directory *repository.Directory, val *validator.Validator) *Handler {
	return &Handler{rules: rules, directory: directory, val: val}
}

func (h *Handler) Name() string { return "routing" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.Teams.Group("/routing")
	rg.GET("/rules", h.ListRules)
	rg.POST("/rules", h.CreateRule)
	rg.PUT("/rules/:ruleID", h.UpdateRule)
	rg.DELETE("/rules/:ruleID", h.DeleteRule)

	owners := ctx.Teams.Group("/owners")
	owners.GET("", h.ListOwners)
	owners.POST("", h.CreateOwner)
	owners.PUT("/:ownerID", h.UpdateOwner)

	pools := ctx.Teams.Group("/pools")
	pools.GET("", h.ListPools)
	pools.POST("", h.CreatePool)
	pools.POST("/:pool/members", h.AddPoolMember)
	pools.DELETE("/:pool/members/:ownerID", h.RemovePoolMember)
}

func (h *Handler) ListRules(c *gin.Context) {
	ruleSet, err := h.rules.ListRules(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"rules": ruleSet})
}

func (h *Handler) CreateRule(c *gin.Context) {
	var rule routing.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	rule.TeamID = middleware.TeamID(c)
	if err := rule.Validate(); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	if err := h.rules.CreateRule(c.Request.Context(), &rule); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, rule)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	ruleID, ok := parseParam(c, "ruleID", "invalid rule id")
	if !ok {
		return
	}
	var rule routing.Rule
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

	if err := h.rules.UpdateRule(c.Request.Context(), &rule); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	ruleID, ok := parseParam(c, "ruleID", "invalid rule id")
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(c.Request.Context(), middleware.TeamID(c), ruleID); err != nil {
		response.Err(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListOwners(c *gin.Context) {
	owners, err := h.directory.ListOwners(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"owners": owners})
}

type ownerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Active   bool   `json:"active"`
	Capacity int    `json:"capacity" validate:"required,min=1"`
}

func (h *Handler) CreateOwner(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	owner := routing.Owner{
		TeamID:   middleware.TeamID(c),
		Name:     req.Name,
		Email:    req.Email,
		Active:   req.Active,
		Capacity: req.Capacity,
	}
	if err := h.directory.CreateOwner(c.Request.Context(), &owner); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, owner)
}

func (h *Handler) UpdateOwner(c *gin.Context) {
	ownerID, ok := parseParam(c, "ownerID", "invalid owner id")
	if !ok {
		return
	}
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	owner := routing.Owner{
		ID:       ownerID,
		TeamID:   middleware.TeamID(c),
		Name:     req.Name,
		Email:    req.Email,
		Active:   req.Active,
		Capacity: req.Capacity,
	}
	if err := h.directory.UpdateOwner(c.Request.Context(), &owner); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, owner)
}

func (h *Handler) ListPools(c *gin.Context) {
	pools, err := h.directory.ListPools(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"pools": pools})
}

type poolRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) CreatePool(c *gin.Context) {
	var req poolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	poolID, err := h.directory.CreatePool(c.Request.Context(), middleware.TeamID(c), req.Name)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, gin.H{"id": poolID, "name": req.Name})
}

type poolMemberRequest struct {
	OwnerID uuid.UUID `json:"ownerId" validate:"required"`
}

func (h *Handler) AddPoolMember(c *gin.Context) {
	var req poolMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if req.OwnerID == uuid.Nil {
		response.Error(c, http.StatusBadRequest, "ownerId is required", nil)
		return
	}

	if err := h.directory.AddPoolMember(c.Request.Context(), middleware.TeamID(c), c.Param("pool"), req.OwnerID); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"pool": c.Param("pool"), "ownerId": req.OwnerID})
}

func (h *Handler) RemovePoolMember(c *gin.Context) {
	ownerID, ok := parseParam(c, "ownerID", "invalid owner id")
	if !ok {
		return
	}
	if err := h.directory.RemovePoolMember(c.Request.Context(), middleware.TeamID(c), c.Param("pool"), ownerID); err != nil {
		response.Err(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, http.StatusBadRequest, message, nil)
		return uuid.Nil, false
	}
	return id, true
}
