package ingest

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/dedupe"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/middleware"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

const maxPayloadBytes = 1 << 20

// Handler exposes the public webhook endpoint plus team-scoped batch import
// and API key management.
type Handler struct {
	svc      *Service
	repo     *Repository
	runner   *BatchRunner
	enqueuer scheduler.ImportScheduler
	limiter  *KeyLimiter
	val      *validator.Validator
	maxRows  int
	log      *logger.Logger
}

func NewHandler(svc *Service, repo *Repository, runner *BatchRunner, enqueuer scheduler.ImportScheduler, limiter *KeyLimiter, val *validator.Validator, maxRows int, log *logger.Logger) *Handler {
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &Handler{
		svc:      svc,
		repo:     repo,
		runner:   runner,
		enqueuer: enqueuer,
		limiter:  limiter,
		val:      val,
		maxRows:  maxRows,
		log:      log,
	}
}

func (h *Handler) Name() string { return "ingest" }

func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	// The webhook endpoint authenticates with an API key, not a team path.
	ctx.V1.POST("/ingest/leads", APIKeyAuthMiddleware(h.repo, h.limiter), h.SubmitLead)

	imports := ctx.Teams.Group("/imports")
	imports.POST("", h.CreateImport)
	imports.GET("/:importID", h.GetImport)

	keys := ctx.Teams.Group("/api-keys")
	keys.GET("", h.ListKeys)
	keys.POST("", h.CreateKey)
	keys.DELETE("/:keyID", h.RevokeKey)
}

type submitResponse struct {
	Action         dedupe.Action `json:"action"`
	LeadID         uuid.UUID     `json:"leadId"`
	Score          int           `json:"score"`
	Band           domain.Band   `json:"band"`
	ShortCircuited bool          `json:"shortCircuited,omitempty"`
}

// SubmitLead accepts one raw payload from a form or external system. The
// dedupe policy comes from the ?policy query parameter and defaults to merge.
func (h *Handler) SubmitLead(c *gin.Context) {
	teamID, ok := TeamFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "missing API key context", nil)
		return
	}

	policy := dedupe.Policy(c.DefaultQuery("policy", string(dedupe.PolicyMerge)))
	if !dedupe.ValidPolicy(policy) {
		response.Error(c, http.StatusBadRequest, "unknown dedupe policy", nil)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil || len(raw) == 0 {
		response.Error(c, http.StatusBadRequest, "empty or unreadable payload", nil)
		return
	}

	source := c.DefaultQuery("source", "webhook")
	sourceRef := c.Query("ref")
	if sourceRef == "" {
		sourceRef = c.GetString("requestID")
	}

	result, err := h.svc.Submit(c.Request.Context(), teamID, source, sourceRef, raw, policy)
	if err != nil {
		response.Err(c, err)
		return
	}
	if result.ShortCircuited {
		response.OK(c, submitResponse{
			Action:         result.Outcome.Dedupe.Action,
			LeadID:         result.Outcome.Dedupe.LeadID,
			ShortCircuited: true,
		})
		return
	}
	response.Created(c, submitResponse{
		Action: result.Outcome.Dedupe.Action,
		LeadID: result.Outcome.Dedupe.LeadID,
		Score:  result.Outcome.Scoring.Score,
		Band:   result.Outcome.Scoring.Band,
	})
}

type createImportRequest struct {
	Source string                  `json:"source"`
	Rows   []domain.NormalizedLead `json:"rows" validate:"required,min=1"`
}

// CreateImport stores the batch and hands it to the worker queue. Without a
// queue the batch runs in the background on this replica instead.
func (h *Handler) CreateImport(c *gin.Context) {
	var req createImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if len(req.Rows) == 0 {
		response.Error(c, http.StatusBadRequest, "rows is required", nil)
		return
	}
	if len(req.Rows) > h.maxRows {
		response.Error(c, http.StatusRequestEntityTooLarge, "too many rows", gin.H{"maxRows": h.maxRows})
		return
	}
	if req.Source == "" {
		req.Source = "import"
	}

	imp := Import{
		TeamID: middleware.TeamID(c),
		Source: req.Source,
		Rows:   req.Rows,
	}
	if err := h.repo.CreateImport(c.Request.Context(), &imp); err != nil {
		response.Err(c, err)
		return
	}

	if h.enqueuer != nil {
		err := h.enqueuer.EnqueueLeadImportBatch(c.Request.Context(), scheduler.LeadImportBatchPayload{
			ImportID: imp.ID.String(),
			TeamID:   imp.TeamID.String(),
		})
		if err == nil {
			c.JSON(http.StatusAccepted, imp)
			return
		}
		h.log.Error("failed to enqueue import, running inline", "importId", imp.ID.String(), "error", err)
	}

	go func(teamID, importID uuid.UUID) {
		if err := h.runner.RunImport(context.Background(), teamID, importID); err != nil {
			h.log.Error("inline import failed", "importId", importID.String(), "error", err)
		}
	}(imp.TeamID, imp.ID)
	c.JSON(http.StatusAccepted, imp)
}

func (h *Handler) GetImport(c *gin.Context) {
	importID, err := uuid.Parse(c.Param("importID"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid import id", nil)
		return
	}
	imp, err := h.repo.GetImport(c.Request.Context(), middleware.TeamID(c), importID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, imp)
}

func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.repo.ListKeys(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"keys": keys})
}

type createKeyRequest struct {
	Name           string   `json:"name" validate:"required"`
	AllowedDomains []string `json:"allowedDomains"`
}

type createKeyResponse struct {
	Key APIKey `json:"key"`
	// Plaintext is shown exactly once; only the hash is stored.
	Plaintext string `json:"plaintext"`
}

func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		response.Err(c, err)
		return
	}
	key := APIKey{
		TeamID:         middleware.TeamID(c),
		Name:           req.Name,
		KeyHash:        hash,
		KeyPrefix:      prefix,
		AllowedDomains: req.AllowedDomains,
		Active:         true,
	}
	if err := h.repo.CreateKey(c.Request.Context(), &key); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, createKeyResponse{Key: key, Plaintext: plaintext})
}

func (h *Handler) RevokeKey(c *gin.Context) {
	keyID, err := uuid.Parse(c.Param("keyID"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid key id", nil)
		return
	}
	if err := h.repo.RevokeKey(c.Request.Context(), middleware.TeamID(c), keyID); err != nil {
		response.Err(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
