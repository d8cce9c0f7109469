package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine     workflow.Orchestrator
	health     HealthChecker
	intakeRole string
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Orchestrator, health HealthChecker, intakeRole string, logger *zap.Logger) *Handlers {
	return &Handlers{engine: engine, health: health, intakeRole: intakeRole, logger: logger}
}

// callerHasRole checks a role granted by the bearer token
func callerHasRole(c *gin.Context, role string) bool {
	v, ok := c.Get(ctxClaimsKey)
	if !ok {
		return false
	}
	claims, ok := v.(*Claims)
	return ok && claims.HasRole(role)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// CreateWorkflowRequest is the transaction submitted for authorization
type CreateWorkflowRequest struct {
	TransactionID  string            `json:"transaction_id"`
	Type           string            `json:"type"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	RequesterID    string            `json:"requester_id"`
	RequesterRoles []string          `json:"requester_roles"`
	Location       string            `json:"location"`
	OccurredAt     *time.Time        `json:"occurred_at"`
	Metadata       map[string]string `json:"metadata"`
}

// SubmitActionRequest is one approver decision; the actor comes from the token
type SubmitActionRequest struct {
	ActionID      string `json:"action_id"`
	Kind          string `json:"kind"`
	Level         int    `json:"level"`
	Justification string `json:"justification"`
	DelegateTo    string `json:"delegate_to"`
}

// ListWorkflowsRequest represents query parameters for listing workflows
type ListWorkflowsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// workflowID reads and checks the :id path parameter, writing a 400 when malformed
func workflowID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidateIdentifier("workflow id", id); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Kind: string(apperr.KindValidation)})
		return "", false
	}
	return id, true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	tx := entity.Transaction{
		ID:             req.TransactionID,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		RequesterID:    req.RequesterID,
		RequesterRoles: req.RequesterRoles,
		Location:       req.Location,
		Metadata:       req.Metadata,
	}
	actor := c.GetString(ctxActorKey)
	switch {
	case tx.RequesterID == "":
		tx.RequesterID = actor
	case tx.RequesterID != actor && !callerHasRole(c, h.intakeRole):
		h.logger.Warn("Rejected transaction filed for another requester",
			zap.String("actor_id", actor),
			zap.String("requester_id", tx.RequesterID),
			zap.String("transaction_id", tx.ID))
		h.respondError(c, "create_workflow",
			apperr.Authorization("create_workflow", "%s may not file transactions for %s", actor, tx.RequesterID))
		return
	}
	if req.OccurredAt != nil {
		tx.OccurredAt = *req.OccurredAt
	}

	result, err := h.engine.CreateWorkflow(c.Request.Context(), tx)
	if err != nil {
		h.respondError(c, "create_workflow", err)
		return
	}

	code := http.StatusOK
	switch {
	case result.Blocked:
		code = http.StatusAccepted
	case result.Workflow != nil:
		code = http.StatusCreated
	}
	c.JSON(code, Response{Success: true, Data: result})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}
	if req.Status == "" {
		req.Status = domainwf.StatusPending.String()
	}

	list, err := h.engine.ListWorkflows(c.Request.Context(),
		domainwf.Status(strings.ToUpper(req.Status)), req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, "list_workflows", err)
		return
	}
	if list == nil {
		list = []*workflow.Snapshot{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := workflowID(c)
	if !ok {
		return
	}
	snap, err := h.engine.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get_workflow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: snap})
}

// SubmitAction handles POST /api/v1/workflows/:id/actions
func (h *Handlers) SubmitAction(c *gin.Context) {
	id, ok := workflowID(c)
	if !ok {
		return
	}
	var req SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	if err := utils.ValidateFreeText("justification", req.Justification); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Kind: string(apperr.KindValidation)})
		return
	}

	clientID := c.GetString(ctxClientKey)
	if clientID == "" {
		clientID = c.Request.UserAgent()
	}

	snap, err := h.engine.SubmitAction(c.Request.Context(), workflow.ActionRequest{
		ActionID:      req.ActionID,
		WorkflowID:    id,
		ActorID:       c.GetString(ctxActorKey),
		Kind:          domainwf.ActionKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Level:         req.Level,
		Justification: utils.SanitizeString(req.Justification),
		DelegateTo:    req.DelegateTo,
		Origin: entity.ActionOrigin{
			NetworkAddress: c.ClientIP(),
			ClientID:       clientID,
		},
	})
	if err != nil {
		h.respondError(c, "submit_action", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: snap})
}

// History handles GET /api/v1/workflows/:id/actions
func (h *Handlers) History(c *gin.Context) {
	id, ok := workflowID(c)
	if !ok {
		return
	}
	records, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "history", err)
		return
	}
	if records == nil {
		records = []*entity.ActionRecord{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// Verify handles POST /api/v1/workflows/:id/verify.
// A failed verification still returns the report alongside 423.
func (h *Handlers) Verify(c *gin.Context) {
	id, ok := workflowID(c)
	if !ok {
		return
	}
	report, err := h.engine.Verify(c.Request.Context(), id)
	if err != nil && report == nil {
		h.respondError(c, "verify", err)
		return
	}
	if err != nil {
		c.JSON(statusFor(apperr.KindIntegrity), Response{
			Success: false,
			Data:    report,
			Error:   err.Error(),
			Kind:    string(apperr.KindIntegrity),
		})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}
