// Package handlers implements the echo HTTP handlers fronting api.Client.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowcraft/dataflow/internal/api"
	"github.com/flowcraft/dataflow/internal/api/middleware"
	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/condition"
	"github.com/flowcraft/dataflow/internal/logger"
	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/orchestrator"
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/store"
)

// WorkflowHandler exposes api.Client's operations over HTTP. A Client is
// lightweight (a handful of shared pointers), so one is built per request,
// scoped to that request's actor.
type WorkflowHandler struct {
	store     *store.Store
	log       *commit.Log
	mailbox   process.Mailbox
	registry  process.Registry
	evaluator *condition.Evaluator
	funcs     orchestrator.FuncRegistry
	logger    *logger.Logger
	driverCtx context.Context
}

// NewWorkflowHandler builds a WorkflowHandler. driverCtx bounds the
// lifetime of drivers spawned to serve Start/Execute requests; it should
// be the service's own background context, not a per-request one.
func NewWorkflowHandler(driverCtx context.Context, s *store.Store, log *commit.Log, mailbox process.Mailbox, registry process.Registry, evaluator *condition.Evaluator, funcs orchestrator.FuncRegistry, lg *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		store:     s,
		log:       log,
		mailbox:   mailbox,
		registry:  registry,
		evaluator: evaluator,
		funcs:     funcs,
		logger:    lg,
		driverCtx: driverCtx,
	}
}

func (h *WorkflowHandler) clientFor(c echo.Context) *api.Client {
	return api.New(h.driverCtx, h.store, h.log, h.mailbox, h.registry, h.evaluator, h.funcs, h.logger, middleware.Actor(c))
}

func errorResponse(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// createWorkflowRequest is the JSON body of POST /api/v1/workflows.
type createWorkflowRequest struct {
	Type             string         `json:"type"`
	Metadata         map[string]any `json:"metadata"`
	ParentDataflowID string         `json:"parent_dataflow_id"`
	Commands         []rawCommand   `json:"commands"`
}

// rawCommand mirrors models.Command's wire shape for request bodies; the
// handler re-marshals and decodes through models.Command's own codec so
// the HTTP boundary and the commit log agree on exactly one encoding.
type rawCommand = models.Command

// CreateWorkflow handles POST /api/v1/workflows.
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	id, err := h.clientFor(c).CreateWorkflow(c.Request().Context(), req.Commands, api.CreateWorkflowOptions{
		Type:             req.Type,
		Metadata:         req.Metadata,
		ParentDataflowID: req.ParentDataflowID,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(err))
	}
	return c.JSON(http.StatusCreated, map[string]any{"dataflow_id": id})
}

// Start handles POST /api/v1/workflows/:id/start.
func (h *WorkflowHandler) Start(c echo.Context) error {
	id := c.Param("id")
	if err := h.clientFor(c).Start(c.Request().Context(), id); err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"started": true})
}

// Execute handles POST /api/v1/workflows/:id/execute.
func (h *WorkflowHandler) Execute(c echo.Context) error {
	id := c.Param("id")
	result, err := h.clientFor(c).Execute(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, result)
}

// Output handles GET /api/v1/workflows/:id/output.
func (h *WorkflowHandler) Output(c echo.Context) error {
	id := c.Param("id")
	output, err := h.clientFor(c).Output(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, output)
}

// Cancel handles POST /api/v1/workflows/:id/cancel.
func (h *WorkflowHandler) Cancel(c echo.Context) error {
	id := c.Param("id")

	timeout := 30 * time.Second
	if raw := c.QueryParam("timeout_seconds"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			timeout = time.Duration(secs) * time.Second
		}
	}

	ok, message, err := h.clientFor(c).Cancel(c.Request().Context(), id, timeout)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": ok, "message": message})
}

// Terminate handles POST /api/v1/workflows/:id/terminate.
func (h *WorkflowHandler) Terminate(c echo.Context) error {
	id := c.Param("id")
	if err := h.clientFor(c).Terminate(c.Request().Context(), id); err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"terminated": true})
}

// GetStatus handles GET /api/v1/workflows/:id.
func (h *WorkflowHandler) GetStatus(c echo.Context) error {
	id := c.Param("id")
	wf, err := h.clientFor(c).GetStatus(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse(err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"dataflow_id": wf.DataflowID,
		"status":      wf.Status,
		"type":        wf.Type,
		"metadata":    wf.Metadata,
	})
}

// statusFor maps a facade error's documented prefix to an HTTP status.
func statusFor(err error) int {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "Workflow not found"):
		return http.StatusNotFound
	case strings.HasPrefix(msg, "Commit not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "cannot be cancelled"):
		return http.StatusConflict
	case strings.HasPrefix(msg, "Commands array cannot be empty"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
