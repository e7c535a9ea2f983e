// Package routes wires the api/handlers package onto an echo.Echo
// instance.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/flowcraft/dataflow/internal/api/handlers"
	"github.com/flowcraft/dataflow/internal/api/middleware"
)

// RegisterWorkflowRoutes registers every workflow endpoint documented for
// the apiserver transport, each behind actor extraction.
func RegisterWorkflowRoutes(e *echo.Echo, h *handlers.WorkflowHandler) {
	wf := e.Group("/api/v1/workflows")
	wf.Use(middleware.ExtractActor())
	{
		wf.POST("", h.CreateWorkflow)
		wf.POST("/:id/start", h.Start)
		wf.POST("/:id/execute", h.Execute)
		wf.GET("/:id/output", h.Output)
		wf.POST("/:id/cancel", h.Cancel)
		wf.POST("/:id/terminate", h.Terminate)
		wf.GET("/:id", h.GetStatus)
	}
}
