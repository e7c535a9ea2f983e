package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/flowcraft/dataflow/internal/api/handlers"
	"github.com/flowcraft/dataflow/internal/api/routes"
	"github.com/flowcraft/dataflow/internal/bootstrap"
	"github.com/flowcraft/dataflow/internal/funcs"
	"github.com/flowcraft/dataflow/internal/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "apiserver")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap apiserver: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)

	h := handlers.NewWorkflowHandler(ctx, components.Store, components.Log, components.Mailbox, components.Registry, components.Evaluator, funcs.Builtin(), components.Logger)
	routes.RegisterWorkflowRoutes(e, h)

	srv := server.New("apiserver", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(200, map[string]string{"status": "ok", "service": "apiserver"})
	})
}
