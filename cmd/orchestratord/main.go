// Command orchestratord is the standalone driver host: at startup it
// recovers any workflow left pending or running by a prior crash and
// spawns a driver for each, then keeps the process alive so those
// drivers (and any future ones claimed on this instance) can run to
// completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/bootstrap"
	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/funcs"
	"github.com/flowcraft/dataflow/internal/orchestrator"
	"github.com/flowcraft/dataflow/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "orchestratord")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap orchestratord: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	registry := funcs.Builtin()

	recovered := recover_(ctx, components, registry)
	components.Logger.Info("orchestratord ready", "recovered_workflows", recovered)

	<-ctx.Done()
	components.Logger.Info("shutdown signal received")
}

// recover_ scans for dataflows left pending or running with no live
// driver and spawns one for each, returning the count it recovered.
func recover_(ctx context.Context, c *bootstrap.Components, registry orchestrator.FuncRegistry) int {
	workflows, err := c.Store.Dataflows.ListPendingOrRunning(ctx)
	if err != nil {
		c.Logger.Error("recovery: list pending/running workflows failed", "error", err)
		return 0
	}

	recovered := 0
	for _, wf := range workflows {
		name := commit.DriverRegistryName(wf.DataflowID)
		if _, held, err := c.Registry.Lookup(ctx, name); err != nil {
			c.Logger.Error("recovery: lookup driver registry failed", "dataflow_id", wf.DataflowID, "error", err)
			continue
		} else if held {
			continue
		}

		driver := orchestrator.New(c.Store, c.Log, c.Registry, c.Mailbox, c.Evaluator, registry, c.Logger, process.Pid(uuid.New().String()))
		errs := orchestrator.Spawn(ctx, driver, wf.DataflowID)
		go func(dataflowID string) {
			if err := <-errs; err != nil && err != orchestrator.ErrAlreadyRunning {
				c.Logger.Error("recovered driver exited with error", "dataflow_id", dataflowID, "error", err)
			}
		}(wf.DataflowID)

		c.Logger.Info("recovered workflow driver", "dataflow_id", wf.DataflowID, "status", wf.Status)
		recovered++
	}
	return recovered
}
