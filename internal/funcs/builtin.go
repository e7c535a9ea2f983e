// Package funcs holds the node functions bundled with the service
// entrypoints. Applications embedding the engine register their own
// domain functions into the same orchestrator.FuncRegistry; these cover
// the handful of generic operations useful in any workflow graph.
package funcs

import (
	"context"

	"github.com/flowcraft/dataflow/internal/orchestrator"
	"github.com/flowcraft/dataflow/internal/sdk"
)

// Builtin returns the node functions every dataflow service registers by
// default, keyed by the func_id a node's config names.
func Builtin() orchestrator.FuncRegistry {
	return orchestrator.FuncRegistry{
		"passthrough": passthrough,
		"merge":       merge,
		"delay_echo":  delayEcho,
	}
}

// passthrough completes with its inputs unchanged, routed via whatever
// data_targets the node was configured with. Useful as a no-op hop in a
// graph, or as a stand-in during development before a real function is
// registered.
func passthrough(ctx context.Context, h *sdk.Handle) error {
	inputs, err := h.Inputs(ctx)
	if err != nil {
		_, ferr := h.Fail(ctx, map[string]any{"error": err.Error()})
		if ferr != nil {
			return ferr
		}
		return nil
	}
	_, err = h.Complete(ctx, inputs)
	return err
}

// merge completes with a single map combining every input key, last key
// wins on collision. Config.Raw may set "output_key" to nest the result
// under that key instead of flattening it.
func merge(ctx context.Context, h *sdk.Handle) error {
	inputs, err := h.Inputs(ctx)
	if err != nil {
		_, ferr := h.Fail(ctx, map[string]any{"error": err.Error()})
		return ferr
	}

	outputKey, _ := h.Config().Raw["output_key"].(string)

	if outputKey != "" {
		_, err = h.Complete(ctx, map[string]any{outputKey: inputs})
		return err
	}
	_, err = h.Complete(ctx, inputs)
	return err
}

// delayEcho fails deterministically when it has an input named "fail"
// holding boolean true, otherwise completes echoing its inputs unchanged.
// It applies no delay of its own. Useful for trying out fan-out/fan-in
// graphs and failure routing without real domain functions.
func delayEcho(ctx context.Context, h *sdk.Handle) error {
	inputs, err := h.Inputs(ctx)
	if err != nil {
		return err
	}
	if fail, _ := inputs["fail"].(bool); fail {
		_, err := h.Fail(ctx, map[string]any{"error": "delay_echo: forced failure"})
		return err
	}
	_, err = h.Complete(ctx, inputs)
	return err
}
