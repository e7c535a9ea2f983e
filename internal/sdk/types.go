package sdk

import "github.com/flowcraft/dataflow/internal/models"

// ChildNode describes a node to be created under the handle's node via
// WithChildNodes or as part of a Yield's spawned subgraph.
type ChildNode struct {
	Type     string
	Status   models.NodeStatus
	Config   models.NodeConfig
	Metadata map[string]any
}

// YieldOptions configures a Yield call.
type YieldOptions struct {
	// Output is persisted as a node_yield record alongside the yield marker,
	// for observers inspecting a paused node's partial progress.
	Output map[string]any
	// Children are spawned as the yielded subgraph, parented to this node.
	Children []ChildNode
}

// YieldResult is delivered back to a yielding node once its child subgraph
// (or whatever external event it paused for) reports completion.
type YieldResult struct {
	Output map[string]any
}

// CompletionResult is returned by Complete and Fail.
type CompletionResult struct {
	Success bool
	DataIDs []string
}

// DataOption customises a queued Data call.
type DataOption func(*models.CreateDataPayload)

// WithDataKey sets the record's key.
func WithDataKey(key string) DataOption {
	return func(p *models.CreateDataPayload) { p.Key = key }
}

// WithDataDiscriminator sets the record's discriminator.
func WithDataDiscriminator(discriminator string) DataOption {
	return func(p *models.CreateDataPayload) { p.Discriminator = discriminator }
}

// WithDataMetadata attaches metadata to the record.
func WithDataMetadata(metadata map[string]any) DataOption {
	return func(p *models.CreateDataPayload) { p.Metadata = metadata }
}

// WithDataContentType overrides the inferred content type.
func WithDataContentType(contentType string) DataOption {
	return func(p *models.CreateDataPayload) { p.ContentType = contentType }
}

// CompletionOption customises a Complete or Fail call.
type CompletionOption func(*completionOptions)

type completionOptions struct {
	Message  string
	Metadata map[string]any
}

// WithMessage attaches a human-readable message to the node's result record.
func WithMessage(message string) CompletionOption {
	return func(o *completionOptions) { o.Message = message }
}

// WithResultMetadata attaches metadata to the node's result record.
func WithResultMetadata(metadata map[string]any) CompletionOption {
	return func(o *completionOptions) { o.Metadata = metadata }
}
