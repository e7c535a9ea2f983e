package models

import "time"

// NodeStatus enumerates the lifecycle states of a node.
type NodeStatus string

const (
	NodeTemplate  NodeStatus = "template"
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status is a node sink.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeCancelled:
		return true
	default:
		return false
	}
}

// TargetDescriptor is a declarative rule on a node specifying how its
// output (or error) materialises as a new data record, optionally feeding
// another node's input.
type TargetDescriptor struct {
	DataType      string         `json:"data_type"`
	NodeID        string         `json:"node_id,omitempty"`
	Key           string         `json:"key,omitempty"`
	Discriminator string         `json:"discriminator,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// Condition is a domain enrichment: an optional CEL boolean expression
	// evaluated against the upstream node's output. When present and it
	// evaluates false, this descriptor is skipped. Absent conditions always
	// fire, so undecorated descriptors behave exactly as spec.md documents.
	Condition string `json:"condition,omitempty"`
}

// NodeInputsConfig declares which node_input keys must be present before a
// node is considered ready.
type NodeInputsConfig struct {
	Required []string `json:"required,omitempty"`
}

// NodeConfig is the decoded form of a node's `config` JSON column.
type NodeConfig struct {
	FuncID       string             `json:"func_id,omitempty"`
	DataTargets  []TargetDescriptor `json:"data_targets,omitempty"`
	ErrorTargets []TargetDescriptor `json:"error_targets,omitempty"`
	Inputs       *NodeInputsConfig  `json:"inputs,omitempty"`

	// Raw carries any additional node-type-specific fields (e.g. an http
	// node's url/method, an agent node's prompt) that this engine treats as
	// opaque payload for the node function.
	Raw map[string]any `json:"-"`
}

// Node is a unit of computation within a workflow: stateful, typed, with
// declared inputs and output routes.
type Node struct {
	NodeID       string
	DataflowID   string
	ParentNodeID *string
	Type         string
	Status       NodeStatus
	Config       NodeConfig
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
