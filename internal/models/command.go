package models

import (
	"encoding/json"
	"fmt"
)

// CommandType is the tag of a Command sum type.
type CommandType string

const (
	CmdCreateNode     CommandType = "CREATE_NODE"
	CmdUpdateNode     CommandType = "UPDATE_NODE"
	CmdDeleteNode     CommandType = "DELETE_NODE"
	CmdCreateData     CommandType = "CREATE_DATA"
	CmdUpdateData     CommandType = "UPDATE_DATA"
	CmdDeleteData     CommandType = "DELETE_DATA"
	CmdCreateWorkflow CommandType = "CREATE_WORKFLOW"
	CmdUpdateWorkflow CommandType = "UPDATE_WORKFLOW"
	CmdDeleteWorkflow CommandType = "DELETE_WORKFLOW"
	CmdApplyCommit    CommandType = "APPLY_COMMIT"
)

// CreateNodePayload is the payload of a CREATE_NODE command.
type CreateNodePayload struct {
	NodeID       string         `json:"node_id,omitempty"`
	ParentNodeID string         `json:"parent_node_id,omitempty"`
	Type         string         `json:"type"`
	Status       NodeStatus     `json:"status,omitempty"`
	Config       NodeConfig     `json:"config,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpdateNodePayload is the payload of an UPDATE_NODE command.
type UpdateNodePayload struct {
	NodeID        string          `json:"node_id"`
	Status        NodeStatus      `json:"status,omitempty"`
	Config        *NodeConfig     `json:"config,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	MergeMetadata *bool           `json:"merge_metadata,omitempty"`
	// MetadataPatch is a domain enrichment: an RFC 6902 JSON Patch applied
	// to the existing metadata, as an alternative to merge/replace.
	MetadataPatch json.RawMessage `json:"metadata_patch,omitempty"`
}

// DeleteNodePayload is the payload of a DELETE_NODE command.
type DeleteNodePayload struct {
	NodeID string `json:"node_id"`
}

// CreateDataPayload is the payload of a CREATE_DATA command.
type CreateDataPayload struct {
	DataID        string         `json:"data_id,omitempty"`
	NodeID        string         `json:"node_id,omitempty"`
	Type          string         `json:"type"`
	Discriminator string         `json:"discriminator,omitempty"`
	Key           string         `json:"key,omitempty"`
	Content       any            `json:"content"`
	ContentType   string         `json:"content_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// UpdateDataPayload is the payload of an UPDATE_DATA command.
type UpdateDataPayload struct {
	DataID      string         `json:"data_id"`
	Content     any            `json:"content,omitempty"`
	HasContent  bool           `json:"-"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DeleteDataPayload is the payload of a DELETE_DATA command.
type DeleteDataPayload struct {
	DataID string `json:"data_id"`
}

// CreateWorkflowPayload is the payload of a CREATE_WORKFLOW command.
type CreateWorkflowPayload struct {
	DataflowID       string         `json:"dataflow_id,omitempty"`
	ParentDataflowID string         `json:"parent_dataflow_id,omitempty"`
	ActorID          string         `json:"actor_id"`
	Type             string         `json:"type"`
	Status           WorkflowStatus `json:"status,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// UpdateWorkflowPayload is the payload of an UPDATE_WORKFLOW command.
type UpdateWorkflowPayload struct {
	DataflowID    string          `json:"dataflow_id"`
	Status        WorkflowStatus  `json:"status,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	MergeMetadata *bool           `json:"merge_metadata,omitempty"`
	MetadataPatch json.RawMessage `json:"metadata_patch,omitempty"`
	LastCommitID  string          `json:"last_commit_id,omitempty"`
}

// DeleteWorkflowPayload is the payload of a DELETE_WORKFLOW command.
type DeleteWorkflowPayload struct {
	DataflowID string `json:"dataflow_id"`
}

// ApplyCommitPayload is the payload of an APPLY_COMMIT command: it inlines
// a previously submitted commit's commands into the current batch.
type ApplyCommitPayload struct {
	CommitID string `json:"commit_id"`
}

// Command is a tagged union of the ten mutation command types. Exactly one
// of the typed payload fields is populated, matching Type.
type Command struct {
	Type CommandType

	CreateNode     *CreateNodePayload
	UpdateNode     *UpdateNodePayload
	DeleteNode     *DeleteNodePayload
	CreateData     *CreateDataPayload
	UpdateData     *UpdateDataPayload
	DeleteData     *DeleteDataPayload
	CreateWorkflow *CreateWorkflowPayload
	UpdateWorkflow *UpdateWorkflowPayload
	DeleteWorkflow *DeleteWorkflowPayload
	ApplyCommit    *ApplyCommitPayload
}

type wireCommand struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON renders a Command as {"type": ..., "payload": ...}.
func (c Command) MarshalJSON() ([]byte, error) {
	var payload any
	switch c.Type {
	case CmdCreateNode:
		payload = c.CreateNode
	case CmdUpdateNode:
		payload = c.UpdateNode
	case CmdDeleteNode:
		payload = c.DeleteNode
	case CmdCreateData:
		payload = c.CreateData
	case CmdUpdateData:
		payload = c.UpdateData
	case CmdDeleteData:
		payload = c.DeleteData
	case CmdCreateWorkflow:
		payload = c.CreateWorkflow
	case CmdUpdateWorkflow:
		payload = c.UpdateWorkflow
	case CmdDeleteWorkflow:
		payload = c.DeleteWorkflow
	case CmdApplyCommit:
		payload = c.ApplyCommit
	default:
		return nil, fmt.Errorf("command: unknown command type %q", c.Type)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("command: marshal payload for %s: %w", c.Type, err)
	}
	return json.Marshal(wireCommand{Type: c.Type, Payload: rawPayload})
}

// UnmarshalJSON parses a tagged command, rejecting unknown type tags.
func (c *Command) UnmarshalJSON(data []byte) error {
	var wire wireCommand
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("command: decode envelope: %w", err)
	}

	c.Type = wire.Type

	switch wire.Type {
	case CmdCreateNode:
		c.CreateNode = &CreateNodePayload{}
		return unmarshalPayload(wire.Payload, c.CreateNode)
	case CmdUpdateNode:
		c.UpdateNode = &UpdateNodePayload{}
		return unmarshalPayload(wire.Payload, c.UpdateNode)
	case CmdDeleteNode:
		c.DeleteNode = &DeleteNodePayload{}
		return unmarshalPayload(wire.Payload, c.DeleteNode)
	case CmdCreateData:
		c.CreateData = &CreateDataPayload{}
		return unmarshalPayload(wire.Payload, c.CreateData)
	case CmdUpdateData:
		c.UpdateData = &UpdateDataPayload{}
		if err := unmarshalPayload(wire.Payload, c.UpdateData); err != nil {
			return err
		}
		c.UpdateData.HasContent = hasJSONKey(wire.Payload, "content")
		return nil
	case CmdDeleteData:
		c.DeleteData = &DeleteDataPayload{}
		return unmarshalPayload(wire.Payload, c.DeleteData)
	case CmdCreateWorkflow:
		c.CreateWorkflow = &CreateWorkflowPayload{}
		return unmarshalPayload(wire.Payload, c.CreateWorkflow)
	case CmdUpdateWorkflow:
		c.UpdateWorkflow = &UpdateWorkflowPayload{}
		return unmarshalPayload(wire.Payload, c.UpdateWorkflow)
	case CmdDeleteWorkflow:
		c.DeleteWorkflow = &DeleteWorkflowPayload{}
		return unmarshalPayload(wire.Payload, c.DeleteWorkflow)
	case CmdApplyCommit:
		c.ApplyCommit = &ApplyCommitPayload{}
		return unmarshalPayload(wire.Payload, c.ApplyCommit)
	default:
		return fmt.Errorf("command: unknown command type %q", wire.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("command: decode payload: %w", err)
	}
	return nil
}

func hasJSONKey(raw json.RawMessage, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
