// Package models holds the persistent data types shared by the storage,
// reader, command-engine, and orchestrator layers.
package models

import "time"

// WorkflowStatus enumerates the lifecycle states of a workflow (dataflow).
// Transitions are monotonic toward a terminal state; once terminal no
// further command mutates it.
type WorkflowStatus string

const (
	WorkflowPending           WorkflowStatus = "pending"
	WorkflowRunning           WorkflowStatus = "running"
	WorkflowCompletedSuccess  WorkflowStatus = "completed_success"
	WorkflowCompletedFailure  WorkflowStatus = "completed_failure"
	WorkflowCancelled         WorkflowStatus = "cancelled"
	WorkflowTerminated        WorkflowStatus = "terminated"
)

// Terminal reports whether the status is one of the workflow sinks.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompletedSuccess, WorkflowCompletedFailure, WorkflowCancelled, WorkflowTerminated:
		return true
	default:
		return false
	}
}

// Workflow is a top-level executable DAG instance with durable state.
type Workflow struct {
	DataflowID       string
	ParentDataflowID *string
	ActorID          string
	Type             string
	Status           WorkflowStatus
	Metadata         map[string]any
	LastCommitID     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
