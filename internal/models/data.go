package models

import "time"

// Well-known data record semantic types (spec.md §3).
const (
	DataTypeWorkflowInput  = "workflow_input"
	DataTypeNodeInput      = "node_input"
	DataTypeNodeResult     = "node_result"
	DataTypeWorkflowOutput = "workflow_output"
	DataTypeNodeYield      = "node_yield"
)

// ReferenceContentType marks a data record whose content is a pointer
// (its Key holds the referent's DataID) to another record in the same
// workflow.
const ReferenceContentType = "dataflow/reference"

// Result discriminators used on node_result records.
const (
	DiscriminatorResultSuccess = "result.success"
	DiscriminatorResultError   = "result.error"
)

// DefaultContentType is used by CREATE_DATA when none is supplied.
const DefaultContentType = "application/json"

// Data is a typed, keyed value associated with a workflow and optionally a
// node. A record with ContentType == ReferenceContentType is a pointer:
// its Key is the DataID of the referent.
type Data struct {
	DataID        string
	DataflowID    string
	NodeID        *string
	Type          string
	Discriminator *string
	Key           *string
	Content       []byte
	ContentType   string
	Metadata      map[string]any
	CreatedAt     time.Time

	// Populated only when a reader resolves references (resolve_references).
	RefDataID      *string
	RefContent     []byte
	RefContentType *string
}

// IsReference reports whether this record is a pointer to another record.
func (d *Data) IsReference() bool {
	return d.ContentType == ReferenceContentType
}
