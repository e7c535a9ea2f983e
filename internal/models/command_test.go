package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_RoundTripsThroughJSONPerType(t *testing.T) {
	cases := []Command{
		{
			Type: CmdCreateNode,
			CreateNode: &CreateNodePayload{
				NodeID: "n1", Type: "func", Status: NodePending,
				Config: NodeConfig{FuncID: "merge"},
			},
		},
		{
			Type:       CmdUpdateNode,
			UpdateNode: &UpdateNodePayload{NodeID: "n1", Status: NodeCompleted},
		},
		{
			Type:       CmdDeleteNode,
			DeleteNode: &DeleteNodePayload{NodeID: "n1"},
		},
		{
			Type: CmdCreateData,
			CreateData: &CreateDataPayload{
				DataID: "d1", NodeID: "n1", Type: DataTypeNodeInput,
				Content: map[string]any{"a": float64(1)},
			},
		},
		{
			Type:       CmdUpdateData,
			UpdateData: &UpdateDataPayload{DataID: "d1", Content: "x", HasContent: true},
		},
		{
			Type:       CmdDeleteData,
			DeleteData: &DeleteDataPayload{DataID: "d1"},
		},
		{
			Type: CmdCreateWorkflow,
			CreateWorkflow: &CreateWorkflowPayload{
				DataflowID: "wf1", ActorID: "actor-1", Type: "demo",
			},
		},
		{
			Type:           CmdUpdateWorkflow,
			UpdateWorkflow: &UpdateWorkflowPayload{DataflowID: "wf1", Status: WorkflowRunning},
		},
		{
			Type:           CmdDeleteWorkflow,
			DeleteWorkflow: &DeleteWorkflowPayload{DataflowID: "wf1"},
		},
		{
			Type:        CmdApplyCommit,
			ApplyCommit: &ApplyCommitPayload{CommitID: "c1"},
		},
	}

	for _, original := range cases {
		t.Run(string(original.Type), func(t *testing.T) {
			raw, err := json.Marshal(original)
			require.NoError(t, err)

			var decoded Command
			require.NoError(t, json.Unmarshal(raw, &decoded))

			assert.Equal(t, original.Type, decoded.Type)

			reencoded, err := json.Marshal(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(raw), string(reencoded))
		})
	}
}

func TestCommand_UnknownTypeRejectedOnMarshalAndUnmarshal(t *testing.T) {
	_, err := json.Marshal(Command{Type: "NOT_A_COMMAND"})
	assert.Error(t, err)

	var c Command
	err = json.Unmarshal([]byte(`{"type":"NOT_A_COMMAND","payload":{}}`), &c)
	assert.Error(t, err)
}

func TestCommand_UpdateDataHasContentDistinguishesAbsentFromNull(t *testing.T) {
	var withContent Command
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"UPDATE_DATA","payload":{"data_id":"d1","content":null}}`), &withContent))
	assert.True(t, withContent.UpdateData.HasContent, "an explicit null content key must still count as present")

	var withoutContent Command
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"UPDATE_DATA","payload":{"data_id":"d1"}}`), &withoutContent))
	assert.False(t, withoutContent.UpdateData.HasContent)
}

func TestNodeStatus_Terminal(t *testing.T) {
	cases := []struct {
		status   NodeStatus
		terminal bool
	}{
		{NodeTemplate, false},
		{NodePending, false},
		{NodeRunning, false},
		{NodeCompleted, true},
		{NodeFailed, true},
		{NodeCancelled, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.terminal, tc.status.Terminal(), "status %s", tc.status)
	}
}

func TestWorkflowStatus_Terminal(t *testing.T) {
	cases := []struct {
		status   WorkflowStatus
		terminal bool
	}{
		{WorkflowPending, false},
		{WorkflowRunning, false},
		{WorkflowCompletedSuccess, true},
		{WorkflowCompletedFailure, true},
		{WorkflowCancelled, true},
		{WorkflowTerminated, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.terminal, tc.status.Terminal(), "status %s", tc.status)
	}
}
