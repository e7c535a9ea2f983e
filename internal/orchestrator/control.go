package orchestrator

// ControlAction is the kind of out-of-band request a client can send a
// running driver, distinct from the commit-log's own "wake up and drain"
// notifications.
type ControlAction string

const (
	ActionCancel    ControlAction = "cancel"
	ActionTerminate ControlAction = "terminate"
)

// ControlMessage is sent on a workflow's control topic to request
// cancellation or a hard terminate.
type ControlMessage struct {
	Action ControlAction `json:"action"`
}

// ControlTopic is the mailbox topic a driver listens on for ControlMessage
// requests from the API layer.
func ControlTopic(dataflowID string) string {
	return "dataflow.control:" + dataflowID
}

// decodeControlAction recovers the action from a mailbox payload, which
// arrives as a ControlMessage in-process or a map[string]any when decoded
// off the wire (redisproc).
func decodeControlAction(payload any) (ControlAction, bool) {
	switch v := payload.(type) {
	case ControlMessage:
		return v.Action, v.Action != ""
	case map[string]any:
		if action, ok := v["action"].(string); ok && action != "" {
			return ControlAction(action), true
		}
	}
	return "", false
}
