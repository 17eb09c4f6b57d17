package protocol

import "time"

const (
	// SubjectTrigger starts a listening turn when the trigger mode is bus.
	SubjectTrigger = "voice.trigger"
	// SubjectEventPrefix carries pipeline events as voice.event.<type>.
	SubjectEventPrefix = "voice.event"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)

// TriggerRequest asks the node to start listening for an utterance.
type TriggerRequest struct {
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Capability advertises one feature of a node.
type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeAnnounce is published once on start and whenever a peer announces.
type NodeAnnounce struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NodeHeartbeat carries liveness plus the node's conversation state.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSubject returns the bus subject for a pipeline event type.
func EventSubject(eventType string) string {
	return SubjectEventPrefix + "." + eventType
}

// HeartbeatSubject returns the heartbeat subject for a node.
func HeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeatPrefix + "." + nodeID
}
