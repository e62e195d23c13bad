// Package protocol defines the wire shape of attendant-notification
// events broadcast to websocket-connected human operators.
package protocol

// ProtocolVersion is reported on /health so operators can confirm the
// gateway build they're talking to.
const ProtocolVersion = 1

// Attendant event names pushed over the websocket broadcast.
const (
	EventSessionAssigned = "session.assigned"
	EventMessageReceived = "message.received"
	EventAutomationFired = "automation.fired"
	EventRenderProgress  = "render.progress"
	EventHealth          = "health"
)

// EventFrame is the JSON envelope written to every attendant websocket
// client for a broadcast AttendantEvent.
type EventFrame struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame for the given event name/payload.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Name: name, Payload: payload}
}
