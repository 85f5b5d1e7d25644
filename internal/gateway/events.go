package gateway

// Event represents a gateway lifecycle event.
// Minimal and stable: name + model/request ids and optional fields.
type Event struct {
	Name      string
	ModelID   string
	RequestID string
	Fields    map[string]any
}

// Event names published by the gateway.
const (
	EventAdmit          = "admit"
	EventReject         = "reject"
	EventDispatch       = "dispatch"
	EventModelUnload    = "model_unload"
	EventModelLoad      = "model_load"
	EventStreamStart    = "stream_start"
	EventComplete       = "complete"
	EventFail           = "fail"
	EventCancel         = "cancel"
	EventSessionRestart = "session_restart"
	EventEvict          = "evict"
)

// EventPublisher receives events from the gateway. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
