package observability

import "time"

// StreamRoutingKey is the routing key for live subscription lifecycle events.
const StreamRoutingKey = "ws_events.rooms"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// StreamIdentity identifies the connection a stream event belongs to.
type StreamIdentity struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	ConnectedAt time.Time
}

// NewStreamEvent builds the envelope for a subscription lifecycle event.
func NewStreamEvent(transport, event, roomID string, id StreamIdentity, reason string) EventEnvelope {
	duration := int64(0)
	if !id.ConnectedAt.IsZero() {
		duration = time.Since(id.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        transport,
				"resource_id": roomID,
				"event":       event,
				"conn_id":     id.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   id.UserID,
				"device_id": id.DeviceID,
				"ip":        id.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
