package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         zerolog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	RoomID        string       `json:"room_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         logger.With().Str("component", "audit").Logger(),
	}
}

// Emit publishes an audit record. A nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID, userID, roomID string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug().Str("level", level).Str("request_id", requestID).Str("user_id", userID).Str("room_id", roomID).Str("text", text).Msg("audit emit")
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		RoomID:        roomID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn().Err(err).Msg("audit publish failed")
	}
}
