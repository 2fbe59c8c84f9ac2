// Package delivery streams a room's messages to one live connection: it
// catches the connection up from its checkpoint and then follows the room tail.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"roomchat/internal/chat"
	"roomchat/internal/models"
	"roomchat/internal/notify"
	"roomchat/internal/observability"
	"roomchat/internal/repositories"
)

// Sink receives messages for one connection in id order.
type Sink interface {
	Send(ctx context.Context, msg models.Message) error
}

// Authorizer resolves whether a user may read a room.
type Authorizer interface {
	Authorize(ctx context.Context, userID, roomID string) (models.Room, error)
}

// Engine runs delivery loops. One Engine serves every connection.
type Engine struct {
	auth        Authorizer
	messages    repositories.MessageRepository
	checkpoints repositories.CheckpointRepository
	tails       *notify.TailNotifier
	log         zerolog.Logger
	tracer      trace.Tracer
	maxBackoff  time.Duration
}

func NewEngine(auth Authorizer, messages repositories.MessageRepository, checkpoints repositories.CheckpointRepository, tails *notify.TailNotifier, logger zerolog.Logger) *Engine {
	return &Engine{
		auth:        auth,
		messages:    messages,
		checkpoints: checkpoints,
		tails:       tails,
		log:         logger.With().Str("component", "delivery").Logger(),
		tracer:      otel.Tracer("roomchat/delivery"),
		maxBackoff:  5 * time.Second,
	}
}

type sinkError struct{ err error }

func (e *sinkError) Error() string { return "send: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// Validate runs the resolving and authorizing steps without subscribing.
func (e *Engine) Validate(ctx context.Context, userID, roomID string) error {
	if roomID == "" {
		return chat.ErrMissingRoom
	}
	_, err := e.auth.Authorize(ctx, userID, roomID)
	return err
}

// Run delivers roomID's messages to sink until ctx ends or the sink fails.
// Pre-stream failures are returned as chat taxonomy errors; a closed
// connection returns nil.
func (e *Engine) Run(ctx context.Context, userID, roomID string, sink Sink) error {
	if err := e.Validate(ctx, userID, roomID); err != nil {
		return err
	}

	log := e.log.With().Str("user", userID).Str("room", roomID).Logger()
	sub := e.tails.Subscribe(roomID)
	defer sub.Cancel()

	var cursor int64
	err := e.retry(ctx, log, func() error {
		var err error
		cursor, err = e.checkpoints.Get(ctx, userID, roomID)
		return err
	})
	if err != nil {
		return closed(err)
	}

	for {
		var tail int64
		err := e.retry(ctx, log, func() error {
			var err error
			cursor, tail, err = e.deliver(ctx, userID, roomID, cursor, sink)
			return err
		})
		if err != nil {
			return closed(err)
		}

		if _, err := sub.AwaitAdvance(ctx, tail); err != nil {
			return closed(err)
		}
	}
}

// retry re-runs op on storage errors with capped exponential backoff until ctx
// ends. Sink errors are permanent.
func (e *Engine) retry(ctx context.Context, log zerolog.Logger, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = e.maxBackoff
	policy.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := op()
		var se *sinkError
		if errors.As(err, &se) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("delivery storage error, re-arming")
	})
}

// deliver sends everything after cursor up to the current tail and records
// the checkpoint. It returns the new cursor and the tail it observed.
func (e *Engine) deliver(ctx context.Context, userID, roomID string, cursor int64, sink Sink) (int64, int64, error) {
	msgs, tail, err := e.pending(ctx, roomID, cursor)
	if err != nil {
		return cursor, tail, err
	}
	start := cursor
	for _, msg := range msgs {
		if err := sink.Send(ctx, msg); err != nil {
			e.commit(ctx, userID, roomID, start, cursor)
			return cursor, tail, &sinkError{err: err}
		}
		cursor = msg.ID
	}
	e.commit(ctx, userID, roomID, start, cursor)
	return cursor, tail, nil
}

// commit records delivery progress from start to cursor.
func (e *Engine) commit(ctx context.Context, userID, roomID string, start, cursor int64) {
	if cursor <= start {
		return
	}
	observability.AddDelivered(int(cursor - start))
	if err := e.checkpoints.Advance(context.WithoutCancel(ctx), userID, roomID, cursor); err != nil {
		// The connection keeps its own cursor; the checkpoint catches up on the next batch.
		e.log.Warn().Err(err).Str("user", userID).Str("room", roomID).Int64("cursor", cursor).Msg("checkpoint advance failed")
	}
}

// pending returns the messages in (cursor, tail] together with tail.
func (e *Engine) pending(ctx context.Context, roomID string, cursor int64) ([]models.Message, int64, error) {
	ctx, span := e.tracer.Start(ctx, "delivery.catch_up", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.Int64("delivery.cursor", cursor),
	))
	defer span.End()

	tail, err := e.messages.Tail(ctx, roomID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tail")
		return nil, cursor, fmt.Errorf("tail: %w", err)
	}
	span.SetAttributes(attribute.Int64("delivery.tail", tail))
	if tail == models.BeginningOfRoom {
		e.log.Warn().Str("room", roomID).Msg("room has no messages")
		return nil, tail, nil
	}
	if tail <= cursor {
		return nil, tail, nil
	}

	msgs, err := e.messages.Range(ctx, roomID, cursor, tail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "range")
		return nil, cursor, fmt.Errorf("range: %w", err)
	}
	span.SetAttributes(attribute.Int("delivery.count", len(msgs)))
	return msgs, tail, nil
}

func closed(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, notify.ErrCancelled) {
		return nil
	}
	return err
}
