// Package chat implements room lifecycle and the message write/read paths.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"roomchat/internal/access"
	"roomchat/internal/models"
	"roomchat/internal/observability"
	"roomchat/internal/repositories"
)

// MaxPayloadBytes bounds a single message payload.
const MaxPayloadBytes = 4000

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// TailAdvancer is told about every committed append so local subscribers wake
// without waiting for the storage watch.
type TailAdvancer interface {
	Advance(roomID string, tail int64) bool
}

// Service is the room/message API used by the transports.
type Service struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	guard    *access.Guard
	tails    TailAdvancer
	retries  int
	log      zerolog.Logger
}

// NewService constructs a Service. retries bounds append attempts on write conflicts.
func NewService(rooms repositories.RoomRepository, messages repositories.MessageRepository, guard *access.Guard, tails TailAdvancer, retries int, logger zerolog.Logger) *Service {
	if retries <= 0 {
		retries = 1
	}
	return &Service{
		rooms:    rooms,
		messages: messages,
		guard:    guard,
		tails:    tails,
		retries:  retries,
		log:      logger.With().Str("component", "chat").Logger(),
	}
}

// ValidRoomName reports whether name is a non-empty alphanumeric room name.
func ValidRoomName(name string) bool {
	return roomNamePattern.MatchString(name)
}

// CreateRoom creates a room owned by owner together with its welcome message.
func (s *Service) CreateRoom(ctx context.Context, owner, name string, isPublic bool) (models.Room, error) {
	if name == "" {
		return models.Room{}, ErrMissingRoom
	}
	if !ValidRoomName(name) {
		return models.Room{}, ErrInvalidName
	}

	room, welcome, err := s.rooms.CreateRoom(ctx, owner, name, isPublic)
	if errors.Is(err, repositories.ErrRoomExists) {
		return models.Room{}, ErrRoomExists
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("%w: create room: %v", ErrStorageUnavailable, err)
	}

	s.tails.Advance(room.ID, welcome.ID)
	s.log.Info().Str("owner", owner).Str("room", room.ID).Str("name", name).Bool("public", isPublic).Msg("room created")
	return room, nil
}

// SeedGlobalRooms creates the named global rooms if they do not exist yet.
func (s *Service) SeedGlobalRooms(ctx context.Context, names []string) error {
	for _, name := range names {
		_, err := s.CreateRoom(ctx, models.GlobalOwner, name, false)
		if err != nil && !errors.Is(err, ErrRoomExists) {
			return fmt.Errorf("seed global room %q: %w", name, err)
		}
	}
	return nil
}

// ListRooms returns the caller's rooms, the global rooms and other users' public rooms.
func (s *Service) ListRooms(ctx context.Context, userID string) (models.RoomListing, error) {
	userRooms, err := s.rooms.ListUserRooms(ctx, userID)
	if err != nil {
		return models.RoomListing{}, fmt.Errorf("%w: list user rooms: %v", ErrStorageUnavailable, err)
	}
	globalRooms, err := s.rooms.ListGlobalRooms(ctx)
	if err != nil {
		return models.RoomListing{}, fmt.Errorf("%w: list global rooms: %v", ErrStorageUnavailable, err)
	}
	publicRooms, err := s.rooms.ListPublicRooms(ctx, userID)
	if err != nil {
		return models.RoomListing{}, fmt.Errorf("%w: list public rooms: %v", ErrStorageUnavailable, err)
	}
	return models.RoomListing{UserRooms: userRooms, GlobalRooms: globalRooms, PublicRooms: publicRooms}, nil
}

// Authorize resolves roomID for userID. Missing and forbidden rooms both yield ErrNotFound.
func (s *Service) Authorize(ctx context.Context, userID, roomID string) (models.Room, error) {
	if roomID == "" {
		return models.Room{}, ErrMissingRoom
	}
	room, decision, err := s.guard.Check(ctx, roomID, userID)
	if err != nil {
		return models.Room{}, fmt.Errorf("%w: access check: %v", ErrStorageUnavailable, err)
	}
	if decision != access.Allowed {
		s.log.Warn().Str("user", userID).Str("room", roomID).Stringer("decision", decision).Msg("room access denied")
		return models.Room{}, ErrNotFound
	}
	return room, nil
}

// PostMessage appends payload to roomID as userID, retrying write conflicts.
func (s *Service) PostMessage(ctx context.Context, userID, roomID, payload string) (models.Message, error) {
	if strings.TrimSpace(payload) == "" || len(payload) > MaxPayloadBytes {
		return models.Message{}, ErrInvalidPayload
	}
	if _, err := s.Authorize(ctx, userID, roomID); err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	op := func() error {
		var err error
		msg, err = s.messages.Append(ctx, roomID, userID, payload)
		if errors.Is(err, repositories.ErrWriteConflict) {
			observability.IncWriteConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.retries-1)), ctx))
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrWriteConflict):
		return models.Message{}, ErrWriteConflict
	case errors.Is(err, repositories.ErrRoomNotFound):
		return models.Message{}, ErrNotFound
	default:
		return models.Message{}, fmt.Errorf("%w: append: %v", ErrStorageUnavailable, err)
	}

	s.tails.Advance(roomID, msg.ID)
	return msg, nil
}

// GetChannelHistory returns the full message log of roomID in id order.
func (s *Service) GetChannelHistory(ctx context.Context, userID, roomID string) ([]models.Message, error) {
	if _, err := s.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	tail, err := s.messages.Tail(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: tail: %v", ErrStorageUnavailable, err)
	}
	msgs, err := s.messages.Range(ctx, roomID, models.BeginningOfRoom, tail)
	if err != nil {
		return nil, fmt.Errorf("%w: range: %v", ErrStorageUnavailable, err)
	}
	return msgs, nil
}
