package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"roomchat/internal/models"
	"roomchat/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, owner, name string, isPublic bool) (models.Room, models.Message, error) {
	args := m.Called(ctx, owner, name, isPublic)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	var msg models.Message
	if val := args.Get(1); val != nil {
		msg = val.(models.Message)
	}
	return room, msg, args.Error(2)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListUserRooms(ctx context.Context, owner string) ([]models.Room, error) {
	args := m.Called(ctx, owner)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) ListGlobalRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) ListPublicRooms(ctx context.Context, excluding string) ([]models.Room, error) {
	args := m.Called(ctx, excluding)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, roomID, owner, payload string) (models.Message, error) {
	args := m.Called(ctx, roomID, owner, payload)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Range(ctx context.Context, roomID string, fromExclusive, toInclusive int64) ([]models.Message, error) {
	args := m.Called(ctx, roomID, fromExclusive, toInclusive)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Tail(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

type CheckpointRepositoryMock struct {
	mock.Mock
}

func (m *CheckpointRepositoryMock) Get(ctx context.Context, userID, roomID string) (int64, error) {
	args := m.Called(ctx, userID, roomID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *CheckpointRepositoryMock) Advance(ctx context.Context, userID, roomID string, messageID int64) error {
	args := m.Called(ctx, userID, roomID, messageID)
	return args.Error(0)
}

type TailAdvancerMock struct {
	mock.Mock
}

func (m *TailAdvancerMock) Advance(roomID string, tail int64) bool {
	args := m.Called(roomID, tail)
	return args.Bool(0)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.CheckpointRepository = (*CheckpointRepositoryMock)(nil)
