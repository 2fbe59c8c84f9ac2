package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomchat/internal/access"
	"roomchat/internal/chat"
	"roomchat/internal/db"
	"roomchat/internal/mocks"
	"roomchat/internal/models"
	"roomchat/internal/notify"
	"roomchat/internal/repositories"
)

type chanSink chan models.Message

func (s chanSink) Send(ctx context.Context, msg models.Message) error {
	select {
	case s <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type failingSink struct{}

func (failingSink) Send(context.Context, models.Message) error {
	return errors.New("broken pipe")
}

type fixture struct {
	svc         *chat.Service
	engine      *Engine
	messages    *repositories.MessageRepo
	checkpoints *repositories.CheckpointRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Connect(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rooms := repositories.NewRoomRepo(conn)
	messages := repositories.NewMessageRepo(conn)
	checkpoints := repositories.NewCheckpointRepo(conn)
	tails := notify.NewTailNotifier(messages.Tail, time.Minute, zerolog.Nop())
	svc := chat.NewService(rooms, messages, access.NewGuard(rooms), tails, 3, zerolog.Nop())

	return &fixture{
		svc:         svc,
		engine:      NewEngine(svc, messages, checkpoints, tails, zerolog.Nop()),
		messages:    messages,
		checkpoints: checkpoints,
	}
}

func (f *fixture) subscribe(t *testing.T, userID, roomID string) (chanSink, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sink := make(chanSink, 16)
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, userID, roomID, sink) }()
	t.Cleanup(cancel)
	return sink, done, cancel
}

func receive(t *testing.T, sink chanSink) models.Message {
	t.Helper()
	select {
	case msg := <-sink:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return models.Message{}
	}
}

func assertQuiet(t *testing.T, sink chanSink) {
	t.Helper()
	select {
	case msg := <-sink:
		t.Fatalf("unexpected delivery %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPrivateRoomScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "alice", "abc", false)
	require.NoError(t, err)

	err = f.engine.Run(ctx, "bob", room.ID, make(chanSink, 1))
	assert.ErrorIs(t, err, chat.ErrNotFound)

	sink, _, _ := f.subscribe(t, "alice", room.ID)
	welcome := receive(t, sink)
	assert.Equal(t, models.SystemOwner, welcome.Owner)
	assert.Equal(t, "Welcome to abc", welcome.Payload)

	_, err = f.svc.PostMessage(ctx, "alice", room.ID, "hi")
	require.NoError(t, err)

	msg := receive(t, sink)
	assert.Equal(t, "alice", msg.Owner)
	assert.Equal(t, "hi", msg.Payload)
	assertQuiet(t, sink)
}

func TestRunRejectsMissingRoom(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Run(context.Background(), "alice", "", make(chanSink, 1))
	assert.ErrorIs(t, err, chat.ErrMissingRoom)

	err = f.engine.Run(context.Background(), "alice", "does-not-exist", make(chanSink, 1))
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestCatchUpIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, "alice", room.ID, "one")
	require.NoError(t, err)

	sink := make(chanSink, 16)
	cursor, tail, err := f.engine.deliver(ctx, "bob", room.ID, models.BeginningOfRoom, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
	assert.Equal(t, int64(2), tail)
	assert.Len(t, sink, 2)

	msgs, _, err := f.engine.pending(ctx, room.ID, cursor)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	stored, err := f.checkpoints.Get(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)
}

func TestReconnectResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "alice", "abc", false)
	require.NoError(t, err)

	sink, done, cancel := f.subscribe(t, "alice", room.ID)
	receive(t, sink)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("delivery loop did not stop on cancel")
	}

	_, err = f.svc.PostMessage(ctx, "alice", room.ID, "while away")
	require.NoError(t, err)

	sink, _, _ = f.subscribe(t, "alice", room.ID)
	msg := receive(t, sink)
	assert.Equal(t, "while away", msg.Payload)
	assertQuiet(t, sink)
}

func TestSubscriptionMatchesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)

	sink, _, _ := f.subscribe(t, "bob", room.ID)
	for _, payload := range []string{"a", "b", "c"} {
		_, err := f.svc.PostMessage(ctx, "alice", room.ID, payload)
		require.NoError(t, err)
	}

	var got []models.Message
	for i := 0; i < 4; i++ {
		got = append(got, receive(t, sink))
	}

	history, err := f.svc.GetChannelHistory(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, history, got)
}

func TestSinkFailureEndsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "alice", "abc", false)
	require.NoError(t, err)

	err = f.engine.Run(ctx, "alice", room.ID, failingSink{})
	assert.EqualError(t, err, "send: broken pipe")
}

func TestStorageErrorsAreRetried(t *testing.T) {
	auth := new(authorizerMock)
	messages := new(mocks.MessageRepositoryMock)
	checkpoints := new(mocks.CheckpointRepositoryMock)
	auth.On("Authorize", mock.Anything, "alice", "r1").Return(models.Room{ID: "r1"}, nil)
	checkpoints.On("Get", mock.Anything, "alice", "r1").Return(int64(0), nil)
	messages.On("Tail", mock.Anything, "r1").Return(int64(0), errors.New("connection reset")).Once()
	messages.On("Tail", mock.Anything, "r1").Return(int64(1), nil)
	welcome := models.Message{ID: 1, RoomID: "r1", Owner: models.SystemOwner, Payload: "Welcome to r1"}
	messages.On("Range", mock.Anything, "r1", int64(0), int64(1)).Return([]models.Message{welcome}, nil)
	checkpoints.On("Advance", mock.Anything, "alice", "r1", int64(1)).Return(nil)

	tails := notify.NewTailNotifier(messages.Tail, time.Minute, zerolog.Nop())
	engine := NewEngine(auth, messages, checkpoints, tails, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chanSink, 1)
	go func() { _ = engine.Run(ctx, "alice", "r1", sink) }()

	assert.Equal(t, welcome, receive(t, sink))
}

func TestEmptyRoomWaitsForFirstAdvance(t *testing.T) {
	auth := new(authorizerMock)
	messages := new(mocks.MessageRepositoryMock)
	checkpoints := new(mocks.CheckpointRepositoryMock)
	auth.On("Authorize", mock.Anything, "alice", "r1").Return(models.Room{ID: "r1"}, nil)
	checkpoints.On("Get", mock.Anything, "alice", "r1").Return(int64(0), nil)
	empty := make(chan struct{})
	messages.On("Tail", mock.Anything, "r1").Return(int64(0), nil).Once().Run(func(mock.Arguments) { close(empty) })
	messages.On("Tail", mock.Anything, "r1").Return(int64(1), nil)
	welcome := models.Message{ID: 1, RoomID: "r1", Owner: models.SystemOwner, Payload: "Welcome to r1"}
	messages.On("Range", mock.Anything, "r1", int64(0), int64(1)).Return([]models.Message{welcome}, nil)
	checkpoints.On("Advance", mock.Anything, "alice", "r1", int64(1)).Return(nil)

	tails := notify.NewTailNotifier(messages.Tail, time.Minute, zerolog.Nop())
	engine := NewEngine(auth, messages, checkpoints, tails, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chanSink, 1)
	errs := make(chan error, 1)
	go func() { errs <- engine.Run(ctx, "alice", "r1", sink) }()

	select {
	case <-empty:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never read the room tail")
	}
	assertQuiet(t, sink)
	select {
	case err := <-errs:
		t.Fatalf("run ended on an empty room: %v", err)
	default:
	}

	tails.Advance("r1", 1)
	assert.Equal(t, welcome, receive(t, sink))
	checkpoints.AssertNotCalled(t, "Advance", mock.Anything, "alice", "r1", int64(0))
}

type authorizerMock struct {
	mock.Mock
}

func (m *authorizerMock) Authorize(ctx context.Context, userID, roomID string) (models.Room, error) {
	args := m.Called(ctx, userID, roomID)
	return args.Get(0).(models.Room), args.Error(1)
}
