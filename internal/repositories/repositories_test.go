package repositories

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/db"
	"roomchat/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Connect(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCreateRoomSeedsWelcomeMessage(t *testing.T) {
	conn := newTestDB(t)
	rooms := NewRoomRepo(conn)
	messages := NewMessageRepo(conn)
	ctx := context.Background()

	room, welcome, err := rooms.CreateRoom(ctx, "alice", "abc", false)
	require.NoError(t, err)
	assert.Equal(t, "abc", room.Name)
	assert.Equal(t, "alice", room.CreatedBy)
	assert.NotEmpty(t, room.ID)

	tail, err := messages.Tail(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tail)
	assert.Equal(t, welcome.ID, tail)

	msgs, err := messages.Range(ctx, room.ID, models.BeginningOfRoom, tail)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SystemOwner, msgs[0].Owner)
	assert.Equal(t, "Welcome to abc", msgs[0].Payload)
}

func TestCreateRoomDuplicateIsCaseInsensitivePerOwner(t *testing.T) {
	conn := newTestDB(t)
	rooms := NewRoomRepo(conn)
	ctx := context.Background()

	_, _, err := rooms.CreateRoom(ctx, "alice", "abc", false)
	require.NoError(t, err)

	_, _, err = rooms.CreateRoom(ctx, "alice", "ABC", false)
	require.ErrorIs(t, err, ErrRoomExists)

	_, _, err = rooms.CreateRoom(ctx, "bob", "abc", false)
	require.NoError(t, err)
}

func TestCreateRoomPublicNamesAreGloballyUnique(t *testing.T) {
	conn := newTestDB(t)
	rooms := NewRoomRepo(conn)
	ctx := context.Background()

	_, _, err := rooms.CreateRoom(ctx, "alice", "lounge", true)
	require.NoError(t, err)

	_, _, err = rooms.CreateRoom(ctx, "bob", "Lounge", true)
	require.ErrorIs(t, err, ErrRoomExists)

	// private rooms may share a public room's name
	_, _, err = rooms.CreateRoom(ctx, "bob", "lounge", false)
	require.NoError(t, err)
}

func TestConcurrentCreateRoomSingleWinner(t *testing.T) {
	conn := newTestDB(t)
	rooms := NewRoomRepo(conn)
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := rooms.CreateRoom(ctx, "alice", "abc", false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrRoomExists)
	}
	assert.Equal(t, 1, wins)
}

func TestListRooms(t *testing.T) {
	conn := newTestDB(t)
	rooms := NewRoomRepo(conn)
	ctx := context.Background()

	_, _, err := rooms.CreateRoom(ctx, models.GlobalOwner, "general", true)
	require.NoError(t, err)
	_, _, err = rooms.CreateRoom(ctx, "alice", "mine", true)
	require.NoError(t, err)
	_, _, err = rooms.CreateRoom(ctx, "alice", "secret", false)
	require.NoError(t, err)
	_, _, err = rooms.CreateRoom(ctx, "bob", "open", true)
	require.NoError(t, err)
	_, _, err = rooms.CreateRoom(ctx, "bob", "hidden", false)
	require.NoError(t, err)

	mine, err := rooms.ListUserRooms(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	global, err := rooms.ListGlobalRooms(ctx)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.True(t, global[0].IsGlobal())

	public, err := rooms.ListPublicRooms(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "open", public[0].Name)
	assert.True(t, public[0].IsPublic)
}

func TestGetRoomNotFound(t *testing.T) {
	conn := newTestDB(t)
	_, err := NewRoomRepo(conn).GetRoom(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestAppendUnknownRoom(t *testing.T) {
	conn := newTestDB(t)
	_, err := NewMessageRepo(conn).Append(context.Background(), "missing", "alice", "hi")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestConcurrentAppendsAssignUniqueIncreasingIDs(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	room, _, err := NewRoomRepo(conn).CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)
	messages := NewMessageRepo(conn)

	const writers = 25
	ids := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := messages.Append(ctx, room.ID, "alice", "hi")
			if err == nil {
				ids <- msg.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	require.Len(t, got, writers)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		assert.Equal(t, int64(i+2), id)
	}

	tail, err := messages.Tail(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), tail)
}

func TestRangeIsHalfOpenAndOrdered(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	room, _, err := NewRoomRepo(conn).CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)
	messages := NewMessageRepo(conn)

	for _, payload := range []string{"a", "b", "c"} {
		_, err := messages.Append(ctx, room.ID, "alice", payload)
		require.NoError(t, err)
	}

	msgs, err := messages.Range(ctx, room.ID, 1, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Payload)
	assert.Equal(t, "b", msgs[1].Payload)

	again, err := messages.Range(ctx, room.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)

	empty, err := messages.Range(ctx, room.ID, 4, 4)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCheckpointIsMonotonic(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	room, _, err := NewRoomRepo(conn).CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)
	other, _, err := NewRoomRepo(conn).CreateRoom(ctx, "alice", "def", true)
	require.NoError(t, err)
	checkpoints := NewCheckpointRepo(conn)

	cp, err := checkpoints.Get(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BeginningOfRoom, cp)

	require.NoError(t, checkpoints.Advance(ctx, "bob", room.ID, 5))
	require.NoError(t, checkpoints.Advance(ctx, "bob", room.ID, 3))

	cp, err = checkpoints.Get(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp)

	cp, err = checkpoints.Get(ctx, "bob", other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BeginningOfRoom, cp)
}

func TestCheckpointIsScopedToUserAndRoom(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	room, _, err := NewRoomRepo(conn).CreateRoom(ctx, "alice", "abc", true)
	require.NoError(t, err)
	checkpoints := NewCheckpointRepo(conn)

	require.NoError(t, checkpoints.Advance(ctx, "alice", room.ID, 2))
	require.NoError(t, checkpoints.Advance(ctx, "bob", room.ID, 7))

	var rows []models.Checkpoint
	require.NoError(t, conn.Select(&rows, `SELECT user_id, room_id, last_seen FROM checkpoints ORDER BY user_id`))
	require.Len(t, rows, 2)
	assert.Equal(t, models.Checkpoint{UserID: "alice", RoomID: room.ID, LastSeenID: 2}, rows[0])
	assert.Equal(t, models.Checkpoint{UserID: "bob", RoomID: room.ID, LastSeenID: 7}, rows[1])

	cp, err := checkpoints.Get(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp)
	cp, err = checkpoints.Get(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp)
}
