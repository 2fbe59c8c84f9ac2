package models

// BeginningOfRoom is the cursor placed before the first message of any room.
const BeginningOfRoom int64 = 0

// Message is an immutable entry in a room's log. IDs are strictly increasing per room.
type Message struct {
	ID        int64  `db:"id" json:"id"`
	RoomID    string `db:"room_id" json:"room"`
	Owner     string `db:"owner" json:"owner"`
	Payload   string `db:"payload" json:"payload"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
}

// Checkpoint is the last message delivered to a user in a room.
type Checkpoint struct {
	UserID     string `db:"user_id" json:"user"`
	RoomID     string `db:"room_id" json:"room"`
	LastSeenID int64  `db:"last_seen" json:"lastSeenMessageId"`
}

// RoomEvent is pushed to live subscribers.
type RoomEvent struct {
	Type    string   `json:"type"`
	Room    string   `json:"room"`
	Message *Message `json:"message,omitempty"`
	Online  *int     `json:"online,omitempty"`
}

// OnlineEvent reports a room's online count. A zero count is still encoded.
func OnlineEvent(roomID string, online int) RoomEvent {
	return RoomEvent{Type: "online", Room: roomID, Online: &online}
}
