package models

// PresenceBeacon is an ephemeral, last-writer-wins presence signal.
type PresenceBeacon struct {
	UserID    string `json:"user"`
	RoomID    string `json:"room"`
	Present   bool   `json:"present"`
	Timestamp int64  `json:"ts"`
}
