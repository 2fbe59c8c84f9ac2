package models

// Reserved identities. Neither can be resolved as a user.
const (
	GlobalOwner = "__admin__"
	SystemOwner = "__system__"
)

// Room represents a named channel grouping messages.
type Room struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	CreatedBy string `db:"created_by" json:"createdBy"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
	IsPublic  bool   `db:"is_public" json:"isPublic"`
}

// IsGlobal reports whether the room is owned by the reserved global owner.
func (r Room) IsGlobal() bool {
	return r.CreatedBy == GlobalOwner
}

// RoomListing groups the rooms visible to a user.
type RoomListing struct {
	UserRooms   []Room `json:"userRooms"`
	GlobalRooms []Room `json:"globalRooms"`
	PublicRooms []Room `json:"publicRooms"`
}
