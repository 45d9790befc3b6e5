package domain

// Event is a single line delivered to every member of a room.
// System events are join/leave announcements and celebrations.
type Event struct {
	RoomID   RoomID `json:"room_id"`
	Message  string `json:"message"`
	IsSystem bool   `json:"is_system"`
	Username string `json:"username"`
}
