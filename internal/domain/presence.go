package domain

// PresenceEntry is one row of a room presence snapshot.
type PresenceEntry struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}
