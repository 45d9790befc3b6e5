package domain

import "strconv"

type RoomID int64

func (id RoomID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseRoomID parses a path parameter into a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return RoomID(n), nil
}

type Room struct {
	ID      RoomID `json:"room_id"`
	Name    string `json:"room_name"`
	OwnerID UserID `json:"user_id"`
}
