package http

import (
	"net/http"

	"github.com/dkeye/parlor/internal/app"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/gin-gonic/gin"
)

// presenceHandler answers GET /api/users/presence/:room_id.
// An empty snapshot is reported as not found.
func presenceHandler(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, err := domain.ParseRoomID(c.Param("room_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		presence := reg.GetPresence(roomID)
		if len(presence) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no presence for room"})
			return
		}
		c.JSON(http.StatusOK, presence)
	}
}

func activeRoomsHandler(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": reg.ActiveRooms()})
	}
}

func statsHandler(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := reg.Stats()
		c.JSON(http.StatusOK, gin.H{
			"active_rooms":     st.ActiveRooms,
			"online_users":     st.OnlineUsers,
			"known_users":      st.KnownUsers,
			"total_broadcasts": st.TotalBroadcasts,
			"dropped_frames":   st.DroppedFrames,
			"uptime":           st.Uptime.String(),
		})
	}
}
