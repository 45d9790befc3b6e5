package signal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/parlor/internal/app"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("not a member of the room")
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

type Options struct {
	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
}

// WsSignalConn is the websocket transport of one session.
// It implements core.SignalConnection.
type WsSignalConn struct {
	conn WSConn
	opts Options
	once sync.Once
}

func NewWsSignalConn(conn WSConn, opts Options) *WsSignalConn {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	c := &WsSignalConn{conn: conn, opts: opts}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PongWait > 0 {
		c.extendReadDeadline()
		conn.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
	}
	return c
}

func (c *WsSignalConn) extendReadDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("set read deadline")
	}
}

func (c *WsSignalConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *WsSignalConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// RoomDirectory answers whether a room exists and who may join it.
type RoomDirectory interface {
	RoomExists(ctx context.Context, room domain.RoomID) (bool, error)
	IsMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error)
}

// SignalWSController turns authorized websocket upgrades into sessions.
type SignalWSController struct {
	Registry *app.Registry
	Rooms    RoomDirectory
	Conn     Options
	Session  app.SessionOptions

	running sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authorize checks that the room exists and that user belongs to it.
func (ctl *SignalWSController) Authorize(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	ok, err := ctl.Rooms.RoomExists(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	ok, err = ctl.Rooms.IsMember(ctx, room, user)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// HandleJoin authorizes, upgrades and runs a session bound to ctx.
func (ctl *SignalWSController) HandleJoin(ctx context.Context, c *gin.Context, user *domain.User) {
	roomID, err := domain.ParseRoomID(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	if err := ctl.Authorize(c.Request.Context(), roomID, user.ID); err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, ErrNotMember):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("module", "signal").Msg("authorize join")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := NewWsSignalConn(ws, ctl.Conn)
	sess := app.NewSession(domain.NewMember(*user, roomID), conn, ctl.Registry, ctl.Session)
	log.Info().Str("module", "signal").
		Str("sid", string(sess.ID())).
		Str("room", roomID.String()).
		Str("user", user.ID.String()).
		Msg("new WS connection")
	ctl.running.Add(1)
	go func() {
		defer ctl.running.Done()
		sess.Run(ctx)
	}()
}

// Wait blocks until every session started by HandleJoin has left its room,
// or until ctx ends.
func (ctl *SignalWSController) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ctl.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
