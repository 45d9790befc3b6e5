package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/parlor/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type frame struct {
	mt   int
	data []byte
}

type fakeWSConn struct {
	mu        sync.Mutex
	inbound   []frame
	written   []frame
	controls  []int
	readLimit int64
	closes    int
	pong      func(string) error
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return 0, nil, io.EOF
	}
	fr := f.inbound[0]
	f.inbound = f.inbound[1:]
	return fr.mt, fr.data, nil
}

func (f *fakeWSConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame{mt: mt, data: data})
	return nil
}

func (f *fakeWSConn) WriteControl(mt int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, mt)
	return nil
}

func (f *fakeWSConn) SetReadLimit(limit int64) { f.readLimit = limit }

func (f *fakeWSConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeWSConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSConn) SetPongHandler(h func(string) error) { f.pong = h }

func (f *fakeWSConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func TestWsSignalConn_ReadText(t *testing.T) {
	req := require.New(t)
	ws := &fakeWSConn{inbound: []frame{
		{websocket.BinaryMessage, []byte{0x01, 0x02}},
		{websocket.TextMessage, []byte(`{"type":"ping"}`)},
		{websocket.TextMessage, []byte("hello")},
		{websocket.TextMessage, []byte(`{"type":"message","content":"wrapped"}`)},
		{websocket.TextMessage, []byte(`{not json`)},
	}}
	conn := NewWsSignalConn(ws, Options{})

	for _, want := range []string{"hello", "wrapped", "{not json"} {
		got, err := conn.ReadText()
		req.NoError(err)
		req.Equal(want, got)
	}

	_, err := conn.ReadText()
	req.ErrorIs(err, io.EOF)
}

func TestWsSignalConn_WriteEvent_Envelope(t *testing.T) {
	req := require.New(t)
	ws := &fakeWSConn{}
	conn := NewWsSignalConn(ws, Options{})

	req.NoError(conn.WriteEvent(domain.Event{RoomID: 1, Message: "alice joined", IsSystem: true, Username: "alice"}))

	req.Len(ws.written, 1)
	req.Equal(websocket.TextMessage, ws.written[0].mt)

	var got map[string]any
	req.NoError(json.Unmarshal(ws.written[0].data, &got))
	req.Equal(map[string]any{
		"room_id":   float64(1),
		"message":   "alice joined",
		"is_system": true,
		"username":  "alice",
	}, got)
}

func TestWsSignalConn_Setup_And_Close(t *testing.T) {
	req := require.New(t)
	ws := &fakeWSConn{}
	conn := NewWsSignalConn(ws, Options{ReadLimit: 512, PongWait: time.Minute})

	req.EqualValues(512, ws.readLimit)
	req.NotNil(ws.pong)
	req.NoError(ws.pong(""))
	req.Equal("127.0.0.1:5000", conn.RemoteAddr())

	req.NoError(conn.Ping())
	req.NoError(conn.Close())
	req.NoError(conn.Close())

	req.Equal(1, ws.closes)
	req.Equal([]int{websocket.PingMessage, websocket.CloseMessage}, ws.controls)
}

type fakeDirectory struct {
	rooms   map[domain.RoomID][]domain.UserID
	failing bool
}

func (d *fakeDirectory) RoomExists(_ context.Context, room domain.RoomID) (bool, error) {
	if d.failing {
		return false, errors.New("db down")
	}
	_, ok := d.rooms[room]
	return ok, nil
}

func (d *fakeDirectory) IsMember(_ context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	for _, u := range d.rooms[room] {
		if u == user {
			return true, nil
		}
	}
	return false, nil
}

func TestSignalWSController_Authorize(t *testing.T) {
	req := require.New(t)
	dir := &fakeDirectory{rooms: map[domain.RoomID][]domain.UserID{1: {42, 7}}}
	ctl := &SignalWSController{Rooms: dir}
	ctx := context.Background()

	req.NoError(ctl.Authorize(ctx, 1, 42))
	req.ErrorIs(ctl.Authorize(ctx, 2, 42), ErrRoomNotFound)
	req.ErrorIs(ctl.Authorize(ctx, 1, 99), ErrNotMember)

	dir.failing = true
	err := ctl.Authorize(ctx, 1, 42)
	req.Error(err)
	req.NotErrorIs(err, ErrRoomNotFound)
}
