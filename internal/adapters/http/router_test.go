package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/parlor/internal/adapters/signal"
	"github.com/dkeye/parlor/internal/app"
	"github.com/dkeye/parlor/internal/auth"
	"github.com/dkeye/parlor/internal/config"
	"github.com/dkeye/parlor/internal/core"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type memberDirectory map[domain.RoomID][]domain.UserID

func (d memberDirectory) RoomExists(_ context.Context, room domain.RoomID) (bool, error) {
	_, ok := d[room]
	return ok, nil
}

func (d memberDirectory) IsMember(_ context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	for _, u := range d[room] {
		if u == user {
			return true, nil
		}
	}
	return false, nil
}

type testServer struct {
	reg      *app.Registry
	ctl      *signal.SignalWSController
	engine   *gin.Engine
	verifier *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cheer, err := app.NewEnthusiasm(app.DefaultEnthusiasmKeywords)
	require.NoError(t, err)

	reg := app.NewRegistry()
	verifier := auth.NewVerifier(testSecret)
	ctl := &signal.SignalWSController{
		Registry: reg,
		Rooms:    memberDirectory{1: {42, 7}, 2: {42}},
		Session:  app.SessionOptions{Enthusiasm: cheer},
	}
	cfg := &config.Config{Mode: "test", Secret: testSecret}
	engine := SetupRouter(ctx, cfg, Deps{Registry: reg, Signal: ctl, Verifier: verifier})
	return &testServer{reg: reg, ctl: ctl, engine: engine, verifier: verifier}
}

func (s *testServer) token(t *testing.T, id domain.UserID, name string) string {
	t.Helper()
	tok, err := s.verifier.Issue(domain.User{ID: id, Username: name}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) get(path, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestRouter_Healthz(t *testing.T) {
	s := newTestServer(t)
	w := s.get("/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_Api_Requires_Auth(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	w := s.get("/api/stats", "")
	req.Equal(http.StatusUnauthorized, w.Code)

	w = s.get("/api/stats", "not-a-token")
	req.Equal(http.StatusUnauthorized, w.Code)
}

func TestRouter_Cookie_Session_Remembers_User(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given one request authenticated with a token
	w := s.get("/api/stats", s.token(t, 42, "alice"))
	req.Equal(http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	req.NotEmpty(cookies)

	// Then the session cookie alone is enough
	w = s.get("/api/rooms/active", "", cookies...)
	req.Equal(http.StatusOK, w.Code)
}

func TestRouter_Presence(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	tok := s.token(t, 42, "alice")

	w := s.get("/api/users/presence/abc", tok)
	req.Equal(http.StatusBadRequest, w.Code)

	w = s.get("/api/users/presence/1", tok)
	req.Equal(http.StatusNotFound, w.Code)
	req.JSONEq(`{"error":"no presence for room"}`, w.Body.String())

	// Given bob went through room 1 and left
	s.reg.Join(1, 7, "bob", &nopHandle{id: "h1", meta: domain.NewMember(domain.User{ID: 7, Username: "bob"}, 1)})
	s.reg.Leave(1, 7)

	w = s.get("/api/users/presence/1", tok)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`[{"user_id":7,"username":"bob","is_online":false}]`, w.Body.String())
}

func TestRouter_Active_Rooms_And_Stats(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	tok := s.token(t, 42, "alice")
	s.reg.Join(2, 42, "alice", &nopHandle{id: "h1", meta: domain.NewMember(domain.User{ID: 42, Username: "alice"}, 2)})

	w := s.get("/api/rooms/active", tok)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"rooms":[{"room_id":2,"member_count":1}]}`, w.Body.String())

	w = s.get("/api/stats", tok)
	req.Equal(http.StatusOK, w.Code)
	var stats map[string]any
	req.NoError(json.Unmarshal(w.Body.Bytes(), &stats))
	req.EqualValues(1, stats["active_rooms"])
	req.EqualValues(1, stats["online_users"])
	req.EqualValues(1, stats["known_users"])
	req.IsType("", stats["uptime"])
	req.NotContains(stats, "uptime_ns")
}

func dial(t *testing.T, srv *httptest.Server, room, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + room + "?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func TestRouter_Websocket_Join_Is_Authorized(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	_, resp, err := dial(t, srv, "2", s.token(t, 7, "bob"))
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, "3", s.token(t, 7, "bob"))
	req.Error(err)
	req.Equal(http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, srv, "1", "bogus")
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_Websocket_Chat_Scenario(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	// Given alice and bob connected to room 1
	alice, _, err := dial(t, srv, "1", s.token(t, 42, "alice"))
	req.NoError(err)
	defer alice.Close()
	req.Equal("alice joined", readEvent(t, alice).Message)

	bob, _, err := dial(t, srv, "1", s.token(t, 7, "bob"))
	req.NoError(err)
	defer bob.Close()
	req.Equal("bob joined", readEvent(t, bob).Message)
	req.Equal("bob joined", readEvent(t, alice).Message)

	// When alice sends an enthusiastic line
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("this is great")))

	// Then both get the relay followed by the celebration
	for _, ws := range []*websocket.Conn{alice, bob} {
		relay := readEvent(t, ws)
		req.Equal(domain.Event{RoomID: 1, Message: "alice: this is great", Username: "alice"}, relay)
		cheer := readEvent(t, ws)
		req.True(cheer.IsSystem)
		req.Equal("🎉 alice is feeling enthusiastic!", cheer.Message)
	}

	w := s.get("/api/users/presence/1", s.token(t, 7, "bob"))
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`[{"user_id":7,"username":"bob","is_online":true},{"user_id":42,"username":"alice","is_online":true}]`, w.Body.String())

	// When alice disconnects
	req.NoError(alice.Close())

	// Then bob is told and alice shows offline
	left := readEvent(t, bob)
	req.Equal("alice left", left.Message)
	req.True(left.IsSystem)
	req.Eventually(func() bool { return !s.reg.IsOnline(42) }, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_Shutdown_Waits_For_Sessions_To_Leave(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	// Given two live websocket sessions in room 1
	alice, _, err := dial(t, srv, "1", s.token(t, 42, "alice"))
	req.NoError(err)
	defer alice.Close()
	req.Equal("alice joined", readEvent(t, alice).Message)
	bob, _, err := dial(t, srv, "1", s.token(t, 7, "bob"))
	req.NoError(err)
	defer bob.Close()
	req.Equal("bob joined", readEvent(t, bob).Message)

	// When every handle is closed and the controller drained
	req.Equal(2, s.reg.CloseAll())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(s.ctl.Wait(ctx))

	// Then every leave has already happened
	req.False(s.reg.IsOnline(42))
	req.False(s.reg.IsOnline(7))
	req.False(s.reg.HasRoom(1))
	req.Equal(0, s.reg.Stats().OnlineUsers)
}

type nopHandle struct {
	id   string
	meta *domain.Member
}

func (h *nopHandle) ID() core.SessionID { return core.SessionID(h.id) }

func (h *nopHandle) Meta() *domain.Member { return h.meta }

func (h *nopHandle) TrySend(domain.Event) error { return nil }

func (h *nopHandle) Close() {}
