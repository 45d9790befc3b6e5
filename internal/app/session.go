package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/parlor/internal/core"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Broker is the registry as seen by a session.
type Broker interface {
	Join(roomID domain.RoomID, userID domain.UserID, username string, sess core.SessionHandle)
	LeaveSession(sess core.SessionHandle) bool
	Publish(ev domain.Event) core.PublishResult
}

type SessionOptions struct {
	SendBuffer int
	PingPeriod time.Duration
	Limiter    *UserRateLimiter
	Enthusiasm *Enthusiasm
}

// Session bridges one transport connection to the registry.
type Session struct {
	id     core.SessionID
	meta   *domain.Member
	conn   core.SignalConnection
	broker Broker
	opts   SessionOptions
	logger zerolog.Logger

	send   chan domain.Event
	mu     sync.RWMutex
	closed bool
	state  atomic.Int32
}

func NewSession(meta *domain.Member, conn core.SignalConnection, broker Broker, opts SessionOptions) *Session {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	id := core.NewSessionID()
	return &Session{
		id:     id,
		meta:   meta,
		conn:   conn,
		broker: broker,
		opts:   opts,
		send:   make(chan domain.Event, opts.SendBuffer),
		logger: log.With().
			Str("module", "app.session").
			Str("sid", string(id)).
			Str("room", meta.RoomID.String()).
			Str("user", meta.User.ID.String()).
			Logger(),
	}
}

func (s *Session) ID() core.SessionID { return s.id }

func (s *Session) Meta() *domain.Member { return s.meta }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(v SessionState) { s.state.Store(int32(v)) }

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// TrySend enqueues ev for the writer without blocking.
func (s *Session) TrySend(ev domain.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.ErrConnClosed
	}
	select {
	case s.send <- ev:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close stops outbound delivery; the writer then closes the transport,
// which ends the read loop. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Run joins the room, pumps frames until the transport closes and then
// leaves the room. It blocks for the lifetime of the connection.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	user := s.meta.User
	s.broker.Join(s.meta.RoomID, user.ID, user.Username, s)
	s.setState(StateJoined)
	s.logger.Info().Str("remote", s.conn.RemoteAddr()).Msg("session joined")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx)
	}()

	s.readPump()

	s.broker.LeaveSession(s)
	// the writer drains what is queued and exits once send is closed
	s.Close()
	<-writerDone
	s.setState(StateClosed)
	s.logger.Info().Msg("session closed")
}

func (s *Session) readPump() {
	for {
		text, err := s.conn.ReadText()
		if err != nil {
			s.logger.Debug().Err(err).Msg("readPump closing")
			return
		}
		s.HandleText(text)
	}
}

func (s *Session) writePump(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("writePump close")
		}
	}()

	var tick <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteEvent(ev); err != nil {
				s.logger.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-tick:
			if err := s.conn.Ping(); err != nil {
				s.logger.Warn().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

// HandleText relays one inbound line to the room and, when it is
// enthusiastic, follows it with a celebration.
func (s *Session) HandleText(text string) {
	text = strings.TrimSpace(text)
	if text == "" || s.State() != StateJoined || s.isClosed() {
		return
	}
	user := s.meta.User
	if s.opts.Limiter != nil && !s.opts.Limiter.Allow(user.ID) {
		s.logger.Warn().Msg("rate limit exceeded, message discarded")
		return
	}

	s.broker.Publish(domain.Event{
		RoomID:   s.meta.RoomID,
		Message:  fmt.Sprintf("%s: %s", user.Username, text),
		Username: user.Username,
	})

	if s.opts.Enthusiasm != nil && s.opts.Enthusiasm.Match(text) {
		s.broker.Publish(domain.Event{
			RoomID:   s.meta.RoomID,
			Message:  Celebration(user.Username),
			IsSystem: true,
			Username: user.Username,
		})
	}
}
