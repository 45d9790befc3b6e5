package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/parlor/internal/core"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type memberSet map[domain.UserID]struct{}

type sessionEntry struct {
	RoomID  domain.RoomID
	Session core.SessionHandle
}

// Registry owns room membership, user to session routing and presence.
// Every operation runs under one mutex, so no two of them interleave.
// Delivery under the lock never blocks: handles must implement TrySend
// as a bounded, drop-on-full enqueue.
type Registry struct {
	mu       sync.Mutex
	rooms    map[domain.RoomID]memberSet
	sessions map[domain.UserID]*sessionEntry
	presence *Presence
	policy   Policy
	kicked   []core.SessionHandle

	broadcasts int64
	dropped    int64
	startedAt  time.Time
}

type RegistryOption func(*Registry)

// WithPolicy sets the backpressure policy. The default is DropPolicy.
func WithPolicy(p Policy) RegistryOption {
	return func(r *Registry) {
		if p != nil {
			r.policy = p
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:     make(map[domain.RoomID]memberSet),
		sessions:  make(map[domain.UserID]*sessionEntry),
		presence:  NewPresence(),
		policy:    DropPolicy{},
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds the user to the room, installs sess as the user's handle and
// announces the join to the room, the joiner included. A previous handle of
// the same user is removed from its room and closed.
func (r *Registry) Join(roomID domain.RoomID, userID domain.UserID, username string, sess core.SessionHandle) {
	r.mu.Lock()
	var evicted core.SessionHandle
	if prev, ok := r.sessions[userID]; ok && prev.Session.ID() != sess.ID() {
		evicted = prev.Session
		r.removeMemberLocked(prev.RoomID, userID)
		if prev.RoomID != roomID {
			r.publishLocked(r.systemEvent(prev.RoomID, userID, "%s left"))
		}
		log.Info().Str("module", "app.registry").
			Str("user", userID.String()).
			Str("room", prev.RoomID.String()).
			Str("sid", string(prev.Session.ID())).
			Msg("evicted previous session")
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(memberSet)
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	r.sessions[userID] = &sessionEntry{RoomID: roomID, Session: sess}
	r.presence.MarkOnline(roomID, userID, username)
	log.Info().Str("module", "app.registry").
		Str("user", userID.String()).
		Str("room", roomID.String()).
		Str("sid", string(sess.ID())).
		Msg("joined")

	r.publishLocked(r.systemEvent(roomID, userID, "%s joined"))
	kicked := r.takeKickedLocked()
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	closeKicked(kicked)
}

// Leave removes the user from the room and announces it. The user's handle
// is dropped and the user goes offline only when the handle is bound to this
// room. Leaving a room one is not in is a no-op apart from the announcement.
func (r *Registry) Leave(roomID domain.RoomID, userID domain.UserID) {
	r.mu.Lock()
	r.leaveLocked(roomID, userID)
	kicked := r.takeKickedLocked()
	r.mu.Unlock()
	closeKicked(kicked)
}

// LeaveSession is Leave for the room sess is bound to. It is a no-op for a
// handle that has already been replaced or removed, so a connection evicted
// by a newer join cannot deregister its successor.
func (r *Registry) LeaveSession(sess core.SessionHandle) bool {
	userID := sess.Meta().User.ID

	r.mu.Lock()
	entry, ok := r.sessions[userID]
	if !ok || entry.Session.ID() != sess.ID() {
		r.mu.Unlock()
		log.Debug().Str("module", "app.registry").
			Str("user", userID.String()).
			Str("sid", string(sess.ID())).
			Msg("stale session leave ignored")
		return false
	}
	r.leaveLocked(entry.RoomID, userID)
	kicked := r.takeKickedLocked()
	r.mu.Unlock()

	closeKicked(kicked)
	return true
}

func (r *Registry) leaveLocked(roomID domain.RoomID, userID domain.UserID) {
	r.removeMemberLocked(roomID, userID)
	if entry, ok := r.sessions[userID]; ok && entry.RoomID == roomID {
		delete(r.sessions, userID)
		r.presence.MarkOffline(userID)
	}
	log.Info().Str("module", "app.registry").
		Str("user", userID.String()).
		Str("room", roomID.String()).
		Msg("left")
	r.publishLocked(r.systemEvent(roomID, userID, "%s left"))
}

func (r *Registry) removeMemberLocked(roomID domain.RoomID, userID domain.UserID) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Broadcast delivers plain text to every current member of the room.
func (r *Registry) Broadcast(roomID domain.RoomID, text string) core.PublishResult {
	return r.Publish(domain.Event{RoomID: roomID, Message: text})
}

// Publish delivers ev to every current member of ev.RoomID. Delivery is best
// effort: a handle that is closed or full is skipped and reported as dropped.
func (r *Registry) Publish(ev domain.Event) core.PublishResult {
	r.mu.Lock()
	res := r.publishLocked(ev)
	kicked := r.takeKickedLocked()
	r.mu.Unlock()

	closeKicked(kicked)
	return res
}

func (r *Registry) publishLocked(ev domain.Event) core.PublishResult {
	res := core.PublishResult{}
	for userID := range r.rooms[ev.RoomID] {
		entry, ok := r.sessions[userID]
		if !ok {
			continue
		}
		if err := entry.Session.TrySend(ev); err != nil {
			res.Dropped = append(res.Dropped, entry.Session)
			if r.policy.OnBackPressure(ev.RoomID, entry.Session, err) == KickMember {
				r.kicked = append(r.kicked, entry.Session)
			}
			continue
		}
		res.SentTo++
	}
	r.broadcasts++
	r.dropped += int64(len(res.Dropped))
	log.Debug().Str("module", "app.registry").
		Str("room", ev.RoomID.String()).
		Bool("system", ev.IsSystem).
		Int("sent_to", res.SentTo).
		Int("dropped", len(res.Dropped)).
		Msg("broadcast result")
	return res
}

func (r *Registry) takeKickedLocked() []core.SessionHandle {
	kicked := r.kicked
	r.kicked = nil
	return kicked
}

// closeKicked runs outside the lock; Close may call back into the registry.
func closeKicked(handles []core.SessionHandle) {
	for _, h := range handles {
		log.Warn().Str("module", "app.registry").
			Str("sid", string(h.ID())).
			Str("user", h.Meta().User.ID.String()).
			Msg("closing slow session")
		h.Close()
	}
}

func (r *Registry) systemEvent(roomID domain.RoomID, userID domain.UserID, format string) domain.Event {
	name, ok := r.presence.Username(userID)
	if !ok {
		name = fmt.Sprintf("user %d", userID)
	}
	return domain.Event{
		RoomID:   roomID,
		Message:  fmt.Sprintf(format, name),
		IsSystem: true,
		Username: name,
	}
}

// GetPresence returns the room's current members and its former members that
// are now offline. A user who is online in another room is not listed.
// Unknown rooms yield an empty slice.
func (r *Registry) GetPresence(roomID domain.RoomID) []domain.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Snapshot(roomID, r.rooms[roomID])
}

func (r *Registry) Members(roomID domain.RoomID) []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := lo.Keys(r.rooms[roomID])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) HasRoom(roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.IsOnline(userID)
}

func (r *Registry) ActiveRooms() []core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := lo.MapToSlice(r.rooms, func(id domain.RoomID, members memberSet) core.RoomInfo {
		return core.RoomInfo{ID: id, MemberCount: len(members)}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Stats() core.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.Stats{
		ActiveRooms:     len(r.rooms),
		OnlineUsers:     r.presence.OnlineCount(),
		KnownUsers:      r.presence.KnownCount(),
		TotalBroadcasts: r.broadcasts,
		DroppedFrames:   r.dropped,
		Uptime:          time.Since(r.startedAt),
	}
}

// CloseAll closes every registered handle. Sessions deregister themselves
// as their transports shut down.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	handles := lo.MapToSlice(r.sessions, func(_ domain.UserID, e *sessionEntry) core.SessionHandle {
		return e.Session
	})
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	log.Info().Str("module", "app.registry").Int("sessions", len(handles)).Msg("closed all sessions")
	return len(handles)
}
