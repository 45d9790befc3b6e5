package app

import (
	"sort"

	"github.com/dkeye/parlor/internal/domain"
)

// Presence keeps online flags, display names and per-room history.
// It has no lock of its own: the Registry serializes every call.
type Presence struct {
	online    map[domain.UserID]bool
	usernames map[domain.UserID]string
	seen      map[domain.RoomID]map[domain.UserID]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		online:    make(map[domain.UserID]bool),
		usernames: make(map[domain.UserID]string),
		seen:      make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

func (p *Presence) MarkOnline(room domain.RoomID, user domain.UserID, username string) {
	p.online[user] = true
	if username != "" {
		p.usernames[user] = username
	}
	users, ok := p.seen[room]
	if !ok {
		users = make(map[domain.UserID]struct{})
		p.seen[room] = users
	}
	users[user] = struct{}{}
}

// MarkOffline keeps the entry and the username.
func (p *Presence) MarkOffline(user domain.UserID) {
	if _, ok := p.online[user]; ok {
		p.online[user] = false
	}
}

func (p *Presence) IsOnline(user domain.UserID) bool { return p.online[user] }

func (p *Presence) Username(user domain.UserID) (string, bool) {
	name, ok := p.usernames[user]
	return name, ok
}

// Snapshot returns current members of room plus users who were ever in
// room and are offline now, ordered by user id.
func (p *Presence) Snapshot(room domain.RoomID, members map[domain.UserID]struct{}) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(p.seen[room]))
	for user := range members {
		out = append(out, domain.PresenceEntry{UserID: user, Username: p.usernames[user], IsOnline: p.online[user]})
	}
	for user := range p.seen[room] {
		if _, member := members[user]; member || p.online[user] {
			continue
		}
		out = append(out, domain.PresenceEntry{UserID: user, Username: p.usernames[user], IsOnline: false})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (p *Presence) OnlineCount() int {
	n := 0
	for _, on := range p.online {
		if on {
			n++
		}
	}
	return n
}

func (p *Presence) KnownCount() int { return len(p.online) }
