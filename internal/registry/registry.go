package registry

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Channel is the transport-level connection to one client. The registry owns
// the channel of each live entry and closes it on eviction.
type Channel interface {
	ID() string
	Send(event string, data any) error
	Close() error
	IsOpen() bool
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// ConnectedUser is one authenticated identity's current live channel.
type ConnectedUser struct {
	Identity    string
	DisplayName string
	Channel     Channel
	LastSeenAt  time.Time
}

// Registry is the thread-safe identity -> ConnectedUser map. It holds at most
// one entry per identity; a newer registration supersedes and closes the
// previous channel. The lock is never held across channel sends; Broadcast
// copies entries out of the map first.
type Registry struct {
	clock Clock

	mu    sync.RWMutex
	users map[string]ConnectedUser
}

// New creates an empty registry.
func New(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		clock: clock,
		users: make(map[string]ConnectedUser),
	}
}

// Register inserts or replaces the entry for identity. A prior entry's channel
// is closed before the new one takes its place, so two devices can never both
// receive signals for one identity. Returns whether a prior entry was evicted.
func (r *Registry) Register(identity, displayName string, ch Channel) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[identity]; ok && prev.Channel.ID() != ch.ID() {
		if err := prev.Channel.Close(); err != nil {
			log.Printf("Failed to close superseded channel for %s: %v", identity, err)
		}
		evicted = true
	}

	r.users[identity] = ConnectedUser{
		Identity:    identity,
		DisplayName: displayName,
		Channel:     ch,
		LastSeenAt:  r.clock.Now(),
	}
	return evicted
}

// Lookup resolves identity to its current entry. It never blocks on liveness
// checks; a caller that sends to a since-dead channel must treat the send
// failure as immediate deregistration.
func (r *Registry) Lookup(identity string) (ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[identity]
	return user, ok
}

// Touch updates LastSeenAt for identity. No-op if the identity is absent.
func (r *Registry) Touch(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[identity]; ok {
		user.LastSeenAt = r.clock.Now()
		r.users[identity] = user
	}
}

// Deregister removes the entry for identity only if it still points at the
// channel with expectedChannelID. A disconnect of a superseded old channel
// therefore never evicts the registration that replaced it. Returns whether
// the entry was removed.
func (r *Registry) Deregister(identity, expectedChannelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[identity]
	if !ok || user.Channel.ID() != expectedChannelID {
		return false
	}
	delete(r.users, identity)
	return true
}

// Snapshot returns all entries ordered by identity.
func (r *Registry) Snapshot() []ConnectedUser {
	r.mu.RLock()
	users := make([]ConnectedUser, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return users[i].Identity < users[j].Identity
	})
	return users
}

// Broadcast sends event to every registered identity except exclude.
// Best-effort fan-out: send failures are logged and do not stop the loop.
func (r *Registry) Broadcast(event string, data any, exclude string) {
	for _, user := range r.Snapshot() {
		if user.Identity == exclude {
			continue
		}
		if err := user.Channel.Send(event, data); err != nil {
			log.Printf("Broadcast %s to %s failed: %v", event, user.Identity, err)
		}
	}
}
