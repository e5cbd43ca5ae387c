package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/registry"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeChannel struct {
	id string

	mu     sync.Mutex
	sent   []models.Message
	closed bool
}

func (ch *fakeChannel) ID() string { return ch.id }

func (ch *fakeChannel) Send(event string, data any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sent = append(ch.sent, data.(models.Message))
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return !ch.closed
}

func (ch *fakeChannel) messages() []models.Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]models.Message(nil), ch.sent...)
}

func TestJoinBroadcastsPresenceToOthers(t *testing.T) {
	reg := registry.New(&fakeClock{now: time.Unix(1000, 0)})
	h := New(reg)

	alice := &fakeChannel{id: "ch-alice"}
	bob := &fakeChannel{id: "ch-bob"}
	h.Join("alice", "Alice", alice)
	h.Join("bob", "Bob", bob)

	aliceMsgs := alice.messages()
	if len(aliceMsgs) != 1 ||
		aliceMsgs[0].Event != models.EventPresenceOnline ||
		aliceMsgs[0].Identity != "bob" ||
		aliceMsgs[0].DisplayName != "Bob" {
		t.Errorf("expected alice to see bob come online, got %v", aliceMsgs)
	}
	// The joining user never receives its own announcement.
	if len(bob.messages()) != 0 {
		t.Errorf("unexpected messages to bob: %v", bob.messages())
	}
}

func TestDuplicateJoinSupersedes(t *testing.T) {
	reg := registry.New(&fakeClock{now: time.Unix(1000, 0)})
	h := New(reg)

	first := &fakeChannel{id: "ch-1"}
	second := &fakeChannel{id: "ch-2"}
	h.Join("alice", "Alice", first)
	h.Join("alice", "Alice", second)

	if first.IsOpen() {
		t.Errorf("first channel must be closed after the second join")
	}
	user, ok := reg.Lookup("alice")
	if !ok || user.Channel.ID() != "ch-2" {
		t.Fatalf("second channel must own the identity, got %+v", user)
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	reg := registry.New(&fakeClock{now: time.Unix(1000, 0)})
	h := New(reg)

	alice := &fakeChannel{id: "ch-alice"}
	bob := &fakeChannel{id: "ch-bob"}
	h.Join("alice", "Alice", alice)
	h.Join("bob", "Bob", bob)

	if !h.Disconnect("bob", "ch-bob", "connection closed") {
		t.Fatalf("expected disconnect to deregister bob")
	}
	if _, ok := reg.Lookup("bob"); ok {
		t.Errorf("bob must be deregistered")
	}

	var sawOffline bool
	for _, msg := range alice.messages() {
		if msg.Event == models.EventPresenceOffline && msg.Identity == "bob" &&
			msg.Reason == "connection closed" {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Errorf("expected presence-offline for bob, got %v", alice.messages())
	}
}

func TestDisconnectOfSupersededChannelIsNoOp(t *testing.T) {
	reg := registry.New(&fakeClock{now: time.Unix(1000, 0)})
	h := New(reg)

	observer := &fakeChannel{id: "ch-observer"}
	h.Join("carol", "", observer)

	first := &fakeChannel{id: "ch-1"}
	second := &fakeChannel{id: "ch-2"}
	h.Join("alice", "Alice", first)
	h.Join("alice", "Alice", second)

	offlineBefore := 0
	for _, msg := range observer.messages() {
		if msg.Event == models.EventPresenceOffline {
			offlineBefore++
		}
	}

	// The evicted first channel's disconnect fires late.
	if h.Disconnect("alice", "ch-1", "connection closed") {
		t.Fatalf("disconnect of a superseded channel must not deregister")
	}

	user, ok := reg.Lookup("alice")
	if !ok || user.Channel.ID() != "ch-2" {
		t.Fatalf("current registration must survive, got %+v", user)
	}

	offlineAfter := 0
	for _, msg := range observer.messages() {
		if msg.Event == models.EventPresenceOffline {
			offlineAfter++
		}
	}
	if offlineAfter != offlineBefore {
		t.Errorf("no presence-offline may be broadcast for a superseded channel")
	}
}
