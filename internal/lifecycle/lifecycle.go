// Package lifecycle bridges transport-level connect/disconnect events into
// registry and presence operations. Channels register via an explicit join;
// a bare connection is never reachable for signaling.
package lifecycle

import (
	"log"

	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/registry"
)

// Handler reacts to channel joins, disconnects and transport errors.
type Handler struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// Join registers identity on ch and announces it to everyone else. If the
// identity was already connected on another channel, that channel is closed
// and superseded.
func (h *Handler) Join(identity, displayName string, ch registry.Channel) {
	evicted := h.reg.Register(identity, displayName, ch)
	if evicted {
		log.Printf("User %s re-joined on channel %s, prior channel evicted", identity, ch.ID())
	} else {
		log.Printf("User %s joined on channel %s", identity, ch.ID())
	}

	if err := redis.MarkOnline(identity, displayName); err != nil {
		log.Printf("Failed to mirror %s online to Redis: %v", identity, err)
	}

	h.reg.Broadcast(string(models.EventPresenceOnline), models.Message{
		Event:       models.EventPresenceOnline,
		Identity:    identity,
		DisplayName: displayName,
	}, identity)
}

// Disconnect deregisters identity, but only if it is still bound to
// channelID. A disconnect arriving for a superseded channel is a no-op, so
// the newer registration survives. Returns whether an entry was removed.
func (h *Handler) Disconnect(identity, channelID, reason string) bool {
	if !h.reg.Deregister(identity, channelID) {
		return false
	}
	log.Printf("User %s disconnected (channel %s): %s", identity, channelID, reason)

	if err := redis.MarkOffline(identity); err != nil {
		log.Printf("Failed to mirror %s offline to Redis: %v", identity, err)
	}

	h.reg.Broadcast(string(models.EventPresenceOffline), models.Message{
		Event:    models.EventPresenceOffline,
		Identity: identity,
		Reason:   reason,
	}, identity)
	return true
}
