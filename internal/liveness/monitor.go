// Package liveness detects registered channels that are no longer actually
// alive and reclaims their identity slots.
package liveness

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mossy-p/call-relay/config"
	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/registry"
)

// Monitor sweeps the registry on an interval. Entries silent for longer than
// the stale threshold get a two-phase check: a channel that already reports
// itself closed is evicted at once; an open one is sent a ping and given
// ProbeTimeout to produce any traffic before eviction. Any traffic that
// updates LastSeenAt cancels a pending probe; a pong arriving after eviction
// is ignored (the client must re-join, not resurrect).
type Monitor struct {
	reg   *registry.Registry
	cfg   config.LivenessConfig
	clock registry.Clock

	mu     sync.Mutex
	probes map[string]time.Time // identity -> probe send time
}

func New(reg *registry.Registry, cfg config.LivenessConfig, clock registry.Clock) *Monitor {
	if clock == nil {
		clock = registry.SystemClock()
	}
	return &Monitor{
		reg:    reg,
		cfg:    cfg,
		clock:  clock,
		probes: make(map[string]time.Time),
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce scans the registry snapshot once. A failure on one entry never
// aborts the check of the others.
func (m *Monitor) sweepOnce() {
	now := m.clock.Now()
	for _, user := range m.reg.Snapshot() {
		m.checkEntry(user, now)
	}
}

func (m *Monitor) checkEntry(user registry.ConnectedUser, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Liveness check for %s panicked: %v", user.Identity, r)
		}
	}()

	if now.Sub(user.LastSeenAt) < m.cfg.StaleThreshold {
		return
	}

	if !user.Channel.IsOpen() {
		m.evict(user, "connection closed")
		return
	}

	m.mu.Lock()
	if _, pending := m.probes[user.Identity]; pending {
		m.mu.Unlock()
		return
	}
	m.probes[user.Identity] = now
	m.mu.Unlock()

	if err := user.Channel.Send(string(models.EventPing), models.Message{
		Event:     models.EventPing,
		Timestamp: now.UnixMilli(),
	}); err != nil {
		log.Printf("Liveness probe send to %s failed: %v", user.Identity, err)
		m.clearProbe(user.Identity)
		m.evict(user, "probe send failed")
		return
	}

	identity := user.Identity
	sentAt := now
	time.AfterFunc(m.cfg.ProbeTimeout, func() {
		m.resolveProbe(identity, sentAt)
	})
}

// resolveProbe decides the fate of a probed identity once its timer fires.
// Traffic after the probe was sent means the entry survives.
func (m *Monitor) resolveProbe(identity string, sentAt time.Time) {
	m.clearProbe(identity)

	user, ok := m.reg.Lookup(identity)
	if !ok {
		return
	}
	if user.LastSeenAt.After(sentAt) {
		return
	}
	m.evict(user, "liveness probe timed out")
}

func (m *Monitor) clearProbe(identity string) {
	m.mu.Lock()
	delete(m.probes, identity)
	m.mu.Unlock()
}

func (m *Monitor) evict(user registry.ConnectedUser, reason string) {
	if !m.reg.Deregister(user.Identity, user.Channel.ID()) {
		// A newer channel took over the identity in the meantime.
		return
	}
	log.Printf("Evicting stale user %s: %s", user.Identity, reason)

	if err := user.Channel.Close(); err != nil {
		log.Printf("Failed to close stale channel for %s: %v", user.Identity, err)
	}
	if err := redis.MarkOffline(user.Identity); err != nil {
		log.Printf("Failed to mirror %s offline to Redis: %v", user.Identity, err)
	}

	m.reg.Broadcast(string(models.EventPresenceOffline), models.Message{
		Event:    models.EventPresenceOffline,
		Identity: user.Identity,
		Reason:   reason,
	}, user.Identity)
}
