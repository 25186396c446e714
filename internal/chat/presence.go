// Package chat implements the client-side conversation state machine:
// message log, presence, operator thread registry, and the session tying
// them to the realtime channel.
package chat

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing signal stays live without a refresh.
const DefaultTypingTTL = 3500 * time.Millisecond

// OperatorPeer is the sentinel peer id for operator-side typing signals,
// which carry no user id on the wire.
const OperatorPeer = "@operator"

// PresenceTracker tracks ephemeral per-peer typing signals. Expiry uses one
// fixed-interval sweep over the signal map; liveness checks compare against
// the TTL directly, so the sweep only bounds memory, never accuracy.
type PresenceTracker struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
	stop     chan struct{} // nil while no sweeper runs
}

// NewPresenceTracker creates a tracker with the given TTL. A zero ttl means
// DefaultTypingTTL. The clock is injectable for tests; nil means time.Now.
func NewPresenceTracker(ttl time.Duration, now func() time.Time) *PresenceTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		ttl:      ttl,
		now:      now,
		lastSeen: make(map[string]time.Time),
	}
}

// Signal records that a peer is composing right now.
func (p *PresenceTracker) Signal(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[peerID] = p.now()
}

// IsTyping reports whether the peer signalled within the TTL window.
func (p *PresenceTracker) IsTyping(peerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen, ok := p.lastSeen[peerID]
	if !ok {
		return false
	}
	return p.now().Sub(seen) <= p.ttl
}

// StartSweeper launches the fixed-interval sweep discarding expired
// entries. Call Stop when the session ends; a later StartSweeper runs a
// fresh sweeper. Starting while one already runs is a no-op.
func (p *PresenceTracker) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = p.ttl / 2
	}

	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call repeatedly.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *PresenceTracker) sweep() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for peer, seen := range p.lastSeen {
		if seen.Before(cutoff) {
			delete(p.lastSeen, peer)
		}
	}
}
