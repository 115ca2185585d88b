// Package peers tracks the connection state and reputation of the other
// coordinators this node exchanges blacklists and checkpoints with. Peer
// information is persistent for the run of the service; long-term rows
// live in the database.
package peers

import (
	"sort"
	"sync"
	"time"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// ConnectionState is the state of a peer connection.
type ConnectionState int

const (
	// Disconnected means there is no connection to the peer.
	Disconnected ConnectionState = iota
	// Connecting means there is an on-going attempt to connect.
	Connecting
	// Connected means the peer has an active connection.
	Connected
)

// Status is the peer bookkeeping entity.
type Status struct {
	lock   sync.RWMutex
	status map[string]*peerStatus
}

type peerStatus struct {
	peer         *api.Peer
	state        ConnectionState
	score        float64
	backoffLevel int
	nextDialMs   int64
	announce     *Announce
}

// Announce is the last capability announcement received from a peer.
type Announce struct {
	CapabilityDigest string
	LedgerHeadIndex  uint64
	LedgerHeadHash   string
	BlacklistVersion uint64
	ReceivedAtMs     int64
}

// NewStatus creates an empty peer store.
func NewStatus() *Status {
	return &Status{status: make(map[string]*peerStatus)}
}

// Add registers a peer, keeping existing score and state on re-add.
func (p *Status) Add(peer *api.Peer) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if existing, ok := p.status[peer.ID]; ok {
		existing.peer = peer
		return
	}
	p.status[peer.ID] = &peerStatus{peer: peer}
}

// Get returns the peer row, nil when unknown.
func (p *Status) Get(peerID string) *api.Peer {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if st, ok := p.status[peerID]; ok {
		return st.peer
	}
	return nil
}

// All returns every known peer sorted by id.
func (p *Status) All() []*api.Peer {
	p.lock.RLock()
	defer p.lock.RUnlock()
	out := make([]*api.Peer, 0, len(p.status))
	for _, st := range p.status {
		out = append(out, st.peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetState transitions the peer connection state.
func (p *Status) SetState(peerID string, state ConnectionState) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if st, ok := p.status[peerID]; ok {
		st.state = state
	}
}

// State returns the connection state of a peer.
func (p *Status) State(peerID string) ConnectionState {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if st, ok := p.status[peerID]; ok {
		return st.state
	}
	return Disconnected
}

// Connected lists ids of currently connected peers.
func (p *Status) Connected() []string {
	p.lock.RLock()
	defer p.lock.RUnlock()
	var out []string
	for id, st := range p.status {
		if st.state == Connected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RecordSuccess rewards a successful exchange.
func (p *Status) RecordSuccess(peerID string) {
	p.adjust(peerID, params.SwarmMeshConfig().PeerScoreSuccess)
}

// RecordFailure penalises a timeout or malformed message.
func (p *Status) RecordFailure(peerID string) {
	p.adjust(peerID, -params.SwarmMeshConfig().PeerScorePenalty)
}

func (p *Status) adjust(peerID string, delta float64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if st, ok := p.status[peerID]; ok {
		st.score += delta
		st.peer.Score = st.score
	}
}

// Score returns the current peer score.
func (p *Status) Score(peerID string) float64 {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if st, ok := p.status[peerID]; ok {
		return st.score
	}
	return 0
}

// IsBad reports whether the peer fell below the drop threshold.
func (p *Status) IsBad(peerID string) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	st, ok := p.status[peerID]
	return ok && st.score < params.SwarmMeshConfig().PeerScoreFloor
}

// Decay halves every score toward zero. Called once per decay interval so
// past behaviour fades.
func (p *Status) Decay() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, st := range p.status {
		st.score /= 2
		st.peer.Score = st.score
	}
}

// Backoff schedules the next dial attempt exponentially, capped. It
// returns the wait applied.
func (p *Status) Backoff(peerID string) time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()
	st, ok := p.status[peerID]
	if !ok {
		return 0
	}
	cfg := params.SwarmMeshConfig()
	wait := cfg.PeerBackoffInitial << uint(st.backoffLevel)
	if wait > cfg.PeerBackoffCap {
		wait = cfg.PeerBackoffCap
	} else {
		st.backoffLevel++
	}
	st.nextDialMs = timeutils.NowUnixMilli() + wait.Milliseconds()
	return wait
}

// ResetBackoff clears the dial backoff after a successful connect.
func (p *Status) ResetBackoff(peerID string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if st, ok := p.status[peerID]; ok {
		st.backoffLevel = 0
		st.nextDialMs = 0
	}
}

// Dialable reports whether the peer's backoff window has passed.
func (p *Status) Dialable(peerID string, nowMs int64) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	st, ok := p.status[peerID]
	if !ok {
		return false
	}
	return st.state == Disconnected && nowMs >= st.nextDialMs
}

// SetAnnounce stores the latest capability announcement.
func (p *Status) SetAnnounce(peerID string, ann *Announce) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if st, ok := p.status[peerID]; ok {
		ann.ReceivedAtMs = timeutils.NowUnixMilli()
		st.announce = ann
		st.peer.LastExchangeMs = ann.ReceivedAtMs
	}
}

// LastAnnounce returns the latest announcement, nil when none arrived yet.
func (p *Status) LastAnnounce(peerID string) *Announce {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if st, ok := p.status[peerID]; ok {
		return st.announce
	}
	return nil
}

// Remove drops a peer from the store.
func (p *Status) Remove(peerID string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.status, peerID)
}
