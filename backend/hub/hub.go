// Package hub tracks live participant connections, fans room events out to
// them and terminates the unresponsive ones.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
)

var (
	ErrClosed = errors.New("peer is closed")
)

// PeerState is the routing state of one connection. A peer starts Unjoined
// and becomes Joined on its first room assignment; it never goes back.
type PeerState int32

const (
	StateUnjoined PeerState = iota
	StateJoined
)

// Sender is the transport side of a peer. TrySend must not block; a send
// that cannot be accepted immediately is a failed send. Probe asks the
// transport to check liveness (websocket ping). Terminate force-closes.
type Sender interface {
	TrySend(payload []byte) error
	Probe() error
	Terminate()
}

// Peer is one registered connection.
type Peer struct {
	ID string

	sender   Sender
	state    atomic.Int32
	alive    atomic.Bool
	lastSeen atomic.Int64

	mx   sync.RWMutex
	room string
}

func NewPeer(id string, sender Sender) *Peer {
	p := &Peer{
		ID:     id,
		sender: sender,
	}
	p.alive.Store(true)
	p.lastSeen.Store(time.Now().UnixMilli())
	return p
}

// Room returns the current room assignment, empty while Unjoined.
func (p *Peer) Room() string {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.room
}

func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

// MarkAlive records a probe answer. Only the transport pong calls this;
// application messages do not count as liveness evidence.
func (p *Peer) MarkAlive() {
	p.alive.Store(true)
	p.lastSeen.Store(time.Now().UnixMilli())
}

// LastSeen is the unix-milli timestamp of the latest liveness evidence.
func (p *Peer) LastSeen() int64 {
	return p.lastSeen.Load()
}

func (p *Peer) Send(payload []byte) error {
	return p.sender.TrySend(payload)
}

// Hub is the connection registry and broadcast engine.
type Hub struct {
	logger   zerolog.Logger
	interval time.Duration

	mx    *sync.RWMutex
	peers map[*Peer]struct{}
}

type Config struct {
	Logger            *zerolog.Logger
	HeartbeatInterval time.Duration
}

func New(cfg Config) *Hub {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Hub{
		logger:   cfg.Logger.With().Str("component", "hub").Logger(),
		interval: interval,
		mx:       &sync.RWMutex{},
		peers:    make(map[*Peer]struct{}),
	}
}

// Register adds a peer with no room assigned.
func (h *Hub) Register(p *Peer) {
	h.mx.Lock()
	h.peers[p] = struct{}{}
	h.mx.Unlock()

	h.logger.Debug().Str("peerID", p.ID).Msg("peer registered")
}

// Remove deregisters a peer. Safe to call more than once.
func (h *Hub) Remove(p *Peer) {
	h.mx.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	h.mx.Unlock()

	if ok {
		h.logger.Debug().Str("peerID", p.ID).Str("roomID", p.Room()).Msg("peer removed")
	}
}

// AssignRoom moves the peer into roomID, overwriting any prior assignment,
// and marks it Joined. Idempotent.
func (h *Hub) AssignRoom(p *Peer, roomID string) {
	p.mx.Lock()
	p.room = roomID
	p.mx.Unlock()
	p.state.Store(int32(StateJoined))

	h.logger.Debug().Str("peerID", p.ID).Str("roomID", roomID).Msg("peer assigned to room")
}

// ForEachInRoom calls fn for every registered peer of the room. Iteration is
// over a snapshot: peers registered afterwards are skipped, peers removed
// mid-iteration simply fail their send.
func (h *Hub) ForEachInRoom(roomID string, fn func(*Peer)) {
	for _, p := range h.snapshot(roomID) {
		fn(p)
	}
}

// RoomSize counts peers currently assigned to the room.
func (h *Hub) RoomSize(roomID string) int {
	return len(h.snapshot(roomID))
}

func (h *Hub) snapshot(roomID string) []*Peer {
	h.mx.RLock()
	defer h.mx.RUnlock()

	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		if p.Room() == roomID {
			peers = append(peers, p)
		}
	}
	return peers
}

// Broadcast sends the already-serialized payload to every peer of the room
// except exclude (which may be nil). A failed send is an implicit disconnect:
// the peer is terminated and removed, and the failure never reaches the
// other recipients.
func (h *Hub) Broadcast(roomID string, payload []byte, exclude *Peer) {
	for _, p := range h.snapshot(roomID) {
		if p == exclude {
			continue
		}
		if err := p.Send(payload); err != nil {
			h.logger.Warn().
				Err(err).
				Str("peerID", p.ID).
				Str("roomID", roomID).
				Msg("send failed, dropping peer")
			h.Remove(p)
			p.sender.Terminate()
		}
	}
}

// Run drives the heartbeat loop until ctx is done. Strict two-strike policy:
// a peer that has not produced liveness evidence since the previous tick is
// terminated, everyone else is probed and has its flag cleared.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", h.interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mx.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mx.RUnlock()

	for _, p := range peers {
		if !p.alive.Load() {
			h.logger.Warn().Str("peerID", p.ID).Msg("terminating unresponsive peer")
			h.Remove(p)
			p.sender.Terminate()
			continue
		}
		p.alive.Store(false)
		if err := p.sender.Probe(); err != nil {
			h.logger.Warn().Err(err).Str("peerID", p.ID).Msg("probe failed, dropping peer")
			h.Remove(p)
			p.sender.Terminate()
		}
	}
}
