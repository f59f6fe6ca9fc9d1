// Package client contains the participant-side sync agent and the one-shot
// command client. One Agent instance per state category (chat, music,
// soundboard) keeps a live connection to the hub and applies inbound
// broadcasts to the local view.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/feched/watch-party/backend/model"
)

const (
	defaultMaxAttempts    = 5
	defaultBaseBackoff    = time.Second
	defaultMaxBackoff     = 10 * time.Second
	defaultPingInterval   = 25 * time.Second
	defaultUpdateThrottle = 2 * time.Second

	defaultDialTimeout  = 3 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

var (
	ErrNotOpen        = errors.New("connection is not open")
	ErrAlreadyRunning = errors.New("agent is already running")
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// AgentState is the explicit connection lifecycle state.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type Config struct {
	// URL is the hub's websocket endpoint, e.g. ws://host:8888/ws.
	URL    string
	RoomID string
	UserID string
	Logger *zerolog.Logger

	// OnBroadcast receives every inbound event except pong. The payload is
	// the full wire message; handlers overwrite their local view with it,
	// never merge.
	OnBroadcast func(kind string, payload []byte)

	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	UpdateThrottle time.Duration
}

type Agent struct {
	cfg    Config
	logger zerolog.Logger

	state   atomic.Int32
	running atomic.Bool

	mx         sync.Mutex
	conn       *websocket.Conn
	lastUpdate time.Time
}

func NewAgent(cfg Config) *Agent {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.UpdateThrottle <= 0 {
		cfg.UpdateThrottle = defaultUpdateThrottle
	}
	return &Agent{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "sync-agent").Str("roomID", cfg.RoomID).Logger(),
	}
}

func (a *Agent) State() AgentState {
	return AgentState(a.state.Load())
}

// Run owns the connection lifecycle until ctx is done, the hub closes the
// channel normally, or the retry ceiling is hit. Only one Run per agent may
// be active; this is the guard that keeps one connection attempt in flight.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	attempts := 0
	for {
		a.state.Store(int32(StateConnecting))
		conn, err := a.dial(ctx)
		if err != nil {
			a.state.Store(int32(StateErrored))
			attempts++
			if attempts >= a.cfg.MaxAttempts {
				a.logger.Error().Err(err).Int("attempts", attempts).Msg("giving up")
				return errors.Join(ErrRetryExhausted, err)
			}
			delay := Backoff(a.cfg.BaseBackoff, a.cfg.MaxBackoff, attempts-1)
			a.logger.Warn().Err(err).Dur("backoff", delay).Msg("dial failed, retrying")
			select {
			case <-ctx.Done():
				a.state.Store(int32(StateClosed))
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		// A successful open resets the attempt counter.
		attempts = 0
		normal, err := a.session(ctx, conn)
		if normal || ctx.Err() != nil {
			a.state.Store(int32(StateClosed))
			return ctx.Err()
		}
		a.state.Store(int32(StateErrored))
		attempts++
		if attempts >= a.cfg.MaxAttempts {
			a.logger.Error().Err(err).Int("attempts", attempts).Msg("giving up")
			return errors.Join(ErrRetryExhausted, err)
		}
		delay := Backoff(a.cfg.BaseBackoff, a.cfg.MaxBackoff, attempts-1)
		a.logger.Warn().Err(err).Dur("backoff", delay).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			a.state.Store(int32(StateClosed))
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	dialer := &websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	conn, _, err := dialer.DialContext(dialCtx, a.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// session runs one open connection to completion. It reports whether the
// closure was a normal one (close code 1000), which stops the retry loop.
func (a *Agent) session(ctx context.Context, conn *websocket.Conn) (bool, error) {
	a.mx.Lock()
	a.conn = conn
	a.mx.Unlock()
	a.state.Store(int32(StateOpen))

	defer func() {
		a.mx.Lock()
		a.conn = nil
		a.mx.Unlock()
		_ = conn.Close()
	}()

	if err := a.send(model.Envelope{Type: model.KindJoinRoom, RoomID: a.cfg.RoomID, UserID: a.cfg.UserID}); err != nil {
		return false, err
	}
	a.logger.Debug().Msg("joined room")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.pingLoop(sessionCtx)
	go func() {
		// Unblocks the read loop when ctx is cancelled.
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				a.logger.Debug().Msg("hub closed the connection")
				return true, nil
			}
			return false, err
		}
		a.dispatch(raw)
	}
}

func (a *Agent) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.send(model.Envelope{Type: model.KindPing}); err != nil {
				return
			}
		}
	}
}

func (a *Agent) dispatch(raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Warn().Err(err).Msg("dropping malformed broadcast")
		return
	}
	if env.Type == model.KindPong {
		return
	}
	if a.cfg.OnBroadcast != nil {
		a.cfg.OnBroadcast(env.Type, raw)
	}
}

// SendStateUpdate pushes the local category state to the hub over the
// persistent channel. Pushes are throttled; a throttled push is dropped
// silently (the next one carries fresher state anyway).
func (a *Agent) SendStateUpdate(kind string, state any) error {
	a.mx.Lock()
	if time.Since(a.lastUpdate) < a.cfg.UpdateThrottle {
		a.mx.Unlock()
		return nil
	}
	a.lastUpdate = time.Now()
	a.mx.Unlock()

	rawState, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return a.send(model.Envelope{Type: kind, RoomID: a.cfg.RoomID, State: rawState})
}

// send serializes writes under the agent mutex; gorilla allows only one
// concurrent writer.
func (a *Agent) send(env model.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	a.mx.Lock()
	defer a.mx.Unlock()
	if a.conn == nil {
		return ErrNotOpen
	}
	if err := a.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	return a.conn.WriteMessage(websocket.TextMessage, b)
}

// Backoff returns the delay before retry number attempt (zero-based):
// base doubled per attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
