package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/feched/watch-party/backend/hub"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	defaultSendQueueSize = 64
)

var (
	ErrUnexpected   = errors.New("unexpected server error")
	ErrBackpressure = errors.New("send queue is full")
	ErrConnClosed   = errors.New("connection is closed")
)

type (
	// RoomService owns the routing semantics; this server owns the
	// transport.
	RoomService interface {
		Connect(p *hub.Peer)
		Join(ctx context.Context, p *hub.Peer, roomID string)
		HandleMessage(ctx context.Context, p *hub.Peer, raw []byte)
		Disconnect(p *hub.Peer)
	}

	Config struct {
		Logger      *zerolog.Logger
		RoomService RoomService
		ListenAddr  string
	}

	Server struct {
		svc RoomService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.RoomService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.serveWS)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := query.Get("roomId")
	userID := query.Get("userId")
	if userID == "" {
		userID = uuid.NewString()
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := srv.logger.With().
		Str("peerID", userID).
		Logger()

	sender := newWSSender(conn)
	peer := hub.NewPeer(userID, sender)
	srv.svc.Connect(peer)

	logger.Debug().Str("roomID", roomID).Msg("peer connected")

	ctx, cancel := context.WithCancel(context.Background())

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		sender.run(ctx)
		cancel()
		wg.Done()
	}()

	// Query params pre-assign the room. The bootstrap runs before the read
	// loop starts, so no later message of this connection can interleave
	// with it. An explicit join_room may still arrive and re-run it.
	if roomID != "" {
		srv.svc.Join(ctx, peer, roomID)
	}

	go func() {
		srv.receive(ctx, peer, conn, &logger)
		cancel()
		wg.Done()
	}()

	go func() {
		wg.Wait()
		sender.Terminate()
		srv.svc.Disconnect(peer)
		logger.Debug().Msg("peer disconnected")
	}()
}

func (srv *Server) receive(ctx context.Context, peer *hub.Peer, conn *websocket.Conn, logger *zerolog.Logger) {
	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		peer.MarkAlive()
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(err).Msg("connection closed")
				} else {
					logger.Warn().Err(err).Msg("unexpected error during receive")
				}
				return
			}
			srv.svc.HandleMessage(ctx, peer, raw)
		}
	}
}

type frame struct {
	ping    bool
	payload []byte
}

// wsSender serializes all writes to one gorilla connection through a single
// goroutine. It implements hub.Sender.
type wsSender struct {
	conn *websocket.Conn
	send chan frame

	mx     sync.Mutex
	closed bool
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{
		conn: conn,
		send: make(chan frame, defaultSendQueueSize),
	}
}

// TrySend queues a text frame without blocking. A full queue counts as a
// failed send so the hub drops the peer instead of stalling a broadcast.
func (s *wsSender) TrySend(payload []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return ErrConnClosed
	}
	select {
	case s.send <- frame{payload: payload}:
		return nil
	default:
		return ErrBackpressure
	}
}

// Probe queues a ping control frame.
func (s *wsSender) Probe() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return ErrConnClosed
	}
	select {
	case s.send <- frame{ping: true}:
		return nil
	default:
		return ErrBackpressure
	}
}

// Terminate force-closes the transport; the read loop unblocks with an
// error and tears the session down.
func (s *wsSender) Terminate() {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	s.mx.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = s.conn.Close()
}

func (s *wsSender) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
				return
			}
			if f.ping {
				if err := s.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
					return
				}
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, f.payload); err != nil {
				return
			}
		}
	}
}
