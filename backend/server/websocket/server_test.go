package websocket_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/feched/watch-party/backend/auth"
	"github.com/feched/watch-party/backend/hub"
	"github.com/feched/watch-party/backend/model"
	wsServer "github.com/feched/watch-party/backend/server/websocket"
	"github.com/feched/watch-party/backend/service"
	"github.com/feched/watch-party/backend/storage/memory"
)

type stack struct {
	srv    *httptest.Server
	states *memory.StateStore
	svc    *service.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()

	logger := zerolog.Nop()
	states := memory.NewStateStore()
	peerHub := hub.New(hub.Config{Logger: &logger})
	svc := service.New(service.Config{
		States:  states,
		Hub:     peerHub,
		ChatLog: memory.NewChatLog(),
		Minter:  auth.NewMinter(auth.Config{Secret: "test-secret"}),
		Logger:  &logger,
	})

	server := wsServer.NewServer(wsServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  ":0",
	})
	srv := httptest.NewServer(server.Handler)
	t.Cleanup(srv.Close)

	return &stack{srv: srv, states: states, svc: svc}
}

func (s *stack) dial(t *testing.T, query string) *gorilla.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gorilla.Conn, env model.Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, raw))
}

func readFrame(t *testing.T, conn *gorilla.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestServer_PingPong(t *testing.T) {
	s := newStack(t)
	conn := s.dial(t, "")

	send(t, conn, model.Envelope{Type: model.KindPing})

	frame := readFrame(t, conn)
	require.Equal(t, model.KindPong, frame["type"])
	require.NotZero(t, frame["timestamp"])
}

func TestServer_JoinViaQueryParams(t *testing.T) {
	s := newStack(t)
	s.states.SetVideoState("movie-night", model.VideoState{IsPlaying: true, CurrentTime: 42})

	conn := s.dial(t, "roomId=movie-night&userId=alice")

	// The snapshot arrives before anything else on the channel.
	frame := readFrame(t, conn)
	require.Equal(t, model.KindVideoBroadcast, frame["type"])
	require.Equal(t, 42.0, frame["state"].(map[string]any)["currentTime"])
}

func TestServer_JoinViaEnvelope(t *testing.T) {
	s := newStack(t)
	s.states.SetMusicState("r1", model.MusicState{IsPlaying: true})

	conn := s.dial(t, "userId=alice")
	send(t, conn, model.Envelope{Type: model.KindJoinRoom, RoomID: "r1"})

	frame := readFrame(t, conn)
	require.Equal(t, model.KindMusicBroadcast, frame["type"])
}

func TestServer_VideoUpdateFanout(t *testing.T) {
	s := newStack(t)

	alice := s.dial(t, "roomId=r1&userId=alice")
	bob := s.dial(t, "roomId=r1&userId=bob")

	// Make sure bob's join settled before alice publishes.
	send(t, bob, model.Envelope{Type: model.KindPing})
	require.Equal(t, model.KindPong, readFrame(t, bob)["type"])

	state, err := json.Marshal(model.VideoState{IsPlaying: true, CurrentTime: 10})
	require.NoError(t, err)
	send(t, alice, model.Envelope{Type: model.KindVideoStateUpdate, State: state})

	frame := readFrame(t, bob)
	require.Equal(t, model.KindVideoBroadcast, frame["type"])
	require.Equal(t, true, frame["state"].(map[string]any)["isPlaying"])

	// The originator gets no echo: its next inbound frame is the answer to
	// a fresh ping, not the broadcast.
	send(t, alice, model.Envelope{Type: model.KindPing})
	require.Equal(t, model.KindPong, readFrame(t, alice)["type"])
}

func TestServer_ChatEchoesToSender(t *testing.T) {
	s := newStack(t)

	alice := s.dial(t, "roomId=r1&userId=alice")
	bob := s.dial(t, "roomId=r1&userId=bob")

	send(t, bob, model.Envelope{Type: model.KindPing})
	require.Equal(t, model.KindPong, readFrame(t, bob)["type"])

	send(t, alice, model.Envelope{
		Type:     model.KindChatMessage,
		UserID:   "alice",
		UserName: "Alice",
		Message:  "hello",
	})

	for _, conn := range []*gorilla.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, model.KindChatMessage, frame["type"])
		require.Equal(t, "hello", frame["message"].(map[string]any)["content"])
	}
}

func TestServer_ChatHistoryOnJoin(t *testing.T) {
	s := newStack(t)

	alice := s.dial(t, "roomId=r1&userId=alice")
	send(t, alice, model.Envelope{
		Type:     model.KindChatMessage,
		UserID:   "alice",
		UserName: "Alice",
		Message:  "first",
	})
	require.Equal(t, model.KindChatMessage, readFrame(t, alice)["type"])

	late := s.dial(t, "roomId=r1&userId=late")
	frame := readFrame(t, late)
	require.Equal(t, model.KindChatHistory, frame["type"])

	messages := frame["messages"].([]any)
	require.Len(t, messages, 1)
	require.Equal(t, "first", messages[0].(map[string]any)["content"])
}
