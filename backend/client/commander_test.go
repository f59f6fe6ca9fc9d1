package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feched/watch-party/backend/client"
)

type apiStub struct {
	mx     sync.Mutex
	paths  []string
	bodies []map[string]any
	status int
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mx.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.bodies = append(s.bodies, body)
	status := s.status
	s.mx.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func TestCommander(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("commands hit their endpoints with room and user attached", func(t *testing.T) {
		stub := &apiStub{}
		srv := httptest.NewServer(stub)
		defer srv.Close()

		c := client.NewCommander(srv.URL, "movie-night", "dj")

		require.NoError(t, c.Play(ctx, "vid-1", 30))
		require.NoError(t, c.Pause(ctx, 45))
		require.NoError(t, c.AddToQueue(ctx, json.RawMessage(`{"videoId":"vid-9"}`)))
		require.NoError(t, c.SetShuffle(ctx, false))
		require.NoError(t, c.SetRepeat(ctx, "one"))
		require.NoError(t, c.PlaySound(ctx, "sound_1"))
		require.NoError(t, c.StopSound(ctx, "sound_1"))

		require.Equal(t, []string{
			"/api/music/play",
			"/api/music/pause",
			"/api/music/queue",
			"/api/music/shuffle",
			"/api/music/repeat",
			"/api/sound/play",
			"/api/sound/stop",
		}, stub.paths)

		play := stub.bodies[0]
		require.Equal(t, "movie-night", play["roomId"])
		require.Equal(t, "dj", play["userId"])
		require.Equal(t, "vid-1", play["videoId"])
		require.Equal(t, 30.0, play["currentTime"])

		shuffle := stub.bodies[3]
		require.Equal(t, false, shuffle["isShuffled"])
	})

	t.Run("a rejected command surfaces as an error", func(t *testing.T) {
		stub := &apiStub{status: http.StatusBadRequest}
		srv := httptest.NewServer(stub)
		defer srv.Close()

		c := client.NewCommander(srv.URL, "movie-night", "dj")
		err := c.Play(ctx, "", 0)
		require.ErrorContains(t, err, "rejected")
	})

	t.Run("an unreachable hub surfaces as an error", func(t *testing.T) {
		c := client.NewCommander("http://127.0.0.1:1", "movie-night", "dj")
		require.Error(t, c.Play(ctx, "vid-1", 0))
	})
}
