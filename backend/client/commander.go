package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Commander issues one-shot commands against the hub's REST surface.
// Commands are decoupled from the persistent channel: their effects arrive
// later as broadcasts on the Agent connection.
type Commander struct {
	baseURL string
	httpc   *http.Client
	roomID  string
	userID  string
}

func NewCommander(baseURL, roomID, userID string) *Commander {
	return &Commander{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		roomID:  roomID,
		userID:  userID,
	}
}

func (c *Commander) Play(ctx context.Context, videoID string, currentTime float64) error {
	return c.post(ctx, "/api/music/play", map[string]any{
		"roomId":      c.roomID,
		"videoId":     videoID,
		"userId":      c.userID,
		"currentTime": currentTime,
	})
}

func (c *Commander) Pause(ctx context.Context, currentTime float64) error {
	return c.post(ctx, "/api/music/pause", map[string]any{
		"roomId":      c.roomID,
		"userId":      c.userID,
		"currentTime": currentTime,
	})
}

func (c *Commander) AddToQueue(ctx context.Context, song json.RawMessage) error {
	return c.post(ctx, "/api/music/queue", map[string]any{
		"roomId": c.roomID,
		"song":   song,
		"userId": c.userID,
	})
}

func (c *Commander) SetShuffle(ctx context.Context, isShuffled bool) error {
	return c.post(ctx, "/api/music/shuffle", map[string]any{
		"roomId":     c.roomID,
		"userId":     c.userID,
		"isShuffled": isShuffled,
	})
}

func (c *Commander) SetRepeat(ctx context.Context, repeatMode string) error {
	return c.post(ctx, "/api/music/repeat", map[string]any{
		"roomId":     c.roomID,
		"userId":     c.userID,
		"repeatMode": repeatMode,
	})
}

func (c *Commander) PlaySound(ctx context.Context, soundID string) error {
	return c.post(ctx, "/api/sound/play", map[string]any{
		"roomId":  c.roomID,
		"soundId": soundID,
		"userId":  c.userID,
	})
}

func (c *Commander) StopSound(ctx context.Context, soundID string) error {
	return c.post(ctx, "/api/sound/stop", map[string]any{
		"roomId":  c.roomID,
		"soundId": soundID,
		"userId":  c.userID,
	})
}

func (c *Commander) post(ctx context.Context, path string, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("command %s rejected: %s", path, resp.Status)
	}
	return nil
}
