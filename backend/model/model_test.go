package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatMessage_View(t *testing.T) {
	t.Parallel()

	t.Run("it should format the record for broadcast", func(t *testing.T) {
		created := time.Date(2025, 6, 1, 15, 4, 30, 0, time.UTC)
		view := ChatMessage{
			ID:         7,
			UserID:     "u1",
			UserName:   "Alice",
			UserAvatar: "/avatars/alice.png",
			Content:    "hello",
			CreatedAt:  created,
		}.View()

		require.Equal(t, "m7", view.ID)
		require.Equal(t, "Alice", view.User.Name)
		require.Equal(t, "/avatars/alice.png", view.User.Avatar)
		require.Equal(t, "15:04", view.Time)
		require.Equal(t, "text", view.Type)
	})

	t.Run("it should fall back to the default avatar", func(t *testing.T) {
		view := ChatMessage{ID: 1, UserID: "u1", Content: "hi"}.View()
		require.Equal(t, "/logo.png", view.User.Avatar)
	})

	t.Run("it should keep an explicit message type", func(t *testing.T) {
		view := ChatMessage{ID: 1, MessageType: "media", MediaURL: "/uploads/x.png"}.View()
		require.Equal(t, "media", view.Type)
		require.Equal(t, "/uploads/x.png", view.MediaURL)
	})
}

func TestEnvelope_Decode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"video_state_update","roomId":"r1","state":{"isPlaying":true,"currentTime":12.5}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, KindVideoStateUpdate, env.Type)
	require.Equal(t, "r1", env.RoomID)

	var state VideoState
	require.NoError(t, json.Unmarshal(env.State, &state))
	require.True(t, state.IsPlaying)
	require.Equal(t, 12.5, state.CurrentTime)
	require.Nil(t, state.CurrentVideoID)
}

func TestOutboundEvents_CarryTheirKind(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.Equal(t, KindPong, NewPongEvent(now).Type)
	require.Equal(t, KindVideoBroadcast, NewVideoBroadcast(VideoState{}, now).Type)
	require.Equal(t, KindMusicBroadcast, NewMusicBroadcast(MusicState{}).Type)
	require.Equal(t, KindSoundboardBroadcast, NewSoundboardBroadcast(SoundboardState{}).Type)
	require.Equal(t, KindPlaySound, NewPlaySoundEvent("sound_1").Type)
	require.Equal(t, KindChatMessage, NewChatEvent(ChatView{}).Type)
	require.Equal(t, KindChatHistory, NewChatHistoryEvent(nil).Type)
	require.Equal(t, KindSoundControl, NewSoundControlEvent(ControlPlaySound, "sound_1", "u1", now).Type)
}
