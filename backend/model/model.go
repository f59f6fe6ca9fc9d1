package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message kinds accepted by the hub.
const (
	KindJoinRoom              = "join_room"
	KindPing                  = "ping"
	KindVideoStateUpdate      = "video_state_update"
	KindMusicStateUpdate      = "music_state_update"
	KindSoundboardStateUpdate = "soundboard_state_update"
	KindPlaySound             = "play_sound"
	KindChatMessage           = "chat_message"
)

// Message kinds emitted by the hub.
const (
	KindPong                = "pong"
	KindVideoBroadcast      = "video_state_broadcast"
	KindMusicBroadcast      = "music_state_broadcast"
	KindSoundboardBroadcast = "soundboard_state_broadcast"
	KindChatHistory         = "chat_history"
	KindMusicControl        = "music_control"
	KindSoundControl        = "sound_control"
)

// Music control verbs relayed through KindMusicControl.
const (
	ControlPlay       = "play"
	ControlPause      = "pause"
	ControlAddToQueue = "add_to_queue"
	ControlShuffle    = "shuffle"
	ControlRepeat     = "repeat"
)

// Sound control verbs relayed through KindSoundControl.
const (
	ControlPlaySound = "play_sound"
	ControlStopSound = "stop_sound"
)

// Envelope is the inbound wire message. Only Type is always present;
// the remaining fields depend on the kind.
type Envelope struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	UserName   string          `json:"userName,omitempty"`
	UserAvatar string          `json:"userAvatar,omitempty"`
	Message    string          `json:"message,omitempty"`
	SoundID    string          `json:"soundId,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
}

// VideoState is the authoritative playback state of a room's video player.
// LastUpdate is stamped by the hub on every accepted mutation; conflicting
// writes resolve by arrival order, not by comparing timestamps.
type VideoState struct {
	IsPlaying      bool    `json:"isPlaying"`
	CurrentVideoID *string `json:"currentVideoId"`
	CurrentTime    float64 `json:"currentTime"`
	Duration       float64 `json:"duration"`
	LastUpdate     int64   `json:"lastUpdate"`
}

// MusicState holds the durable part of a room's music session. The queue is
// client-local and only relayed, never stored here.
type MusicState struct {
	IsPlaying      bool    `json:"isPlaying"`
	CurrentVideoID *string `json:"currentVideoId"`
}

// SoundClip describes one uploaded soundboard clip.
type SoundClip struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	StoragePath string `json:"path"`
	UploaderID  string `json:"uploadedBy"`
	UploadedAt  string `json:"uploadedAt"`
	SizeBytes   int64  `json:"size"`
	MimeType    string `json:"mimetype"`
}

// SoundboardState is the ordered, append-only clip collection of a room.
type SoundboardState struct {
	Sounds []SoundClip `json:"sounds"`
}

// ChatMessage is the persisted chat log record. The ID is assigned by the
// log store on append.
type ChatMessage struct {
	ID          int64     `json:"id"`
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	UserAvatar  string    `json:"userAvatar,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChatUser is the sender part of a formatted chat event.
type ChatUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ChatView is the client-facing shape of one chat message.
type ChatView struct {
	ID       string   `json:"id"`
	User     ChatUser `json:"user"`
	Content  string   `json:"content"`
	Time     string   `json:"time"`
	Type     string   `json:"type"`
	MediaURL string   `json:"mediaUrl,omitempty"`
}

const defaultAvatar = "/logo.png"

// View formats a log record into its broadcast shape.
func (m ChatMessage) View() ChatView {
	avatar := m.UserAvatar
	if avatar == "" {
		avatar = defaultAvatar
	}
	mt := m.MessageType
	if mt == "" {
		mt = "text"
	}
	return ChatView{
		ID:       "m" + strconv.FormatInt(m.ID, 10),
		User:     ChatUser{ID: m.UserID, Name: m.UserName, Avatar: avatar},
		Content:  m.Content,
		Time:     m.CreatedAt.Format("15:04"),
		Type:     mt,
		MediaURL: m.MediaURL,
	}
}

// Outbound events. Each carries its own type discriminator so a payload can
// be serialized once and fanned out as-is.

type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPongEvent(now time.Time) PongEvent {
	return PongEvent{Type: KindPong, Timestamp: now.UnixMilli()}
}

type VideoBroadcast struct {
	Type      string     `json:"type"`
	State     VideoState `json:"state"`
	Timestamp int64      `json:"timestamp"`
}

func NewVideoBroadcast(state VideoState, now time.Time) VideoBroadcast {
	return VideoBroadcast{Type: KindVideoBroadcast, State: state, Timestamp: now.UnixMilli()}
}

type MusicBroadcast struct {
	Type  string     `json:"type"`
	State MusicState `json:"state"`
}

func NewMusicBroadcast(state MusicState) MusicBroadcast {
	return MusicBroadcast{Type: KindMusicBroadcast, State: state}
}

type SoundboardBroadcast struct {
	Type  string          `json:"type"`
	State SoundboardState `json:"state"`
}

func NewSoundboardBroadcast(state SoundboardState) SoundboardBroadcast {
	return SoundboardBroadcast{Type: KindSoundboardBroadcast, State: state}
}

type PlaySoundEvent struct {
	Type    string `json:"type"`
	SoundID string `json:"soundId"`
}

func NewPlaySoundEvent(soundID string) PlaySoundEvent {
	return PlaySoundEvent{Type: KindPlaySound, SoundID: soundID}
}

type ChatEvent struct {
	Type    string   `json:"type"`
	Message ChatView `json:"message"`
}

func NewChatEvent(view ChatView) ChatEvent {
	return ChatEvent{Type: KindChatMessage, Message: view}
}

type ChatHistoryEvent struct {
	Type     string     `json:"type"`
	Messages []ChatView `json:"messages"`
}

func NewChatHistoryEvent(views []ChatView) ChatHistoryEvent {
	return ChatHistoryEvent{Type: KindChatHistory, Messages: views}
}

// MusicControlEvent relays a transient music command. Control holds the verb;
// the remaining fields are set per verb.
type MusicControlEvent struct {
	Type        string          `json:"type"`
	Control     string          `json:"control"`
	VideoID     string          `json:"videoId,omitempty"`
	UserID      string          `json:"userId"`
	CurrentTime float64         `json:"currentTime,omitempty"`
	Song        json.RawMessage `json:"song,omitempty"`
	IsShuffled  *bool           `json:"isShuffled,omitempty"`
	RepeatMode  string          `json:"repeatMode,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// SoundControlEvent relays a transient soundboard command.
type SoundControlEvent struct {
	Type      string `json:"type"`
	Control   string `json:"control"`
	SoundID   string `json:"soundId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

func NewSoundControlEvent(control, soundID, userID string, now time.Time) SoundControlEvent {
	return SoundControlEvent{
		Type:      KindSoundControl,
		Control:   control,
		SoundID:   soundID,
		UserID:    userID,
		Timestamp: now.UnixMilli(),
	}
}
