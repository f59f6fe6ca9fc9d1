package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/feched/watch-party/backend/auth"
	"github.com/feched/watch-party/backend/hub"
	"github.com/feched/watch-party/backend/model"
)

const defaultChatHistoryLimit = 50

var (
	ErrPersistChat      = errors.New("unable to persist chat message")
	ErrFetchChat        = errors.New("unable to fetch chat history")
	ErrPurgeChat        = errors.New("unable to purge chat history")
	ErrStoreClip        = errors.New("unable to store sound clip")
	ErrUnsupportedMedia = errors.New("only audio files can be uploaded")
	ErrClipTooLarge     = errors.New("sound file exceeds the size limit")
	ErrMintToken        = errors.New("unable to mint voice token")
)

// allowedClipMimeTypes is the soundboard upload whitelist.
var allowedClipMimeTypes = map[string]struct{}{
	"audio/mpeg": {},
	"audio/wav":  {},
	"audio/ogg":  {},
	"audio/mp3":  {},
	"audio/m4a":  {},
}

type (
	// StateStore is the authoritative per-room state (video, music,
	// soundboard).
	StateStore interface {
		SetVideoState(roomID string, state model.VideoState) model.VideoState
		VideoState(roomID string) (model.VideoState, bool)
		MutateVideoState(roomID string, fn func(*model.VideoState)) model.VideoState
		SetMusicState(roomID string, state model.MusicState)
		MusicState(roomID string) (model.MusicState, bool)
		MutateMusicState(roomID string, fn func(*model.MusicState)) model.MusicState
		SetSoundboardState(roomID string, state model.SoundboardState)
		SoundboardState(roomID string) (model.SoundboardState, bool)
		AppendSound(roomID string, clip model.SoundClip) (model.SoundboardState, error)
	}

	// ChatLog is the external append-only chat message store.
	ChatLog interface {
		Append(ctx context.Context, msg model.ChatMessage) (model.ChatMessage, error)
		Recent(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error)
		Purge(ctx context.Context, roomID string) error
	}

	// BlobStore keeps uploaded clip bytes.
	BlobStore interface {
		Save(originalName string, r io.Reader) (string, int64, error)
	}

	Service struct {
		states  StateStore
		hub     *hub.Hub
		chat    ChatLog
		blobs   BlobStore
		minter  *auth.Minter
		logger  zerolog.Logger
		history int
		maxClip int64

		// Per-room mutual exclusion for the mutate-then-broadcast path,
		// so no recipient ever observes a torn state.
		roomMx sync.Map
	}

	Config struct {
		States           StateStore
		Hub              *hub.Hub
		ChatLog          ChatLog
		Blobs            BlobStore
		Minter           *auth.Minter
		Logger           *zerolog.Logger
		ChatHistoryLimit int
		MaxClipBytes     int64
	}
)

func New(cfg Config) *Service {
	history := cfg.ChatHistoryLimit
	if history <= 0 {
		history = defaultChatHistoryLimit
	}
	maxClip := cfg.MaxClipBytes
	if maxClip <= 0 {
		maxClip = 10 << 20
	}
	return &Service{
		states:  cfg.States,
		hub:     cfg.Hub,
		chat:    cfg.ChatLog,
		blobs:   cfg.Blobs,
		minter:  cfg.Minter,
		logger:  cfg.Logger.With().Str("component", "service").Logger(),
		history: history,
		maxClip: maxClip,
	}
}

func (svc *Service) lockRoom(roomID string) func() {
	mxAny, _ := svc.roomMx.LoadOrStore(roomID, &sync.Mutex{})
	mx := mxAny.(*sync.Mutex)
	mx.Lock()
	return mx.Unlock
}

// Connect registers a freshly upgraded connection. The peer stays Unjoined
// until a room assignment arrives.
func (svc *Service) Connect(p *hub.Peer) {
	svc.hub.Register(p)
}

// HandleMessage routes one inbound wire message from a peer. Unparseable
// payloads are logged and dropped; messages other than ping and join_room
// are silently ignored while the peer is Unjoined.
func (svc *Service) HandleMessage(ctx context.Context, p *hub.Peer, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		svc.logger.Warn().Err(err).Str("peerID", p.ID).Msg("dropping malformed message")
		return
	}

	switch env.Type {
	case model.KindPing:
		svc.reply(p, model.NewPongEvent(time.Now()))
		return
	case model.KindJoinRoom:
		if env.RoomID == "" {
			svc.logger.Warn().Str("peerID", p.ID).Msg("join_room without roomId")
			return
		}
		svc.Join(ctx, p, env.RoomID)
		return
	}

	if p.State() != hub.StateJoined {
		svc.logger.Debug().
			Str("peerID", p.ID).
			Str("kind", env.Type).
			Msg("ignoring message from unjoined peer")
		return
	}

	roomID := p.Room()
	switch env.Type {
	case model.KindVideoStateUpdate:
		svc.applyVideoUpdate(p, roomID, env.State)
	case model.KindMusicStateUpdate:
		svc.applyMusicUpdate(roomID, env.State)
	case model.KindSoundboardStateUpdate:
		svc.applySoundboardUpdate(roomID, env.State)
	case model.KindPlaySound:
		if env.SoundID == "" {
			return
		}
		svc.broadcast(roomID, model.NewPlaySoundEvent(env.SoundID), nil)
	case model.KindChatMessage:
		if env.Message == "" {
			return
		}
		svc.relayChat(ctx, roomID, env)
	default:
		svc.logger.Debug().Str("kind", env.Type).Msg("unknown message kind")
	}
}

// Join assigns the peer to the room and bootstraps it with the current
// snapshot of every category plus recent chat history. Messages from this
// peer are processed serially, so the bootstrap completes before any of its
// later messages are routed. A repeated join simply re-runs the bootstrap.
func (svc *Service) Join(ctx context.Context, p *hub.Peer, roomID string) {
	svc.hub.AssignRoom(p, roomID)

	// Snapshots are read and delivered under the room lock. A concurrent
	// update committing between read and send would reach the joiner
	// before the older snapshot, and overwrite-on-receive would leave it
	// behind the store for good.
	unlock := svc.lockRoom(roomID)
	if state, ok := svc.states.MusicState(roomID); ok {
		svc.reply(p, model.NewMusicBroadcast(state))
	}
	if state, ok := svc.states.VideoState(roomID); ok {
		svc.reply(p, model.NewVideoBroadcast(state, time.Now()))
	}
	if state, ok := svc.states.SoundboardState(roomID); ok {
		svc.reply(p, model.NewSoundboardBroadcast(state))
	}
	unlock()

	svc.logger.Debug().
		Str("peerID", p.ID).
		Str("roomID", roomID).
		Int("peers", svc.hub.RoomSize(roomID)).
		Msg("peer joined room")

	msgs, err := svc.chat.Recent(ctx, roomID, svc.history)
	if err != nil {
		svc.logger.Error().Err(err).Str("roomID", roomID).Msg("chat history fetch failed")
		return
	}
	if len(msgs) == 0 {
		return
	}
	views := make([]model.ChatView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View())
	}
	svc.reply(p, model.NewChatHistoryEvent(views))
}

// Disconnect removes the peer from the registry. Room state stays behind:
// it is a live-session cache that later joiners may still bootstrap from.
func (svc *Service) Disconnect(p *hub.Peer) {
	svc.hub.Remove(p)
}

func (svc *Service) applyVideoUpdate(p *hub.Peer, roomID string, raw json.RawMessage) {
	var state model.VideoState
	if err := json.Unmarshal(raw, &state); err != nil {
		svc.logger.Warn().Err(err).Str("roomID", roomID).Msg("dropping malformed video state")
		return
	}

	unlock := svc.lockRoom(roomID)
	defer unlock()

	stored := svc.states.SetVideoState(roomID, state)
	// The originator already reflects this change optimistically; echoing
	// it back would fight the local player.
	svc.broadcast(roomID, model.NewVideoBroadcast(stored, time.Now()), p)
}

func (svc *Service) applyMusicUpdate(roomID string, raw json.RawMessage) {
	var state model.MusicState
	if err := json.Unmarshal(raw, &state); err != nil {
		svc.logger.Warn().Err(err).Str("roomID", roomID).Msg("dropping malformed music state")
		return
	}

	unlock := svc.lockRoom(roomID)
	defer unlock()

	svc.states.SetMusicState(roomID, state)
	svc.broadcast(roomID, model.NewMusicBroadcast(state), nil)
}

func (svc *Service) applySoundboardUpdate(roomID string, raw json.RawMessage) {
	var state model.SoundboardState
	if err := json.Unmarshal(raw, &state); err != nil {
		svc.logger.Warn().Err(err).Str("roomID", roomID).Msg("dropping malformed soundboard state")
		return
	}

	unlock := svc.lockRoom(roomID)
	defer unlock()

	svc.states.SetSoundboardState(roomID, state)
	svc.broadcast(roomID, model.NewSoundboardBroadcast(state), nil)
}

func (svc *Service) relayChat(ctx context.Context, roomID string, env model.Envelope) {
	saved, err := svc.chat.Append(ctx, model.ChatMessage{
		RoomID:     roomID,
		UserID:     env.UserID,
		UserName:   env.UserName,
		UserAvatar: env.UserAvatar,
		Content:    env.Message,
	})
	if err != nil {
		svc.logger.Error().Err(err).Str("roomID", roomID).Msg("chat persist failed")
		return
	}
	svc.broadcast(roomID, model.NewChatEvent(saved.View()), nil)
}

// PostChat persists and broadcasts a chat message arriving over the one-shot
// surface. Persistence failure is returned to the caller and nothing is
// broadcast.
func (svc *Service) PostChat(ctx context.Context, msg model.ChatMessage) (model.ChatMessage, error) {
	saved, err := svc.chat.Append(ctx, msg)
	if err != nil {
		return model.ChatMessage{}, errors.Join(ErrPersistChat, err)
	}
	svc.broadcast(msg.RoomID, model.NewChatEvent(saved.View()), nil)
	return saved, nil
}

// ChatHistory returns up to limit of the newest messages, oldest first.
func (svc *Service) ChatHistory(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = svc.history
	}
	msgs, err := svc.chat.Recent(ctx, roomID, limit)
	if err != nil {
		return nil, errors.Join(ErrFetchChat, err)
	}
	return msgs, nil
}

// PurgeChat deletes the room's history from the external log.
func (svc *Service) PurgeChat(ctx context.Context, roomID string) error {
	if err := svc.chat.Purge(ctx, roomID); err != nil {
		return errors.Join(ErrPurgeChat, err)
	}
	return nil
}

// PlayMusic starts playback of videoID for the whole room.
func (svc *Service) PlayMusic(roomID, videoID, userID string, currentTime float64) {
	unlock := svc.lockRoom(roomID)
	defer unlock()

	state := svc.states.MutateVideoState(roomID, func(v *model.VideoState) {
		v.IsPlaying = true
		v.CurrentVideoID = &videoID
		v.CurrentTime = currentTime
	})
	svc.broadcast(roomID, model.NewVideoBroadcast(state, time.Now()), nil)

	svc.broadcast(roomID, model.MusicControlEvent{
		Type:        model.KindMusicControl,
		Control:     model.ControlPlay,
		VideoID:     videoID,
		UserID:      userID,
		CurrentTime: currentTime,
		Timestamp:   time.Now().UnixMilli(),
	}, nil)

	svc.states.MutateMusicState(roomID, func(m *model.MusicState) {
		m.IsPlaying = true
		m.CurrentVideoID = &videoID
	})
}

// PauseMusic pauses playback for the whole room.
func (svc *Service) PauseMusic(roomID, userID string, currentTime float64) {
	unlock := svc.lockRoom(roomID)
	defer unlock()

	if _, ok := svc.states.VideoState(roomID); ok {
		state := svc.states.MutateVideoState(roomID, func(v *model.VideoState) {
			v.IsPlaying = false
			v.CurrentTime = currentTime
		})
		svc.broadcast(roomID, model.NewVideoBroadcast(state, time.Now()), nil)
	}

	svc.broadcast(roomID, model.MusicControlEvent{
		Type:        model.KindMusicControl,
		Control:     model.ControlPause,
		UserID:      userID,
		CurrentTime: currentTime,
		Timestamp:   time.Now().UnixMilli(),
	}, nil)

	if _, ok := svc.states.MusicState(roomID); ok {
		svc.states.MutateMusicState(roomID, func(m *model.MusicState) {
			m.IsPlaying = false
		})
	}
}

// QueueAdd relays a queue addition. The queue itself is client-local; the
// hub never stores it, so a mid-session joiner cannot recover it from here.
func (svc *Service) QueueAdd(roomID string, song json.RawMessage, userID string) {
	svc.broadcast(roomID, model.MusicControlEvent{
		Type:      model.KindMusicControl,
		Control:   model.ControlAddToQueue,
		Song:      song,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}, nil)
}

// SetShuffle relays a shuffle toggle.
func (svc *Service) SetShuffle(roomID, userID string, isShuffled bool) {
	svc.broadcast(roomID, model.MusicControlEvent{
		Type:       model.KindMusicControl,
		Control:    model.ControlShuffle,
		IsShuffled: &isShuffled,
		UserID:     userID,
		Timestamp:  time.Now().UnixMilli(),
	}, nil)
}

// SetRepeat relays a repeat-mode change.
func (svc *Service) SetRepeat(roomID, userID, repeatMode string) {
	svc.broadcast(roomID, model.MusicControlEvent{
		Type:       model.KindMusicControl,
		Control:    model.ControlRepeat,
		RepeatMode: repeatMode,
		UserID:     userID,
		Timestamp:  time.Now().UnixMilli(),
	}, nil)
}

// PlaySound relays a soundboard play command.
func (svc *Service) PlaySound(roomID, soundID, userID string) {
	svc.broadcast(roomID, model.NewSoundControlEvent(model.ControlPlaySound, soundID, userID, time.Now()), nil)
}

// StopSound relays a soundboard stop command.
func (svc *Service) StopSound(roomID, soundID, userID string) {
	svc.broadcast(roomID, model.NewSoundControlEvent(model.ControlStopSound, soundID, userID, time.Now()), nil)
}

// UpdateVideoState overwrites the room's video state from the one-shot
// surface and broadcasts to the whole room, sender included.
func (svc *Service) UpdateVideoState(roomID string, state model.VideoState) model.VideoState {
	unlock := svc.lockRoom(roomID)
	defer unlock()

	stored := svc.states.SetVideoState(roomID, state)
	svc.broadcast(roomID, model.NewVideoBroadcast(stored, time.Now()), nil)
	return stored
}

// UploadSound validates, stores and announces a new soundboard clip.
// Rejections are synchronous and nothing is broadcast for them.
func (svc *Service) UploadSound(roomID, userID, filename, mimeType string, size int64, r io.Reader) (model.SoundClip, error) {
	if _, ok := allowedClipMimeTypes[mimeType]; !ok {
		return model.SoundClip{}, ErrUnsupportedMedia
	}
	if size > svc.maxClip {
		return model.SoundClip{}, ErrClipTooLarge
	}

	stored, written, err := svc.blobs.Save(filename, io.LimitReader(r, svc.maxClip+1))
	if err != nil {
		return model.SoundClip{}, errors.Join(ErrStoreClip, err)
	}
	if written > svc.maxClip {
		return model.SoundClip{}, ErrClipTooLarge
	}

	clip := model.SoundClip{
		ID:          "sound_" + uuid.NewString(),
		DisplayName: filename,
		StoragePath: "/uploads/sounds/" + stored,
		UploaderID:  userID,
		UploadedAt:  time.Now().UTC().Format(time.RFC3339),
		SizeBytes:   written,
		MimeType:    mimeType,
	}

	unlock := svc.lockRoom(roomID)
	defer unlock()

	state, err := svc.states.AppendSound(roomID, clip)
	if err != nil {
		return model.SoundClip{}, errors.Join(ErrStoreClip, err)
	}
	svc.broadcast(roomID, model.NewSoundboardBroadcast(state), nil)
	return clip, nil
}

// MintVoiceToken issues a voice-session credential for the nickname in the
// room.
func (svc *Service) MintVoiceToken(nickname, roomName string) (string, string, error) {
	token, err := svc.minter.Mint(nickname, roomName)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return "", "", err
		}
		return "", "", errors.Join(ErrMintToken, err)
	}
	return token, svc.minter.WSURL(), nil
}

func (svc *Service) broadcast(roomID string, event any, exclude *hub.Peer) {
	payload, err := json.Marshal(event)
	if err != nil {
		svc.logger.Error().Err(err).Str("roomID", roomID).Msg("event marshal failed")
		return
	}
	svc.hub.Broadcast(roomID, payload, exclude)
}

func (svc *Service) reply(p *hub.Peer, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		svc.logger.Error().Err(err).Str("peerID", p.ID).Msg("event marshal failed")
		return
	}
	if err := p.Send(payload); err != nil {
		svc.logger.Warn().Err(err).Str("peerID", p.ID).Msg("direct send failed")
	}
}
