package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/feched/watch-party/backend/model"
)

var (
	ErrDuplicateClip = errors.New("sound clip id already exists in room")
)

// roomState groups the three per-room categories. A nil pointer means that
// category has never been written for the room.
type roomState struct {
	video      *model.VideoState
	music      *model.MusicState
	soundboard *model.SoundboardState
}

// StateStore is the authoritative in-memory room state. Rooms exist
// implicitly on first write and disappear on DropRoom.
type StateStore struct {
	mx    *sync.Mutex
	rooms map[string]*roomState
}

func NewStateStore() *StateStore {
	return &StateStore{
		mx:    &sync.Mutex{},
		rooms: make(map[string]*roomState),
	}
}

func (s *StateStore) room(roomID string) *roomState {
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomState{}
		s.rooms[roomID] = rs
	}
	return rs
}

// SetVideoState overwrites the room's video state and stamps LastUpdate.
// Last write wins by arrival order; timestamps are never compared.
func (s *StateStore) SetVideoState(roomID string, state model.VideoState) model.VideoState {
	s.mx.Lock()
	defer s.mx.Unlock()

	state.LastUpdate = time.Now().UnixMilli()
	rs := s.room(roomID)
	if rs.video != nil && state.LastUpdate <= rs.video.LastUpdate {
		// Wall clock did not move between two accepted writes; keep
		// LastUpdate strictly increasing anyway.
		state.LastUpdate = rs.video.LastUpdate + 1
	}
	rs.video = &state
	return state
}

func (s *StateStore) VideoState(roomID string) (model.VideoState, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok || rs.video == nil {
		return model.VideoState{}, false
	}
	return *rs.video, true
}

// MutateVideoState applies fn to the room's current video state (zero value
// if unset) under the store lock, so REST commands and WS updates to the same
// room cannot interleave.
func (s *StateStore) MutateVideoState(roomID string, fn func(*model.VideoState)) model.VideoState {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs := s.room(roomID)
	if rs.video == nil {
		rs.video = &model.VideoState{}
	}
	fn(rs.video)
	now := time.Now().UnixMilli()
	if now <= rs.video.LastUpdate {
		now = rs.video.LastUpdate + 1
	}
	rs.video.LastUpdate = now
	return *rs.video
}

func (s *StateStore) SetMusicState(roomID string, state model.MusicState) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs := s.room(roomID)
	rs.music = &state
}

func (s *StateStore) MusicState(roomID string) (model.MusicState, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok || rs.music == nil {
		return model.MusicState{}, false
	}
	return *rs.music, true
}

// MutateMusicState applies fn to the room's music state (zero value if unset).
func (s *StateStore) MutateMusicState(roomID string, fn func(*model.MusicState)) model.MusicState {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs := s.room(roomID)
	if rs.music == nil {
		rs.music = &model.MusicState{}
	}
	fn(rs.music)
	return *rs.music
}

func (s *StateStore) SetSoundboardState(roomID string, state model.SoundboardState) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs := s.room(roomID)
	rs.soundboard = &state
}

func (s *StateStore) SoundboardState(roomID string) (model.SoundboardState, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok || rs.soundboard == nil {
		return model.SoundboardState{}, false
	}
	return copySoundboard(*rs.soundboard), true
}

// AppendSound adds a clip to the room's soundboard. Clip ids are unique
// within a room; the collection is append-only.
func (s *StateStore) AppendSound(roomID string, clip model.SoundClip) (model.SoundboardState, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rs := s.room(roomID)
	if rs.soundboard == nil {
		rs.soundboard = &model.SoundboardState{}
	}
	for _, existing := range rs.soundboard.Sounds {
		if existing.ID == clip.ID {
			return model.SoundboardState{}, ErrDuplicateClip
		}
	}
	rs.soundboard.Sounds = append(rs.soundboard.Sounds, clip)
	return copySoundboard(*rs.soundboard), nil
}

// DropRoom clears every category for the room. Correctness never requires
// this; it exists for memory hygiene once a room has emptied.
func (s *StateStore) DropRoom(roomID string) {
	s.mx.Lock()
	defer s.mx.Unlock()

	delete(s.rooms, roomID)
}

func copySoundboard(state model.SoundboardState) model.SoundboardState {
	sounds := make([]model.SoundClip, len(state.Sounds))
	copy(sounds, state.Sounds)
	return model.SoundboardState{Sounds: sounds}
}
