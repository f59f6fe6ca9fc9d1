package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/feched/watch-party/backend/auth"
	"github.com/feched/watch-party/backend/model"
	"github.com/feched/watch-party/backend/service"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// CommandService is the one-shot command surface of the hub.
	CommandService interface {
		PlayMusic(roomID, videoID, userID string, currentTime float64)
		PauseMusic(roomID, userID string, currentTime float64)
		QueueAdd(roomID string, song json.RawMessage, userID string)
		SetShuffle(roomID, userID string, isShuffled bool)
		SetRepeat(roomID, userID, repeatMode string)
		PlaySound(roomID, soundID, userID string)
		StopSound(roomID, soundID, userID string)
		UpdateVideoState(roomID string, state model.VideoState) model.VideoState
		UploadSound(roomID, userID, filename, mimeType string, size int64, r io.Reader) (model.SoundClip, error)
		PostChat(ctx context.Context, msg model.ChatMessage) (model.ChatMessage, error)
		ChatHistory(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error)
		PurgeChat(ctx context.Context, roomID string) error
		MintVoiceToken(nickname, roomName string) (string, string, error)
	}

	Config struct {
		Logger         *zerolog.Logger
		CommandService CommandService
		ListenAddr     string
		UploadDir      string
		Debug          bool
	}

	Server struct {
		svc    CommandService
		logger zerolog.Logger
		*http.Server
	}
)

func NewServer(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.CommandService,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	if cfg.UploadDir != "" {
		r.Static("/uploads/sounds", cfg.UploadDir)
	}

	api := r.Group("/api")
	api.GET("/ping", srv.ping)
	api.POST("/auth", srv.mintToken)

	api.POST("/music/play", srv.musicPlay)
	api.POST("/music/pause", srv.musicPause)
	api.POST("/music/queue", srv.musicQueue)
	api.POST("/music/shuffle", srv.musicShuffle)
	api.POST("/music/repeat", srv.musicRepeat)

	api.POST("/sound/play", srv.soundPlay)
	api.POST("/sound/stop", srv.soundStop)
	api.POST("/sound/upload", srv.soundUpload)

	api.POST("/video/state", srv.videoState)

	api.GET("/chat/:roomId/messages", srv.chatHistory)
	api.POST("/chat/:roomId/messages", srv.chatPost)
	api.DELETE("/chat/:roomId/messages", srv.chatPurge)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"message": message})
}

func (srv *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"timestamp": time.Now().UnixMilli(),
		"message":   "pong",
	})
}

type tokenRequest struct {
	Nickname string `json:"nickname"`
	RoomName string `json:"roomName"`
}

func (srv *Server) mintToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Nickname == "" || req.RoomName == "" {
		fail(c, http.StatusBadRequest, "Nickname and room name are required")
		return
	}

	token, wsURL, err := srv.svc.MintVoiceToken(req.Nickname, req.RoomName)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			fail(c, http.StatusServiceUnavailable, "Voice chat service is temporarily unavailable. Please try again later.")
			return
		}
		srv.logger.Error().Err(err).Msg("token mint failed")
		fail(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "wsUrl": wsURL})
}

type musicPlayRequest struct {
	RoomID      string  `json:"roomId"`
	VideoID     string  `json:"videoId"`
	UserID      string  `json:"userId"`
	CurrentTime float64 `json:"currentTime"`
}

func (srv *Server) musicPlay(c *gin.Context) {
	var req musicPlayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.VideoID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID, video ID and user ID are required")
		return
	}

	srv.svc.PlayMusic(req.RoomID, req.VideoID, req.UserID, req.CurrentTime)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type musicPauseRequest struct {
	RoomID      string  `json:"roomId"`
	UserID      string  `json:"userId"`
	CurrentTime float64 `json:"currentTime"`
}

func (srv *Server) musicPause(c *gin.Context) {
	var req musicPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID and user ID are required")
		return
	}

	srv.svc.PauseMusic(req.RoomID, req.UserID, req.CurrentTime)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type musicQueueRequest struct {
	RoomID string          `json:"roomId"`
	Song   json.RawMessage `json:"song"`
	UserID string          `json:"userId"`
}

func (srv *Server) musicQueue(c *gin.Context) {
	var req musicQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || len(req.Song) == 0 || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID, song and user ID are required")
		return
	}

	srv.svc.QueueAdd(req.RoomID, req.Song, req.UserID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type musicShuffleRequest struct {
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	IsShuffled *bool  `json:"isShuffled"`
}

func (srv *Server) musicShuffle(c *gin.Context) {
	var req musicShuffleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.UserID == "" || req.IsShuffled == nil {
		fail(c, http.StatusBadRequest, "Room ID, user ID and shuffle state are required")
		return
	}

	srv.svc.SetShuffle(req.RoomID, req.UserID, *req.IsShuffled)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type musicRepeatRequest struct {
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	RepeatMode string `json:"repeatMode"`
}

func (srv *Server) musicRepeat(c *gin.Context) {
	var req musicRepeatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.UserID == "" || req.RepeatMode == "" {
		fail(c, http.StatusBadRequest, "Room ID, user ID and repeat mode are required")
		return
	}

	srv.svc.SetRepeat(req.RoomID, req.UserID, req.RepeatMode)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type soundControlRequest struct {
	RoomID  string `json:"roomId"`
	SoundID string `json:"soundId"`
	UserID  string `json:"userId"`
}

func (srv *Server) soundPlay(c *gin.Context) {
	var req soundControlRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.SoundID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID, sound ID and user ID are required")
		return
	}

	srv.svc.PlaySound(req.RoomID, req.SoundID, req.UserID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (srv *Server) soundStop(c *gin.Context) {
	var req soundControlRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.SoundID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID, sound ID and user ID are required")
		return
	}

	srv.svc.StopSound(req.RoomID, req.SoundID, req.UserID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (srv *Server) soundUpload(c *gin.Context) {
	roomID := c.PostForm("roomId")
	userID := c.PostForm("userId")
	fileHeader, err := c.FormFile("sound")
	if roomID == "" || userID == "" || err != nil {
		fail(c, http.StatusBadRequest, "Room ID, user ID and sound file are required")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		srv.logger.Error().Err(err).Msg("upload open failed")
		fail(c, http.StatusInternalServerError, "Failed to upload sound file")
		return
	}
	defer f.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	clip, err := srv.svc.UploadSound(roomID, userID, fileHeader.Filename, mimeType, fileHeader.Size, f)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedMedia), errors.Is(err, service.ErrClipTooLarge):
			fail(c, http.StatusBadRequest, err.Error())
		default:
			srv.logger.Error().Err(err).Str("roomID", roomID).Msg("sound upload failed")
			fail(c, http.StatusInternalServerError, "Failed to upload sound file")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "sound": clip})
}

type videoStateRequest struct {
	RoomID      string  `json:"roomId"`
	UserID      string  `json:"userId"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	VideoID     *string `json:"videoId"`
}

func (srv *Server) videoState(c *gin.Context) {
	var req videoStateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Room ID and user ID are required")
		return
	}

	srv.svc.UpdateVideoState(req.RoomID, model.VideoState{
		IsPlaying:      req.IsPlaying,
		CurrentVideoID: req.VideoID,
		CurrentTime:    req.CurrentTime,
		Duration:       req.Duration,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (srv *Server) chatHistory(c *gin.Context) {
	roomID := c.Param("roomId")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			fail(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	msgs, err := srv.svc.ChatHistory(c.Request.Context(), roomID, limit)
	if err != nil {
		srv.logger.Error().Err(err).Str("roomID", roomID).Msg("chat history fetch failed")
		fail(c, http.StatusInternalServerError, "Failed to fetch chat messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type chatPostRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	UserAvatar  string `json:"userAvatar"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	MediaURL    string `json:"mediaUrl"`
}

func (srv *Server) chatPost(c *gin.Context) {
	roomID := c.Param("roomId")

	var req chatPostRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.UserName == "" || req.Content == "" {
		fail(c, http.StatusBadRequest, "User ID, user name and content are required")
		return
	}

	saved, err := srv.svc.PostChat(c.Request.Context(), model.ChatMessage{
		RoomID:      roomID,
		UserID:      req.UserID,
		UserName:    req.UserName,
		UserAvatar:  req.UserAvatar,
		Content:     req.Content,
		MessageType: req.MessageType,
		MediaURL:    req.MediaURL,
	})
	if err != nil {
		srv.logger.Error().Err(err).Str("roomID", roomID).Msg("chat post failed")
		fail(c, http.StatusInternalServerError, "Failed to create chat message")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": saved})
}

func (srv *Server) chatPurge(c *gin.Context) {
	roomID := c.Param("roomId")
	if err := srv.svc.PurgeChat(c.Request.Context(), roomID); err != nil {
		srv.logger.Error().Err(err).Str("roomID", roomID).Msg("chat purge failed")
		fail(c, http.StatusInternalServerError, "Failed to delete chat messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
