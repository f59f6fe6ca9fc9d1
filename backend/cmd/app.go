package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/feched/watch-party/backend/auth"
	"github.com/feched/watch-party/backend/config"
	"github.com/feched/watch-party/backend/hub"
	httpServer "github.com/feched/watch-party/backend/server/http"
	websocketServer "github.com/feched/watch-party/backend/server/websocket"
	"github.com/feched/watch-party/backend/service"
	"github.com/feched/watch-party/backend/storage/blob"
	"github.com/feched/watch-party/backend/storage/memory"
	redisStore "github.com/feched/watch-party/backend/storage/redis"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket hub listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		configPath    = fs.StringP("config", "c", "config.yaml", "config file path")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	var chatLog service.ChatLog
	if cfg.RedisAddr != "" {
		chatLog = redisStore.NewChatLog(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis chat log")
	} else {
		chatLog = memory.NewChatLog()
		logger.Warn().Msg("using in-memory chat log, history is lost on restart")
	}

	blobs, err := blob.NewLocalStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init clip storage")
	}

	peerHub := hub.New(hub.Config{
		Logger:            &logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	svc := service.New(service.Config{
		States:  memory.NewStateStore(),
		Hub:     peerHub,
		ChatLog: chatLog,
		Blobs:   blobs,
		Minter: auth.NewMinter(auth.Config{
			Secret:   cfg.VoiceSecret,
			TokenTTL: cfg.VoiceTokenTTL,
			WSURL:    cfg.VoiceWSURL,
		}),
		Logger:           &logger,
		ChatHistoryLimit: cfg.ChatHistoryLimit,
		MaxClipBytes:     cfg.MaxUploadBytes,
	})

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		CommandService: svc,
		ListenAddr:     *apiListenAddr,
		UploadDir:      blobs.Dir(),
		Debug:          lvl <= zerolog.DebugLevel,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go peerHub.Run(ctx)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
