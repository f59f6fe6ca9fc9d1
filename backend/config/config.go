package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything not supplied on the command line. Values come
// from config.yaml (optional) and WATCHPARTY_* environment variables, with
// defaults matching a single-node dev setup.
type Config struct {
	RedisAddr         string        `mapstructure:"redis_addr"`
	UploadDir         string        `mapstructure:"upload_dir"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ChatHistoryLimit  int           `mapstructure:"chat_history_limit"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	VoiceSecret       string        `mapstructure:"voice_secret"`
	VoiceTokenTTL     time.Duration `mapstructure:"voice_token_ttl"`
	VoiceWSURL        string        `mapstructure:"voice_ws_url"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	v.SetEnvPrefix("WATCHPARTY")
	v.AutomaticEnv()

	// An empty redis_addr keeps the chat log in process memory.
	v.SetDefault("redis_addr", "")
	v.SetDefault("upload_dir", "uploads/sounds")
	v.SetDefault("max_upload_bytes", 10<<20)
	v.SetDefault("chat_history_limit", 50)
	v.SetDefault("heartbeat_interval", "30s")
	// Every key needs a default: Unmarshal only sees WATCHPARTY_* env
	// values for keys viper already knows about.
	v.SetDefault("voice_secret", "")
	v.SetDefault("voice_token_ttl", "1h")
	v.SetDefault("voice_ws_url", "")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env cover everything.
		// A file that exists but does not parse is not.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
