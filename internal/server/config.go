package server

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"           envDefault:"10"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// ChatConfig selects the public rooms and the history replay size.
type ChatConfig struct {
	Rooms        []string `env:"CHAT_ROOMS"         envSeparator:"," envDefault:"general,random,tech,gaming"`
	DefaultRoom  string   `env:"CHAT_DEFAULT_ROOM"  envDefault:"general"`
	HistoryLimit int      `env:"CHAT_HISTORY_LIMIT" envDefault:"100"`
}

// MongoConfig points at the message database. An empty URI keeps messages
// in memory.
type MongoConfig struct {
	URI        string `env:"MONGO_URI"`
	Database   string `env:"MONGO_DATABASE"   envDefault:"chat"`
	Collection string `env:"MONGO_COLLECTION" envDefault:"messages"`
}

// RedisConfig points at the presence mirror. An empty address disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// NATSConfig points at the event relay. An empty URL disables it.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"chat"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string        `env:"SERVER_PORT"      envDefault:":8080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"  envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"16384"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig
	Chat            ChatConfig
	Mongo           MongoConfig
	Redis           RedisConfig
	NATS            NATSConfig
	Log             LogConfig
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 16384
	defaultBurst           = 10
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() Config {
	cfg := Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"http://localhost:8080"},
		MaxMessageSize:  defaultMaxMessageSize,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Mongo: MongoConfig{Database: "chat", Collection: "messages"},
		NATS:  NATSConfig{SubjectPrefix: "chat"},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
	opts := chat.DefaultOptions()
	cfg.Chat = ChatConfig{Rooms: opts.Rooms, DefaultRoom: opts.DefaultRoom, HistoryLimit: opts.HistoryLimit}
	return cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables take their defaults and invalid values are clamped.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg.Sanitize(), nil
}

// Sanitize replaces invalid values with defaults.
func (cfg Config) Sanitize() Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	rooms := make([]string, 0, len(cfg.Chat.Rooms))
	for _, r := range cfg.Chat.Rooms {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	cfg.Chat.Rooms = rooms
	cfg.Chat.DefaultRoom = strings.TrimSpace(cfg.Chat.DefaultRoom)

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// ChatOptions converts the room settings for chat.NewHub, which fills in
// anything left empty.
func (cfg Config) ChatOptions() chat.Options {
	return chat.Options{
		Rooms:        append([]string(nil), cfg.Chat.Rooms...),
		DefaultRoom:  cfg.Chat.DefaultRoom,
		HistoryLimit: cfg.Chat.HistoryLimit,
	}
}

// LogFields summarizes the effective configuration for the startup log.
func (cfg Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("port", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Int64("max_message_size", cfg.MaxMessageSize),
		zap.Int("rate_limit_burst", cfg.RateLimit.Burst),
		zap.Duration("rate_limit_refill", cfg.RateLimit.RefillInterval),
		zap.Strings("rooms", cfg.Chat.Rooms),
		zap.Bool("mongo", cfg.Mongo.URI != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
	}
}
