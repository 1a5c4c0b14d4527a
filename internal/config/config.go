package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	envVarListenAddr           = "TOURCALL_LISTEN_ADDR"
	envVarAllowedOrigins       = "TOURCALL_ALLOWED_ORIGINS"
	envVarLogFormat            = "TOURCALL_LOG_FORMAT"
	envVarLogLevel             = "TOURCALL_LOG_LEVEL"
	envVarShutdownTimeout      = "TOURCALL_SHUTDOWN_TIMEOUT"
	envVarLegacySocketIO       = "TOURCALL_LEGACY_SOCKETIO"
	envVarWSPath               = "TOURCALL_WS_PATH"
	envVarMaxMessageBytes      = "TOURCALL_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "TOURCALL_MAX_MESSAGES_PER_SECOND"
	envVarScreenRequestTTL     = "TOURCALL_SCREEN_REQUEST_TTL"
	envVarSweepInterval        = "TOURCALL_SWEEP_INTERVAL"
	envVarQueueSize            = "TOURCALL_QUEUE_SIZE"
)

const (
	DefaultListenAddr           = ":3001"
	DefaultLogFormat            = LogFormatText
	DefaultLogLevel             = "info"
	DefaultShutdown             = 10 * time.Second
	DefaultWSPath               = "/ws"
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSweepInterval        = 5 * time.Second
	DefaultQueueSize            = 1024
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	LogFormat      LogFormat
	LogLevel       slog.Level

	ShutdownTimeout time.Duration

	// LegacySocketIO mounts the Socket.IO v2 endpoint for older clients.
	LegacySocketIO bool
	// WSPath is where the raw WebSocket transport is mounted; empty disables it.
	WSPath               string
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// ScreenRequestTTL expires unanswered screen-share requests; 0 keeps them
	// until answered or their requester leaves.
	ScreenRequestTTL time.Duration
	SweepInterval    time.Duration
	QueueSize        int

	logFormatRaw string
	logLevelRaw  string
	originsRaw   string
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:           envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		originsRaw:           envOrDefault(lookup, envVarAllowedOrigins, "*"),
		logFormatRaw:         envOrDefault(lookup, envVarLogFormat, string(DefaultLogFormat)),
		logLevelRaw:          envOrDefault(lookup, envVarLogLevel, DefaultLogLevel),
		WSPath:               DefaultWSPath,
		ShutdownTimeout:      DefaultShutdown,
		LegacySocketIO:       true,
		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SweepInterval:        DefaultSweepInterval,
		QueueSize:            DefaultQueueSize,
	}
	// An explicitly empty path disables the raw WebSocket transport.
	if raw, ok := lookup(envVarWSPath); ok {
		cfg.WSPath = strings.TrimSpace(raw)
	}

	var err error
	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ScreenRequestTTL, err = envDurationOrDefault(lookup, envVarScreenRequestTTL, 0); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDurationOrDefault(lookup, envVarSweepInterval, cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.LegacySocketIO, err = envBoolOrDefault(lookup, envVarLegacySocketIO, cfg.LegacySocketIO); err != nil {
		return Config{}, err
	}
	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)
	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, cfg.MaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = envIntOrDefault(lookup, envVarQueueSize, cfg.QueueSize); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers command-line overrides on fs, using the current values
// as flag defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "HTTP listen address (env "+envVarListenAddr+")")
	fs.StringVar(&c.originsRaw, "allowed-origins", c.originsRaw, "Comma-separated allowed CORS origins, * for any (env "+envVarAllowedOrigins+")")
	fs.StringVar(&c.logFormatRaw, "log-format", c.logFormatRaw, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&c.logLevelRaw, "log-level", c.logLevelRaw, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Graceful shutdown bound (env "+envVarShutdownTimeout+")")
	fs.BoolVar(&c.LegacySocketIO, "legacy-socketio", c.LegacySocketIO, "Serve Socket.IO v2 clients at /legacy/socket.io/ (env "+envVarLegacySocketIO+")")
	fs.StringVar(&c.WSPath, "ws-path", c.WSPath, "Raw WebSocket path, empty disables (env "+envVarWSPath+")")
	fs.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&c.MaxMessagesPerSecond, "max-messages-per-second", c.MaxMessagesPerSecond, "Max inbound events per connection per second, 0 for unlimited (env "+envVarMaxMessagesPerSecond+")")
	fs.DurationVar(&c.ScreenRequestTTL, "screen-request-ttl", c.ScreenRequestTTL, "Expire unanswered screen share requests after this long, 0 never (env "+envVarScreenRequestTTL+")")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Screen share request expiry check interval (env "+envVarSweepInterval+")")
	fs.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "Room-state inbound queue capacity (env "+envVarQueueSize+")")
}

// Validate parses the textual settings and checks bounds.
func (c *Config) Validate() error {
	format, err := parseLogFormat(c.logFormatRaw)
	if err != nil {
		return err
	}
	level, err := parseLogLevel(c.logLevelRaw)
	if err != nil {
		return err
	}
	c.LogFormat = format
	c.LogLevel = level
	c.AllowedOrigins = parseAllowedOrigins(c.originsRaw)

	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.WSPath != "" && !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("invalid ws path %q (must start with /)", c.WSPath))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be >= 0, got %v", c.ShutdownTimeout))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max message bytes must be > 0, got %d", c.MaxMessageBytes))
	}
	if c.MaxMessagesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("max messages per second must be >= 0, got %d", c.MaxMessagesPerSecond))
	}
	if c.ScreenRequestTTL < 0 {
		errs = append(errs, fmt.Errorf("screen request ttl must be >= 0, got %v", c.ScreenRequestTTL))
	}
	if c.ScreenRequestTTL > 0 && c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be > 0 when screen request ttl is set, got %v", c.SweepInterval))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue size must be >= 0, got %d", c.QueueSize))
	}
	return errors.Join(errs...)
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

// parseAllowedOrigins splits a comma list. A "*" entry allows any origin.
func parseAllowedOrigins(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return []string{"*"}
		}
		out = append(out, strings.TrimRight(entry, "/"))
	}
	return out
}

// AllowsAnyOrigin reports whether the origin list is the wildcard.
func (c Config) AllowsAnyOrigin() bool {
	return len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*"
}
