package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery/fcm"
)

// processConfig is everything the process needs: engine tuning plus the
// connection settings the library packages take as constructor arguments.
type processConfig struct {
	Engine    courier.Config  `toml:"engine"`
	Store     storeConfig     `toml:"store"`
	Transport transportConfig `toml:"transport"`
	HTTPAddr  string          `toml:"http_addr"`
	Audit     bool            `toml:"audit"`
	Log       logConfig       `toml:"log"`
}

type storeConfig struct {
	Kind        string `toml:"kind"`
	DatabaseURL string `toml:"database_url"`
	RedisURL    string `toml:"redis_url"`
	Migrate     bool   `toml:"migrate"`
}

type transportConfig struct {
	Kind            string  `toml:"kind"`
	CredentialsFile string  `toml:"credentials_file"`
	ProjectID       string  `toml:"project_id"`
	RateLimit       float64 `toml:"rate_limit"`
	RateBurst       int     `toml:"rate_burst"`

	AndroidPriority  string        `toml:"android_priority"`
	AndroidChannelID string        `toml:"android_channel_id"`
	APNSPriority     string        `toml:"apns_priority"`
	APNSSound        string        `toml:"apns_sound"`
	WebUrgency       string        `toml:"web_urgency"`
	TTL              time.Duration `toml:"ttl"`
}

type logConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

func (t transportConfig) hints() fcm.Hints {
	return fcm.Hints{
		AndroidPriority:  t.AndroidPriority,
		AndroidChannelID: t.AndroidChannelID,
		APNSPriority:     t.APNSPriority,
		APNSSound:        t.APNSSound,
		WebUrgency:       t.WebUrgency,
		TTL:              t.TTL,
	}
}

func defaultProcessConfig() processConfig {
	h := fcm.DefaultHints()
	return processConfig{
		Engine: courier.DefaultConfig(),
		Store:  storeConfig{Kind: "postgres", Migrate: true},
		Transport: transportConfig{
			Kind:             "fcm",
			AndroidPriority:  h.AndroidPriority,
			AndroidChannelID: h.AndroidChannelID,
			APNSPriority:     h.APNSPriority,
			APNSSound:        h.APNSSound,
			WebUrgency:       h.WebUrgency,
			TTL:              h.TTL,
		},
		Log: logConfig{Format: "json", Level: "info"},
	}
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// loadConfig reads the optional TOML file named by COURIER_CONFIG, applies
// environment overrides and validates the result. Any problem is fatal.
func loadConfig(lookup lookupFunc) (processConfig, error) {
	cfg := defaultProcessConfig()

	if path, ok := lookup("COURIER_CONFIG"); ok && path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: read %s: %w", courier.ErrInvalidConfig, path, err)
		}
	}

	var errs []error
	env := envReader{lookup: lookup, errs: &errs}

	env.int("COURIER_BATCH_SIZE", &cfg.Engine.BatchSize)
	env.duration("COURIER_POLL_INTERVAL", &cfg.Engine.PollInterval)
	env.duration("COURIER_MAX_BACKOFF", &cfg.Engine.MaxBackoff)
	env.duration("COURIER_CLAIM_TIMEOUT", &cfg.Engine.ClaimTimeout)
	env.duration("COURIER_ITEM_TIMEOUT", &cfg.Engine.ItemTimeout)
	env.duration("COURIER_SHUTDOWN_TIMEOUT", &cfg.Engine.ShutdownTimeout)
	env.duration("COURIER_RETENTION", &cfg.Engine.Retention)
	env.duration("COURIER_TOKEN_FRESHNESS", &cfg.Engine.TokenFreshness)
	env.string("COURIER_RECLAIM_SCHEDULE", &cfg.Engine.ReclaimSchedule)
	env.string("COURIER_PURGE_SCHEDULE", &cfg.Engine.PurgeSchedule)
	env.string("COURIER_REPORT_SCHEDULE", &cfg.Engine.ReportSchedule)

	env.string("COURIER_STORE", &cfg.Store.Kind)
	env.string("COURIER_DATABASE_URL", &cfg.Store.DatabaseURL)
	env.string("COURIER_REDIS_URL", &cfg.Store.RedisURL)
	env.bool("COURIER_MIGRATE", &cfg.Store.Migrate)

	env.string("COURIER_TRANSPORT", &cfg.Transport.Kind)
	env.string("COURIER_FCM_CREDENTIALS_FILE", &cfg.Transport.CredentialsFile)
	env.string("COURIER_FCM_PROJECT_ID", &cfg.Transport.ProjectID)
	env.float("COURIER_SEND_RATE_LIMIT", &cfg.Transport.RateLimit)
	env.int("COURIER_SEND_RATE_BURST", &cfg.Transport.RateBurst)
	env.string("COURIER_ANDROID_CHANNEL_ID", &cfg.Transport.AndroidChannelID)

	env.string("COURIER_HTTP_ADDR", &cfg.HTTPAddr)
	env.bool("COURIER_AUDIT", &cfg.Audit)
	env.string("COURIER_LOG_FORMAT", &cfg.Log.Format)
	env.string("COURIER_LOG_LEVEL", &cfg.Log.Level)

	if err := cfg.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, cfg.validate()...)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", courier.ErrInvalidConfig, errors.Join(errs...))
	}
	return cfg, nil
}

// validate checks credentials and process settings. Connection strings
// are parsed, not dialed.
func (c processConfig) validate() []error {
	var errs []error

	switch c.Store.Kind {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("COURIER_DATABASE_URL is required for the postgres store"))
		} else if _, err := pgxpool.ParseConfig(c.Store.DatabaseURL); err != nil {
			errs = append(errs, fmt.Errorf("COURIER_DATABASE_URL: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("COURIER_STORE must be postgres or memory, got %q", c.Store.Kind))
	}

	if c.Store.RedisURL != "" {
		if _, err := goredis.ParseURL(c.Store.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("COURIER_REDIS_URL: %w", err))
		}
	}

	switch c.Transport.Kind {
	case "log":
	case "fcm":
		if err := checkServiceAccount(c.Transport.CredentialsFile); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("COURIER_TRANSPORT must be fcm or log, got %q", c.Transport.Kind))
	}
	if c.Transport.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("send rate limit must be >= 0, got %v", c.Transport.RateLimit))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("COURIER_LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("COURIER_LOG_LEVEL: %w", err))
	}

	return errs
}

// checkServiceAccount requires a readable service-account JSON file that
// names its project.
func checkServiceAccount(path string) error {
	if path == "" {
		return errors.New("COURIER_FCM_CREDENTIALS_FILE is required for the fcm transport")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("COURIER_FCM_CREDENTIALS_FILE: %w", err)
	}
	var sa struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &sa); err != nil {
		return fmt.Errorf("COURIER_FCM_CREDENTIALS_FILE: not JSON: %w", err)
	}
	if sa.ProjectID == "" {
		return errors.New("COURIER_FCM_CREDENTIALS_FILE: missing project_id")
	}
	return nil
}

// envReader applies overrides and collects parse errors.
type envReader struct {
	lookup lookupFunc
	errs   *[]error
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e envReader) string(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

// newLogger builds the process logger. The config is already validated.
func newLogger(c logConfig) *slog.Logger {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(c.Level))
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
