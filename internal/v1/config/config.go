package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Config holds validated environment configuration
type Config struct {
	// Game listener
	Port      string
	AdminPort string

	// Client gate
	MinClientVersion string

	// Identity service (Openplanet)
	AuthBaseURL string
	AuthSecret  string // empty enables development bypass

	// Map catalogue (Trackmania Exchange)
	TMXBaseURL      string
	TMXUserAgent    string
	MapQueueTarget  int
	MapQueueCap     int
	MapFetchTimeout time.Duration

	// Room settings
	TeamPalette       []types.TeamDefinition
	JoinCodeAlphabet  string
	JoinCodeLength    int
	ReconnectLinger   time.Duration
	RateLimitRequests string // ulule/limiter formatted rate, per connection

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Tracing
	TracingEnabled bool
	OtelCollector  string
}

// Defaults mirroring the reference deployment.
const (
	defaultPort             = "6600"
	defaultAdminPort        = "8080"
	defaultMinVersion       = "3.0"
	defaultAuthBaseURL      = "https://openplanet.dev"
	defaultTMXBaseURL       = "https://trackmania.exchange"
	defaultTMXUserAgent     = "bingo-server (+https://github.com/tmbingo/bingo-server)"
	defaultQueueTarget      = 10
	defaultQueueCap         = 30
	defaultFetchTimeout     = 20 * time.Second
	defaultJoinCodeAlphabet = "ACDEFGHJKLMNPQRTUVWXY34679"
	defaultJoinCodeLength   = 6
	defaultReconnectLinger  = 60 * time.Second
	defaultRequestRate      = "30-S"
	defaultTeamPalette      = "Red:FF0000,Green:00FF00,Blue:0066FF,Yellow:FFFF00,Cyan:00FFFF,Magenta:FF00FF"
)

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error listing every invalid variable rather than failing on the
// first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.Port = getEnvOrDefault("PORT", defaultPort)
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.AdminPort = getEnvOrDefault("ADMIN_PORT", defaultAdminPort)
	if port, err := strconv.Atoi(cfg.AdminPort); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("ADMIN_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.AdminPort))
	}

	cfg.MinClientVersion = getEnvOrDefault("MIN_CLIENT_VERSION", defaultMinVersion)
	if !isValidVersion(cfg.MinClientVersion) {
		errors = append(errors, fmt.Sprintf("MIN_CLIENT_VERSION must be 'MAJOR.MINOR' (got '%s')", cfg.MinClientVersion))
	}

	cfg.AuthBaseURL = getEnvOrDefault("AUTH_BASE_URL", defaultAuthBaseURL)
	if !isValidURL(cfg.AuthBaseURL) {
		errors = append(errors, fmt.Sprintf("AUTH_BASE_URL must be an absolute URL (got '%s')", cfg.AuthBaseURL))
	}

	// No secret means the identity check is bypassed; main logs this loudly.
	cfg.AuthSecret = os.Getenv("AUTH_SECRET")

	cfg.TMXBaseURL = getEnvOrDefault("TMX_BASE_URL", defaultTMXBaseURL)
	if !isValidURL(cfg.TMXBaseURL) {
		errors = append(errors, fmt.Sprintf("TMX_BASE_URL must be an absolute URL (got '%s')", cfg.TMXBaseURL))
	}
	cfg.TMXUserAgent = getEnvOrDefault("TMX_USER_AGENT", defaultTMXUserAgent)

	cfg.MapQueueTarget = intEnvOrDefault("MAP_QUEUE_TARGET", defaultQueueTarget, &errors)
	cfg.MapQueueCap = intEnvOrDefault("MAP_QUEUE_CAPACITY", defaultQueueCap, &errors)
	if cfg.MapQueueTarget > cfg.MapQueueCap {
		errors = append(errors, fmt.Sprintf("MAP_QUEUE_TARGET (%d) must not exceed MAP_QUEUE_CAPACITY (%d)", cfg.MapQueueTarget, cfg.MapQueueCap))
	}
	cfg.MapFetchTimeout = durationEnvOrDefault("MAP_FETCH_TIMEOUT_SECONDS", defaultFetchTimeout, &errors)

	palette, err := ParseTeamPalette(getEnvOrDefault("TEAM_PALETTE", defaultTeamPalette))
	if err != nil {
		errors = append(errors, fmt.Sprintf("TEAM_PALETTE: %v", err))
	}
	cfg.TeamPalette = palette

	cfg.JoinCodeAlphabet = getEnvOrDefault("JOINCODE_ALPHABET", defaultJoinCodeAlphabet)
	if len(cfg.JoinCodeAlphabet) < 2 {
		errors = append(errors, "JOINCODE_ALPHABET must contain at least 2 characters")
	}
	cfg.JoinCodeLength = intEnvOrDefault("JOINCODE_LENGTH", defaultJoinCodeLength, &errors)
	if cfg.JoinCodeLength < 4 {
		errors = append(errors, fmt.Sprintf("JOINCODE_LENGTH must be at least 4 (got %d)", cfg.JoinCodeLength))
	}

	cfg.ReconnectLinger = durationEnvOrDefault("RECONNECT_LINGER_SECONDS", defaultReconnectLinger, &errors)
	cfg.RateLimitRequests = getEnvOrDefault("RATE_LIMIT_REQUESTS", defaultRequestRate)

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	cfg.OtelCollector = getEnvOrDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// ParseTeamPalette parses "Name:HexColor,Name:HexColor" pairs.
func ParseTeamPalette(raw string) ([]types.TeamDefinition, error) {
	var palette []types.TeamDefinition
	seen := make(map[string]bool)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, color, found := strings.Cut(pair, ":")
		if !found || name == "" {
			return nil, fmt.Errorf("entry '%s' is not in Name:HexColor form", pair)
		}
		if len(color) != 6 || !isHex(color) {
			return nil, fmt.Errorf("color '%s' for team '%s' is not a 6-digit hex value", color, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate team name '%s'", name)
		}
		seen[name] = true
		palette = append(palette, types.TeamDefinition{Name: name, Color: strings.ToUpper(color)})
	}
	if len(palette) < 2 {
		return nil, fmt.Errorf("palette needs at least 2 teams (got %d)", len(palette))
	}
	return palette, nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isValidVersion(v string) bool {
	major, minor, found := strings.Cut(v, ".")
	if !found {
		return false
	}
	if _, err := strconv.Atoi(major); err != nil {
		return false
	}
	_, err := strconv.Atoi(minor)
	return err == nil
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"port", cfg.Port,
		"admin_port", cfg.AdminPort,
		"min_client_version", cfg.MinClientVersion,
		"auth_base_url", cfg.AuthBaseURL,
		"auth_secret", redactSecret(cfg.AuthSecret),
		"tmx_base_url", cfg.TMXBaseURL,
		"map_queue_target", cfg.MapQueueTarget,
		"map_queue_capacity", cfg.MapQueueCap,
		"map_fetch_timeout", cfg.MapFetchTimeout,
		"teams", len(cfg.TeamPalette),
		"reconnect_linger", cfg.ReconnectLinger,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func intEnvOrDefault(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return defaultValue
	}
	return value
}

func durationEnvOrDefault(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive number of seconds (got '%s')", key, raw))
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

// redactSecret redacts a secret by showing only the first characters
func redactSecret(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
