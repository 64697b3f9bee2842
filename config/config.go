package config

import (
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"saavnbridge/quality"
)

type ConfigStruct struct {
	Saavn    SaavnConfig
	Spotify  SpotifyConfig
	HTTP     HTTPConfig
	Cache    CacheConfig
	Playback PlaybackConfig
	Options  Options
}

type SaavnConfig struct {
	BaseURL string
}

type SpotifyConfig struct {
	ClientID      string
	ClientSecret  string
	Enabled       bool
	PlaylistLimit int
}

type HTTPConfig struct {
	Timeout           time.Duration
	Retries           int
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxConcurrent     int
}

type CacheConfig struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

type PlaybackConfig struct {
	PreferredQuality string
	SetupAttempts    int
	SetupDelay       time.Duration
	MPVPath          string
}

type Options struct {
	Port      string
	LogLevel  string
	DBPath    string
	SentryDSN string
}

// IsEnabled reports whether the secondary catalog can be used at all.
func (s *SpotifyConfig) IsEnabled() bool {
	return s.Enabled && s.ClientID != "" && s.ClientSecret != ""
}

var Config *ConfigStruct

const DefaultSaavnBaseURL = "https://saavn.dev/api"

// env reads straight from the process environment on every Get, so values
// set after startup (and t.Setenv in tests) are seen.
var env = newReader()

func newReader() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SAAVN_BASE_URL", DefaultSaavnBaseURL)
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "data/saavnbridge.db")
	v.SetDefault("MPV_PATH", "mpv")
	return v
}

func NewConfig() {
	config := &ConfigStruct{
		Saavn: SaavnConfig{
			BaseURL: strings.TrimRight(env.GetString("SAAVN_BASE_URL"), "/"),
		},
		Spotify: SpotifyConfig{
			ClientID:      env.GetString("SPOTIFY_CLIENT_ID"),
			ClientSecret:  env.GetString("SPOTIFY_CLIENT_SECRET"),
			Enabled:       env.GetString("SPOTIFY_ENABLED") == "true",
			PlaylistLimit: getPlaylistLimit(),
		},
		HTTP: HTTPConfig{
			Timeout:           time.Duration(getHTTPTimeoutSeconds()) * time.Second,
			Retries:           getHTTPRetries(),
			RateLimitRequests: getRateLimitRequests(),
			RateLimitWindow:   time.Duration(getRateLimitWindowSeconds()) * time.Second,
			MaxConcurrent:     getMaxConcurrentRequests(),
		},
		Cache: CacheConfig{
			TTL:           time.Duration(getCacheTTLMinutes()) * time.Minute,
			MaxEntries:    getCacheMaxEntries(),
			SweepInterval: time.Duration(getCacheSweepMinutes()) * time.Minute,
		},
		Playback: PlaybackConfig{
			PreferredQuality: getPreferredQuality(),
			SetupAttempts:    getSetupAttempts(),
			SetupDelay:       time.Duration(getSetupDelayMillis()) * time.Millisecond,
			MPVPath:          env.GetString("MPV_PATH"),
		},
		Options: Options{
			Port:      env.GetString("PORT"),
			LogLevel:  env.GetString("LOG_LEVEL"),
			DBPath:    env.GetString("DB_PATH"),
			SentryDSN: env.GetString("SENTRY_DSN"),
		},
	}

	Config = config
}

// getClamped reads an integer key. Missing, unparsable and values below
// minimum fall back to def; values above maximum are capped.
func getClamped(key string, def, minimum, maximum int) int {
	raw := strings.TrimSpace(env.GetString(key))
	if raw == "" {
		return def
	}
	n, err := cast.ToIntE(raw)
	if err != nil || n < minimum {
		return def
	}
	if n > maximum {
		return maximum
	}
	return n
}

func getPlaylistLimit() int {
	return getClamped("SPOTIFY_PLAYLIST_LIMIT", 10, 1, 50)
}

func getHTTPTimeoutSeconds() int {
	return getClamped("HTTP_TIMEOUT_SECONDS", 10, 1, 120)
}

func getHTTPRetries() int {
	return getClamped("HTTP_RETRIES", 2, 0, 5)
}

func getRateLimitRequests() int {
	return getClamped("RATE_LIMIT_REQUESTS", 60, 1, 1000)
}

func getRateLimitWindowSeconds() int {
	return getClamped("RATE_LIMIT_WINDOW_SECONDS", 60, 1, 3600)
}

func getMaxConcurrentRequests() int {
	return getClamped("MAX_CONCURRENT_REQUESTS", 4, 1, 16)
}

func getCacheTTLMinutes() int {
	return getClamped("CACHE_TTL_MINUTES", 30, 1, 24*60)
}

func getCacheMaxEntries() int {
	return getClamped("CACHE_MAX_ENTRIES", 500, 1, 100000)
}

func getCacheSweepMinutes() int {
	return getClamped("CACHE_SWEEP_MINUTES", 15, 1, 24*60)
}

func getSetupAttempts() int {
	return getClamped("SETUP_ATTEMPTS", 3, 1, 10)
}

func getSetupDelayMillis() int {
	return getClamped("SETUP_DELAY_MS", 500, 0, 10000)
}

func getPreferredQuality() string {
	switch q := strings.ToLower(strings.TrimSpace(env.GetString("PREFERRED_QUALITY"))); q {
	case quality.Low, quality.Medium, quality.High:
		return q
	}
	return quality.High
}
