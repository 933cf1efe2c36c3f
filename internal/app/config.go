package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	MongoURI           string // empty keeps checkpoints and bookmarks in memory
	MongoDatabase      string
	RedisAddr          string // empty keeps open requests in memory
	RedisPassword      string
	RedisDB            int
	CORSAllowedOrigins []string
	HTTPRateLimitRPS   float64
	HTTPRateLimitBurst int

	DownloadDir               string
	DownloadSampleSegments    int
	DownloadRateLimitBackoff  time.Duration
	DownloadRateLimitRetries  int
	DownloadSegmentsPerSecond float64
	DownloadFilenameTemplate  string

	SignedTokenHosts  []string
	SignedTokenParams []string

	ResumeMaxAge        time.Duration
	ResumeSweepInterval time.Duration
	OpenRequestTTL      time.Duration
	PlayerResumePolicy  string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8090"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MongoURI:           strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase:      getEnv("MONGO_DB", "watchcompanion"),
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            int(getEnvInt64("REDIS_DB", 0)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		HTTPRateLimitRPS:   getEnvFloat("HTTP_RATE_LIMIT_RPS", 100),
		HTTPRateLimitBurst: int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 200)),

		DownloadDir:               getEnv("DOWNLOAD_DIR", "downloads"),
		DownloadSampleSegments:    int(getEnvInt64("DOWNLOAD_SAMPLE_SEGMENTS", 10)),
		DownloadRateLimitBackoff:  getEnvDuration("DOWNLOAD_RATE_LIMIT_BACKOFF", 10*time.Second),
		DownloadRateLimitRetries:  int(getEnvInt64("DOWNLOAD_RATE_LIMIT_RETRIES", 1)),
		DownloadSegmentsPerSecond: getEnvFloat("DOWNLOAD_SEGMENTS_PER_SECOND", 0),
		DownloadFilenameTemplate:  getEnv("DOWNLOAD_FILENAME_TEMPLATE", ""),

		SignedTokenHosts:  getEnvList("SIGNED_TOKEN_HOSTS", nil),
		SignedTokenParams: getEnvList("SIGNED_TOKEN_PARAMS", []string{"token", "expires"}),

		ResumeMaxAge:        getEnvDuration("RESUME_MAX_AGE", 30*24*time.Hour),
		ResumeSweepInterval: getEnvDuration("RESUME_SWEEP_INTERVAL", time.Hour),
		OpenRequestTTL:      getEnvDuration("OPEN_REQUEST_TTL", 2*time.Minute),
		PlayerResumePolicy:  strings.ToLower(getEnv("PLAYER_RESUME_POLICY", "auto")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s", "720h") and plain
// integers, which are read as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
