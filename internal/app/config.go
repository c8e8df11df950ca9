package app

import (
	"time"

	"github.com/meltforce/cast2md/internal/config"
	"github.com/meltforce/cast2md/internal/coordinator"
	"github.com/meltforce/cast2md/internal/jobs"
	"github.com/meltforce/cast2md/internal/logger"
)

// Config is the server process's environment-derived configuration: local
// worker pool tuning, the distributed coordinator's timing, storage roots,
// and the speech-to-text backend selection.
type Config struct {
	Addr             string
	StorageRoot      string
	AllowedOrigins   []string
	RedisAddr        string
	RedisChannel     string
	FeedPollInterval time.Duration
	STTLanguageCode  string
	STTModel         string
	STTUseEnhanced   bool
	Jobs             jobs.Config
	Coordinator      coordinator.Config
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Addr:             ":" + config.GetEnv("PORT", "8080", log),
		StorageRoot:      config.GetEnv("STORAGE_ROOT", "/data/cast2md", log),
		AllowedOrigins:   []string{config.GetEnv("ALLOWED_ORIGIN", "*", log)},
		RedisAddr:        config.GetEnv("REDIS_ADDR", "", log),
		RedisChannel:     config.GetEnv("REDIS_CHANNEL", "cast2md.events", log),
		FeedPollInterval: time.Duration(config.GetEnvAsInt("FEED_POLL_INTERVAL_SECONDS", 900, log)) * time.Second,
		STTLanguageCode:  config.GetEnv("STT_LANGUAGE_CODE", "en-US", log),
		STTModel:         config.GetEnv("STT_MODEL", "latest_long", log),
		STTUseEnhanced:   config.GetEnvAsBool("STT_USE_ENHANCED", true, log),
		Jobs: jobs.Config{
			MaxConcurrentDownloads:  config.GetEnvAsInt("MAX_CONCURRENT_DOWNLOADS", jobs.DefaultMaxConcurrentDownloads, log),
			PollInterval:            time.Duration(config.GetEnvAsInt("JOB_POLL_INTERVAL_SECONDS", 5, log)) * time.Second,
			ShutdownTimeout:         time.Duration(config.GetEnvAsInt("JOB_SHUTDOWN_TIMEOUT_SECONDS", 30, log)) * time.Second,
			DistributedEnabled:      config.GetEnvAsBool("DISTRIBUTED_ENABLED", false, log),
			RemoteReservationWindow: time.Duration(config.GetEnvAsInt("REMOTE_RESERVATION_WINDOW_SECONDS", 60, log)) * time.Second,
		},
		Coordinator: coordinator.Config{
			TickInterval:     time.Duration(config.GetEnvAsInt("COORDINATOR_TICK_SECONDS", 30, log)) * time.Second,
			HeartbeatTimeout: time.Duration(config.GetEnvAsInt("NODE_HEARTBEAT_TIMEOUT_SECONDS", 60, log)) * time.Second,
			JobTimeout:       time.Duration(config.GetEnvAsInt("JOB_TIMEOUT_HOURS", 2, log)) * time.Hour,
		},
	}
}
