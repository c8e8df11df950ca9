// Command cast2md-agent runs the remote worker: it registers with a
// cast2md server, polls for transcription jobs over the node protocol, and
// runs speech-to-text locally against whatever backend this machine has.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meltforce/cast2md/internal/agent"
	"github.com/meltforce/cast2md/internal/config"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/sttgcp"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := agent.Config{
		ServerURL:         config.GetEnv("SERVER_URL", "http://localhost:8080", log),
		Name:              config.GetEnv("NODE_NAME", "", log),
		Model:             config.GetEnv("STT_MODEL", "latest_long", log),
		Backend:           config.GetEnv("STT_BACKEND", "gcp", log),
		NodeID:            config.GetEnv("NODE_ID", "", log),
		APIKey:            config.GetEnv("NODE_API_KEY", "", log),
		HeartbeatInterval: time.Duration(config.GetEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30, log)) * time.Second,
		PollInterval:      time.Duration(config.GetEnvAsInt("POLL_INTERVAL_SECONDS", 5, log)) * time.Second,
		HTTPTimeout:       time.Duration(config.GetEnvAsInt("HTTP_TIMEOUT_SECONDS", 120, log)) * time.Second,
		ShutdownTimeout:   time.Duration(config.GetEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30, log)) * time.Second,
		PrefetchEnabled:   config.GetEnvAsBool("PREFETCH_ENABLED", true, log),
		TempDir:           config.GetEnv("AGENT_TEMP_DIR", "/tmp/cast2md-agent", log),
	}
	if cfg.Name == "" {
		hostname, _ := os.Hostname()
		cfg.Name = hostname
	}

	transcriber, err := sttgcp.New(ctx, log, sttgcp.Config{
		LanguageCode: config.GetEnv("STT_LANGUAGE_CODE", "en-US", log),
		Model:        cfg.Model,
		UseEnhanced:  config.GetEnvAsBool("STT_USE_ENHANCED", true, log),
	})
	if err != nil {
		log.Fatal("failed to initialize speech-to-text client", "error", err)
	}

	a := agent.New(log, cfg, transcriber)
	if err := a.Run(ctx); err != nil {
		log.Fatal("agent exited with error", "error", err)
	}
}
