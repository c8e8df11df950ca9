package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/coordinator"
	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/feeds"
	"github.com/meltforce/cast2md/internal/jobs"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/nodeprotocol"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/sttgcp"
	"github.com/meltforce/cast2md/internal/storage"
)

// Services holds everything the server process runs once wired: the local
// worker pool, the distributed coordinator, the feed poller, and the node
// protocol's HTTP handlers.
type Services struct {
	Layout        *storage.Layout
	EventBus      events.Bus
	JobManager    *jobs.Manager
	Coordinator   *coordinator.Coordinator
	FeedPoller    *feeds.Poller
	NodeHandlers  *nodeprotocol.Handlers
	NodeAuth      *nodeprotocol.AuthMiddleware
	transcriber   ports.Transcriber
}

func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("wiring services")

	layout := storage.NewLayout(log, cfg.StorageRoot)
	downloader := storage.NewHTTPDownloader(log, 0)
	fetcher := feeds.NewHTTPFetcher(log, 0)

	bus, err := wireEventBus(log, cfg)
	if err != nil {
		return Services{}, err
	}

	transcriber, err := sttgcp.New(ctx, log, sttgcp.Config{
		LanguageCode: cfg.STTLanguageCode,
		Model:        cfg.STTModel,
		UseEnhanced:  cfg.STTUseEnhanced,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init speech-to-text client: %w", err)
	}

	tx := dbctx.NewRunner(db)

	manager := jobs.NewManager(
		log, cfg.Jobs, tx,
		reposet.Job, reposet.Episode, reposet.Feed, reposet.Node,
		layout, downloader, transcriber, bus,
	)

	coord := coordinator.New(log, cfg.Coordinator, reposet.Node, reposet.Job, bus)

	poller := feeds.NewPoller(log, fetcher, reposet.Feed, reposet.Episode, reposet.Job, cfg.FeedPollInterval)

	nodeHandlers := nodeprotocol.NewHandlers(log, reposet.Node, reposet.Job, reposet.Episode, reposet.Feed, layout, bus)
	nodeAuth := nodeprotocol.NewAuthMiddleware(log, reposet.Node)

	return Services{
		Layout:       layout,
		EventBus:     bus,
		JobManager:   manager,
		Coordinator:  coord,
		FeedPoller:   poller,
		NodeHandlers: nodeHandlers,
		NodeAuth:     nodeAuth,
		transcriber:  transcriber,
	}, nil
}

func wireEventBus(log *logger.Logger, cfg Config) (events.Bus, error) {
	if cfg.RedisAddr == "" {
		log.Info("no REDIS_ADDR configured, lifecycle events will be dropped")
		return events.NopBus{}, nil
	}
	bus, err := events.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	return bus, nil
}
