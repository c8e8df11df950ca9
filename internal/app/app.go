// Package app wires the server process together: config, database, repos,
// services, and HTTP router, then runs the local worker pool, distributed
// coordinator, and feed poller as background goroutines alongside it.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/config"
	"github.com/meltforce/cast2md/internal/db"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/server"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading environment variables")
	cfg := LoadConfig(log)

	pg, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	if err := pg.ApplyPendingMigrations(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres data migrations: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(context.Background(), theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	operator := server.NewOperatorHandlers(log, reposet.Job, reposet.Feed, reposet.PodSetup, serviceset.Layout)
	router := server.NewRouter(server.RouterConfig{
		NodeHandlers:   serviceset.NodeHandlers,
		NodeAuth:       serviceset.NodeAuth,
		Operator:       operator,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the local worker pool, the distributed coordinator, and the
// feed poller as background goroutines. Run it once before Run.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if config.GetEnvAsBool("RUN_WORKER", true, a.Log) {
		go func() {
			if err := a.Services.JobManager.Run(ctx); err != nil {
				a.Log.Error("job manager stopped", "error", err)
			}
		}()
	}

	go a.Services.Coordinator.Run(ctx)

	if config.GetEnvAsBool("RUN_FEED_POLLER", true, a.Log) {
		go a.Services.FeedPoller.Run(ctx)
	}
}

// Run blocks serving HTTP on addr until the router stops.
func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.transcriber != nil {
		if err := a.Services.transcriber.Close(); err != nil {
			a.Log.Warn("close transcriber failed", "error", err)
		}
	}
	if a.Services.EventBus != nil {
		if err := a.Services.EventBus.Close(); err != nil {
			a.Log.Warn("close event bus failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
