// Package jobs implements the local worker pool: N concurrent download
// workers and one serial transcription worker, both pulling from the Job
// Repository. This is the in-process equivalent of the remote worker agent
// (internal/agent) — the same job lifecycle, claimed under the "local" node
// id instead of over the wire.
package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos"
	"github.com/meltforce/cast2md/internal/storage"
)

// txRunner runs a closure inside one database transaction. Production code
// wires this to dbctx.Runner; tests substitute a trivial non-transactional
// fake since the repo fakes used in tests don't look at dbc.Tx anyway.
type txRunner interface {
	WithTx(ctx context.Context, fn func(dbctx.Context) error) error
}

// Manager owns the local worker pool's goroutines and their shared
// dependencies.
type Manager struct {
	log         *logger.Logger
	cfg         Config
	jobRepo     repos.JobRepo
	epRepo      repos.EpisodeRepo
	feedRepo    repos.FeedRepo
	nodeRepo    repos.NodeRepo
	layout      *storage.Layout
	downloader  ports.Downloader
	transcriber ports.Transcriber
	bus         events.Bus
	tx          txRunner
}

// NewManager wires a Manager with its infrastructure dependencies. bus may
// be nil, in which case lifecycle events are dropped.
func NewManager(
	baseLog *logger.Logger,
	cfg Config,
	tx txRunner,
	jobRepo repos.JobRepo,
	epRepo repos.EpisodeRepo,
	feedRepo repos.FeedRepo,
	nodeRepo repos.NodeRepo,
	layout *storage.Layout,
	downloader ports.Downloader,
	transcriber ports.Transcriber,
	bus events.Bus,
) *Manager {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Manager{
		log:         baseLog.With("component", "jobs.Manager"),
		cfg:         cfg.withDefaults(),
		tx:          tx,
		jobRepo:     jobRepo,
		epRepo:      epRepo,
		feedRepo:    feedRepo,
		nodeRepo:    nodeRepo,
		layout:      layout,
		downloader:  downloader,
		transcriber: transcriber,
		bus:         bus,
	}
}

// Run resets any jobs orphaned by a prior ungraceful exit, starts the
// download and transcription workers, and blocks until ctx is canceled. On
// cancellation it waits up to cfg.ShutdownTimeout for in-flight jobs to
// finish before returning; anything still running is left for the next
// startup's ResetRunningJobs to recover.
func (m *Manager) Run(ctx context.Context) error {
	requeued, failed, err := m.jobRepo.ResetRunningJobs(dbctx.New(ctx))
	if err != nil {
		return fmt.Errorf("jobs: reset orphaned running jobs: %w", err)
	}
	m.log.Info("reset orphaned running jobs at startup", "requeued", requeued, "failed", failed)

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.MaxConcurrentDownloads; i++ {
		wg.Add(1)
		workerID := i + 1
		go func() {
			defer wg.Done()
			m.downloadLoop(ctx, workerID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.transcribeLoop(ctx)
	}()

	m.log.Info("local worker pool started", "download_workers", m.cfg.MaxConcurrentDownloads)

	<-ctx.Done()
	m.log.Info("job manager stopping, waiting for in-flight jobs", "timeout", m.cfg.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("job manager stopped cleanly")
	case <-time.After(m.cfg.ShutdownTimeout):
		m.log.Warn("job manager shutdown timed out; in-flight jobs left running")
	}
	return nil
}

// failJob marks a job failed (eligible for retry per JobRepo's own
// attempts/max_attempts bookkeeping) and, when episodeID is known, moves the
// episode to failStatus with the causing error recorded.
func (m *Manager) failJob(ctx context.Context, jobID, episodeID uuid.UUID, failStatus domain.EpisodeStatus, cause error) {
	dbc := dbctx.New(ctx)
	m.log.Error("job failed", "job_id", jobID, "episode_id", episodeID, "error", cause)

	if _, err := m.jobRepo.MarkFailed(dbc, jobID, cause.Error(), true); err != nil {
		m.log.Error("mark failed errored", "job_id", jobID, "error", err)
	}
	if episodeID != uuid.Nil {
		if err := m.epRepo.UpdateStatus(dbc, episodeID, failStatus, cause.Error()); err != nil {
			m.log.Warn("update episode status after job failure", "episode_id", episodeID, "error", err)
		}
	}
	m.publish(ctx, events.JobFailed, jobID, episodeID, cause.Error())
}

func (m *Manager) publish(ctx context.Context, kind events.Kind, jobID, episodeID uuid.UUID, detail string) {
	evt := events.Event{Kind: kind, JobID: jobID.String()}
	if episodeID != uuid.Nil {
		evt.EpisodeID = episodeID.String()
	}
	if detail != "" {
		evt.Detail = map[string]any{"message": detail}
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.log.Warn("publish event failed", "kind", kind, "error", err)
	}
}

// cleanupStaging removes a staging file left behind by a failed download,
// treating an already-missing file as success.
func cleanupStaging(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
