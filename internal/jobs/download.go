package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/logger"
)

func (m *Manager) downloadLoop(ctx context.Context, workerID int) {
	log := m.log.With("worker", "download", "worker_id", workerID)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("download worker stopped")
			return
		case <-ticker.C:
			job, err := m.jobRepo.GetNextJob(dbctx.New(ctx), domain.JobTypeDownload)
			if err != nil {
				log.Warn("get next download job failed", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			m.processDownload(ctx, log, job.ID)
		}
	}
}

// processDownload claims a download job, fetches the episode's audio into
// place, and — atomically with marking the download complete — enqueues the
// follow-on transcription job, so there is never an observable window where
// the download has finished but no transcription job is pending for it.
func (m *Manager) processDownload(ctx context.Context, log *logger.Logger, jobID uuid.UUID) {
	dbc := dbctx.New(ctx)

	claimed, ok, err := m.jobRepo.ClaimJob(dbc, jobID, domain.LocalNodeID)
	if err != nil {
		log.Warn("claim download job failed", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		// Lost the race to another worker; nothing to do.
		return
	}

	ep, err := m.epRepo.GetByID(dbc, claimed.EpisodeID)
	if err != nil {
		m.failJob(ctx, claimed.ID, uuid.Nil, domain.EpisodeStatusNeedsAudio, fmt.Errorf("load episode: %w", err))
		return
	}
	feed, err := m.feedRepo.GetByID(dbc, ep.FeedID)
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, fmt.Errorf("load feed: %w", err))
		return
	}

	if err := m.epRepo.UpdateStatus(dbc, ep.ID, domain.EpisodeStatusDownloading, ""); err != nil {
		log.Warn("set episode downloading failed", "episode_id", ep.ID, "error", err)
	}
	m.publish(ctx, events.JobClaimed, claimed.ID, ep.ID, "")

	podcastTitle := feed.DisplayTitle()
	if err := m.layout.EnsurePodcastDirectories(podcastTitle); err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, fmt.Errorf("ensure directories: %w", err))
		return
	}

	finalPath := m.layout.AudioPath(podcastTitle, ep.Title, ep.PublishedAt, ep.AudioURL)
	stagingPath, err := m.layout.StagingPath(filepath.Base(finalPath))
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, fmt.Errorf("staging path: %w", err))
		return
	}

	if err := m.downloadTo(ctx, ep.AudioURL, stagingPath); err != nil {
		cleanupStaging(stagingPath)
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, err)
		return
	}

	if err := m.layout.CommitDownload(stagingPath, finalPath); err != nil {
		cleanupStaging(stagingPath)
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, fmt.Errorf("commit download: %w", err))
		return
	}

	err = m.tx.WithTx(ctx, func(txc dbctx.Context) error {
		if err := m.epRepo.SetAudioPath(txc, ep.ID, finalPath); err != nil {
			return err
		}
		if _, err := m.jobRepo.MarkCompleted(txc, claimed.ID); err != nil {
			return err
		}
		hasPending, err := m.jobRepo.HasPendingJob(txc, ep.ID, domain.JobTypeTranscribe)
		if err != nil {
			return err
		}
		if !hasPending {
			if _, err := m.jobRepo.Create(txc, ep.ID, domain.JobTypeTranscribe, domain.TranscribePriority, domain.DefaultMaxAttempts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusNeedsAudio, fmt.Errorf("finalize download: %w", err))
		return
	}

	log.Info("download completed", "job_id", claimed.ID, "episode_id", ep.ID, "audio_path", finalPath)
	m.publish(ctx, events.JobCompleted, claimed.ID, ep.ID, "")
}

func (m *Manager) downloadTo(ctx context.Context, audioURL, stagingPath string) error {
	f, err := os.Create(stagingPath)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer f.Close()

	if _, err := m.downloader.Download(ctx, audioURL, f); err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync staging file: %w", err)
	}
	return nil
}
