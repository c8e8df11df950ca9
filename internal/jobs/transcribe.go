package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/transcript"
)

func (m *Manager) transcribeLoop(ctx context.Context) {
	log := m.log.With("worker", "transcribe")
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("transcription worker stopped")
			return
		case <-ticker.C:
			reserved, err := m.reservedForRemote(ctx)
			if err != nil {
				log.Warn("check remote reservation failed", "error", err)
				continue
			}
			if reserved {
				continue
			}

			job, err := m.jobRepo.GetNextJob(dbctx.New(ctx), domain.JobTypeTranscribe)
			if err != nil {
				log.Warn("get next transcription job failed", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			m.processTranscription(ctx, job.ID)
		}
	}
}

// reservedForRemote implements spec's "reserved for remote" policy: when
// distributed mode is enabled, remote nodes get first refusal on
// transcription work. The local worker only serves transcription jobs when
// no node has heartbeated within the reservation window.
func (m *Manager) reservedForRemote(ctx context.Context) (bool, error) {
	if !m.cfg.DistributedEnabled || m.nodeRepo == nil {
		return false, nil
	}
	nodes, err := m.nodeRepo.List(dbctx.New(ctx))
	if err != nil {
		return false, fmt.Errorf("list nodes: %w", err)
	}
	cutoff := time.Now().UTC().Add(-m.cfg.RemoteReservationWindow)
	for _, n := range nodes {
		if n.LastHeartbeat != nil && n.LastHeartbeat.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) processTranscription(ctx context.Context, jobID uuid.UUID) {
	log := m.log.With("worker", "transcribe")
	dbc := dbctx.New(ctx)

	claimed, ok, err := m.jobRepo.MarkRunning(dbc, jobID)
	if err != nil {
		log.Warn("claim transcription job failed", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		return
	}

	ep, err := m.epRepo.GetByID(dbc, claimed.EpisodeID)
	if err != nil {
		m.failJob(ctx, claimed.ID, uuid.Nil, domain.EpisodeStatusFailed, fmt.Errorf("load episode: %w", err))
		return
	}
	feed, err := m.feedRepo.GetByID(dbc, ep.FeedID)
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusFailed, fmt.Errorf("load feed: %w", err))
		return
	}

	if err := m.epRepo.UpdateStatus(dbc, ep.ID, domain.EpisodeStatusTranscribing, ""); err != nil {
		log.Warn("set episode transcribing failed", "episode_id", ep.ID, "error", err)
	}
	m.publish(ctx, events.JobClaimed, claimed.ID, ep.ID, "")

	onProgress := m.throttledProgress(ctx, claimed.ID)
	result, err := m.transcriber.Transcribe(ctx, ep.AudioPath, onProgress)
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusFailed, fmt.Errorf("transcribe: %w", err))
		return
	}

	podcastTitle := feed.DisplayTitle()
	if err := m.layout.EnsurePodcastDirectories(podcastTitle); err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusFailed, fmt.Errorf("ensure directories: %w", err))
		return
	}
	transcriptPath := m.layout.TranscriptPath(podcastTitle, ep.Title, ep.PublishedAt)
	markdown := transcript.Render(result, ep.Title, transcript.PerSegment)
	if err := os.WriteFile(transcriptPath, []byte(markdown), 0o644); err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusFailed, fmt.Errorf("write transcript: %w", err))
		return
	}

	err = m.tx.WithTx(ctx, func(txc dbctx.Context) error {
		if err := m.epRepo.SetTranscript(txc, ep.ID, transcriptPath, ""); err != nil {
			return err
		}
		if _, err := m.jobRepo.MarkCompleted(txc, claimed.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		m.failJob(ctx, claimed.ID, ep.ID, domain.EpisodeStatusFailed, fmt.Errorf("finalize transcription: %w", err))
		return
	}

	log.Info("transcription completed", "job_id", claimed.ID, "episode_id", ep.ID, "transcript_path", transcriptPath)
	m.publish(ctx, events.JobCompleted, claimed.ID, ep.ID, "")
}

// throttledProgress wraps UpdateProgress so a chatty transcriber engine
// doesn't churn the jobs table: it only writes when at least
// progressThrottleInterval has elapsed or the percent has moved by at least
// progressThrottlePercent since the last write.
func (m *Manager) throttledProgress(ctx context.Context, jobID uuid.UUID) ports.ProgressFunc {
	var lastUpdate time.Time
	lastPercent := -1
	return func(percent int) {
		now := time.Now()
		if !lastUpdate.IsZero() && now.Sub(lastUpdate) < progressThrottleInterval && abs(percent-lastPercent) < progressThrottlePercent {
			return
		}
		lastUpdate = now
		lastPercent = percent
		if err := m.jobRepo.UpdateProgress(dbctx.New(ctx), jobID, percent); err != nil {
			m.log.Warn("update progress failed", "job_id", jobID, "error", err)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
