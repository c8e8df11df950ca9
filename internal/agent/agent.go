// Package agent is the remote worker: it registers once, heartbeats,
// polls the node protocol for transcription jobs, streams audio down,
// runs the speech-to-text engine, and streams the transcript back up.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/transcript"
)

// Agent runs the heartbeat, poll, and (optional) prefetch control threads
// described for the remote worker.
type Agent struct {
	log         *logger.Logger
	cfg         Config
	client      *client
	transcriber ports.Transcriber
	nodeID      uuid.UUID

	mu       sync.Mutex
	inFlight *claimedJob

	prefetchMu sync.Mutex
	prefetched *prefetchResult
}

type prefetchResult struct {
	job      *claimedJob
	audioPath string
}

func New(baseLog *logger.Logger, cfg Config, transcriber ports.Transcriber) *Agent {
	cfg = cfg.withDefaults()
	log := baseLog.With("component", "agent.Agent", "name", cfg.Name)
	return &Agent{
		log:         log,
		cfg:         cfg,
		client:      newClient(log, cfg.ServerURL, cfg.APIKey, cfg.HTTPTimeout),
		transcriber: transcriber,
	}
}

// Run registers (if needed), starts the heartbeat loop, and blocks running
// the main poll-and-process loop (which launches prefetches when enabled)
// until ctx is canceled. On cancellation it releases any in-flight job
// whose outcome was not reported before returning.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("agent: create temp dir: %w", err)
	}

	if a.cfg.APIKey == "" {
		nodeID, apiKey, err := a.client.register(ctx, a.cfg.Name, a.cfg.Model, a.cfg.Backend)
		if err != nil {
			return fmt.Errorf("agent: register: %w", err)
		}
		a.nodeID = nodeID
		a.cfg.APIKey = apiKey
		a.client.setAPIKey(apiKey)
		a.log.Info("registered with server", "node_id", nodeID)
	} else {
		id, err := uuid.Parse(a.cfg.NodeID)
		if err != nil {
			return fmt.Errorf("agent: invalid configured node id: %w", err)
		}
		a.nodeID = id
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()

	a.mainLoop(ctx)

	a.log.Info("agent stopping, waiting for control threads", "timeout", a.cfg.ShutdownTimeout)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.log.Warn("control threads did not stop within shutdown timeout")
	}

	if err := a.transcriber.Close(); err != nil {
		a.log.Warn("close transcriber failed", "error", err)
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.heartbeat(ctx, a.nodeID, a.cfg.Model, a.cfg.Backend); err != nil {
				a.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// mainLoop is the agent's single processing thread: claim (or consume a
// prefetched job), download, transcribe, report. It returns once ctx is
// canceled, releasing whatever job was in flight at that point.
func (a *Agent) mainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.releaseInFlight(context.Background())
			return
		default:
		}

		job, audioPath, ok := a.nextJob(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				a.releaseInFlight(context.Background())
				return
			case <-time.After(a.cfg.PollInterval):
			}
			continue
		}

		a.setInFlight(job)
		if a.cfg.PrefetchEnabled {
			go a.prefetchNext(ctx)
		}
		if !a.process(ctx, job, audioPath) && ctx.Err() != nil {
			a.releaseInFlight(context.Background())
		}
		a.setInFlight(nil)
	}
}

// nextJob returns a prefetched job if one is ready, otherwise claims one
// from the server and downloads its audio itself.
func (a *Agent) nextJob(ctx context.Context) (*claimedJob, string, bool) {
	if pre := a.takePrefetched(); pre != nil {
		return pre.job, pre.audioPath, true
	}

	job, ok, err := a.client.claim(ctx, a.nodeID)
	if err != nil {
		a.log.Warn("claim failed", "error", err)
		return nil, "", false
	}
	if !ok {
		return nil, "", false
	}

	audioPath := a.stagingPath(job.JobID, "main")
	if err := a.client.fetchAudio(ctx, job.AudioURL, audioPath); err != nil {
		a.log.Warn("download audio failed, releasing job", "job_id", job.JobID, "error", err)
		if relErr := a.client.release(ctx, job.JobID); relErr != nil {
			a.log.Warn("release after failed download failed", "job_id", job.JobID, "error", relErr)
		}
		return nil, "", false
	}
	return job, audioPath, true
}

// process transcribes one job and reports the outcome, returning whether
// the server accepted a complete or fail report for it.
func (a *Agent) process(ctx context.Context, job *claimedJob, audioPath string) bool {
	log := a.log.With("job_id", job.JobID, "episode_id", job.EpisodeID)
	defer os.Remove(audioPath)

	onProgress := a.throttledProgress(ctx, job.JobID)
	result, err := a.transcriber.Transcribe(ctx, audioPath, onProgress)
	if err != nil {
		log.Warn("transcription failed", "error", err)
		if failErr := a.client.fail(ctx, job.JobID, err.Error()); failErr != nil {
			log.Warn("report fail failed", "error", failErr)
			return false
		}
		return true
	}

	markdown := transcript.Render(result, job.EpisodeTitle, transcript.PerSegment)
	if err := a.client.complete(ctx, job.JobID, markdown, a.cfg.Model); err != nil {
		log.Warn("report complete failed", "error", err)
		return false
	}
	log.Info("transcription completed")
	return true
}

// prefetchNext claims and downloads the next job while the current one is
// still transcribing, per the agent's prefetch behavior. A failure here
// releases rather than fails, since the job itself didn't do anything
// wrong — the agent was just busy.
func (a *Agent) prefetchNext(ctx context.Context) {
	job, ok, err := a.client.claim(ctx, a.nodeID)
	if err != nil || !ok {
		return
	}

	audioPath := a.stagingPath(job.JobID, "prefetch")
	if err := a.client.fetchAudio(ctx, job.AudioURL, audioPath); err != nil {
		a.log.Warn("prefetch download failed, releasing", "job_id", job.JobID, "error", err)
		if relErr := a.client.release(ctx, job.JobID); relErr != nil {
			a.log.Warn("release after failed prefetch failed", "job_id", job.JobID, "error", relErr)
		}
		return
	}

	a.prefetchMu.Lock()
	a.prefetched = &prefetchResult{job: job, audioPath: audioPath}
	a.prefetchMu.Unlock()
}

func (a *Agent) takePrefetched() *prefetchResult {
	a.prefetchMu.Lock()
	defer a.prefetchMu.Unlock()
	pre := a.prefetched
	a.prefetched = nil
	return pre
}

func (a *Agent) throttledProgress(ctx context.Context, jobID uuid.UUID) ports.ProgressFunc {
	var lastUpdate time.Time
	lastPercent := -1
	return func(percent int) {
		now := time.Now()
		if !lastUpdate.IsZero() && now.Sub(lastUpdate) < 5*time.Second && abs(percent-lastPercent) < 5 {
			return
		}
		lastUpdate = now
		lastPercent = percent
		if err := a.client.progress(ctx, jobID, percent); err != nil {
			a.log.Warn("report progress failed", "job_id", jobID, "error", err)
		}
	}
}

func (a *Agent) stagingPath(jobID uuid.UUID, lane string) string {
	return filepath.Join(a.cfg.TempDir, fmt.Sprintf("%s-%s.audio", lane, jobID))
}

func (a *Agent) setInFlight(job *claimedJob) {
	a.mu.Lock()
	a.inFlight = job
	a.mu.Unlock()
}

// releaseInFlight is called on shutdown: whatever job the main loop was
// processing returns to queued without burning an attempt, exactly like a
// failed prefetch — the agent is going away, not the job.
func (a *Agent) releaseInFlight(ctx context.Context) {
	a.mu.Lock()
	job := a.inFlight
	a.mu.Unlock()
	if job == nil {
		return
	}
	if err := a.client.release(ctx, job.JobID); err != nil {
		a.log.Warn("release in-flight job on shutdown failed", "job_id", job.JobID, "error", err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
