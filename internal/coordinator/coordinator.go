// Package coordinator runs the distributed mode's periodic housekeeping: it
// offlines nodes that have stopped heartbeating and reclaims jobs stranded
// by a node or local worker that died mid-flight.
package coordinator

import (
	"context"
	"time"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/repos"
)

const (
	DefaultTickInterval     = 30 * time.Second
	DefaultHeartbeatTimeout = 60 * time.Second
	DefaultJobTimeout       = 2 * time.Hour
)

// Config tunes the coordinator's cadence and timeouts. Zero values fall
// back to the defaults above.
type Config struct {
	TickInterval     time.Duration
	HeartbeatTimeout time.Duration
	JobTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// Coordinator is the fixed-cadence background task described in spec §4.4:
// offline stale nodes, reclaim the jobs they leave stranded in `running`,
// and sweep the whole jobs table for anything else that timed out.
type Coordinator struct {
	log      *logger.Logger
	cfg      Config
	nodeRepo repos.NodeRepo
	jobRepo  repos.JobRepo
	bus      events.Bus
}

func New(baseLog *logger.Logger, cfg Config, nodeRepo repos.NodeRepo, jobRepo repos.JobRepo, bus events.Bus) *Coordinator {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Coordinator{
		log:      baseLog.With("component", "coordinator.Coordinator"),
		cfg:      cfg.withDefaults(),
		nodeRepo: nodeRepo,
		jobRepo:  jobRepo,
		bus:      bus,
	}
}

// Run blocks, ticking every cfg.TickInterval until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one pass of the coordinator's housekeeping: offline nodes whose
// heartbeat has lapsed (releasing any job they still show as current), then
// reclaim every stale running job regardless of which node held it.
func (c *Coordinator) Tick(ctx context.Context) {
	dbc := dbctx.New(ctx)

	staleNodes, err := c.nodeRepo.MarkOfflineStale(dbc, c.cfg.HeartbeatTimeout)
	if err != nil {
		c.log.Warn("mark stale nodes offline failed", "error", err)
	} else {
		for _, node := range staleNodes {
			c.log.Info("node marked offline on missed heartbeat", "node_id", node.ID, "name", node.Name)
			c.publishNodeOffline(ctx, node.ID.String())
			if node.CurrentJobID != nil {
				if ok, err := c.jobRepo.UnclaimJob(dbc, *node.CurrentJobID); err != nil {
					c.log.Warn("release stale node's in-flight job failed", "job_id", *node.CurrentJobID, "error", err)
				} else if ok {
					c.log.Info("released in-flight job from offline node", "job_id", *node.CurrentJobID, "node_id", node.ID)
					c.publishJobReclaimed(ctx, node.CurrentJobID.String())
				}
			}
		}
	}

	requeued, failed, err := c.jobRepo.ReclaimStaleJobs(dbc, c.cfg.JobTimeout)
	if err != nil {
		c.log.Warn("reclaim stale jobs failed", "error", err)
		return
	}
	if requeued > 0 || failed > 0 {
		c.log.Info("reclaimed stale running jobs", "requeued", requeued, "failed", failed)
	}
}

func (c *Coordinator) publishNodeOffline(ctx context.Context, nodeID string) {
	if err := c.bus.Publish(ctx, events.Event{Kind: events.NodeOffline, NodeID: nodeID}); err != nil {
		c.log.Warn("publish node.offline failed", "error", err)
	}
}

func (c *Coordinator) publishJobReclaimed(ctx context.Context, jobID string) {
	if err := c.bus.Publish(ctx, events.Event{Kind: events.JobReclaimed, JobID: jobID}); err != nil {
		c.log.Warn("publish job.reclaimed failed", "error", err)
	}
}
