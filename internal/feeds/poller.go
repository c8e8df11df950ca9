package feeds

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos"
)

const DefaultPollInterval = 60 * time.Minute

// Poller periodically walks every known feed, inserts newly discovered
// episodes (dedup by (feed_id, guid)), and enqueues download jobs for them.
type Poller struct {
	log       *logger.Logger
	fetcher   ports.FeedFetcher
	feedRepo  repos.FeedRepo
	epRepo    repos.EpisodeRepo
	jobRepo   repos.JobRepo
	interval  time.Duration
}

func NewPoller(baseLog *logger.Logger, fetcher ports.FeedFetcher, feedRepo repos.FeedRepo, epRepo repos.EpisodeRepo, jobRepo repos.JobRepo, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		log:      baseLog.With("component", "feeds.Poller"),
		fetcher:  fetcher,
		feedRepo: feedRepo,
		epRepo:   epRepo,
		jobRepo:  jobRepo,
		interval: interval,
	}
}

// Run blocks, polling all feeds on a fixed interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	dbc := dbctx.New(ctx)
	list, err := p.feedRepo.List(dbc)
	if err != nil {
		p.log.Error("list feeds failed", "error", err)
		return
	}
	for _, feed := range list {
		if err := p.PollFeed(ctx, feed.ID); err != nil {
			p.log.Warn("poll feed failed", "feed_id", feed.ID, "error", err)
		}
	}
}

// PollFeed fetches one feed, inserts new episodes, and enqueues download
// jobs for them. On the feed's first poll (no prior episodes), only the
// newest discovered episode is auto-enqueued; subsequent polls enqueue
// every newly discovered episode.
func (p *Poller) PollFeed(ctx context.Context, feedID uuid.UUID) error {
	dbc := dbctx.New(ctx)

	feed, err := p.feedRepo.GetByID(dbc, feedID)
	if err != nil {
		return err
	}

	existing, err := p.epRepo.ListByFeed(dbc, feedID)
	if err != nil {
		return err
	}
	firstPoll := len(existing) == 0

	parsed, err := p.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return err
	}

	var newlyCreated []*domain.Episode
	for _, item := range parsed.Episodes {
		exists, err := p.epRepo.ExistsByGUID(dbc, feedID, item.GUID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		ep, err := p.epRepo.Create(dbc, feedID, item)
		if err != nil {
			return err
		}
		newlyCreated = append(newlyCreated, ep)
	}

	if err := p.feedRepo.UpdateAfterPoll(dbc, feedID, parsed.Title, parsed.Description, parsed.Image, parsed.Author); err != nil {
		return err
	}

	if len(newlyCreated) == 0 {
		return nil
	}

	toEnqueue := newlyCreated
	if firstPoll {
		toEnqueue = []*domain.Episode{newest(newlyCreated)}
	}

	for _, ep := range toEnqueue {
		hasPending, err := p.jobRepo.HasPendingJob(dbc, ep.ID, domain.JobTypeDownload)
		if err != nil {
			return err
		}
		if hasPending {
			continue
		}
		if _, err := p.jobRepo.Create(dbc, ep.ID, domain.JobTypeDownload, domain.DefaultJobPriority, domain.DefaultMaxAttempts); err != nil {
			return err
		}
	}

	return nil
}

func newest(episodes []*domain.Episode) *domain.Episode {
	best := episodes[0]
	for _, ep := range episodes[1:] {
		if ep.PublishedAt == nil {
			continue
		}
		if best.PublishedAt == nil || ep.PublishedAt.After(*best.PublishedAt) {
			best = ep
		}
	}
	return best
}
