package feeds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos"
)

type fakeFeedRepo struct {
	feeds map[uuid.UUID]*domain.Feed
}

func (f *fakeFeedRepo) Create(dbc dbctx.Context, url, title string) (*domain.Feed, error) {
	panic("unused")
}
func (f *fakeFeedRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Feed, error) {
	return f.feeds[id], nil
}
func (f *fakeFeedRepo) GetByURL(dbc dbctx.Context, url string) (*domain.Feed, error) {
	panic("unused")
}
func (f *fakeFeedRepo) List(dbc dbctx.Context) ([]domain.Feed, error) { panic("unused") }
func (f *fakeFeedRepo) UpdateAfterPoll(dbc dbctx.Context, id uuid.UUID, title, description, image, author string) error {
	f.feeds[id].Title = title
	return nil
}
func (f *fakeFeedRepo) SetCustomTitle(dbc dbctx.Context, id uuid.UUID, customTitle string) (*domain.Feed, error) {
	panic("unused")
}
func (f *fakeFeedRepo) Delete(dbc dbctx.Context, id uuid.UUID) error { panic("unused") }

type fakeEpisodeRepo struct {
	byGUID map[string]*domain.Episode
	all    []*domain.Episode
}

func newFakeEpisodeRepo() *fakeEpisodeRepo {
	return &fakeEpisodeRepo{byGUID: map[string]*domain.Episode{}}
}

func (e *fakeEpisodeRepo) Create(dbc dbctx.Context, feedID uuid.UUID, parsed ports.ParsedEpisode) (*domain.Episode, error) {
	ep := &domain.Episode{ID: uuid.New(), FeedID: feedID, GUID: parsed.GUID, Title: parsed.Title, PublishedAt: parsed.PublishedAt}
	e.byGUID[feedID.String()+"/"+parsed.GUID] = ep
	e.all = append(e.all, ep)
	return ep, nil
}
func (e *fakeEpisodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	panic("unused")
}
func (e *fakeEpisodeRepo) ExistsByGUID(dbc dbctx.Context, feedID uuid.UUID, guid string) (bool, error) {
	_, ok := e.byGUID[feedID.String()+"/"+guid]
	return ok, nil
}
func (e *fakeEpisodeRepo) ListByFeed(dbc dbctx.Context, feedID uuid.UUID) ([]domain.Episode, error) {
	var out []domain.Episode
	for _, ep := range e.all {
		if ep.FeedID == feedID {
			out = append(out, *ep)
		}
	}
	return out, nil
}
func (e *fakeEpisodeRepo) ListNewest(dbc dbctx.Context, feedID uuid.UUID, limit int) ([]domain.Episode, error) {
	panic("unused")
}
func (e *fakeEpisodeRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status domain.EpisodeStatus, errMsg string) error {
	panic("unused")
}
func (e *fakeEpisodeRepo) SetAudioPath(dbc dbctx.Context, id uuid.UUID, audioPath string) error {
	panic("unused")
}
func (e *fakeEpisodeRepo) SetTranscript(dbc dbctx.Context, id uuid.UUID, transcriptPath, transcriptURL string) error {
	panic("unused")
}

type fakeJobRepo struct {
	created []uuid.UUID
}

func (j *fakeJobRepo) Create(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType, priority, maxAttempts int) (*domain.Job, error) {
	j.created = append(j.created, episodeID)
	return &domain.Job{ID: uuid.New(), EpisodeID: episodeID, JobType: jobType}, nil
}
func (j *fakeJobRepo) HasPendingJob(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType) (bool, error) {
	return false, nil
}
func (j *fakeJobRepo) GetNextJob(dbc dbctx.Context, jobType domain.JobType) (*domain.Job, error) {
	panic("unused")
}
func (j *fakeJobRepo) ClaimJob(dbc dbctx.Context, jobID uuid.UUID, nodeID string) (*domain.Job, bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) MarkRunning(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) UpdateProgress(dbc dbctx.Context, jobID uuid.UUID, percent int) error {
	panic("unused")
}
func (j *fakeJobRepo) MarkCompleted(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) MarkFailed(dbc dbctx.Context, jobID uuid.UUID, errMsg string, retry bool) (*domain.Job, error) {
	panic("unused")
}
func (j *fakeJobRepo) ReclaimStaleJobs(dbc dbctx.Context, timeout time.Duration) (int, int, error) {
	panic("unused")
}
func (j *fakeJobRepo) ResetRunningJobs(dbc dbctx.Context) (int, int, error) { panic("unused") }
func (j *fakeJobRepo) BatchForceResetStuck(dbc dbctx.Context, threshold time.Duration) (int, int, error) {
	panic("unused")
}
func (j *fakeJobRepo) RetryFailedJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) UnclaimJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) CancelQueued(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	panic("unused")
}
func (j *fakeJobRepo) CleanupCompleted(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	panic("unused")
}
func (j *fakeJobRepo) CountByStatus(dbc dbctx.Context) (map[domain.JobStatus]int64, error) {
	panic("unused")
}
func (j *fakeJobRepo) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	panic("unused")
}

type fakeFetcher struct {
	result ports.ParsedFeed
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) (ports.ParsedFeed, error) {
	return f.result, nil
}

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestPoller_FirstPollEnqueuesOnlyNewest(t *testing.T) {
	feedID := uuid.New()
	feedRepo := &fakeFeedRepo{feeds: map[uuid.UUID]*domain.Feed{feedID: {ID: feedID, URL: "https://example.com/feed.xml"}}}
	epRepo := newFakeEpisodeRepo()
	jobRepo := &fakeJobRepo{}

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{result: ports.ParsedFeed{
		Title: "Show",
		Episodes: []ports.ParsedEpisode{
			{GUID: "old", Title: "Old", AudioURL: "https://cdn/old.mp3", PublishedAt: &older},
			{GUID: "new", Title: "New", AudioURL: "https://cdn/new.mp3", PublishedAt: &newer},
		},
	}}

	p := NewPoller(mustTestLogger(t), fetcher, feedRepo, epRepo, jobRepo, time.Hour)
	if err := p.PollFeed(context.Background(), feedID); err != nil {
		t.Fatalf("PollFeed: %v", err)
	}

	if len(epRepo.all) != 2 {
		t.Fatalf("expected both episodes inserted, got %d", len(epRepo.all))
	}
	if len(jobRepo.created) != 1 {
		t.Fatalf("expected only the newest episode enqueued on first poll, got %d jobs", len(jobRepo.created))
	}
	if jobRepo.created[0] != epRepo.all[1].ID {
		t.Fatalf("expected newest episode enqueued, got episode id %v", jobRepo.created[0])
	}
}

func TestPoller_SubsequentPollEnqueuesAllNew(t *testing.T) {
	feedID := uuid.New()
	feedRepo := &fakeFeedRepo{feeds: map[uuid.UUID]*domain.Feed{feedID: {ID: feedID, URL: "https://example.com/feed.xml"}}}
	epRepo := newFakeEpisodeRepo()
	jobRepo := &fakeJobRepo{}

	// Seed one pre-existing episode to simulate a prior poll having run.
	existing := &domain.Episode{ID: uuid.New(), FeedID: feedID, GUID: "seen"}
	epRepo.all = append(epRepo.all, existing)
	epRepo.byGUID[feedID.String()+"/seen"] = existing

	fetcher := &fakeFetcher{result: ports.ParsedFeed{
		Title: "Show",
		Episodes: []ports.ParsedEpisode{
			{GUID: "seen", Title: "Seen", AudioURL: "https://cdn/seen.mp3"},
			{GUID: "a", Title: "A", AudioURL: "https://cdn/a.mp3"},
			{GUID: "b", Title: "B", AudioURL: "https://cdn/b.mp3"},
		},
	}}

	p := NewPoller(mustTestLogger(t), fetcher, feedRepo, epRepo, jobRepo, time.Hour)
	if err := p.PollFeed(context.Background(), feedID); err != nil {
		t.Fatalf("PollFeed: %v", err)
	}

	if len(jobRepo.created) != 2 {
		t.Fatalf("expected both newly discovered episodes enqueued, got %d", len(jobRepo.created))
	}
}

func TestPoller_DedupSkipsExistingGUID(t *testing.T) {
	feedID := uuid.New()
	feedRepo := &fakeFeedRepo{feeds: map[uuid.UUID]*domain.Feed{feedID: {ID: feedID, URL: "https://example.com/feed.xml"}}}
	epRepo := newFakeEpisodeRepo()
	jobRepo := &fakeJobRepo{}

	existing := &domain.Episode{ID: uuid.New(), FeedID: feedID, GUID: "ep-1"}
	epRepo.all = append(epRepo.all, existing)
	epRepo.byGUID[feedID.String()+"/ep-1"] = existing

	fetcher := &fakeFetcher{result: ports.ParsedFeed{
		Episodes: []ports.ParsedEpisode{{GUID: "ep-1", Title: "Episode 1", AudioURL: "https://cdn/ep1.mp3"}},
	}}

	p := NewPoller(mustTestLogger(t), fetcher, feedRepo, epRepo, jobRepo, time.Hour)
	if err := p.PollFeed(context.Background(), feedID); err != nil {
		t.Fatalf("PollFeed: %v", err)
	}
	if len(epRepo.all) != 1 {
		t.Fatalf("expected no new episode inserted, got %d total", len(epRepo.all))
	}
	if len(jobRepo.created) != 0 {
		t.Fatalf("expected no jobs enqueued, got %d", len(jobRepo.created))
	}
}

var _ repos.FeedRepo = (*fakeFeedRepo)(nil)
var _ repos.EpisodeRepo = (*fakeEpisodeRepo)(nil)
var _ repos.JobRepo = (*fakeJobRepo)(nil)
