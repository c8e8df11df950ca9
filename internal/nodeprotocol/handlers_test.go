package nodeprotocol

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos"
	"github.com/meltforce/cast2md/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeNodeRepo struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]*domain.WorkerNode
}

func newFakeNodeRepo() *fakeNodeRepo { return &fakeNodeRepo{nodes: make(map[uuid.UUID]*domain.WorkerNode)} }

func (r *fakeNodeRepo) Register(_ dbctx.Context, name, url, model, backend string, priority int) (*domain.WorkerNode, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node := &domain.WorkerNode{ID: uuid.New(), Name: name, URL: url, Model: model, Backend: backend, Status: domain.NodeStatusOffline, Priority: priority, APIKey: "key-" + name}
	r.nodes[node.ID] = node
	return node, node.APIKey, nil
}

func (r *fakeNodeRepo) Authenticate(_ dbctx.Context, apiKey string) (*domain.WorkerNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n.APIKey == apiKey {
			return n, nil
		}
	}
	return nil, nil
}

func (r *fakeNodeRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.WorkerNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return n, nil
}

func (r *fakeNodeRepo) List(dbctx.Context) ([]domain.WorkerNode, error) { panic("unused") }

func (r *fakeNodeRepo) UpdateHeartbeat(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		now := time.Now().UTC()
		n.LastHeartbeat = &now
		n.Status = domain.NodeStatusOnline
	}
	return nil
}

func (r *fakeNodeRepo) UpdateStatus(_ dbctx.Context, id uuid.UUID, status domain.NodeStatus, currentJobID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.Status = status
		n.CurrentJobID = currentJobID
	}
	return nil
}

func (r *fakeNodeRepo) MarkOfflineStale(dbctx.Context, time.Duration) ([]domain.WorkerNode, error) {
	panic("unused")
}
func (r *fakeNodeRepo) Delete(dbctx.Context, uuid.UUID) error { panic("unused") }

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: make(map[uuid.UUID]*domain.Job)} }

func (r *fakeJobRepo) Create(dbctx.Context, uuid.UUID, domain.JobType, int, int) (*domain.Job, error) {
	panic("unused")
}
func (r *fakeJobRepo) HasPendingJob(dbctx.Context, uuid.UUID, domain.JobType) (bool, error) {
	panic("unused")
}

func (r *fakeJobRepo) GetNextJob(_ dbctx.Context, jobType domain.JobType) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.JobType == jobType && j.Status == domain.JobStatusQueued {
			return j, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) ClaimJob(_ dbctx.Context, jobID uuid.UUID, nodeID string) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status != domain.JobStatusQueued {
		return nil, false, nil
	}
	now := time.Now().UTC()
	j.Status = domain.JobStatusRunning
	j.AssignedNodeID = nodeID
	j.ClaimedAt = &now
	j.StartedAt = &now
	j.Attempts++
	return j, true, nil
}

func (r *fakeJobRepo) MarkRunning(dbctx.Context, uuid.UUID) (*domain.Job, bool, error) {
	panic("unused")
}

func (r *fakeJobRepo) UpdateProgress(_ dbctx.Context, jobID uuid.UUID, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.ProgressPercent = percent
	}
	return nil
}

func (r *fakeJobRepo) MarkCompleted(_ dbctx.Context, jobID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return false, nil
	}
	j.Status = domain.JobStatusCompleted
	j.ProgressPercent = 100
	return true, nil
}

func (r *fakeJobRepo) MarkFailed(_ dbctx.Context, jobID uuid.UUID, errMsg string, retry bool) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, os.ErrNotExist
	}
	j.Status = domain.JobStatusQueued
	j.ErrorMessage = errMsg
	j.AssignedNodeID = ""
	return j, nil
}

func (r *fakeJobRepo) ReclaimStaleJobs(dbctx.Context, time.Duration) (int, int, error) {
	panic("unused")
}
func (r *fakeJobRepo) ResetRunningJobs(dbctx.Context) (int, int, error) { panic("unused") }
func (r *fakeJobRepo) BatchForceResetStuck(dbctx.Context, time.Duration) (int, int, error) {
	panic("unused")
}
func (r *fakeJobRepo) RetryFailedJob(dbctx.Context, uuid.UUID) (bool, error) { panic("unused") }

func (r *fakeJobRepo) UnclaimJob(_ dbctx.Context, jobID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status != domain.JobStatusRunning {
		return false, nil
	}
	j.Status = domain.JobStatusQueued
	j.AssignedNodeID = ""
	j.ClaimedAt = nil
	return true, nil
}

func (r *fakeJobRepo) CancelQueued(dbctx.Context, uuid.UUID) (bool, error) { panic("unused") }
func (r *fakeJobRepo) CleanupCompleted(dbctx.Context, time.Duration) (int64, error) {
	panic("unused")
}
func (r *fakeJobRepo) CountByStatus(dbctx.Context) (map[domain.JobStatus]int64, error) {
	panic("unused")
}

func (r *fakeJobRepo) GetByID(_ dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return j, nil
}

type fakeEpisodeRepo struct {
	episodes map[uuid.UUID]*domain.Episode
}

func (r *fakeEpisodeRepo) Create(dbctx.Context, uuid.UUID, ports.ParsedEpisode) (*domain.Episode, error) {
	panic("unused")
}
func (r *fakeEpisodeRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	ep, ok := r.episodes[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return ep, nil
}
func (r *fakeEpisodeRepo) ExistsByGUID(dbctx.Context, uuid.UUID, string) (bool, error) {
	panic("unused")
}
func (r *fakeEpisodeRepo) ListByFeed(dbctx.Context, uuid.UUID) ([]domain.Episode, error) {
	panic("unused")
}
func (r *fakeEpisodeRepo) ListNewest(dbctx.Context, uuid.UUID, int) ([]domain.Episode, error) {
	panic("unused")
}
func (r *fakeEpisodeRepo) UpdateStatus(dbctx.Context, uuid.UUID, domain.EpisodeStatus, string) error {
	panic("unused")
}
func (r *fakeEpisodeRepo) SetAudioPath(dbctx.Context, uuid.UUID, string) error { panic("unused") }
func (r *fakeEpisodeRepo) SetTranscript(_ dbctx.Context, id uuid.UUID, transcriptPath, transcriptURL string) error {
	if ep, ok := r.episodes[id]; ok {
		ep.TranscriptPath = transcriptPath
		ep.TranscriptURL = transcriptURL
	}
	return nil
}

type fakeFeedRepo struct {
	feeds map[uuid.UUID]*domain.Feed
}

func (r *fakeFeedRepo) Create(dbctx.Context, string, string) (*domain.Feed, error) { panic("unused") }
func (r *fakeFeedRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Feed, error) {
	f, ok := r.feeds[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return f, nil
}
func (r *fakeFeedRepo) GetByURL(dbctx.Context, string) (*domain.Feed, error) { panic("unused") }
func (r *fakeFeedRepo) List(dbctx.Context) ([]domain.Feed, error)            { panic("unused") }
func (r *fakeFeedRepo) UpdateAfterPoll(dbctx.Context, uuid.UUID, string, string, string, string) error {
	panic("unused")
}
func (r *fakeFeedRepo) SetCustomTitle(dbctx.Context, uuid.UUID, string) (*domain.Feed, error) {
	panic("unused")
}
func (r *fakeFeedRepo) Delete(dbctx.Context, uuid.UUID) error { panic("unused") }

func mustLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newTestHandlers(t *testing.T) (*Handlers, *AuthMiddleware, *fakeNodeRepo, *fakeJobRepo, *fakeEpisodeRepo, *fakeFeedRepo) {
	t.Helper()
	nodeRepo := newFakeNodeRepo()
	jobRepo := newFakeJobRepo()
	epRepo := &fakeEpisodeRepo{episodes: make(map[uuid.UUID]*domain.Episode)}
	feedRepo := &fakeFeedRepo{feeds: make(map[uuid.UUID]*domain.Feed)}
	layout := storage.NewLayout(mustLogger(t), t.TempDir())
	h := NewHandlers(mustLogger(t), nodeRepo, jobRepo, epRepo, feedRepo, layout, events.NopBus{})
	mw := NewAuthMiddleware(mustLogger(t), nodeRepo)
	return h, mw, nodeRepo, jobRepo, epRepo, feedRepo
}

func performJSON(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegister_ReturnsNodeIDAndAPIKey(t *testing.T) {
	h, _, _, _, _, _ := newTestHandlers(t)
	router := gin.New()
	router.POST("/api/nodes/register", h.Register)

	rec := performJSON(router, http.MethodPost, "/api/nodes/register", gin.H{"name": "gpu-1", "url": "http://gpu-1:9000"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		NodeID uuid.UUID `json:"node_id"`
		APIKey string    `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.NodeID == uuid.Nil || resp.APIKey == "" {
		t.Fatalf("expected populated node_id/api_key, got %+v", resp)
	}
}

func TestClaim_NoQueuedJobReturnsHasJobFalse(t *testing.T) {
	h, mw, nodeRepo, _, _, _ := newTestHandlers(t)
	node, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)

	router := gin.New()
	router.POST("/api/nodes/:id/claim", mw.RequireNode(), h.Claim)

	rec := performJSON(router, http.MethodPost, "/api/nodes/"+node.ID.String()+"/claim", nil, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		HasJob bool `json:"has_job"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.HasJob {
		t.Fatalf("expected no job available")
	}
}

func TestClaim_AssignsQueuedTranscriptionJob(t *testing.T) {
	h, mw, nodeRepo, jobRepo, epRepo, _ := newTestHandlers(t)
	node, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)

	epID := uuid.New()
	epRepo.episodes[epID] = &domain.Episode{ID: epID, Title: "Episode One"}
	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, EpisodeID: epID, JobType: domain.JobTypeTranscribe, Status: domain.JobStatusQueued, MaxAttempts: 3}

	router := gin.New()
	router.POST("/api/nodes/:id/claim", mw.RequireNode(), h.Claim)

	rec := performJSON(router, http.MethodPost, "/api/nodes/"+node.ID.String()+"/claim", nil, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		HasJob       bool      `json:"has_job"`
		JobID        uuid.UUID `json:"job_id"`
		EpisodeTitle string    `json:"episode_title"`
		AudioURL     string    `json:"audio_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.HasJob || resp.JobID != jobID || resp.EpisodeTitle != "Episode One" {
		t.Fatalf("unexpected claim response: %+v", resp)
	}
	if jobRepo.jobs[jobID].Status != domain.JobStatusRunning || jobRepo.jobs[jobID].AssignedNodeID != node.ID.String() {
		t.Fatalf("expected job claimed by node, got %+v", jobRepo.jobs[jobID])
	}
	if nodeRepo.nodes[node.ID].CurrentJobID == nil || *nodeRepo.nodes[node.ID].CurrentJobID != jobID {
		t.Fatalf("expected node's current_job_id set")
	}
}

func TestFetchAudio_WrongAssigneeForbidden(t *testing.T) {
	h, mw, nodeRepo, jobRepo, epRepo, _ := newTestHandlers(t)
	owner, _, _ := nodeRepo.Register(dbctx.New(t.Context()), "owner", "http://owner", "", "", 10)
	_, intruderKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "intruder", "http://intruder", "", "", 10)

	epID := uuid.New()
	epRepo.episodes[epID] = &domain.Episode{ID: epID, AudioPath: filepath.Join(t.TempDir(), "ep.mp3")}
	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, EpisodeID: epID, Status: domain.JobStatusRunning, AssignedNodeID: owner.ID.String()}

	router := gin.New()
	router.GET("/api/nodes/jobs/:job_id/audio", mw.RequireNode(), h.FetchAudio)

	rec := httptest.NewRequest(http.MethodGet, "/api/nodes/jobs/"+jobID.String()+"/audio", nil)
	rec.Header.Set("X-Transcriber-Key", intruderKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, rec)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestComplete_AlreadyCompletedIsIdempotent(t *testing.T) {
	h, mw, nodeRepo, jobRepo, epRepo, feedRepo := newTestHandlers(t)
	node, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)

	feedID := uuid.New()
	feedRepo.feeds[feedID] = &domain.Feed{ID: feedID, Title: "Show"}
	epID := uuid.New()
	epRepo.episodes[epID] = &domain.Episode{ID: epID, FeedID: feedID, Title: "Ep"}
	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, EpisodeID: epID, Status: domain.JobStatusCompleted, AssignedNodeID: node.ID.String()}

	router := gin.New()
	router.POST("/api/nodes/jobs/:job_id/complete", mw.RequireNode(), h.Complete)

	rec := performJSON(router, http.MethodPost, "/api/nodes/jobs/"+jobID.String()+"/complete", gin.H{"transcript_text": "hello"}, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for already-completed job, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestComplete_ReassignedReturnsConflict(t *testing.T) {
	h, mw, nodeRepo, jobRepo, epRepo, feedRepo := newTestHandlers(t)
	_, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)
	otherNode, _, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-2", "http://gpu-2", "", "", 10)

	feedID := uuid.New()
	feedRepo.feeds[feedID] = &domain.Feed{ID: feedID, Title: "Show"}
	epID := uuid.New()
	epRepo.episodes[epID] = &domain.Episode{ID: epID, FeedID: feedID, Title: "Ep"}
	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, EpisodeID: epID, Status: domain.JobStatusRunning, AssignedNodeID: otherNode.ID.String()}

	router := gin.New()
	router.POST("/api/nodes/jobs/:job_id/complete", mw.RequireNode(), h.Complete)

	rec := performJSON(router, http.MethodPost, "/api/nodes/jobs/"+jobID.String()+"/complete", gin.H{"transcript_text": "hello"}, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestComplete_WritesTranscriptFileAndCompletesJob(t *testing.T) {
	h, mw, nodeRepo, jobRepo, epRepo, feedRepo := newTestHandlers(t)
	node, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)

	feedID := uuid.New()
	feedRepo.feeds[feedID] = &domain.Feed{ID: feedID, Title: "Show"}
	epID := uuid.New()
	epRepo.episodes[epID] = &domain.Episode{ID: epID, FeedID: feedID, Title: "Ep One"}
	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, EpisodeID: epID, Status: domain.JobStatusRunning, AssignedNodeID: node.ID.String()}

	router := gin.New()
	router.POST("/api/nodes/jobs/:job_id/complete", mw.RequireNode(), h.Complete)

	rec := performJSON(router, http.MethodPost, "/api/nodes/jobs/"+jobID.String()+"/complete", gin.H{"transcript_text": "# Ep One\n\nHello."}, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if jobRepo.jobs[jobID].Status != domain.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", jobRepo.jobs[jobID].Status)
	}
	if epRepo.episodes[epID].TranscriptPath == "" {
		t.Fatalf("expected transcript path set on episode")
	}
	content, err := os.ReadFile(epRepo.episodes[epID].TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript file: %v", err)
	}
	if string(content) != "# Ep One\n\nHello." {
		t.Fatalf("unexpected transcript content: %q", content)
	}
	if nodeRepo.nodes[node.ID].CurrentJobID != nil {
		t.Fatalf("expected node's current_job_id cleared")
	}
}

func TestRelease_ReturnsJobToQueuedWithoutIncrementingAttempts(t *testing.T) {
	h, mw, nodeRepo, jobRepo, _, _ := newTestHandlers(t)
	node, apiKey, _ := nodeRepo.Register(dbctx.New(t.Context()), "gpu-1", "http://gpu-1", "", "", 10)

	jobID := uuid.New()
	jobRepo.jobs[jobID] = &domain.Job{ID: jobID, Status: domain.JobStatusRunning, AssignedNodeID: node.ID.String(), Attempts: 1}

	router := gin.New()
	router.POST("/api/nodes/jobs/:job_id/release", mw.RequireNode(), h.Release)

	rec := performJSON(router, http.MethodPost, "/api/nodes/jobs/"+jobID.String()+"/release", nil, map[string]string{"X-Transcriber-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if jobRepo.jobs[jobID].Status != domain.JobStatusQueued {
		t.Fatalf("expected job queued, got %s", jobRepo.jobs[jobID].Status)
	}
	if jobRepo.jobs[jobID].Attempts != 1 {
		t.Fatalf("expected attempts unchanged, got %d", jobRepo.jobs[jobID].Attempts)
	}
}

var (
	_ repos.NodeRepo    = (*fakeNodeRepo)(nil)
	_ repos.JobRepo     = (*fakeJobRepo)(nil)
	_ repos.EpisodeRepo = (*fakeEpisodeRepo)(nil)
	_ repos.FeedRepo    = (*fakeFeedRepo)(nil)
)
