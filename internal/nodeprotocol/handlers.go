// Package nodeprotocol implements the remote-facing HTTP surface described
// in the node protocol: register, heartbeat, claim, fetch audio, report
// progress, complete, fail, release.
package nodeprotocol

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/events"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/repos"
	"github.com/meltforce/cast2md/internal/storage"
)

// Handlers wires the node protocol's HTTP verbs to the repositories and
// storage layout that back them.
type Handlers struct {
	log      *logger.Logger
	nodeRepo repos.NodeRepo
	jobRepo  repos.JobRepo
	epRepo   repos.EpisodeRepo
	feedRepo repos.FeedRepo
	layout   *storage.Layout
	bus      events.Bus
}

func NewHandlers(baseLog *logger.Logger, nodeRepo repos.NodeRepo, jobRepo repos.JobRepo, epRepo repos.EpisodeRepo, feedRepo repos.FeedRepo, layout *storage.Layout, bus events.Bus) *Handlers {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Handlers{
		log:      baseLog.With("component", "nodeprotocol.Handlers"),
		nodeRepo: nodeRepo,
		jobRepo:  jobRepo,
		epRepo:   epRepo,
		feedRepo: feedRepo,
		layout:   layout,
		bus:      bus,
	}
}

// Register is the one endpoint with no bearer auth: the returned api_key is
// the only proof of identity from this point on.
func (h *Handlers) Register(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		URL     string `json:"url"`
		Model   string `json:"model"`
		Backend string `json:"backend"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	node, apiKey, err := h.nodeRepo.Register(dbctx.New(c.Request.Context()), req.Name, req.URL, req.Model, req.Backend, domain.DefaultJobPriority)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "register_failed", err)
		return
	}
	respondOK(c, gin.H{"node_id": node.ID, "api_key": apiKey})
}

// Heartbeat is a liveness no-op beyond what AuthMiddleware already did; it
// exists as its own route so agents have an explicit, cheap call to make
// every 30s even between claims.
func (h *Handlers) Heartbeat(c *gin.Context) {
	node := nodeFromContext(c)
	if node == nil || !pathMatchesNode(c, node.ID) {
		respondError(c, http.StatusForbidden, "forbidden", nil)
		return
	}
	respondOK(c, gin.H{"status": "ok"})
}

// Claim hands the requesting node at most one transcription job. The
// server performs the atomic claim; the node never sees a queued job it
// didn't win the race for.
func (h *Handlers) Claim(c *gin.Context) {
	node := nodeFromContext(c)
	if node == nil || !pathMatchesNode(c, node.ID) {
		respondError(c, http.StatusForbidden, "forbidden", nil)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	job, err := h.jobRepo.GetNextJob(dbc, domain.JobTypeTranscribe)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "claim_failed", err)
		return
	}
	if job == nil {
		respondOK(c, gin.H{"has_job": false})
		return
	}

	claimed, ok, err := h.jobRepo.ClaimJob(dbc, job.ID, node.ID.String())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "claim_failed", err)
		return
	}
	if !ok {
		// Lost the race to another worker; the agent tries again next poll.
		respondOK(c, gin.H{"has_job": false})
		return
	}

	ep, err := h.epRepo.GetByID(dbc, claimed.EpisodeID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "claim_failed", err)
		return
	}
	if err := h.nodeRepo.UpdateStatus(dbc, node.ID, domain.NodeStatusBusy, &claimed.ID); err != nil {
		h.log.Warn("set node busy failed", "node_id", node.ID, "error", err)
	}
	h.publish(c, events.JobClaimed, claimed.ID, ep.ID, node.ID.String())

	respondOK(c, gin.H{
		"has_job":        true,
		"job_id":         claimed.ID,
		"episode_id":     ep.ID,
		"episode_title":  ep.Title,
		"audio_url":      fmt.Sprintf("/api/nodes/jobs/%s/audio", claimed.ID),
	})
}

// FetchAudio streams the claimed job's audio file. Only the node the job is
// currently assigned to may fetch it.
func (h *Handlers) FetchAudio(c *gin.Context) {
	node := nodeFromContext(c)
	job, ok := h.ownedJob(c, node)
	if !ok {
		return
	}

	ep, err := h.epRepo.GetByID(dbctx.New(c.Request.Context()), job.EpisodeID)
	if err != nil {
		respondError(c, http.StatusNotFound, "episode_not_found", err)
		return
	}
	if ep.AudioPath == "" {
		respondError(c, http.StatusNotFound, "audio_not_available", nil)
		return
	}
	c.File(ep.AudioPath)
}

// Progress records a throttled percent-complete update from the node.
func (h *Handlers) Progress(c *gin.Context) {
	node := nodeFromContext(c)
	job, ok := h.ownedJob(c, node)
	if !ok {
		return
	}

	var req struct {
		ProgressPercent int `json:"progress_percent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if err := h.jobRepo.UpdateProgress(dbctx.New(c.Request.Context()), job.ID, req.ProgressPercent); err != nil {
		h.log.Warn("update progress failed", "job_id", job.ID, "error", err)
	}
	respondOK(c, gin.H{"status": "ok"})
}

// Complete writes the finished transcript and closes out the job.
// Idempotent-friendly: an already-completed job still returns 200; a job
// reassigned out from under the node returns 409.
func (h *Handlers) Complete(c *gin.Context) {
	node := nodeFromContext(c)
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	dbc := dbctx.New(c.Request.Context())

	job, err := h.jobRepo.GetByID(dbc, jobID)
	if err != nil {
		respondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if job.Status == domain.JobStatusCompleted {
		respondOK(c, gin.H{"message": "already completed"})
		return
	}
	if node == nil || job.AssignedNodeID != node.ID.String() {
		respondError(c, http.StatusConflict, "reassigned", nil)
		return
	}

	var req struct {
		TranscriptText string `json:"transcript_text"`
		Model          string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TranscriptText) == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ep, err := h.epRepo.GetByID(dbc, job.EpisodeID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}
	feed, err := h.feedRepo.GetByID(dbc, ep.FeedID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}

	podcastTitle := feed.DisplayTitle()
	if err := h.layout.EnsurePodcastDirectories(podcastTitle); err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}
	transcriptPath := h.layout.TranscriptPath(podcastTitle, ep.Title, ep.PublishedAt)
	if err := os.WriteFile(transcriptPath, []byte(req.TranscriptText), 0o644); err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}

	if err := h.epRepo.SetTranscript(dbc, ep.ID, transcriptPath, ""); err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}
	if _, err := h.jobRepo.MarkCompleted(dbc, job.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}
	if err := h.nodeRepo.UpdateStatus(dbc, node.ID, domain.NodeStatusOnline, nil); err != nil {
		h.log.Warn("clear node assignment failed", "node_id", node.ID, "error", err)
	}

	h.publish(c, events.JobCompleted, job.ID, ep.ID, node.ID.String())
	respondOK(c, gin.H{"message": "completed"})
}

// Fail marks the job failed with retry, preserving attempts accounting.
// Agents should prefer Release for node-side faults so attempts aren't
// burned for something that wasn't the job's fault.
func (h *Handlers) Fail(c *gin.Context) {
	node := nodeFromContext(c)
	job, ok := h.ownedJob(c, node)
	if !ok {
		return
	}

	var req struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if _, err := h.jobRepo.MarkFailed(dbc, job.ID, req.ErrorMessage, true); err != nil {
		respondError(c, http.StatusInternalServerError, "fail_failed", err)
		return
	}
	if err := h.nodeRepo.UpdateStatus(dbc, node.ID, domain.NodeStatusOnline, nil); err != nil {
		h.log.Warn("clear node assignment failed", "node_id", node.ID, "error", err)
	}
	h.publish(c, events.JobFailed, job.ID, job.EpisodeID, node.ID.String())
	respondOK(c, gin.H{"message": "failed"})
}

// Release returns a claimed job to queued without charging an attempt.
// Used on node shutdown and failed prefetches, where the job itself did
// nothing wrong.
func (h *Handlers) Release(c *gin.Context) {
	node := nodeFromContext(c)
	job, ok := h.ownedJob(c, node)
	if !ok {
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if _, err := h.jobRepo.UnclaimJob(dbc, job.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "release_failed", err)
		return
	}
	if err := h.nodeRepo.UpdateStatus(dbc, node.ID, domain.NodeStatusOnline, nil); err != nil {
		h.log.Warn("clear node assignment failed", "node_id", node.ID, "error", err)
	}
	h.publish(c, events.JobReleased, job.ID, job.EpisodeID, node.ID.String())
	respondOK(c, gin.H{"message": "released"})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// ownedJob loads the path's job and confirms it is currently assigned to
// the authenticated node, responding and returning ok=false otherwise.
func (h *Handlers) ownedJob(c *gin.Context, node *domain.WorkerNode) (*domain.Job, bool) {
	jobID, ok := parseJobID(c)
	if !ok {
		return nil, false
	}
	job, err := h.jobRepo.GetByID(dbctx.New(c.Request.Context()), jobID)
	if err != nil {
		respondError(c, http.StatusNotFound, "job_not_found", err)
		return nil, false
	}
	if node == nil || job.AssignedNodeID != node.ID.String() {
		respondError(c, http.StatusForbidden, "wrong_assignee", nil)
		return nil, false
	}
	return job, true
}

func pathMatchesNode(c *gin.Context, nodeID uuid.UUID) bool {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return false
	}
	return id == nodeID
}

func (h *Handlers) publish(c *gin.Context, kind events.Kind, jobID, episodeID uuid.UUID, nodeID string) {
	evt := events.Event{Kind: kind, JobID: jobID.String(), EpisodeID: episodeID.String(), NodeID: nodeID}
	if err := h.bus.Publish(c.Request.Context(), evt); err != nil {
		h.log.Warn("publish event failed", "kind", kind, "error", err)
	}
}
