package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/repos"
	"github.com/meltforce/cast2md/internal/storage"
)

// OperatorHandlers exposes read-only job visibility, feed title edits, and
// GPU pod provisioning bookkeeping for whatever out-of-scope web UI or CLI
// wants to inspect queue state. They carry no auth of their own; callers
// are expected to sit behind the operator's own network boundary.
type OperatorHandlers struct {
	log          *logger.Logger
	jobRepo      repos.JobRepo
	feedRepo     repos.FeedRepo
	podSetupRepo repos.PodSetupRepo
	layout       *storage.Layout
}

func NewOperatorHandlers(baseLog *logger.Logger, jobRepo repos.JobRepo, feedRepo repos.FeedRepo, podSetupRepo repos.PodSetupRepo, layout *storage.Layout) *OperatorHandlers {
	return &OperatorHandlers{
		log:          baseLog.With("component", "server.OperatorHandlers"),
		jobRepo:      jobRepo,
		feedRepo:     feedRepo,
		podSetupRepo: podSetupRepo,
		layout:       layout,
	}
}

// GetJob returns a single job by id. Mounted at /api/jobs/id/:id rather
// than /api/jobs/:id so the GET tree never puts a param segment alongside
// the static "status" sibling JobCounts needs at the same depth.
func (h *OperatorHandlers) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobRepo.GetByID(dbctx.New(c.Request.Context()), jobID)
	if err != nil {
		respondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// JobCounts returns the queue's size broken down by status, the core's
// cheapest possible dashboard.
func (h *OperatorHandlers) JobCounts(c *gin.Context) {
	counts, err := h.jobRepo.CountByStatus(dbctx.New(c.Request.Context()))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "count_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// CreatePodSetup records that an external GPU machine provisioning flow has
// started for nodeName, before any WorkerNode row exists to attach progress
// to. The out-of-scope provisioning script is expected to call UpdateProgress
// as it moves through phases.
func (h *OperatorHandlers) CreatePodSetup(c *gin.Context) {
	var body struct {
		NodeName string `json:"node_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	state, err := h.podSetupRepo.Create(dbctx.New(c.Request.Context()), body.NodeName)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "create_pod_setup_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pod_setup": state})
}

// GetPodSetup reports a provisioning flow's current phase and progress.
// Mounted under /api/provisioning rather than /api/nodes/provision so its
// GET tree (":id" as the sole child) never collides with the node protocol's
// own routing.
func (h *OperatorHandlers) GetPodSetup(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_pod_setup_id", err)
		return
	}
	state, err := h.podSetupRepo.GetByID(dbctx.New(c.Request.Context()), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "pod_setup_not_found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pod_setup": state})
}

// SetFeedTitle records an operator-chosen display title for a feed and
// renames its on-disk audio/ and transcripts/ directories to match, so a
// custom title doesn't leave episodes filed under the old slug.
func (h *OperatorHandlers) SetFeedTitle(c *gin.Context) {
	feedID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_feed_id", err)
		return
	}
	var body struct {
		CustomTitle string `json:"custom_title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.CustomTitle) == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	feed, err := h.feedRepo.GetByID(dbc, feedID)
	if err != nil {
		respondError(c, http.StatusNotFound, "feed_not_found", err)
		return
	}
	oldTitle := feed.DisplayTitle()

	updated, err := h.feedRepo.SetCustomTitle(dbc, feedID, body.CustomTitle)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "set_title_failed", err)
		return
	}

	if _, err := h.layout.RenamePodcastDirectories(oldTitle, updated.DisplayTitle()); err != nil {
		h.log.Warn("rename podcast directories failed", "feed_id", feedID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"feed": updated})
}

// HealthCheck is liveness only; it does not probe the database.
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": gin.H{"message": msg, "code": code}})
}
