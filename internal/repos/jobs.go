package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meltforce/cast2md/internal/backoff"
	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
)

// JobRepo is the sole gateway to the jobs table. Every state transition is an
// atomic UPDATE ... WHERE (optionally guarded by a status precondition; in
// MarkFailed, run inside a transaction after locking the row with SELECT ...
// FOR UPDATE) so concurrent callers never corrupt a row; a conditional
// update affecting zero rows means another caller won the race.
type JobRepo interface {
	Create(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType, priority, maxAttempts int) (*domain.Job, error)
	HasPendingJob(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType) (bool, error)
	GetNextJob(dbc dbctx.Context, jobType domain.JobType) (*domain.Job, error)
	ClaimJob(dbc dbctx.Context, jobID uuid.UUID, nodeID string) (*domain.Job, bool, error)
	MarkRunning(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, bool, error)
	UpdateProgress(dbc dbctx.Context, jobID uuid.UUID, percent int) error
	MarkCompleted(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	MarkFailed(dbc dbctx.Context, jobID uuid.UUID, errMsg string, retry bool) (*domain.Job, error)
	ReclaimStaleJobs(dbc dbctx.Context, timeout time.Duration) (requeued, failed int, err error)
	ResetRunningJobs(dbc dbctx.Context) (requeued, failed int, err error)
	BatchForceResetStuck(dbc dbctx.Context, threshold time.Duration) (requeued, failed int, err error)
	RetryFailedJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	UnclaimJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	CancelQueued(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	CleanupCompleted(dbc dbctx.Context, olderThan time.Duration) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[domain.JobStatus]int64, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewJobRepo constructs a JobRepo backed by db.
func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) Create(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType, priority, maxAttempts int) (*domain.Job, error) {
	if priority == 0 {
		priority = domain.DefaultJobPriority
	}
	if maxAttempts == 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	job := &domain.Job{
		ID:              uuid.New(),
		EpisodeID:       episodeID,
		JobType:         jobType,
		Priority:        priority,
		Status:          domain.JobStatusQueued,
		Attempts:        0,
		MaxAttempts:     maxAttempts,
		ScheduledAt:     time.Now().UTC(),
		ProgressPercent: 0,
	}
	if err := dbc.DB(r.db).Create(job).Error; err != nil {
		return nil, fmt.Errorf("jobs: create: %w", err)
	}
	return job, nil
}

func (r *jobRepo) HasPendingJob(dbc dbctx.Context, episodeID uuid.UUID, jobType domain.JobType) (bool, error) {
	var count int64
	err := dbc.DB(r.db).Model(&domain.Job{}).
		Where("episode_id = ? AND job_type = ? AND status IN ?", episodeID, jobType, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("jobs: has pending: %w", err)
	}
	return count > 0, nil
}

func (r *jobRepo) GetNextJob(dbc dbctx.Context, jobType domain.JobType) (*domain.Job, error) {
	now := time.Now().UTC()
	var job domain.Job
	err := dbc.DB(r.db).
		Where("job_type = ? AND status = ?", jobType, domain.JobStatusQueued).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority ASC, scheduled_at ASC, id ASC").
		First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get next: %w", err)
	}
	return &job, nil
}

func (r *jobRepo) ClaimJob(dbc dbctx.Context, jobID uuid.UUID, nodeID string) (*domain.Job, bool, error) {
	conn := dbc.DB(r.db)
	now := time.Now().UTC()

	res := conn.Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":           domain.JobStatusRunning,
			"assigned_node_id": nodeID,
			"claimed_at":       now,
			"started_at":       now,
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("jobs: claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	job, err := r.GetByID(dbc, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (r *jobRepo) MarkRunning(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, bool, error) {
	return r.ClaimJob(dbc, jobID, domain.LocalNodeID)
}

func (r *jobRepo) UpdateProgress(dbc dbctx.Context, jobID uuid.UUID, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	err := dbc.DB(r.db).Model(&domain.Job{}).
		Where("id = ?", jobID).
		Update("progress_percent", percent).Error
	if err != nil {
		return fmt.Errorf("jobs: update progress: %w", err)
	}
	return nil
}

func (r *jobRepo) MarkCompleted(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":           domain.JobStatusCompleted,
			"completed_at":     now,
			"progress_percent": 100,
		})
	if res.Error != nil {
		return false, fmt.Errorf("jobs: mark completed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) MarkFailed(dbc dbctx.Context, jobID uuid.UUID, errMsg string, retry bool) (*domain.Job, error) {
	conn := dbc.DB(r.db)
	var job domain.Job

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", jobID).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"error_message": errMsg}

		if retry && job.Attempts < job.MaxAttempts {
			updates["status"] = domain.JobStatusQueued
			updates["next_retry_at"] = backoff.NextRetryAt(now, job.Attempts)
		} else {
			updates["status"] = domain.JobStatusFailed
			updates["completed_at"] = now
		}

		if err := tx.Model(&domain.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&job, "id = ?", jobID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: mark failed: %w", err)
	}
	return &job, nil
}

// reclaimRunning is the shared implementation behind ReclaimStaleJobs,
// ResetRunningJobs, and BatchForceResetStuck: every `running` row older than
// cutoff (or every running row, if cutoff is nil) is requeued if it still
// has attempts left, else terminally failed. Each write is a conditional
// UPDATE ... WHERE status='running' so a row already moved on by another
// caller is simply skipped (zero rows affected).
func (r *jobRepo) reclaimRunning(dbc dbctx.Context, cutoff *time.Time) (requeued, failedCount int, err error) {
	conn := dbc.DB(r.db)

	q := conn.Model(&domain.Job{}).Where("status = ?", domain.JobStatusRunning)
	if cutoff != nil {
		q = q.Where("started_at < ?", *cutoff)
	}
	var stale []domain.Job
	if err := q.Find(&stale).Error; err != nil {
		return 0, 0, fmt.Errorf("jobs: reclaim: select stale: %w", err)
	}

	now := time.Now().UTC()
	for _, j := range stale {
		if j.Attempts < j.MaxAttempts {
			res := conn.Model(&domain.Job{}).
				Where("id = ? AND status = ?", j.ID, domain.JobStatusRunning).
				Updates(map[string]interface{}{
					"status":           domain.JobStatusQueued,
					"assigned_node_id": "",
					"claimed_at":       nil,
				})
			if res.Error != nil {
				return requeued, failedCount, fmt.Errorf("jobs: reclaim: requeue %s: %w", j.ID, res.Error)
			}
			if res.RowsAffected > 0 {
				requeued++
			}
		} else {
			res := conn.Model(&domain.Job{}).
				Where("id = ? AND status = ?", j.ID, domain.JobStatusRunning).
				Updates(map[string]interface{}{
					"status":        domain.JobStatusFailed,
					"error_message": "Max attempts exceeded",
					"completed_at":  now,
				})
			if res.Error != nil {
				return requeued, failedCount, fmt.Errorf("jobs: reclaim: fail %s: %w", j.ID, res.Error)
			}
			if res.RowsAffected > 0 {
				failedCount++
			}
		}
	}
	return requeued, failedCount, nil
}

func (r *jobRepo) ReclaimStaleJobs(dbc dbctx.Context, timeout time.Duration) (int, int, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	return r.reclaimRunning(dbc, &cutoff)
}

func (r *jobRepo) ResetRunningJobs(dbc dbctx.Context) (int, int, error) {
	return r.reclaimRunning(dbc, nil)
}

func (r *jobRepo) BatchForceResetStuck(dbc dbctx.Context, threshold time.Duration) (int, int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return r.reclaimRunning(dbc, &cutoff)
}

func (r *jobRepo) RetryFailedJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusQueued,
			"attempts":      0,
			"error_message": "",
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("jobs: retry failed job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UnclaimJob returns a running job to queued without incrementing attempts.
// This is the primitive behind both the node protocol's release endpoint and
// the coordinator's heartbeat-driven release of a dead node's in-flight job;
// per spec.md's open question, claimed_at is cleared to match the reclaim
// path.
func (r *jobRepo) UnclaimJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":           domain.JobStatusQueued,
			"assigned_node_id": "",
			"claimed_at":       nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("jobs: unclaim: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) CancelQueued(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_message": "cancelled",
			"completed_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("jobs: cancel queued: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) CleanupCompleted(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := dbc.DB(r.db).
		Where("status = ? AND completed_at < ?", domain.JobStatusCompleted, cutoff).
		Delete(&domain.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("jobs: cleanup completed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *jobRepo) CountByStatus(dbc dbctx.Context) (map[domain.JobStatus]int64, error) {
	type row struct {
		Status domain.JobStatus
		Count  int64
	}
	var rows []row
	err := dbc.DB(r.db).Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("jobs: count by status: %w", err)
	}
	out := make(map[domain.JobStatus]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.Count
	}
	return out, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	if err := dbc.DB(r.db).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}
