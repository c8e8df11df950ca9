package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobType string

const (
	JobTypeDownload   JobType = "download"
	JobTypeTranscribe JobType = "transcribe"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// LocalNodeID is the assigned_node_id sentinel used for work claimed by the
// in-process local worker pool rather than a registered remote node.
const LocalNodeID = "local"

const (
	DefaultJobPriority    = 10
	DefaultMaxAttempts    = 3
	TranscribePriority    = 1
)

// Job is a single unit of work (download or transcribe) against an Episode.
type Job struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_job_episode_type" json:"episode_id"`
	JobType          JobType        `gorm:"column:job_type;not null;index:idx_job_episode_type" json:"job_type"`
	Priority         int            `gorm:"column:priority;not null;default:10;index:idx_job_dispatch" json:"priority"`
	Status           JobStatus      `gorm:"column:status;not null;index:idx_job_dispatch" json:"status"`
	Attempts         int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts      int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	ScheduledAt      time.Time      `gorm:"column:scheduled_at;not null;default:now();index:idx_job_dispatch" json:"scheduled_at"`
	StartedAt        *time.Time     `gorm:"column:started_at;index" json:"started_at,omitempty"`
	CompletedAt      *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	NextRetryAt      *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	ErrorMessage     string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ProgressPercent  int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	AssignedNodeID   string         `gorm:"column:assigned_node_id;index" json:"assigned_node_id,omitempty"`
	ClaimedAt        *time.Time     `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// IsLocal reports whether j is (or was) claimed by the local worker pool
// rather than a registered remote node.
func (j Job) IsLocal() bool {
	return j.AssignedNodeID == LocalNodeID
}
