package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusBusy    NodeStatus = "busy"
)

// WorkerNode is a remote machine registered to run the transcription agent.
type WorkerNode struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	URL            string         `gorm:"column:url;not null" json:"url"`
	APIKey         string         `gorm:"column:api_key;not null;uniqueIndex" json:"-"`
	Model          string         `gorm:"column:model" json:"model,omitempty"`
	Backend        string         `gorm:"column:backend" json:"backend,omitempty"`
	Status         NodeStatus     `gorm:"column:status;not null;index;default:offline" json:"status"`
	LastHeartbeat  *time.Time     `gorm:"column:last_heartbeat;index" json:"last_heartbeat,omitempty"`
	CurrentJobID   *uuid.UUID     `gorm:"type:uuid;column:current_job_id" json:"current_job_id,omitempty"`
	Priority       int            `gorm:"column:priority;not null;default:10" json:"priority"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (WorkerNode) TableName() string { return "worker_nodes" }
