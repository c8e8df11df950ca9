package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PodSetupPhase string

const (
	PodSetupPhasePending        PodSetupPhase = "pending"
	PodSetupPhaseProvisioning   PodSetupPhase = "provisioning"
	PodSetupPhaseInstalling     PodSetupPhase = "installing"
	PodSetupPhaseReady          PodSetupPhase = "ready"
	PodSetupPhaseFailed         PodSetupPhase = "failed"
)

// PodSetupState tracks asynchronous provisioning of an external GPU machine
// that will eventually register itself as a WorkerNode. It is not essential
// to core job semantics and is never read by the Job Repository or
// Coordinator.
type PodSetupState struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	NodeName     string         `gorm:"column:node_name;not null" json:"node_name"`
	Phase        PodSetupPhase  `gorm:"column:phase;not null;default:pending" json:"phase"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message      string         `gorm:"column:message" json:"message,omitempty"`
	WorkerNodeID *uuid.UUID     `gorm:"type:uuid;column:worker_node_id" json:"worker_node_id,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PodSetupState) TableName() string { return "pod_setup_states" }
