package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
)

// PodSetupRepo is the sole gateway to the pod_setup_states table. It exists
// so the provisioning flow has somewhere durable to report progress before a
// WorkerNode row exists to report it against.
type PodSetupRepo interface {
	Create(dbc dbctx.Context, nodeName string) (*domain.PodSetupState, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PodSetupState, error)
	UpdateProgress(dbc dbctx.Context, id uuid.UUID, phase domain.PodSetupPhase, progress int, message string) error
	AttachWorkerNode(dbc dbctx.Context, id, workerNodeID uuid.UUID) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type podSetupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPodSetupRepo(db *gorm.DB, baseLog *logger.Logger) PodSetupRepo {
	return &podSetupRepo{db: db, log: baseLog.With("repo", "PodSetupRepo")}
}

func (r *podSetupRepo) Create(dbc dbctx.Context, nodeName string) (*domain.PodSetupState, error) {
	state := &domain.PodSetupState{
		ID:       uuid.New(),
		NodeName: nodeName,
		Phase:    domain.PodSetupPhasePending,
	}
	if err := dbc.DB(r.db).Create(state).Error; err != nil {
		return nil, fmt.Errorf("podsetup: create: %w", err)
	}
	return state, nil
}

func (r *podSetupRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PodSetupState, error) {
	var state domain.PodSetupState
	if err := dbc.DB(r.db).First(&state, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("podsetup: get by id: %w", err)
	}
	return &state, nil
}

func (r *podSetupRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, phase domain.PodSetupPhase, progress int, message string) error {
	err := dbc.DB(r.db).Model(&domain.PodSetupState{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"phase":    phase,
			"progress": progress,
			"message":  message,
		}).Error
	if err != nil {
		return fmt.Errorf("podsetup: update progress: %w", err)
	}
	return nil
}

func (r *podSetupRepo) AttachWorkerNode(dbc dbctx.Context, id, workerNodeID uuid.UUID) error {
	err := dbc.DB(r.db).Model(&domain.PodSetupState{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"worker_node_id": workerNodeID,
			"phase":          domain.PodSetupPhaseReady,
			"progress":       100,
		}).Error
	if err != nil {
		return fmt.Errorf("podsetup: attach worker node: %w", err)
	}
	return nil
}

func (r *podSetupRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if err := dbc.DB(r.db).Delete(&domain.PodSetupState{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("podsetup: delete: %w", err)
	}
	return nil
}
