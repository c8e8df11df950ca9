package repos

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
)

// NodeRepo is the sole gateway to the worker_nodes table.
type NodeRepo interface {
	Register(dbc dbctx.Context, name, url, model, backend string, priority int) (*domain.WorkerNode, string, error)
	Authenticate(dbc dbctx.Context, apiKey string) (*domain.WorkerNode, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.WorkerNode, error)
	List(dbc dbctx.Context) ([]domain.WorkerNode, error)
	UpdateHeartbeat(dbc dbctx.Context, id uuid.UUID) error
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status domain.NodeStatus, currentJobID *uuid.UUID) error
	MarkOfflineStale(dbc dbctx.Context, cutoff time.Duration) ([]domain.WorkerNode, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: baseLog.With("repo", "NodeRepo")}
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("nodes: generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Register creates a new worker node and returns the plaintext bearer token
// alongside the row. The token is returned exactly once; it is never
// retrievable again since WorkerNode.APIKey is excluded from JSON output.
func (r *nodeRepo) Register(dbc dbctx.Context, name, url, model, backend string, priority int) (*domain.WorkerNode, string, error) {
	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}
	node := &domain.WorkerNode{
		ID:       uuid.New(),
		Name:     name,
		URL:      url,
		APIKey:   apiKey,
		Model:    model,
		Backend:  backend,
		Status:   domain.NodeStatusOffline,
		Priority: priority,
	}
	if node.Priority == 0 {
		node.Priority = domain.DefaultJobPriority
	}
	if err := dbc.DB(r.db).Create(node).Error; err != nil {
		return nil, "", fmt.Errorf("nodes: register: %w", err)
	}
	return node, apiKey, nil
}

// Authenticate looks up a node by bearer token. Every candidate row is
// compared in constant time so the search does not leak timing information
// about which prefix of a guessed key is correct.
func (r *nodeRepo) Authenticate(dbc dbctx.Context, apiKey string) (*domain.WorkerNode, error) {
	var nodes []domain.WorkerNode
	if err := dbc.DB(r.db).Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("nodes: authenticate: %w", err)
	}
	want := []byte(apiKey)
	for i := range nodes {
		if subtle.ConstantTimeCompare([]byte(nodes[i].APIKey), want) == 1 {
			return &nodes[i], nil
		}
	}
	return nil, nil
}

func (r *nodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.WorkerNode, error) {
	var node domain.WorkerNode
	if err := dbc.DB(r.db).First(&node, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("nodes: get by id: %w", err)
	}
	return &node, nil
}

func (r *nodeRepo) List(dbc dbctx.Context) ([]domain.WorkerNode, error) {
	var nodes []domain.WorkerNode
	if err := dbc.DB(r.db).Order("name ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("nodes: list: %w", err)
	}
	return nodes, nil
}

func (r *nodeRepo) UpdateHeartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := dbc.DB(r.db).Model(&domain.WorkerNode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_heartbeat": now,
			"status":         domain.NodeStatusOnline,
		}).Error
	if err != nil {
		return fmt.Errorf("nodes: update heartbeat: %w", err)
	}
	return nil
}

func (r *nodeRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status domain.NodeStatus, currentJobID *uuid.UUID) error {
	updates := map[string]interface{}{"status": status}
	updates["current_job_id"] = currentJobID
	err := dbc.DB(r.db).Model(&domain.WorkerNode{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("nodes: update status: %w", err)
	}
	return nil
}

// MarkOfflineStale flips to offline every node whose last heartbeat is older
// than cutoff (or that has never heartbeated) and returns the rows affected
// so the caller can reclaim their in-flight jobs.
func (r *nodeRepo) MarkOfflineStale(dbc dbctx.Context, cutoff time.Duration) ([]domain.WorkerNode, error) {
	threshold := time.Now().UTC().Add(-cutoff)
	var stale []domain.WorkerNode
	conn := dbc.DB(r.db)
	err := conn.Where("status <> ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)",
		domain.NodeStatusOffline, threshold).Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("nodes: find stale: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(stale))
	for i, n := range stale {
		ids[i] = n.ID
	}
	if err := conn.Model(&domain.WorkerNode{}).Where("id IN ?", ids).
		Update("status", domain.NodeStatusOffline).Error; err != nil {
		return nil, fmt.Errorf("nodes: mark offline: %w", err)
	}
	return stale, nil
}

func (r *nodeRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if err := dbc.DB(r.db).Delete(&domain.WorkerNode{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("nodes: delete: %w", err)
	}
	return nil
}
