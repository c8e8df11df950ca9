package db

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/domain"
)

// snapshot is the on-disk shape of Backup's output: every domain table's
// rows, serialized together so a restore sees a single point-in-time view.
type snapshot struct {
	TakenAt     time.Time              `json:"taken_at"`
	Feeds       []domain.Feed          `json:"feeds"`
	Episodes    []domain.Episode       `json:"episodes"`
	Jobs        []domain.Job           `json:"jobs"`
	WorkerNodes []domain.WorkerNode    `json:"worker_nodes"`
	PodSetups   []domain.PodSetupState `json:"pod_setups"`
}

// Backup produces a single consistent snapshot file at path. The read is
// serialized through one REPEATABLE READ transaction so that, under
// concurrent writers, the file reflects one instant rather than a mix of
// before/after states across tables.
func (s *Service) Backup(path string) error {
	var snap snapshot
	snap.TakenAt = time.Now().UTC()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").Error; err != nil {
			return fmt.Errorf("set isolation level: %w", err)
		}
		if err := tx.Find(&snap.Feeds).Error; err != nil {
			return fmt.Errorf("dump feeds: %w", err)
		}
		if err := tx.Find(&snap.Episodes).Error; err != nil {
			return fmt.Errorf("dump episodes: %w", err)
		}
		if err := tx.Find(&snap.Jobs).Error; err != nil {
			return fmt.Errorf("dump jobs: %w", err)
		}
		if err := tx.Find(&snap.WorkerNodes).Error; err != nil {
			return fmt.Errorf("dump worker_nodes: %w", err)
		}
		if err := tx.Find(&snap.PodSetups).Error; err != nil {
			return fmt.Errorf("dump pod_setup_states: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("db: backup snapshot: %w", err)
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("db: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("db: write snapshot file: %w", err)
	}
	return nil
}

// Restore loads a snapshot produced by Backup into the current database.
// Intended for a fresh instance: rows are inserted, not upserted.
func (s *Service) Restore(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("db: read snapshot file: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("db: unmarshal snapshot: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(snap.Feeds) > 0 {
			if err := tx.Create(&snap.Feeds).Error; err != nil {
				return fmt.Errorf("restore feeds: %w", err)
			}
		}
		if len(snap.Episodes) > 0 {
			if err := tx.Create(&snap.Episodes).Error; err != nil {
				return fmt.Errorf("restore episodes: %w", err)
			}
		}
		if len(snap.Jobs) > 0 {
			if err := tx.Create(&snap.Jobs).Error; err != nil {
				return fmt.Errorf("restore jobs: %w", err)
			}
		}
		if len(snap.WorkerNodes) > 0 {
			if err := tx.Create(&snap.WorkerNodes).Error; err != nil {
				return fmt.Errorf("restore worker_nodes: %w", err)
			}
		}
		if len(snap.PodSetups) > 0 {
			if err := tx.Create(&snap.PodSetups).Error; err != nil {
				return fmt.Errorf("restore pod_setup_states: %w", err)
			}
		}
		return nil
	})
}
