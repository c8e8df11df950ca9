package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/domain"
)

// SchemaVersion records the highest forward-only migration revision that has
// been applied. Unlike AutoMigrate (which only reconciles table shape), this
// lets us run one-time data migrations exactly once across restarts.
type SchemaVersion struct {
	Revision  int       `gorm:"column:revision;primaryKey"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;default:now()"`
}

func (SchemaVersion) TableName() string { return "schema_version" }

// AutoMigrateAll reconciles every domain table's shape. It is safe to call
// on every startup.
func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&domain.Feed{},
		&domain.Episode{},
		&domain.Job{},
		&domain.WorkerNode{},
		&domain.PodSetupState{},
		&SchemaVersion{},
	)
}

// dataMigration is a single forward-only, idempotent data fixup applied at
// most once, identified by a strictly increasing Revision.
type dataMigration struct {
	Revision int
	Name     string
	Apply    func(*gorm.DB) error
}

// migrations is intentionally empty today; it exists so a future data
// backfill (e.g. renormalizing slugs after a slugging bug fix) has a place
// to register itself without inventing new startup plumbing.
var migrations = []dataMigration{}

// ApplyPendingMigrations runs every dataMigration whose Revision is greater
// than the highest one recorded in schema_version, in order, each inside its
// own transaction, recording progress as it goes so a crash mid-run resumes
// rather than re-applying completed steps.
func ApplyPendingMigrations(gdb *gorm.DB) error {
	var current int
	row := SchemaVersion{}
	err := gdb.Order("revision DESC").First(&row).Error
	switch {
	case err == nil:
		current = row.Revision
	case err == gorm.ErrRecordNotFound:
		current = 0
	default:
		return fmt.Errorf("db: read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Revision <= current {
			continue
		}
		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.Apply(tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Revision, m.Name, err)
			}
			return tx.Create(&SchemaVersion{Revision: m.Revision}).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// (s *Service).AutoMigrateAll and (s *Service).ApplyPendingMigrations run the
// full schema + data migration sequence that cmd/cast2md invokes at startup.
func (s *Service) AutoMigrateAll() error {
	s.log.Info("running schema migrations")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("schema migration failed", "error", err)
		return err
	}
	return nil
}

func (s *Service) ApplyPendingMigrations() error {
	s.log.Info("applying pending data migrations")
	if err := ApplyPendingMigrations(s.db); err != nil {
		s.log.Error("data migration failed", "error", err)
		return err
	}
	return nil
}
