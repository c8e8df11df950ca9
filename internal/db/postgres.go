// Package db opens the Postgres connection and owns schema migration.
package db

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/meltforce/cast2md/internal/config"
	"github.com/meltforce/cast2md/internal/logger"
)

// Service owns the GORM handle and the logger scoped to it.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens a Postgres connection configured from the environment and
// enables the uuid-ossp extension the domain types rely on for primary keys.
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("component", "db.Service")

	host := config.GetEnv("POSTGRES_HOST", "localhost", log)
	port := config.GetEnv("POSTGRES_PORT", "5432", log)
	user := config.GetEnv("POSTGRES_USER", "postgres", log)
	password := config.GetEnv("POSTGRES_PASSWORD", "", log)
	name := config.GetEnv("POSTGRES_DB", "cast2md", log)

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, name,
	)

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("db: enable uuid-ossp: %w", err)
	}

	return &Service{db: gdb, log: serviceLog}, nil
}

// DB returns the underlying GORM handle.
func (s *Service) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
