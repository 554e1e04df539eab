package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
	"github.com/flowmium/flowmium/internal/pkg/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService opens the flows/secrets database pointed to by
// postgresURL (FLOWMIUM_POSTGRES_URL), following the teacher's
// internal/db/postgres.go pattern: a slow-query gorm logger that ignores
// ErrRecordNotFound so the executor's polling loop doesn't spam warnings.
func NewPostgresService(postgresURL string, logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	logg.Info("connecting to postgres...")
	gdb, err := gorm.Open(postgres.Open(postgresURL), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		logg.Error("failed to connect to postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("auto migrating postgres tables...")

	if err := s.db.Exec(`DO $$ BEGIN
		CREATE TYPE flow_status AS ENUM ('pending', 'running', 'success', 'failed');
	EXCEPTION
		WHEN duplicate_object THEN NULL;
	END $$;`).Error; err != nil {
		s.log.Error("failed to create flow_status enum", "error", err)
		return err
	}

	if err := s.db.AutoMigrate(&flowdomain.Row{}, &flowdomain.Secret{}); err != nil {
		s.log.Error("auto migration failed for postgres tables", "error", err)
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
