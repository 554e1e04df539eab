// Package secrets stores the literal values referenced by a task's
// env[].fromSecret (spec.md §6), grounded on the teacher's
// internal/data/repos/jobs/job_run.go CRUD idiom minus the SELECT ... FOR
// UPDATE SKIP LOCKED claiming logic that package also implements (secrets
// have no work-queue semantics to claim).
package secrets

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
)

var ErrSecretNotFound = errors.New("secrets: key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, key string) (string, error) {
	var row flowdomain.Secret
	err := s.db.WithContext(ctx).First(&row, "secret_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get secret: %w", err)
	}
	return row.SecretValue, nil
}

func (s *gormStore) Put(ctx context.Context, key, value string) error {
	row := flowdomain.Secret{SecretKey: key, SecretValue: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "secret_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret_value"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

func (s *gormStore) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Delete(&flowdomain.Secret{}, "secret_key = ?", key)
	if res.Error != nil {
		return fmt.Errorf("delete secret: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSecretNotFound
	}
	return nil
}
