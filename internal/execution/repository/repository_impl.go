package repository

import (
	"context"
	"errors"

	"github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, exec *domain.Execution) error {
	return db.WithContext(ctx).Create(exec).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, exec *domain.Execution) error {
	return db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ?", exec.ID).
		Updates(map[string]any{
			"status":        exec.Status,
			"result":        exec.Result,
			"error_message": exec.ErrorMessage,
			"started_at":    exec.StartedAt,
			"finished_at":   exec.FinishedAt,
			"updated_at":    exec.UpdatedAt,
		}).Error
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Execution, error) {
	var exec domain.Execution
	err := db.WithContext(ctx).First(&exec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, accountID string, cursor *domain.Cursor, limit int) ([]*domain.Execution, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("account_id = ?", accountID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var executions []*domain.Execution
	if err := stmt.Order("created_at desc, id desc").Limit(limit).Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}
