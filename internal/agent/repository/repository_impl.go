package repository

import (
	"context"
	"errors"

	"github.com/agentforge/creditledger/internal/agent/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Agent, error) {
	var agent domain.Agent
	err := db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	stmt := db.WithContext(ctx).Model(&domain.Agent{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("created_at desc").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

func (r *repo) HasGrant(ctx context.Context, db *gorm.DB, accountID string, agentID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.AgentGrant{}).
		Where("account_id = ? AND agent_id = ?", accountID, agentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
