package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories/cache"
)

// RuleRepository supplies the per subscription type transfer limits.
type RuleRepository interface {
	GetTransferRule(ctx context.Context, subscriptionType string) (*models.TransferRule, error)
	SaveTransferRule(ctx context.Context, rule *models.TransferRule) error
}

type ruleRepository struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
}

// NewRuleRepository reads rules through c. A nil cache disables caching.
func NewRuleRepository(db *gorm.DB, c Cache, ttl time.Duration) RuleRepository {
	if c == nil {
		c = NoopCache{}
	}
	return &ruleRepository{db: db, cache: c, ttl: ttl}
}

func ruleKey(subscriptionType string) string {
	return cache.GenerateKey(cache.EntityRule, "type", strings.ToLower(subscriptionType))
}

func (r *ruleRepository) GetTransferRule(ctx context.Context, subscriptionType string) (*models.TransferRule, error) {
	key := ruleKey(subscriptionType)

	var rule models.TransferRule
	if found, err := r.cache.Get(ctx, key, &rule); err == nil && found {
		return &rule, nil
	}

	err := r.db.WithContext(ctx).
		Where("LOWER(subscription_type) = ?", strings.ToLower(subscriptionType)).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get transfer rule: %w", err)
	}

	// Cache failures only cost a database read next time.
	_ = r.cache.SetWithTTL(ctx, key, &rule, r.ttl)
	return &rule, nil
}

func (r *ruleRepository) SaveTransferRule(ctx context.Context, rule *models.TransferRule) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_type"}},
			UpdateAll: true,
		}).
		Create(rule).Error
	if err != nil {
		return fmt.Errorf("failed to save transfer rule: %w", err)
	}
	return r.cache.Delete(ctx, ruleKey(rule.SubscriptionType))
}
