package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories/cache"
)

// ConfigRepository is the key/value Config Store.
type ConfigRepository interface {
	GetValue(ctx context.Context, key string) (string, error)
	GetCategory(ctx context.Context, category string) (map[string]string, error)
	SetValue(ctx context.Context, entry *models.ConfigEntry) error
}

type configRepository struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
}

func NewConfigRepository(db *gorm.DB, c Cache, ttl time.Duration) ConfigRepository {
	if c == nil {
		c = NoopCache{}
	}
	return &configRepository{db: db, cache: c, ttl: ttl}
}

func (r *configRepository) GetValue(ctx context.Context, key string) (string, error) {
	cacheKey := cache.GenerateKey(cache.EntityConfig, "key", key)

	var value string
	if found, err := r.cache.Get(ctx, cacheKey, &value); err == nil && found {
		return value, nil
	}

	var entry models.ConfigEntry
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}

	_ = r.cache.SetWithTTL(ctx, cacheKey, entry.Value, r.ttl)
	return entry.Value, nil
}

// GetCategory returns every key of the category. An unknown category is an
// empty map, not an error.
func (r *configRepository) GetCategory(ctx context.Context, category string) (map[string]string, error) {
	cacheKey := cache.GenerateKey(cache.EntityConfig, "category", category)

	values := make(map[string]string)
	if found, err := r.cache.Get(ctx, cacheKey, &values); err == nil && found {
		return values, nil
	}

	var entries []models.ConfigEntry
	if err := r.db.WithContext(ctx).Where("category = ?", category).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get config category: %w", err)
	}
	for _, e := range entries {
		values[e.Key] = e.Value
	}

	_ = r.cache.SetWithTTL(ctx, cacheKey, values, r.ttl)
	return values, nil
}

// SetValue upserts entry by key. The cached key and both its previous and
// new categories are invalidated.
func (r *configRepository) SetValue(ctx context.Context, entry *models.ConfigEntry) error {
	var previous models.ConfigEntry
	err := r.db.WithContext(ctx).Select("category").Where("key = ?", entry.Key).First(&previous).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read config value: %w", err)
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"category", "value", "description", "updated_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}

	keys := []string{
		cache.GenerateKey(cache.EntityConfig, "key", entry.Key),
		cache.GenerateKey(cache.EntityConfig, "category", entry.Category),
	}
	if previous.Category != "" && previous.Category != entry.Category {
		keys = append(keys, cache.GenerateKey(cache.EntityConfig, "category", previous.Category))
	}
	return r.cache.Delete(ctx, keys...)
}
