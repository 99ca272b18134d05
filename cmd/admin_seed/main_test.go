package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/services/transfer"
)

type entries map[string]map[string]string

func (e entries) GetCategory(_ context.Context, category string) (map[string]string, error) {
	return e[category], nil
}

func TestDefaultEntriesLoad(t *testing.T) {
	src := entries{}
	for _, entry := range defaultEntries() {
		if src[entry.Category] == nil {
			src[entry.Category] = map[string]string{}
		}
		src[entry.Category][entry.Key] = entry.Value
	}

	settings, err := transfer.LoadSettings(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 5, settings.MaxRetries)
	assert.Equal(t, 30, settings.ExpiryDays)
	assert.True(t, settings.RequirePin)
	assert.Len(t, src[models.ConfigCategoryDenominations], 5)
}

func TestDefaultRulesAreConsistent(t *testing.T) {
	for _, rule := range defaultRules() {
		assert.True(t, rule.MinTransferAmount.LessThan(rule.MaxTransferAmount), rule.SubscriptionType)
		assert.True(t, rule.MaxTransferAmount.LessThanOrEqual(rule.DailyTransferCapLimit), rule.SubscriptionType)
	}
}

func TestParsePins(t *testing.T) {
	pins, err := parsePins(" 96170000001:1234, 96170000002:9876 ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"96170000001": "1234", "96170000002": "9876"}, pins)

	_, err = parsePins("96170000001")
	assert.Error(t, err)
}

func TestPurgeCachedSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := cache.NewCacheService(client, time.Minute)
	ctx := context.Background()

	ruleKey := cache.GenerateKey(cache.EntityRule, "type", "prepaid")
	configKey := cache.GenerateKey(cache.EntityConfig, "category", models.ConfigCategoryTransfer)
	lockKey := cache.GenerateKey(cache.EntityLock, "source", "96170000001")
	for _, key := range []string{ruleKey, configKey, lockKey} {
		require.NoError(t, svc.SetWithTTL(ctx, key, "x", 0))
	}

	require.NoError(t, purgeCachedSettings(ctx, svc))

	assert.False(t, mr.Exists(ruleKey))
	assert.False(t, mr.Exists(configKey))
	assert.True(t, mr.Exists(lockKey))
}
