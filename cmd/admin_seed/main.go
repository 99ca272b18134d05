// Command admin_seed loads the default transfer rules, settings, message
// templates and denominations, and optionally subscriber PINs and an
// operator token.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ocstransfer/internal/config"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/services/notification"
	"ocstransfer/internal/services/transfer"
	"ocstransfer/internal/utils"
)

func defaultRules() []*models.TransferRule {
	return []*models.TransferRule{
		{
			SubscriptionType:        "prepaid",
			MinTransferAmount:       decimal.NewFromInt(1),
			MaxTransferAmount:       decimal.NewFromInt(50),
			DailyTransferCountLimit: 3,
			DailyTransferCapLimit:   decimal.NewFromInt(100),
			MinPostTransferBalance:  decimal.NewFromInt(1),
			RequireHalfBalance:      true,
			AllowedDestinationTypes: pq.StringArray{"prepaid", "postpaid"},
		},
		{
			SubscriptionType:        "postpaid",
			MinTransferAmount:       decimal.NewFromInt(1),
			MaxTransferAmount:       decimal.NewFromInt(100),
			DailyTransferCountLimit: 5,
			DailyTransferCapLimit:   decimal.NewFromInt(250),
			MinPostTransferBalance:  decimal.Zero,
			AllowCrossOperator:      true,
		},
	}
}

func defaultEntries() []*models.ConfigEntry {
	t := models.ConfigCategoryTransfer
	entries := []*models.ConfigEntry{
		{Category: t, Key: transfer.KeyMaxRetries, Value: "5", Description: "Gateway attempts before escalation"},
		{Category: t, Key: transfer.KeyInlineAttempts, Value: "2", Description: "Attempts made while the caller waits"},
		{Category: t, Key: transfer.KeyRetryBackoff, Value: "250ms"},
		{Category: t, Key: transfer.KeyRequirePin, Value: "true"},
		{Category: t, Key: transfer.KeyDefaultPin, Value: config.GetEnv("SEED_DEFAULT_PIN", "0000")},
		{Category: t, Key: transfer.KeyExpiryDays, Value: "30", Description: "Destination validity extension"},
		{Category: t, Key: transfer.KeyAmountMultipleOf, Value: "0"},
		{Category: t, Key: transfer.KeyMSISDNPattern, Value: `^[0-9]{8,15}$`},
		{Category: t, Key: transfer.KeyHomeOperator, Value: config.GetEnv("SEED_HOME_OPERATOR", "")},
		{Category: t, Key: transfer.KeyOperators, Value: config.GetEnv("SEED_OPERATORS", "")},
		{Category: t, Key: transfer.KeyTimezone, Value: config.GetEnv("SEED_TIMEZONE", "UTC")},
		{Category: models.ConfigCategorySMS, Key: notification.KeySender, Value: "You transferred {amount} to {destination}. Ref {reference}."},
		{Category: models.ConfigCategorySMS, Key: notification.KeyReceiver, Value: "You received {amount} from {source}. Ref {reference}."},
	}
	for _, d := range []string{"1", "2", "5", "10", "20"} {
		entries = append(entries, &models.ConfigEntry{
			Category: models.ConfigCategoryDenominations,
			Key:      "denomination." + d,
			Value:    d + ".000",
		})
	}
	return entries
}

// parsePins reads "msisdn:pin,msisdn:pin".
func parsePins(raw string) (map[string]string, error) {
	pins := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		msisdn, pin, ok := strings.Cut(pair, ":")
		if !ok || msisdn == "" || pin == "" {
			return nil, fmt.Errorf("invalid pin entry %q", pair)
		}
		pins[msisdn] = pin
	}
	return pins, nil
}

// purgeCachedSettings drops every cached rule and config value so that
// rows removed by a reset are not served from Redis.
func purgeCachedSettings(ctx context.Context, svc *cache.CacheService) error {
	for _, entity := range []string{cache.EntityRule, cache.EntityConfig} {
		if err := svc.DeletePattern(ctx, entity+":*"); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	config.LoadEnv()

	if err := repositories.InitDB(); err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer func() {
		if sqlDB, err := repositories.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if repositories.CacheService != nil {
			_ = repositories.CacheService.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if config.GetBoolEnv("SEED_RESET", false) {
		if config.IsProduction() {
			log.Fatal("SEED_RESET is refused in production")
		}
		if err := repositories.ResetDatabase(repositories.DB); err != nil {
			log.Fatalf("failed to reset database: %v", err)
		}
		if repositories.CacheService != nil {
			if err := purgeCachedSettings(ctx, repositories.CacheService); err != nil {
				log.Fatalf("failed to purge cached settings: %v", err)
			}
		}
		log.Warn("database reset")
	}

	var c repositories.Cache
	if repositories.CacheService != nil {
		c = repositories.CacheService
	}

	rules := repositories.NewRuleRepository(repositories.DB, c, 0)
	for _, rule := range defaultRules() {
		if err := rules.SaveTransferRule(ctx, rule); err != nil {
			log.Fatalf("failed to seed rule %s: %v", rule.SubscriptionType, err)
		}
	}

	settings := repositories.NewConfigRepository(repositories.DB, c, 0)
	for _, entry := range defaultEntries() {
		if err := settings.SetValue(ctx, entry); err != nil {
			log.Fatalf("failed to seed %s: %v", entry.Key, err)
		}
	}

	pins, err := parsePins(config.GetEnv("SEED_PINS", ""))
	if err != nil {
		log.Fatal(err)
	}
	pinRepo := repositories.NewPinRepository(repositories.DB)
	for msisdn, pin := range pins {
		if err := pinRepo.SetPin(ctx, msisdn, pin); err != nil {
			log.Fatalf("failed to set pin for %s: %v", msisdn, err)
		}
	}

	if operator := config.GetEnv("SEED_OPERATOR", ""); operator != "" {
		token, err := utils.GenerateToken(config.GetEnv("JWT_SECRET", ""), operator,
			[]string{models.RoleOperator}, config.GetDurationEnv("SEED_TOKEN_TTL", 24*time.Hour))
		if err != nil {
			log.Fatalf("failed to issue operator token: %v", err)
		}
		fmt.Println(token)
	}

	log.Infow("seed complete", "rules", len(defaultRules()), "entries", len(defaultEntries()), "pins", len(pins))
}
