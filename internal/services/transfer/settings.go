package transfer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/services/notification"
	"ocstransfer/internal/validation"
)

// Config keys of the Transfer category.
const (
	KeyMaxRetries       = "transfer.max_retries"
	KeyInlineAttempts   = "transfer.inline_attempts"
	KeyRetryBackoff     = "transfer.retry_backoff"
	KeyRequirePin       = "transfer.require_pin"
	KeyDefaultPin       = "transfer.default_pin"
	KeyExpiryDays       = "transfer.expiry_extension_days"
	KeyAmountMultipleOf = "transfer.amount_multiple_of"
	KeyMSISDNPattern    = "transfer.msisdn_pattern"
	KeyHomeOperator     = "transfer.home_operator"
	KeyOperators        = "transfer.operators"
	KeyTimezone         = "transfer.timezone"
	KeyLockTTL          = "transfer.lock_ttl"
	KeyClaimLease       = "transfer.claim_lease"
)

// Defaults applied when a key is absent.
const (
	DefaultMaxRetries     = 5
	DefaultInlineAttempts = 2
	DefaultRetryBackoff   = 250 * time.Millisecond
	DefaultLockTTL        = 2 * time.Minute
	DefaultClaimLease     = 2 * time.Minute
)

// Settings is the configuration snapshot one orchestration runs with. It is
// read once per request and passed down explicitly.
type Settings struct {
	MaxRetries       int
	InlineAttempts   int
	RetryBackoff     time.Duration
	RequirePin       bool
	DefaultPin       string
	ExpiryDays       int
	AmountMultipleOf int64
	MSISDN           *regexp.Regexp
	HomeOperator     string
	Operators        map[string]bool
	Location         *time.Location
	LockTTL          time.Duration
	ClaimLease       time.Duration
	Messages         map[string]string
	SMS              notification.Templates
}

// ValidationOptions projects the settings the validation engine needs.
func (s Settings) ValidationOptions(flow models.Flow) validation.Options {
	return validation.Options{
		MSISDN:           s.MSISDN,
		RequirePin:       s.RequirePin && flow == models.FlowEvent,
		DefaultPin:       s.DefaultPin,
		AmountMultipleOf: s.AmountMultipleOf,
		HomeOperator:     s.HomeOperator,
	}
}

// Message resolves the caller-facing text of k, preferring a localized
// override from the Messages category.
func (s Settings) Message(k errors.Kind, arabic bool) string {
	key := fmt.Sprintf("msg.%d", k.Code())
	if arabic {
		if m := s.Messages[key+".ar"]; m != "" {
			return m
		}
	}
	if m := s.Messages[key]; m != "" {
		return m
	}
	return errors.DefaultMessage(k)
}

// DayWindow returns the local calendar day containing t, in UTC.
func (s Settings) DayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(s.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// ConfigSource is the read side of the Config Store.
type ConfigSource interface {
	GetCategory(ctx context.Context, category string) (map[string]string, error)
}

// LoadSettings reads a snapshot. A value that does not parse is a
// ConfigurationError; absent keys take their defaults.
func LoadSettings(ctx context.Context, src ConfigSource) (Settings, error) {
	values, err := src.GetCategory(ctx, models.ConfigCategoryTransfer)
	if err != nil {
		return Settings{}, err
	}
	p := parser{values: values}
	s := Settings{
		MaxRetries:       p.int(KeyMaxRetries, DefaultMaxRetries),
		InlineAttempts:   p.int(KeyInlineAttempts, DefaultInlineAttempts),
		RetryBackoff:     p.duration(KeyRetryBackoff, DefaultRetryBackoff),
		RequirePin:       p.bool(KeyRequirePin, true),
		DefaultPin:       values[KeyDefaultPin],
		ExpiryDays:       p.int(KeyExpiryDays, 0),
		AmountMultipleOf: int64(p.int(KeyAmountMultipleOf, 0)),
		HomeOperator:     values[KeyHomeOperator],
		Operators:        make(map[string]bool),
		Location:         time.UTC,
		LockTTL:          p.duration(KeyLockTTL, DefaultLockTTL),
		ClaimLease:       p.duration(KeyClaimLease, DefaultClaimLease),
	}
	if pattern := values[KeyMSISDNPattern]; pattern != "" {
		if s.MSISDN, err = regexp.Compile(pattern); err != nil {
			p.fail(KeyMSISDNPattern, err)
		}
	}
	if tz := values[KeyTimezone]; tz != "" {
		if s.Location, err = time.LoadLocation(tz); err != nil {
			p.fail(KeyTimezone, err)
		}
	}
	for _, op := range strings.Split(values[KeyOperators], ",") {
		if op = strings.TrimSpace(op); op != "" {
			s.Operators[op] = true
		}
	}
	if s.MaxRetries < 1 {
		p.fail(KeyMaxRetries, fmt.Errorf("must be at least 1"))
	}
	if s.InlineAttempts < 1 {
		s.InlineAttempts = 1
	}
	if p.err != nil {
		return Settings{}, p.err
	}

	if s.Messages, err = src.GetCategory(ctx, models.ConfigCategoryMessages); err != nil {
		return Settings{}, err
	}
	sms, err := src.GetCategory(ctx, models.ConfigCategorySMS)
	if err != nil {
		return Settings{}, err
	}
	s.SMS = notification.TemplatesFrom(sms)
	return s, nil
}

type parser struct {
	values map[string]string
	err    error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = errors.Newf(errors.ConfigurationError, "%s: %v", key, err)
	}
}

func (p *parser) int(key string, def int) int {
	raw, ok := p.values[key]
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	raw, ok := p.values[key]
	if !ok || raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw, ok := p.values[key]
	if !ok || raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

// parseDenominations turns the Denominations category into a sorted list.
func parseDenominations(values map[string]string) ([]decimal.Decimal, error) {
	if len(values) == 0 {
		return nil, errors.Newf(errors.PropertyNotFound, "no denominations configured")
	}
	out := make([]decimal.Decimal, 0, len(values))
	for key, raw := range values {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !d.IsPositive() {
			return nil, errors.Newf(errors.ConfigurationError, "denomination %s=%q is not a positive amount", key, raw)
		}
		out = append(out, d.Round(models.AmountScale))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out, nil
}
