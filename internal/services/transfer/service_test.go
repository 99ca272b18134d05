package transfer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/repositories/ledgertest"
	"ocstransfer/internal/services/charging"
	"ocstransfer/internal/services/charging/chargingtest"
	"ocstransfer/internal/services/notification"
	"ocstransfer/internal/services/subscriber"
)

const (
	alice = "96170000001"
	bob   = "96170000002"
)

type memRules struct {
	rules map[string]*models.TransferRule
}

func (m *memRules) GetTransferRule(_ context.Context, subscriptionType string) (*models.TransferRule, error) {
	r, ok := m.rules[subscriptionType]
	if !ok {
		return nil, repositories.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRules) SaveTransferRule(_ context.Context, rule *models.TransferRule) error {
	m.rules[rule.SubscriptionType] = rule
	return nil
}

type memConfig struct {
	mu         sync.Mutex
	categories map[string]map[string]string
}

func (m *memConfig) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, values := range m.categories {
		if v, ok := values[key]; ok {
			return v, nil
		}
	}
	return "", repositories.ErrConfigNotFound
}

func (m *memConfig) GetCategory(_ context.Context, category string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.categories[category] {
		out[k] = v
	}
	return out, nil
}

func (m *memConfig) SetValue(_ context.Context, e *models.ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.categories[e.Category] == nil {
		m.categories[e.Category] = make(map[string]string)
	}
	m.categories[e.Category][e.Key] = e.Value
	return nil
}

type memPins struct {
	mu     sync.Mutex
	hashes map[string]string
}

func (m *memPins) GetPinHash(_ context.Context, msisdn string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[msisdn]
	if !ok {
		return "", repositories.ErrPinNotFound
	}
	return h, nil
}

func (m *memPins) SetPin(_ context.Context, msisdn, pin string) error {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[msisdn] = string(h)
	return nil
}

type fixture struct {
	svc    Service
	ledger *ledgertest.Ledger
	ocs    *chargingtest.Fake
	config *memConfig
	pins   *memPins
	locker *cache.MemoryLocker
}

func newFixture(t *testing.T, transferSettings map[string]string) *fixture {
	t.Helper()
	settings := map[string]string{
		KeyMaxRetries:     "3",
		KeyInlineAttempts: "2",
		KeyRequirePin:     "true",
		KeyDefaultPin:     "1234",
	}
	for k, v := range transferSettings {
		settings[k] = v
	}
	f := &fixture{
		ledger: ledgertest.New(),
		ocs:    chargingtest.NewFake(),
		config: &memConfig{categories: map[string]map[string]string{
			models.ConfigCategoryTransfer: settings,
			models.ConfigCategoryDenominations: {
				"denomination.5": "5",
				"denomination.1": "1.000",
			},
		}},
		pins:   &memPins{hashes: make(map[string]string)},
		locker: cache.NewMemoryLocker(),
	}
	f.ocs.AddAccount(alice, "50.000")
	f.ocs.AddAccount(bob, "10.000")

	rules := &memRules{rules: map[string]*models.TransferRule{
		"prepaid": {
			SubscriptionType:        "prepaid",
			MinTransferAmount:       decimal.NewFromInt(1),
			MaxTransferAmount:       decimal.NewFromInt(40),
			DailyTransferCountLimit: 3,
			DailyTransferCapLimit:   decimal.NewFromInt(100),
		},
	}}

	f.svc = NewService(Dependencies{
		Ledger:   f.ledger,
		Rules:    rules,
		Config:   f.config,
		Accounts: subscriber.NewResolver(f.ocs, f.pins),
		Gateway:  f.ocs,
		Notifier: notification.NewService(f.ocs),
		Locker:   f.locker,
	}, Config{InstanceID: "test", Sleep: func(time.Duration) {}})
	return f
}

func request(id string, whole, fraction int64) models.TransferRequest {
	return models.TransferRequest{
		RequestID:         id,
		SourceMSISDN:      alice,
		DestinationMSISDN: bob,
		AmountWhole:       whole,
		AmountFraction:    fraction,
		Pin:               "1234",
		CallerID:          alice,
		CallerRoles:       []string{models.RoleSubscriber},
	}
}

func (f *fixture) row(t *testing.T, id uint) *models.TransferTransaction {
	t.Helper()
	row, err := f.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	return row
}

func TestSubmitEventFlowSucceeds(t *testing.T) {
	f := newFixture(t, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 250))

	require.True(t, out.Succeeded(), out.StatusMessage)
	assert.Equal(t, "5.250", out.ProcessedAmount)
	assert.Equal(t, models.StatusSucceeded, out.Status)

	row := f.row(t, out.TransactionID)
	assert.True(t, row.Reserved)
	assert.True(t, row.Charged)
	assert.True(t, row.AmountTransferred)
	assert.True(t, row.SmsSent)
	assert.Zero(t, row.ErrorCode)
	assert.NotNil(t, row.CompletedAt)
	assert.Empty(t, row.ClaimedBy)

	assert.Equal(t, "44.750", f.ocs.Balance(alice).StringFixed(3))
	assert.Equal(t, "15.250", f.ocs.Balance(bob).StringFixed(3))
	assert.Len(t, f.ocs.SMS(), 2)
	assert.Zero(t, f.ocs.Calls(charging.OpTransferMoney))
}

func TestSubmitDirectFlow(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-direct", 7, 0)
	req.Flow = models.FlowDirect
	req.Pin = ""
	req.CallerID = "agent-1"
	req.CallerRoles = []string{models.RoleOperator}
	req.AdjustmentReason = "goodwill"

	out := f.svc.Submit(context.Background(), req)

	require.True(t, out.Succeeded(), out.StatusMessage)
	assert.Equal(t, 1, f.ocs.Calls(charging.OpTransferMoney))
	assert.Zero(t, f.ocs.Calls(charging.OpReserve))
	row := f.row(t, out.TransactionID)
	assert.True(t, row.AmountTransferred)
	assert.False(t, row.Reserved)
	assert.Equal(t, "17.000", f.ocs.Balance(bob).StringFixed(3))
}

func TestSubmitDirectFlowRequiresPermission(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-direct", 7, 0)
	req.Flow = models.FlowDirect

	out := f.svc.Submit(context.Background(), req)

	assert.Equal(t, errors.UserNotAllowed, out.Kind())
	assert.Zero(t, f.ledger.Count())

	f = newFixture(t, map[string]string{KeyOperators: "trusted-app"})
	req.CallerID = "trusted-app"
	out = f.svc.Submit(context.Background(), req)
	assert.True(t, out.Succeeded(), out.StatusMessage)
}

func TestSubmitRejectsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.TransferRequest)
		want   errors.Kind
	}{
		{"same parties", func(r *models.TransferRequest) { r.DestinationMSISDN = alice }, errors.SourceAndDestinationSame},
		{"bad destination", func(r *models.TransferRequest) { r.DestinationMSISDN = "12ab" }, errors.InvalidDestinationPhone},
		{"unknown destination", func(r *models.TransferRequest) { r.DestinationMSISDN = "96179999999" }, errors.DestinationPhoneNotFound},
		{"below minimum", func(r *models.TransferRequest) { r.AmountWhole, r.AmountFraction = 0, 500 }, errors.TransferAmountBelowMin},
		{"above maximum", func(r *models.TransferRequest) { r.AmountWhole = 41 }, errors.TransferAmountAboveMax},
		{"fraction above maximum", func(r *models.TransferRequest) { r.AmountWhole = 40; r.AmountFraction = 1 }, errors.TransferAmountAboveMax},
		{"whole part beyond sub-unit range", func(r *models.TransferRequest) { r.AmountWhole = 2305843009213693957 }, errors.TransferAmountAboveMax},
		{"largest whole part", func(r *models.TransferRequest) { r.AmountWhole = math.MaxInt64 }, errors.TransferAmountAboveMax},
		{"wrong pin", func(r *models.TransferRequest) { r.Pin = "0000" }, errors.InvalidPin},
		{"missing request id", func(r *models.TransferRequest) { r.RequestID = "" }, errors.BadRequest},
		{"zero amount", func(r *models.TransferRequest) { r.AmountWhole = 0 }, errors.BadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := request("req-1", 5, 0)
			tt.mutate(&req)

			out := f.svc.Submit(context.Background(), req)

			assert.Equal(t, tt.want, out.Kind(), out.StatusMessage)
			assert.Zero(t, f.ledger.Count())
			assert.Zero(t, f.ocs.Calls(charging.OpReserve))
			assert.Zero(t, f.ocs.Calls(charging.OpTransferMoney))
			assert.Equal(t, "50.000", f.ocs.Balance(alice).StringFixed(3))
		})
	}
}

func TestSubmitSamePartiesTouchesNothing(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-1", 5, 0)
	req.DestinationMSISDN = alice

	out := f.svc.Submit(context.Background(), req)

	assert.Equal(t, errors.SourceAndDestinationSame, out.Kind())
	for _, op := range []string{charging.OpGetSubscriptionValue, charging.OpGetAccountValue, charging.OpReserve} {
		assert.Zero(t, f.ocs.Calls(op), op)
	}
}

func TestSubmitDailyCountLimit(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.ledger.Put(&models.TransferTransaction{
			RequestID: fmt.Sprintf("old-%d", i), Flow: models.FlowEvent,
			SourceMSISDN: alice, DestinationMSISDN: bob, Amount: decimal.NewFromInt(1),
			Reserved: true, Charged: true, AmountTransferred: true,
		})
	}
	// Failed transfers do not count against the limit.
	f.ledger.Put(&models.TransferTransaction{
		RequestID: "failed", Flow: models.FlowEvent,
		SourceMSISDN: alice, DestinationMSISDN: bob, Amount: decimal.NewFromInt(1), Aborted: true,
	})

	out := f.svc.Submit(context.Background(), request("req-4", 2, 0))

	assert.Equal(t, errors.ExceedsMaxPerDay, out.Kind())
	assert.Zero(t, f.ocs.Calls(charging.OpReserve))
	assert.Equal(t, 4, f.ledger.Count())
}

func TestSubmitChargeRejectedCancelsReservation(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpChargeReserved, charging.CodeServiceBlocked, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, errors.CreditFailure, out.Kind())
	assert.Equal(t, models.StatusCancelled, out.Status)
	row := f.row(t, out.TransactionID)
	assert.True(t, row.Cancelled)
	assert.False(t, row.Charged)
	assert.Equal(t, 1, f.ocs.CancelCalls(row.ReservationID))
	assert.Zero(t, f.ocs.Calls(charging.OpAdjustBalance))
	assert.Equal(t, "50.000", f.ocs.Balance(alice).StringFixed(3))
	assert.Empty(t, f.ocs.SMS())
}

func TestSubmitCancelFailureStaysReserved(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpChargeReserved, charging.CodeServiceBlocked, nil)
	f.ocs.FailNext(charging.OpCancelReservation, 0, charging.ErrTransport)
	f.ocs.FailNext(charging.OpCancelReservation, 0, charging.ErrTransport)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, models.StatusReserved, out.Status)
	row := f.row(t, out.TransactionID)
	assert.True(t, row.ChargeRejected)
	assert.False(t, row.Cancelled)
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, errors.CreditFailure.Code(), row.ErrorCode)

	resumed, err := f.svc.Resume(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, resumed.Status)
	assert.Equal(t, 3, f.ocs.CancelCalls(row.ReservationID))
	assert.Equal(t, "50.000", f.ocs.Balance(alice).StringFixed(3))
}

func TestSubmitExpiredReservation(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpChargeReserved, charging.CodeUnknownSession, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, errors.ExpiredReservationCode, out.Kind())
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Zero(t, f.ocs.Calls(charging.OpCancelReservation))
}

func TestSubmitReserveRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpReserve, charging.CodeInsufficientBalance, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, errors.InsufficientBalance, out.Kind())
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Zero(t, f.ocs.Calls(charging.OpChargeReserved))
}

func TestSubmitTimeoutLeavesRowForRecovery(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.Timeout(charging.OpReserve)
	f.ocs.Timeout(charging.OpReserve)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, errors.OCSTimeout, out.Kind())
	assert.Equal(t, models.StatusPending, out.Status)
	row := f.row(t, out.TransactionID)
	assert.Equal(t, 2, row.RetryCount)
	assert.Empty(t, row.ClaimedBy)

	resumed, err := f.svc.Resume(context.Background(), row.ID)
	require.NoError(t, err)
	assert.True(t, resumed.Succeeded(), resumed.StatusMessage)
	assert.Equal(t, 3, f.ocs.Calls(charging.OpReserve))
	assert.Equal(t, "15.000", f.ocs.Balance(bob).StringFixed(3))
}

func TestReserveWithoutReservationIDIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpReserve, charging.CodeSuccess, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	require.True(t, out.Succeeded(), out.StatusMessage)
	assert.Equal(t, 2, f.ocs.Calls(charging.OpReserve))
	row := f.row(t, out.TransactionID)
	assert.NotEmpty(t, row.ReservationID)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, "45.000", f.ocs.Balance(alice).StringFixed(3))
}

func TestReserveWithoutReservationIDNeverMarksReserved(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpReserve, charging.CodeSuccess, nil)
	f.ocs.FailNext(charging.OpReserve, charging.CodeSuccess, nil)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, errors.ReserveAmountError, out.Kind())
	row := f.row(t, out.TransactionID)
	assert.False(t, row.Reserved)
	assert.Zero(t, f.ocs.Calls(charging.OpChargeReserved))
}

func TestCreditFailureEscalatesAfterRetryBudget(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 10; i++ {
		f.ocs.FailNext(charging.OpAdjustBalance, 0, charging.ErrTransport)
	}

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))
	assert.Equal(t, models.StatusReserved, out.Status)
	assert.Equal(t, errors.ServiceUnavailable, out.Kind())

	resumed, err := f.svc.Resume(context.Background(), out.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransferFailed, resumed.Status)

	row := f.row(t, out.TransactionID)
	assert.True(t, row.Escalated)
	assert.True(t, row.Charged)
	assert.Equal(t, 3, row.RetryCount)
	assert.Equal(t, 3, f.ocs.Calls(charging.OpAdjustBalance))

	again, err := f.svc.Resume(context.Background(), out.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransferFailed, again.Status)
	assert.Equal(t, 3, f.ocs.Calls(charging.OpAdjustBalance))
}

func TestResumeEscalatesExhaustedRow(t *testing.T) {
	f := newFixture(t, nil)
	row := &models.TransferTransaction{
		RequestID: "stuck", Flow: models.FlowEvent, SourceMSISDN: alice, DestinationMSISDN: bob,
		Amount: decimal.NewFromInt(5), RetryCount: 3, ErrorCode: errors.OCSTimeout.Code(),
	}
	f.ledger.Put(row)

	out, err := f.svc.Resume(context.Background(), row.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, errors.OCSTimeout, out.Kind())
	assert.Zero(t, f.ocs.Calls(charging.OpReserve))
}

func TestResubmitIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-1", 5, 0)

	first := f.svc.Submit(context.Background(), req)
	second := f.svc.Submit(context.Background(), req)

	require.True(t, first.Succeeded())
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.Succeeded())
	assert.Equal(t, 1, f.ocs.Calls(charging.OpReserve))
	assert.Equal(t, 1, f.ledger.Count())

	req.AmountWhole = 6
	other := f.svc.Submit(context.Background(), req)
	assert.Equal(t, errors.BadRequest, other.Kind())
}

func TestResubmitWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-1", 5, 0)

	var inner TransferOutcome
	var once sync.Once
	f.ocs.BeforeCall = func(op string) {
		if op == charging.OpReserve {
			once.Do(func() { inner = f.svc.Submit(context.Background(), req) })
		}
	}

	outer := f.svc.Submit(context.Background(), req)

	require.True(t, outer.Succeeded(), outer.StatusMessage)
	assert.Equal(t, errors.ConcurrentUpdateDetected, inner.Kind())
	assert.Equal(t, 1, f.ocs.Calls(charging.OpReserve))
	assert.Equal(t, 1, f.ledger.Count())
}

func TestSubmitLosingInsertRaceResumesPendingRow(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-1", 5, 0)

	// Another instance records the same request id between the ledger
	// lookup and the insert, then dies before reserving.
	var once sync.Once
	f.ocs.BeforeCall = func(op string) {
		if op != charging.OpGetSubscriptionValue {
			return
		}
		once.Do(func() {
			f.ledger.Put(&models.TransferTransaction{
				RequestID: req.RequestID, Flow: models.FlowEvent,
				SourceMSISDN: alice, DestinationMSISDN: bob, Amount: decimal.NewFromInt(5),
				EventID: "evt-other", ExternalReference: "ref-other", CreatedBy: alice,
			})
		})
	}

	out := f.svc.Submit(context.Background(), req)

	require.True(t, out.Succeeded(), out.StatusMessage)
	assert.Equal(t, 1, f.ledger.Count())
	assert.Equal(t, 1, f.ocs.Calls(charging.OpReserve))
	assert.Equal(t, "45.000", f.ocs.Balance(alice).StringFixed(3))

	// The source lock is free again afterwards.
	release, ok, err := f.locker.TryLock(context.Background(), sourceLockKey(alice), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestConcurrentSameSource(t *testing.T) {
	f := newFixture(t, nil)
	release, ok, err := f.locker.TryLock(context.Background(), sourceLockKey(alice), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	busy := f.svc.Submit(context.Background(), request("req-1", 30, 0))
	assert.Equal(t, errors.ConcurrentUpdateDetected, busy.Kind())
	release()

	first := f.svc.Submit(context.Background(), request("req-2", 30, 0))
	second := f.svc.Submit(context.Background(), request("req-3", 30, 0))
	assert.True(t, first.Succeeded(), first.StatusMessage)
	assert.Equal(t, errors.RemainingBalance, second.Kind())
	assert.Equal(t, "20.000", f.ocs.Balance(alice).StringFixed(3))
}

func TestResumeBacksOffWhenSourceBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.Timeout(charging.OpReserve)
	f.ocs.Timeout(charging.OpReserve)
	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))
	require.Equal(t, models.StatusPending, out.Status)

	release, ok, err := f.locker.TryLock(context.Background(), sourceLockKey(alice), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = f.svc.Resume(context.Background(), out.TransactionID)
	assert.ErrorIs(t, err, repositories.ErrClaimHeld)
	assert.Equal(t, 2, f.ocs.Calls(charging.OpReserve))
}

func TestResumeRevalidatesPin(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.Timeout(charging.OpReserve)
	f.ocs.Timeout(charging.OpReserve)
	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))
	require.Equal(t, models.StatusPending, out.Status)

	require.NoError(t, f.pins.SetPin(context.Background(), alice, "9999"))

	resumed, err := f.svc.Resume(context.Background(), out.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, errors.InvalidPin, resumed.Kind())
	assert.Equal(t, models.StatusFailed, resumed.Status)
	assert.Equal(t, 2, f.ocs.Calls(charging.OpReserve))
}

func TestNotificationFailureKeepsSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.ocs.FailNext(charging.OpSendSMS, 0, charging.ErrTransport)

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	require.True(t, out.Succeeded())
	assert.Equal(t, errors.SmsError.Code(), out.NotificationCode)
	row := f.row(t, out.TransactionID)
	assert.False(t, row.SmsSent)
	assert.Equal(t, models.StatusSucceeded, row.Status)
}

func TestExpiryExtension(t *testing.T) {
	f := newFixture(t, map[string]string{KeyExpiryDays: "30"})

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))
	require.True(t, out.Succeeded())
	assert.True(t, f.row(t, out.TransactionID).ExpiryExtended)

	f.ocs.FailNext(charging.OpExtendExpiry, charging.CodeSystemBusy, nil)
	out = f.svc.Submit(context.Background(), request("req-2", 5, 0))
	require.True(t, out.Succeeded(), "expiry failure does not affect the transfer")
	row := f.row(t, out.TransactionID)
	assert.False(t, row.ExpiryExtended)
	assert.Equal(t, 1, row.ExpiryRetryCount)

	require.NoError(t, f.svc.ExtendExpiry(context.Background(), row.ID))
	assert.True(t, f.row(t, row.ID).ExpiryExtended)
	assert.Equal(t, 3, f.ocs.Calls(charging.OpExtendExpiry))
}

func TestValidateOnly(t *testing.T) {
	f := newFixture(t, nil)

	out := f.svc.ValidateOnly(context.Background(), request("req-1", 5, 250))
	assert.True(t, out.Succeeded(), out.StatusMessage)
	assert.Equal(t, "5.250", out.ProcessedAmount)
	assert.Zero(t, out.TransactionID)

	bad := request("req-2", 5, 0)
	bad.Pin = "0000"
	assert.Equal(t, errors.InvalidPin, f.svc.ValidateOnly(context.Background(), bad).Kind())

	assert.Zero(t, f.ledger.Count())
	assert.Zero(t, f.ocs.Calls(charging.OpReserve))
}

func TestLocalizedMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.config.categories[models.ConfigCategoryMessages] = map[string]string{
		"msg.4":    "Wrong PIN",
		"msg.4.ar": "رمز خاطئ",
	}
	req := request("req-1", 5, 0)
	req.Pin = "0000"

	assert.Equal(t, "Wrong PIN", f.svc.ValidateOnly(context.Background(), req).StatusMessage)
	req.Arabic = true
	assert.Equal(t, "رمز خاطئ", f.svc.ValidateOnly(context.Background(), req).StatusMessage)
}

func TestBrokenConfiguration(t *testing.T) {
	f := newFixture(t, map[string]string{KeyMaxRetries: "many"})

	out := f.svc.Submit(context.Background(), request("req-1", 5, 0))

	assert.Equal(t, errors.ConfigurationError, out.Kind())
	assert.Zero(t, f.ledger.Count())
}

func TestListDenominations(t *testing.T) {
	f := newFixture(t, nil)

	got, err := f.svc.ListDenominations(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.000", models.FormatAmount(got[0]))
	assert.Equal(t, "5.000", models.FormatAmount(got[1]))

	delete(f.config.categories, models.ConfigCategoryDenominations)
	_, err = f.svc.ListDenominations(context.Background())
	assert.Equal(t, errors.PropertyNotFound, errors.KindOf(err))
}

func TestNextAction(t *testing.T) {
	tests := []struct {
		name string
		row  models.TransferTransaction
		want action
	}{
		{"pending", models.TransferTransaction{Flow: models.FlowEvent}, actReserve},
		{"reserved", models.TransferTransaction{Flow: models.FlowEvent, Reserved: true}, actCharge},
		{"charged", models.TransferTransaction{Flow: models.FlowEvent, Reserved: true, Charged: true}, actCredit},
		{"charge rejected", models.TransferTransaction{Flow: models.FlowEvent, Reserved: true, ChargeRejected: true}, actCancel},
		{"done", models.TransferTransaction{Flow: models.FlowEvent, Reserved: true, Charged: true, AmountTransferred: true}, actNone},
		{"cancelled", models.TransferTransaction{Flow: models.FlowEvent, Reserved: true, Cancelled: true}, actNone},
		{"escalated", models.TransferTransaction{Flow: models.FlowEvent, Escalated: true}, actNone},
		{"direct", models.TransferTransaction{Flow: models.FlowDirect}, actTransfer},
		{"direct done", models.TransferTransaction{Flow: models.FlowDirect, AmountTransferred: true}, actNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextAction(&tt.row))
		})
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int
	}{
		{"short", "تم", len("تم")},
		{"ascii at limit", strings.Repeat("a", maxErrorMessage+10), maxErrorMessage},
		{"two-byte runes across limit", "a" + strings.Repeat("ت", maxErrorMessage), maxErrorMessage - 1},
		{"three-byte runes across limit", strings.Repeat("€", maxErrorMessage), maxErrorMessage - maxErrorMessage%3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.msg)
			assert.Len(t, got, tt.want)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.msg, got))
		})
	}
}
