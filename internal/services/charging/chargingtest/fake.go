// Package chargingtest provides in-memory charging gateways for tests.
package chargingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"ocstransfer/internal/services/charging"
)

// Account is one subscriber held by the Fake.
type Account struct {
	SubscriptionType string
	Operator         string
	Status           string
	Balance          decimal.Decimal
	// Credit overrides the available credit; nil means "same as balance".
	Credit *decimal.Decimal
	Expiry int
}

type reservation struct {
	source   string
	amount   decimal.Decimal
	consumed bool
	released bool
}

type failure struct {
	code int
	err  error
}

// Fake is a stateful OCS. Reservations hold funds on the source until they
// are charged or cancelled. Failures can be queued per operation.
type Fake struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	reservations map[string]*reservation
	byEvent      map[string]string
	failures     map[string][]failure
	calls        map[string]int
	cancelled    map[string]int
	sms          []string
	seq          int
	// BeforeCall runs outside the lock before every operation.
	BeforeCall func(op string)
}

func NewFake() *Fake {
	return &Fake{
		accounts:     make(map[string]*Account),
		reservations: make(map[string]*reservation),
		byEvent:      make(map[string]string),
		failures:     make(map[string][]failure),
		calls:        make(map[string]int),
		cancelled:    make(map[string]int),
	}
}

// AddAccount registers a prepaid subscriber with the given balance.
func (f *Fake) AddAccount(msisdn, balance string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &Account{SubscriptionType: "prepaid", Operator: "home", Status: "active", Balance: decimal.RequireFromString(balance)}
	f.accounts[msisdn] = a
	return a
}

// FailNext makes the next call of op answer code, or fail with err when err is set.
func (f *Fake) FailNext(op string, code int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], failure{code: code, err: err})
}

// Timeout makes the next call of op time out.
func (f *Fake) Timeout(op string) {
	f.FailNext(op, 0, fmt.Errorf("%w: %w: %s", charging.ErrTransport, charging.ErrTimeout, op))
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// CancelCalls returns how many cancel calls hit reservationID.
func (f *Fake) CancelCalls(reservationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[reservationID]
}

// Balance returns the current balance of msisdn.
func (f *Fake) Balance(msisdn string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[msisdn].Balance
}

// SMS returns the texts sent so far.
func (f *Fake) SMS() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sms...)
}

// begin counts the call and pops a queued failure. The lock is held on return.
func (f *Fake) begin(op string) (failure, bool) {
	if f.BeforeCall != nil {
		f.BeforeCall(op)
	}
	f.mu.Lock()
	f.calls[op]++
	queue := f.failures[op]
	if len(queue) == 0 {
		return failure{}, false
	}
	f.failures[op] = queue[1:]
	return queue[0], true
}

func (fl failure) result() (charging.Result, error) {
	if fl.err != nil {
		return charging.Result{}, fl.err
	}
	return charging.Result{Code: fl.code}, nil
}

func (f *Fake) Reserve(_ context.Context, source, eventID string, amount decimal.Decimal) (charging.Result, error) {
	fl, failed := f.begin(charging.OpReserve)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	if id, ok := f.byEvent[eventID]; ok {
		return charging.Result{Code: charging.CodeSuccess, ReservationID: id}, nil
	}
	acc, ok := f.accounts[source]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	if acc.Balance.LessThan(amount) {
		return charging.Result{Code: charging.CodeInsufficientBalance}, nil
	}
	f.seq++
	id := fmt.Sprintf("res-%d", f.seq)
	acc.Balance = acc.Balance.Sub(amount)
	f.reservations[id] = &reservation{source: source, amount: amount}
	f.byEvent[eventID] = id
	return charging.Result{Code: charging.CodeSuccess, ReservationID: id}, nil
}

func (f *Fake) ChargeReserved(_ context.Context, _, reservationID string) (charging.Result, error) {
	fl, failed := f.begin(charging.OpChargeReserved)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	r, ok := f.reservations[reservationID]
	if !ok || r.released {
		return charging.Result{Code: charging.CodeUnknownSession}, nil
	}
	r.consumed = true
	return charging.Result{Code: charging.CodeSuccess, Reference: reservationID}, nil
}

func (f *Fake) CancelReservation(_ context.Context, _, reservationID string) (charging.Result, error) {
	fl, failed := f.begin(charging.OpCancelReservation)
	defer f.mu.Unlock()
	f.cancelled[reservationID]++
	if failed {
		return fl.result()
	}
	r, ok := f.reservations[reservationID]
	if !ok || r.released {
		return charging.Result{Code: charging.CodeUnknownSession}, nil
	}
	if r.consumed {
		return charging.Result{Code: charging.CodeSystemBusy}, nil
	}
	r.released = true
	f.accounts[r.source].Balance = f.accounts[r.source].Balance.Add(r.amount)
	return charging.Result{Code: charging.CodeSuccess, ReservationID: reservationID}, nil
}

func (f *Fake) ChargeWithCreditAbility(_ context.Context, source, eventID string, amount decimal.Decimal) (charging.Result, error) {
	fl, failed := f.begin(charging.OpChargeWithCreditAbility)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	acc, ok := f.accounts[source]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	acc.Balance = acc.Balance.Sub(amount)
	return charging.Result{Code: charging.CodeSuccess, Reference: eventID}, nil
}

func (f *Fake) AdjustBalance(_ context.Context, account string, amount decimal.Decimal, _ string) (charging.Result, error) {
	fl, failed := f.begin(charging.OpAdjustBalance)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	acc, ok := f.accounts[account]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	acc.Balance = acc.Balance.Add(amount)
	return charging.Result{Code: charging.CodeSuccess}, nil
}

func (f *Fake) TransferMoney(_ context.Context, t charging.MoneyTransfer) (charging.Result, error) {
	fl, failed := f.begin(charging.OpTransferMoney)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	src, ok := f.accounts[t.Source]
	dst, ok2 := f.accounts[t.Destination]
	if !ok || !ok2 {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	if src.Balance.LessThan(t.Amount) {
		return charging.Result{Code: charging.CodeInsufficientBalance}, nil
	}
	src.Balance = src.Balance.Sub(t.Amount)
	dst.Balance = dst.Balance.Add(t.Amount)
	return charging.Result{Code: charging.CodeSuccess}, nil
}

func (f *Fake) ExtendExpiry(_ context.Context, destination string, days int) (charging.Result, error) {
	fl, failed := f.begin(charging.OpExtendExpiry)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	acc, ok := f.accounts[destination]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	acc.Expiry += days
	return charging.Result{Code: charging.CodeSuccess}, nil
}

func (f *Fake) SendSMS(_ context.Context, _, destination, text string, _ bool) (charging.Result, error) {
	fl, failed := f.begin(charging.OpSendSMS)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	f.sms = append(f.sms, destination+": "+text)
	return charging.Result{Code: charging.CodeSuccess}, nil
}

func (f *Fake) GetAccountValue(_ context.Context, account, item string) (charging.Result, error) {
	fl, failed := f.begin(charging.OpGetAccountValue)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	acc, ok := f.accounts[account]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	switch item {
	case charging.ItemBalance:
		return charging.Result{Code: charging.CodeSuccess, Value: acc.Balance.StringFixed(3)}, nil
	case charging.ItemAvailableCredit:
		if acc.Credit == nil {
			return charging.Result{Code: charging.CodeSuccess, Value: acc.Balance.StringFixed(3)}, nil
		}
		return charging.Result{Code: charging.CodeSuccess, Value: acc.Credit.StringFixed(3)}, nil
	}
	return charging.Result{Code: charging.CodeSystemBusy}, nil
}

func (f *Fake) GetSubscriptionValue(_ context.Context, account, item string) (charging.Result, error) {
	fl, failed := f.begin(charging.OpGetSubscriptionValue)
	defer f.mu.Unlock()
	if failed {
		return fl.result()
	}
	acc, ok := f.accounts[account]
	if !ok {
		return charging.Result{Code: charging.CodeUnknownSubscriber}, nil
	}
	switch item {
	case charging.ItemSubscriptionType:
		return charging.Result{Code: charging.CodeSuccess, Value: acc.SubscriptionType}, nil
	case charging.ItemOperator:
		return charging.Result{Code: charging.CodeSuccess, Value: acc.Operator}, nil
	case charging.ItemStatus:
		return charging.Result{Code: charging.CodeSuccess, Value: acc.Status}, nil
	}
	return charging.Result{Code: charging.CodeSystemBusy}, nil
}

// MockGateway is a testify mock of charging.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) result(args mock.Arguments) (charging.Result, error) {
	return args.Get(0).(charging.Result), args.Error(1)
}

func (m *MockGateway) Reserve(ctx context.Context, source, eventID string, amount decimal.Decimal) (charging.Result, error) {
	return m.result(m.Called(ctx, source, eventID, amount))
}

func (m *MockGateway) ChargeReserved(ctx context.Context, source, reservationID string) (charging.Result, error) {
	return m.result(m.Called(ctx, source, reservationID))
}

func (m *MockGateway) CancelReservation(ctx context.Context, source, reservationID string) (charging.Result, error) {
	return m.result(m.Called(ctx, source, reservationID))
}

func (m *MockGateway) ChargeWithCreditAbility(ctx context.Context, source, eventID string, amount decimal.Decimal) (charging.Result, error) {
	return m.result(m.Called(ctx, source, eventID, amount))
}

func (m *MockGateway) AdjustBalance(ctx context.Context, account string, amount decimal.Decimal, note string) (charging.Result, error) {
	return m.result(m.Called(ctx, account, amount, note))
}

func (m *MockGateway) TransferMoney(ctx context.Context, t charging.MoneyTransfer) (charging.Result, error) {
	return m.result(m.Called(ctx, t))
}

func (m *MockGateway) ExtendExpiry(ctx context.Context, destination string, days int) (charging.Result, error) {
	return m.result(m.Called(ctx, destination, days))
}

func (m *MockGateway) SendSMS(ctx context.Context, source, destination, text string, arabic bool) (charging.Result, error) {
	return m.result(m.Called(ctx, source, destination, text, arabic))
}

func (m *MockGateway) GetAccountValue(ctx context.Context, account, item string) (charging.Result, error) {
	return m.result(m.Called(ctx, account, item))
}

func (m *MockGateway) GetSubscriptionValue(ctx context.Context, account, item string) (charging.Result, error) {
	return m.result(m.Called(ctx, account, item))
}

var (
	_ charging.Gateway = (*Fake)(nil)
	_ charging.Gateway = (*MockGateway)(nil)
)
