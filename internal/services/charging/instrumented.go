package charging

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Observer receives one record per gateway call.
type Observer interface {
	ObserveGatewayCall(operation, result string, elapsed time.Duration)
}

// Call results reported to the Observer.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultTimeout   = "timeout"
	ResultTransport = "transport"
)

type instrumented struct {
	next Gateway
	obs  Observer
	now  func() time.Time
}

// Instrument wraps gw so that every call is reported to obs.
func Instrument(gw Gateway, obs Observer) Gateway {
	if obs == nil {
		return gw
	}
	return &instrumented{next: gw, obs: obs, now: time.Now}
}

func (g *instrumented) observe(op string, start time.Time, res Result, err error) {
	result := ResultOK
	switch {
	case IsTimeout(err):
		result = ResultTimeout
	case err != nil:
		result = ResultTransport
	case !res.OK():
		result = ResultRejected
	}
	g.obs.ObserveGatewayCall(op, result, g.now().Sub(start))
}

func (g *instrumented) Reserve(ctx context.Context, source, eventID string, amount decimal.Decimal) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpReserve, start, res, err) }(g.now())
	return g.next.Reserve(ctx, source, eventID, amount)
}

func (g *instrumented) ChargeReserved(ctx context.Context, source, reservationID string) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpChargeReserved, start, res, err) }(g.now())
	return g.next.ChargeReserved(ctx, source, reservationID)
}

func (g *instrumented) CancelReservation(ctx context.Context, source, reservationID string) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpCancelReservation, start, res, err) }(g.now())
	return g.next.CancelReservation(ctx, source, reservationID)
}

func (g *instrumented) ChargeWithCreditAbility(ctx context.Context, source, eventID string, amount decimal.Decimal) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpChargeWithCreditAbility, start, res, err) }(g.now())
	return g.next.ChargeWithCreditAbility(ctx, source, eventID, amount)
}

func (g *instrumented) AdjustBalance(ctx context.Context, account string, amount decimal.Decimal, note string) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpAdjustBalance, start, res, err) }(g.now())
	return g.next.AdjustBalance(ctx, account, amount, note)
}

func (g *instrumented) TransferMoney(ctx context.Context, t MoneyTransfer) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpTransferMoney, start, res, err) }(g.now())
	return g.next.TransferMoney(ctx, t)
}

func (g *instrumented) ExtendExpiry(ctx context.Context, destination string, days int) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpExtendExpiry, start, res, err) }(g.now())
	return g.next.ExtendExpiry(ctx, destination, days)
}

func (g *instrumented) SendSMS(ctx context.Context, source, destination, text string, arabic bool) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpSendSMS, start, res, err) }(g.now())
	return g.next.SendSMS(ctx, source, destination, text, arabic)
}

func (g *instrumented) GetAccountValue(ctx context.Context, account, item string) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpGetAccountValue, start, res, err) }(g.now())
	return g.next.GetAccountValue(ctx, account, item)
}

func (g *instrumented) GetSubscriptionValue(ctx context.Context, account, item string) (res Result, err error) {
	defer func(start time.Time) { g.observe(OpGetSubscriptionValue, start, res, err) }(g.now())
	return g.next.GetSubscriptionValue(ctx, account, item)
}
