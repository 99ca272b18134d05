// Package subscriber assembles the account view the validation engine needs
// from the charging system and the PIN store.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/services/charging"
)

// ErrLookup is returned when the OCS answered with an unexpected code.
var ErrLookup = errors.New("subscriber lookup failed")

// Resolver reads subscriber state. It never mutates anything.
type Resolver struct {
	gateway charging.Gateway
	pins    repositories.PinRepository
}

func NewResolver(gateway charging.Gateway, pins repositories.PinRepository) *Resolver {
	if gateway == nil {
		panic("gateway is required")
	}
	return &Resolver{gateway: gateway, pins: pins}
}

// ResolveSource reads the subscription, balances and PIN of the paying account.
func (r *Resolver) ResolveSource(ctx context.Context, msisdn string) (*models.AccountState, error) {
	state, err := r.resolveSubscription(ctx, msisdn)
	if err != nil || !state.Exists {
		return state, err
	}

	balance, err := r.accountDecimal(ctx, msisdn, charging.ItemBalance)
	if err != nil {
		return nil, err
	}
	state.Balance = balance

	// Accounts without a separate credit line spend their balance.
	state.AvailableCredit = balance
	if credit, err := r.accountDecimal(ctx, msisdn, charging.ItemAvailableCredit); err == nil {
		state.AvailableCredit = credit
	} else if errors.Is(err, charging.ErrTransport) {
		return nil, err
	}

	if r.pins != nil {
		hash, err := r.pins.GetPinHash(ctx, msisdn)
		switch {
		case err == nil:
			state.PinHash = hash
		case errors.Is(err, repositories.ErrPinNotFound):
		default:
			return nil, err
		}
	}
	return state, nil
}

// ResolveDestination reads only what decides whether the account may receive credit.
func (r *Resolver) ResolveDestination(ctx context.Context, msisdn string) (*models.AccountState, error) {
	return r.resolveSubscription(ctx, msisdn)
}

func (r *Resolver) resolveSubscription(ctx context.Context, msisdn string) (*models.AccountState, error) {
	state := &models.AccountState{MSISDN: msisdn, AmountToday: decimal.Zero}

	res, err := r.gateway.GetSubscriptionValue(ctx, msisdn, charging.ItemSubscriptionType)
	if err != nil {
		return nil, err
	}
	switch res.Code {
	case charging.CodeSuccess:
	case charging.CodeUnknownSubscriber:
		return state, nil
	default:
		return nil, fmt.Errorf("%w: subscription type of %s: code %d", ErrLookup, msisdn, res.Code)
	}
	state.Exists = true
	state.SubscriptionType = res.Value

	if res, err := r.gateway.GetSubscriptionValue(ctx, msisdn, charging.ItemOperator); err != nil {
		return nil, err
	} else if res.OK() {
		state.Operator = res.Value
	}

	res, err = r.gateway.GetSubscriptionValue(ctx, msisdn, charging.ItemStatus)
	if err != nil {
		return nil, err
	}
	state.Blocked = res.Code == charging.CodeServiceBlocked ||
		(res.OK() && strings.EqualFold(res.Value, charging.StatusBlocked))
	return state, nil
}

func (r *Resolver) accountDecimal(ctx context.Context, msisdn, item string) (decimal.Decimal, error) {
	res, err := r.gateway.GetAccountValue(ctx, msisdn, item)
	if err != nil {
		return decimal.Zero, err
	}
	if !res.OK() {
		return decimal.Zero, fmt.Errorf("%w: %s of %s: code %d", ErrLookup, item, msisdn, res.Code)
	}
	d, err := decimal.NewFromString(res.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s of %s: %v", ErrLookup, item, msisdn, err)
	}
	return d, nil
}
