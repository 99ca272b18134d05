// Package charging talks to the Online Charging System (OCS).
//
// Every call returns the OCS response code in Result.Code. A non-nil error
// means the call did not produce an answer (timeout, connection failure,
// undecodable body) and its outcome on the OCS side is unknown.
package charging

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// OCS response codes the service reacts to. Anything else non-zero is a
// plain rejection.
const (
	CodeSuccess             = 0
	CodeUnknownSubscriber   = 1001
	CodeInsufficientBalance = 1002
	CodeUnknownSession      = 1003
	CodeServiceBlocked      = 1004
	CodeSystemBusy          = 5001
)

// Subscription and account items read through GetSubscriptionValue and
// GetAccountValue.
const (
	ItemSubscriptionType = "subscription_type"
	ItemOperator         = "operator"
	ItemStatus           = "status"
	ItemBalance          = "balance"
	ItemAvailableCredit  = "available_credit"
)

// Operation names used in logs and metrics.
const (
	OpReserve                 = "reserve"
	OpChargeReserved          = "charge_reserved"
	OpCancelReservation       = "cancel_reservation"
	OpChargeWithCreditAbility = "charge_with_credit_ability"
	OpAdjustBalance           = "adjust_balance"
	OpTransferMoney           = "transfer_money"
	OpExtendExpiry            = "extend_expiry"
	OpSendSMS                 = "send_sms"
	OpGetAccountValue         = "get_account_value"
	OpGetSubscriptionValue    = "get_subscription_value"
)

// StatusBlocked is the ItemStatus value of a barred subscription.
const StatusBlocked = "blocked"

var (
	// ErrTransport is wrapped by every failure that left the outcome unknown.
	ErrTransport = errors.New("ocs transport failure")
	// ErrTimeout is a transport failure caused by the call deadline.
	ErrTimeout = errors.New("ocs call timed out")
)

// Result is the answer of one OCS operation.
type Result struct {
	Code          int    `json:"code"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Value         string `json:"value,omitempty"`
	Message       string `json:"message,omitempty"`
}

// OK reports a successful answer.
func (r Result) OK() bool { return r.Code == CodeSuccess }

// MoneyTransfer is the payload of a direct transfer.
type MoneyTransfer struct {
	Source      string
	Destination string
	Amount      decimal.Decimal
	Reason      string
	Actor       string
	Note        string
}

// Gateway is the set of OCS operations the transfer saga relies on.
type Gateway interface {
	Reserve(ctx context.Context, source, eventID string, amount decimal.Decimal) (Result, error)
	ChargeReserved(ctx context.Context, source, reservationID string) (Result, error)
	CancelReservation(ctx context.Context, source, reservationID string) (Result, error)
	ChargeWithCreditAbility(ctx context.Context, source, eventID string, amount decimal.Decimal) (Result, error)
	AdjustBalance(ctx context.Context, account string, amount decimal.Decimal, note string) (Result, error)
	TransferMoney(ctx context.Context, t MoneyTransfer) (Result, error)
	ExtendExpiry(ctx context.Context, destination string, days int) (Result, error)
	SendSMS(ctx context.Context, source, destination, text string, arabic bool) (Result, error)
	GetAccountValue(ctx context.Context, account, item string) (Result, error)
	GetSubscriptionValue(ctx context.Context, account, item string) (Result, error)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
