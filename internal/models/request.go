package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is an immutable transfer instruction from a caller.
type TransferRequest struct {
	RequestID         string    `json:"request_id"`
	SourceMSISDN      string    `json:"source"`
	DestinationMSISDN string    `json:"destination"`
	AmountWhole       int64     `json:"amount_whole"`
	AmountFraction    int64     `json:"amount_fraction"`
	Pin               string    `json:"pin,omitempty"`
	CallerID          string    `json:"-"`
	CallerRoles       []string  `json:"-"`
	AdjustmentReason  string    `json:"adjustment_reason,omitempty"`
	Flow              Flow      `json:"flow,omitempty"`
	Arabic            bool      `json:"arabic,omitempty"`
	RequestedAt       time.Time `json:"requested_at"`
}

// Amount returns the exact transfer amount.
func (r TransferRequest) Amount() (decimal.Decimal, error) {
	return NewAmount(r.AmountWhole, r.AmountFraction)
}

// EffectiveFlow defaults an unset flow to FlowEvent.
func (r TransferRequest) EffectiveFlow() Flow {
	if r.Flow == "" {
		return FlowEvent
	}
	return r.Flow
}

// HasRole reports whether the caller carries role.
func (r TransferRequest) HasRole(role string) bool {
	for _, got := range r.CallerRoles {
		if got == role {
			return true
		}
	}
	return false
}
