package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// TransferRule holds the limits for one subscription type.
type TransferRule struct {
	ID                      uint            `gorm:"primarykey" json:"id"`
	SubscriptionType        string          `gorm:"uniqueIndex;size:64;not null" json:"subscription_type"`
	MinTransferAmount       decimal.Decimal `gorm:"type:numeric(18,3);not null" json:"min_transfer_amount"`
	MaxTransferAmount       decimal.Decimal `gorm:"type:numeric(18,3);not null" json:"max_transfer_amount"`
	DailyTransferCountLimit int             `gorm:"not null" json:"daily_transfer_count_limit"`
	DailyTransferCapLimit   decimal.Decimal `gorm:"type:numeric(18,3);not null" json:"daily_transfer_cap_limit"`
	MinPostTransferBalance  decimal.Decimal `gorm:"type:numeric(18,3);not null;default:0" json:"min_post_transfer_balance"`
	// RequireHalfBalance enforces remaining balance >= half of the pre-transfer balance.
	RequireHalfBalance bool `gorm:"not null;default:false" json:"require_half_balance"`
	AllowCrossOperator bool `gorm:"not null;default:false" json:"allow_cross_operator"`
	// AllowedDestinationTypes lists destination subscription types; empty allows all.
	AllowedDestinationTypes pq.StringArray `gorm:"type:text[]" json:"allowed_destination_types"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// AllowsDestination reports whether a destination of the given type may receive credit.
func (r *TransferRule) AllowsDestination(subscriptionType string) bool {
	if len(r.AllowedDestinationTypes) == 0 {
		return true
	}
	for _, t := range r.AllowedDestinationTypes {
		if strings.EqualFold(t, subscriptionType) {
			return true
		}
	}
	return false
}
