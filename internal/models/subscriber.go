package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriberPin stores the bcrypt hash of a subscriber's transfer PIN.
type SubscriberPin struct {
	MSISDN    string `gorm:"primaryKey;size:32"`
	PinHash   string `gorm:"size:100;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountState is the view of one subscriber the validation engine works on.
// It is assembled from the charging system and the ledger before validation.
type AccountState struct {
	MSISDN           string
	Exists           bool
	SubscriptionType string
	Operator         string
	Blocked          bool
	Balance          decimal.Decimal
	AvailableCredit  decimal.Decimal
	// PinHash is empty when the subscriber never set a PIN.
	PinHash        string
	TransfersToday int
	AmountToday    decimal.Decimal
}
