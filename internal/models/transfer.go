package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Flow selects how a transfer moves funds through the charging system.
type Flow string

const (
	// FlowEvent reserves on the source, charges the reserved event, then
	// credits the destination. Subscriber initiated, PIN checked.
	FlowEvent Flow = "event"
	// FlowDirect skips the reservation and issues a single transfer-money
	// call. Operator or system initiated, no PIN.
	FlowDirect Flow = "direct"
)

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool { return f == FlowEvent || f == FlowDirect }

// Status summarizes the progress flags of a TransferTransaction.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusReserved       Status = "Reserved"
	StatusSucceeded      Status = "Succeeded"
	StatusFailed         Status = "Failed"
	StatusCancelled      Status = "Cancelled"
	StatusTransferFailed Status = "TransferFailed"
)

// Terminal reports whether no further automatic step will ever run.
// TransferFailed is excluded from automatic processing as well, but the
// funds position is unresolved so it is not terminal.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Settled reports whether the orchestrator and sweeper leave the row alone.
func (s Status) Settled() bool { return s.Terminal() || s == StatusTransferFailed }

var (
	ErrChargedWithoutReservation = errors.New("charged or transferred without reservation")
	ErrCancelledAndConsumed      = errors.New("reservation both consumed and cancelled")
	ErrAbortedAfterCharge        = errors.New("aborted after funds were charged")
)

// TransferTransaction is the ledger row for one transfer attempt. Status is
// never written directly: it is recomputed from the flags on every save.
type TransferTransaction struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	RequestID         string          `gorm:"uniqueIndex;size:128;not null" json:"request_id"`
	Flow              Flow            `gorm:"size:16;not null" json:"flow"`
	SourceMSISDN      string          `gorm:"index:idx_transfer_source_day,priority:1;size:32;not null" json:"source"`
	DestinationMSISDN string          `gorm:"size:32;not null" json:"destination"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,3);not null" json:"amount"`
	PinHash           string          `gorm:"size:100" json:"-"`
	Arabic            bool            `json:"arabic"`

	Reserved          bool `gorm:"not null;default:false" json:"reserved"`
	AmountTransferred bool `gorm:"not null;default:false" json:"amount_transferred"`
	Charged           bool `gorm:"not null;default:false" json:"charged"`
	Cancelled         bool `gorm:"not null;default:false" json:"cancelled"`
	ExpiryExtended    bool `gorm:"not null;default:false" json:"expiry_extended"`
	// Aborted marks a definite failure that left nothing held on the source.
	Aborted bool `gorm:"not null;default:false" json:"aborted"`
	// Escalated marks an exhausted retry budget.
	Escalated bool `gorm:"not null;default:false" json:"escalated"`
	// ChargeRejected marks a definite charge refusal: only compensation remains.
	ChargeRejected bool `gorm:"not null;default:false" json:"charge_rejected"`
	SmsSent        bool `gorm:"not null;default:false" json:"sms_sent"`

	ReservationID    string `gorm:"size:128" json:"reservation_id,omitempty"`
	EventID          string `gorm:"size:64" json:"event_id,omitempty"`
	Status           Status `gorm:"index;size:16;not null" json:"status"`
	RetryCount       int    `gorm:"not null;default:0" json:"retry_count"`
	ExpiryRetryCount int    `gorm:"not null;default:0" json:"expiry_retry_count"`

	Version        int        `gorm:"not null;default:0" json:"version"`
	ClaimedBy      string     `gorm:"size:64" json:"-"`
	ClaimExpiresAt *time.Time `json:"-"`

	ErrorCode         int    `gorm:"not null;default:0" json:"error_code"`
	ErrorMessage      string `gorm:"size:512" json:"error_message,omitempty"`
	NotifyErrorCode   int    `gorm:"not null;default:0" json:"notify_error_code,omitempty"`
	ExternalReference string `gorm:"size:64;index" json:"external_reference"`
	AdjustmentReason  string `gorm:"size:256" json:"adjustment_reason,omitempty"`
	Trace             JSON   `gorm:"type:jsonb" json:"trace,omitempty"`

	CreatedBy   string     `gorm:"size:128" json:"created_by"`
	ModifiedBy  string     `gorm:"size:128" json:"modified_by"`
	CreatedAt   time.Time  `gorm:"index:idx_transfer_source_day,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Consumed reports whether the held funds reached the destination.
func (t *TransferTransaction) Consumed() bool {
	if t.Flow == FlowDirect {
		return t.AmountTransferred
	}
	return t.Charged && t.AmountTransferred
}

// DeriveStatus maps the flag vector to its status.
func (t *TransferTransaction) DeriveStatus() Status {
	switch {
	case t.Cancelled:
		return StatusCancelled
	case t.Consumed():
		return StatusSucceeded
	case t.Escalated && (t.Reserved || t.Charged || t.AmountTransferred):
		return StatusTransferFailed
	case t.Escalated || t.Aborted:
		return StatusFailed
	case t.Reserved:
		return StatusReserved
	default:
		return StatusPending
	}
}

// CheckInvariants rejects flag combinations the state machine cannot produce.
func (t *TransferTransaction) CheckInvariants() error {
	if t.Flow != FlowDirect && (t.Charged || t.AmountTransferred) && !t.Reserved {
		return ErrChargedWithoutReservation
	}
	if t.Cancelled && (t.Charged || t.AmountTransferred) {
		return ErrCancelledAndConsumed
	}
	if t.Aborted && t.Charged {
		return ErrAbortedAfterCharge
	}
	if t.ChargeRejected && t.Charged {
		return ErrCancelledAndConsumed
	}
	return nil
}

// SyncStatus recomputes Status and stamps CompletedAt on the first terminal save.
func (t *TransferTransaction) SyncStatus(now time.Time) {
	t.Status = t.DeriveStatus()
	if t.Status.Settled() && t.CompletedAt == nil {
		done := now
		t.CompletedAt = &done
	}
}

// BeforeSave keeps Status in step with the flags for every gorm write.
func (t *TransferTransaction) BeforeSave(tx *gorm.DB) error {
	if err := t.CheckInvariants(); err != nil {
		return err
	}
	t.SyncStatus(time.Now().UTC())
	return nil
}

// AfterFind recomputes Status on read so the cached column can never win.
func (t *TransferTransaction) AfterFind(tx *gorm.DB) error {
	t.Status = t.DeriveStatus()
	return nil
}
