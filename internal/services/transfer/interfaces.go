package transfer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/services/notification"
)

// Service is the transfer orchestrator.
type Service interface {
	// Submit runs a transfer to completion, or as far as the charging system
	// allows, and always answers with a structured outcome.
	Submit(ctx context.Context, req models.TransferRequest) TransferOutcome
	// ValidateOnly evaluates the request without persisting or moving funds.
	ValidateOnly(ctx context.Context, req models.TransferRequest) TransferOutcome
	ListDenominations(ctx context.Context) ([]decimal.Decimal, error)
	Get(ctx context.Context, id uint) (*models.TransferTransaction, error)

	// Resume advances an unfinished ledger row from its flags. A row claimed
	// by another worker yields repositories.ErrClaimHeld.
	Resume(ctx context.Context, id uint) (TransferOutcome, error)
	// ExtendExpiry retries the expiry extension owed by a succeeded row.
	ExtendExpiry(ctx context.Context, id uint) error
}

// AccountResolver reads subscriber state. *subscriber.Resolver satisfies it.
type AccountResolver interface {
	ResolveSource(ctx context.Context, msisdn string) (*models.AccountState, error)
	ResolveDestination(ctx context.Context, msisdn string) (*models.AccountState, error)
}

// Notifier delivers the post-transfer SMS. *notification.Service satisfies it.
type Notifier interface {
	SendTransferNotification(ctx context.Context, t notification.Templates, tx *models.TransferTransaction) error
}

// Locker serializes work on one source subscriber across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (cache.ReleaseFunc, bool, error)
}

// MetricsCollector receives orchestration measurements.
type MetricsCollector interface {
	RecordOutcome(flow string, status models.Status, code int)
	RecordStep(step, result string)
	RecordDuration(operation string, d time.Duration)
}
