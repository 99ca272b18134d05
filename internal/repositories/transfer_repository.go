package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ocstransfer/internal/models"
)

// DailyStats aggregates the transfers a source made inside one day window.
type DailyStats struct {
	Count  int
	Amount decimal.Decimal
}

// TransferRepository is the ledger. Every mutation after Create goes through
// Update, which only succeeds against the version the caller last read.
type TransferRepository interface {
	// Create inserts t. When a row with the same RequestID already exists the
	// stored row is returned with created=false and t is left untouched.
	Create(ctx context.Context, t *models.TransferTransaction) (row *models.TransferTransaction, created bool, err error)
	GetByID(ctx context.Context, id uint) (*models.TransferTransaction, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.TransferTransaction, error)
	// Update persists t if its stored version still equals t.Version, then
	// advances t.Version. A lost race yields ErrConcurrentUpdate.
	Update(ctx context.Context, t *models.TransferTransaction) error

	// Claim takes an expiring exclusive lease on the row for owner and
	// returns the freshly read row. A live lease held by someone else yields
	// ErrClaimHeld.
	Claim(ctx context.Context, id uint, owner string, lease time.Duration) (*models.TransferTransaction, error)
	Release(ctx context.Context, id uint, owner string) error

	// ListIncomplete returns unsettled, unclaimed rows last touched before olderThan.
	ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]models.TransferTransaction, error)
	// ListPendingExpiry returns succeeded rows whose expiry extension is still
	// owed and has been attempted fewer than maxAttempts times.
	ListPendingExpiry(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.TransferTransaction, error)
	// DailyStats counts the source's transfers created in [start, end) that
	// are succeeded or still in flight, ignoring excludeID.
	DailyStats(ctx context.Context, source string, start, end time.Time, excludeID uint) (DailyStats, error)
}
