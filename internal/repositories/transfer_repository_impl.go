package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ocstransfer/internal/models"
)

const pgUniqueViolation = "23505"

type transferRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *transferRepository) Create(ctx context.Context, t *models.TransferTransaction) (*models.TransferTransaction, bool, error) {
	if t.RequestID == "" || t.SourceMSISDN == "" || t.DestinationMSISDN == "" {
		return nil, false, ErrInvalidTransfer
	}
	if !t.Flow.Valid() {
		return nil, false, fmt.Errorf("%w: unknown flow %q", ErrInvalidTransfer, t.Flow)
	}

	t.SyncStatus(r.now())
	err := r.db.WithContext(ctx).Create(t).Error
	if err == nil {
		return t, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("failed to create transfer: %w", err)
	}

	existing, getErr := r.GetByRequestID(ctx, t.RequestID)
	if getErr != nil {
		return nil, false, fmt.Errorf("failed to load duplicate transfer: %w", getErr)
	}
	return existing, false, nil
}

func (r *transferRepository) GetByID(ctx context.Context, id uint) (*models.TransferTransaction, error) {
	var t models.TransferTransaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &t, nil
}

func (r *transferRepository) GetByRequestID(ctx context.Context, requestID string) (*models.TransferTransaction, error) {
	var t models.TransferTransaction
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &t, nil
}

func (r *transferRepository) Update(ctx context.Context, t *models.TransferTransaction) error {
	if err := t.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransfer, err)
	}

	prev := t.Version
	t.Version = prev + 1
	t.SyncStatus(r.now())

	// Claim columns belong to Claim/Release and are never written here.
	result := r.db.WithContext(ctx).
		Model(t).
		Where("version = ?", prev).
		Select("*").
		Omit("ID", "CreatedAt", "ClaimedBy", "ClaimExpiresAt").
		Updates(t)
	if result.Error != nil {
		t.Version = prev
		return fmt.Errorf("failed to update transfer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		t.Version = prev
		return ErrConcurrentUpdate
	}
	return nil
}

func (r *transferRepository) Claim(ctx context.Context, id uint, owner string, lease time.Duration) (*models.TransferTransaction, error) {
	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&models.TransferTransaction{}).
		Where("id = ?", id).
		Where("(claimed_by IS NULL OR claimed_by = '' OR claimed_by = ? OR claim_expires_at < ?)", owner, now).
		UpdateColumns(map[string]interface{}{
			"claimed_by":       owner,
			"claim_expires_at": now.Add(lease),
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim transfer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrClaimHeld
	}
	return r.GetByID(ctx, id)
}

func (r *transferRepository) Release(ctx context.Context, id uint, owner string) error {
	result := r.db.WithContext(ctx).
		Model(&models.TransferTransaction{}).
		Where("id = ? AND claimed_by = ?", id, owner).
		UpdateColumns(map[string]interface{}{
			"claimed_by":       "",
			"claim_expires_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release transfer: %w", result.Error)
	}
	return nil
}

func (r *transferRepository) ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]models.TransferTransaction, error) {
	var rows []models.TransferTransaction
	// Selected on the flags, never on the cached status column.
	err := r.db.WithContext(ctx).
		Where("cancelled = ? AND escalated = ? AND aborted = ?", false, false, false).
		Where("NOT ((flow = ? AND amount_transferred) OR (flow <> ? AND charged AND amount_transferred))",
			models.FlowDirect, models.FlowDirect).
		Where("updated_at < ?", olderThan).
		Where("(claimed_by IS NULL OR claimed_by = '' OR claim_expires_at < ?)", r.now()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete transfers: %w", err)
	}
	return rows, nil
}

func (r *transferRepository) ListPendingExpiry(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.TransferTransaction, error) {
	var rows []models.TransferTransaction
	err := r.db.WithContext(ctx).
		Where("cancelled = ? AND expiry_extended = ? AND expiry_retry_count < ?", false, false, maxAttempts).
		Where("((flow = ? AND amount_transferred) OR (flow <> ? AND charged AND amount_transferred))",
			models.FlowDirect, models.FlowDirect).
		Where("updated_at < ?", olderThan).
		Where("(claimed_by IS NULL OR claimed_by = '' OR claim_expires_at < ?)", r.now()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending expiry extensions: %w", err)
	}
	return rows, nil
}

func (r *transferRepository) DailyStats(ctx context.Context, source string, start, end time.Time, excludeID uint) (DailyStats, error) {
	var result struct {
		Count  int
		Amount decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.TransferTransaction{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("source_msisdn = ? AND created_at >= ? AND created_at < ?", source, start, end).
		Where("status NOT IN ?", []models.Status{models.StatusFailed, models.StatusCancelled}).
		Where("id <> ?", excludeID).
		Scan(&result).Error
	if err != nil {
		return DailyStats{}, fmt.Errorf("failed to get daily transfer stats: %w", err)
	}
	return DailyStats{Count: result.Count, Amount: result.Amount}, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
