// Package ledgertest provides an in-memory TransferRepository with the same
// versioning and claim rules as the gorm implementation.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	rows   map[uint]*models.TransferTransaction
	byReq  map[string]uint
	nextID uint
	// Now is the ledger clock; tests move it to age rows.
	Now func() time.Time
}

func New() *Ledger {
	return &Ledger{
		rows:  make(map[uint]*models.TransferTransaction),
		byReq: make(map[string]uint),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func clone(t *models.TransferTransaction) *models.TransferTransaction {
	c := *t
	if t.Trace != nil {
		c.Trace = models.NewJSON(t.Trace)
	}
	if t.ClaimExpiresAt != nil {
		exp := *t.ClaimExpiresAt
		c.ClaimExpiresAt = &exp
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	c.Status = c.DeriveStatus()
	return &c
}

// Count returns the number of stored rows.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Put stores t as is, for seeding test fixtures.
func (l *Ledger) Put(t *models.TransferTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.ID == 0 {
		l.nextID++
		t.ID = l.nextID
	} else if t.ID > l.nextID {
		l.nextID = t.ID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = l.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.Status = t.DeriveStatus()
	l.rows[t.ID] = clone(t)
	l.byReq[t.RequestID] = t.ID
}

func (l *Ledger) Create(_ context.Context, t *models.TransferTransaction) (*models.TransferTransaction, bool, error) {
	if t.RequestID == "" || t.SourceMSISDN == "" || t.DestinationMSISDN == "" || !t.Flow.Valid() {
		return nil, false, repositories.ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byReq[t.RequestID]; ok {
		return clone(l.rows[id]), false, nil
	}
	now := l.Now()
	l.nextID++
	t.ID = l.nextID
	t.CreatedAt, t.UpdatedAt = now, now
	t.SyncStatus(now)
	l.rows[t.ID] = clone(t)
	l.byReq[t.RequestID] = t.ID
	return t, true, nil
}

func (l *Ledger) GetByID(_ context.Context, id uint) (*models.TransferTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, repositories.ErrTransferNotFound
	}
	return clone(row), nil
}

func (l *Ledger) GetByRequestID(ctx context.Context, requestID string) (*models.TransferTransaction, error) {
	l.mu.Lock()
	id, ok := l.byReq[requestID]
	l.mu.Unlock()
	if !ok {
		return nil, repositories.ErrTransferNotFound
	}
	return l.GetByID(ctx, id)
}

func (l *Ledger) Update(_ context.Context, t *models.TransferTransaction) error {
	if err := t.CheckInvariants(); err != nil {
		return repositories.ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.rows[t.ID]
	if !ok || stored.Version != t.Version {
		return repositories.ErrConcurrentUpdate
	}
	now := l.Now()
	t.Version++
	t.UpdatedAt = now
	t.SyncStatus(now)

	next := clone(t)
	next.ClaimedBy, next.ClaimExpiresAt = stored.ClaimedBy, stored.ClaimExpiresAt
	next.CreatedAt = stored.CreatedAt
	l.rows[t.ID] = next
	return nil
}

func (l *Ledger) claimable(row *models.TransferTransaction, owner string, now time.Time) bool {
	return row.ClaimedBy == "" || row.ClaimedBy == owner ||
		(row.ClaimExpiresAt != nil && row.ClaimExpiresAt.Before(now))
}

func (l *Ledger) Claim(_ context.Context, id uint, owner string, lease time.Duration) (*models.TransferTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, repositories.ErrTransferNotFound
	}
	now := l.Now()
	if !l.claimable(row, owner, now) {
		return nil, repositories.ErrClaimHeld
	}
	exp := now.Add(lease)
	row.ClaimedBy = owner
	row.ClaimExpiresAt = &exp
	row.Version++
	return clone(row), nil
}

func (l *Ledger) Release(_ context.Context, id uint, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[id]; ok && row.ClaimedBy == owner {
		row.ClaimedBy = ""
		row.ClaimExpiresAt = nil
	}
	return nil
}

func (l *Ledger) list(match func(*models.TransferTransaction) bool, limit int) []models.TransferTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	var out []models.TransferTransaction
	for _, row := range l.rows {
		if l.claimable(row, "", now) && match(row) {
			out = append(out, *clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (l *Ledger) ListIncomplete(_ context.Context, olderThan time.Time, limit int) ([]models.TransferTransaction, error) {
	return l.list(func(r *models.TransferTransaction) bool {
		return !r.Cancelled && !r.Escalated && !r.Aborted && !r.Consumed() && r.UpdatedAt.Before(olderThan)
	}, limit), nil
}

func (l *Ledger) ListPendingExpiry(_ context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.TransferTransaction, error) {
	return l.list(func(r *models.TransferTransaction) bool {
		return !r.Cancelled && r.Consumed() && !r.ExpiryExtended &&
			r.ExpiryRetryCount < maxAttempts && r.UpdatedAt.Before(olderThan)
	}, limit), nil
}

func (l *Ledger) DailyStats(_ context.Context, source string, start, end time.Time, excludeID uint) (repositories.DailyStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := repositories.DailyStats{Amount: decimal.Zero}
	for _, row := range l.rows {
		if row.ID == excludeID || row.SourceMSISDN != source {
			continue
		}
		if row.CreatedAt.Before(start) || !row.CreatedAt.Before(end) {
			continue
		}
		if s := row.DeriveStatus(); s == models.StatusFailed || s == models.StatusCancelled {
			continue
		}
		stats.Count++
		stats.Amount = stats.Amount.Add(row.Amount)
	}
	return stats, nil
}

var _ repositories.TransferRepository = (*Ledger)(nil)
