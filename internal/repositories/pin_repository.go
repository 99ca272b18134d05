package repositories

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ocstransfer/internal/models"
)

// PinRepository stores subscriber transfer PINs as bcrypt hashes.
type PinRepository interface {
	GetPinHash(ctx context.Context, msisdn string) (string, error)
	SetPin(ctx context.Context, msisdn, pin string) error
}

type pinRepository struct {
	db *gorm.DB
}

func NewPinRepository(db *gorm.DB) PinRepository {
	return &pinRepository{db: db}
}

func (r *pinRepository) GetPinHash(ctx context.Context, msisdn string) (string, error) {
	var pin models.SubscriberPin
	if err := r.db.WithContext(ctx).First(&pin, "msisdn = ?", msisdn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrPinNotFound
		}
		return "", fmt.Errorf("failed to get pin: %w", err)
	}
	return pin.PinHash, nil
}

func (r *pinRepository) SetPin(ctx context.Context, msisdn, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	row := models.SubscriberPin{MSISDN: msisdn, PinHash: string(hash)}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "msisdn"}},
			DoUpdates: clause.AssignmentColumns([]string{"pin_hash", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to set pin: %w", err)
	}
	return nil
}
