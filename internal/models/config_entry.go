package models

import "time"

// Config categories.
const (
	ConfigCategoryTransfer      = "Transfer"
	ConfigCategoryMessages      = "Messages"
	ConfigCategorySMS           = "SMS"
	ConfigCategoryDenominations = "Denominations"
)

// ConfigEntry is a generic key/value setting grouped by category.
type ConfigEntry struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Category    string `gorm:"index;size:64;not null" json:"category"`
	Key         string `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Value       string `gorm:"type:text;not null" json:"value"`
	Description string `gorm:"size:256" json:"description,omitempty"`
	UpdatedAt   time.Time
}
