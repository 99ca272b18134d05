package repositories

import "errors"

var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrConcurrentUpdate = errors.New("transfer was modified concurrently")
	ErrClaimHeld        = errors.New("transfer is claimed by another worker")
	ErrInvalidTransfer  = errors.New("invalid transfer data")
	ErrRuleNotFound     = errors.New("transfer rule not found")
	ErrConfigNotFound   = errors.New("configuration entry not found")
	ErrPinNotFound      = errors.New("subscriber pin not found")
)
