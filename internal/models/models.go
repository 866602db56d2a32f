package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvariantViolation  = errors.New("balance invariant violation")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrUnknownStatus       = errors.New("unknown status")
	ErrStaleOrder          = errors.New("order changed since it was read")
)

// User represents a registered user
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AssetStatus is the trading state of a tokenized asset
type AssetStatus string

const (
	AssetActive   AssetStatus = "active"
	AssetHalted   AssetStatus = "halted"
	AssetDelisted AssetStatus = "delisted"
)

// Asset represents a tokenized real-world asset listed on the platform
type Asset struct {
	ID           int64       `json:"id"`
	Symbol       string      `json:"symbol"`
	Chain        string      `json:"chain"`
	Status       AssetStatus `json:"status"`
	VaultAddress string      `json:"vault_address"`
}

// Tradable reports whether orders on the asset may be matched
func (a Asset) Tradable() bool {
	return a.Status == AssetActive
}
