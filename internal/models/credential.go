package models

import "gorm.io/gorm"

// Exchange identifies a supported trading venue.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeBybit   Exchange = "BYBIT"
	ExchangeOKX     Exchange = "OKX"
)

// Valid reports whether the exchange is one of the supported venues.
func (e Exchange) Valid() bool {
	switch e {
	case ExchangeBinance, ExchangeBybit, ExchangeOKX:
		return true
	}
	return false
}

// Credential stores one tenant's API keys for one exchange, encrypted at rest.
// The composite unique index guarantees at most one row per (user, exchange);
// reconnecting overwrites the existing row instead of inserting a duplicate.
type Credential struct {
	gorm.Model
	UserID              string   `gorm:"uniqueIndex:idx_user_exchange;not null" json:"user_id"`
	Exchange            Exchange `gorm:"uniqueIndex:idx_user_exchange;not null" json:"exchange"`
	EncryptedAPIKey     string   `gorm:"type:text;not null" json:"-"`
	EncryptedSecretKey  string   `gorm:"type:text;not null" json:"-"`
	EncryptedPassphrase string   `gorm:"type:text" json:"-"`
	KeyVersion          int      `gorm:"default:1" json:"key_version"`
	IsActive            bool     `gorm:"default:true" json:"is_active"`
	ActiveTrading       bool     `gorm:"default:false" json:"active_trading"`
	Label               string   `json:"label,omitempty"`
}
