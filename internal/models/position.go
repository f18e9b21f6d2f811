package models

import "gorm.io/gorm"

// Position represents a tenant's open holding in a symbol. Quantity is the
// remaining base-asset amount; a closed position has Open=false and is ignored
// by holder resolution.
type Position struct {
	gorm.Model
	UserID     string   `gorm:"index:idx_user_symbol" json:"user_id"`
	Symbol     string   `gorm:"index:idx_user_symbol;index" json:"symbol"`
	Exchange   Exchange `gorm:"not null" json:"exchange"`
	Quantity   float64  `gorm:"not null" json:"quantity"`
	EntryPrice float64  `json:"entry_price"`
	Open       bool     `gorm:"default:true" json:"open"`
}
