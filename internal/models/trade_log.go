package models

// TradeLog records one executed trigger sell for a tenant.
type TradeLog struct {
	ID          uint     `gorm:"primarykey" json:"id"`
	UserID      string   `json:"user_id"`
	Exchange    Exchange `json:"exchange"`
	Symbol      string   `json:"symbol"`
	TriggerType string   `json:"trigger_type"`
	OrderID     string   `json:"order_id"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	Timestamp   int64    `json:"timestamp"`
}
