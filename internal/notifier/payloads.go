package notifier

// Timestamps are ISO-8601 strings filled by the notifier when left empty.

// PositionOpened reports a new position to the orchestrator.
type PositionOpened struct {
	OrderID    string  `json:"order_id"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Exchange   string  `json:"exchange"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	Timestamp  string  `json:"timestamp"`
}

// PositionUpdated reports a change to an open position, such as a partial
// take-profit fill.
type PositionUpdated struct {
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	Quantity    float64 `json:"quantity"`
	SoldQty     float64 `json:"sold_qty"`
	SellPrice   float64 `json:"sell_price"`
	TriggerType string  `json:"trigger_type,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// PositionClosed reports a fully exited position.
type PositionClosed struct {
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnl float64 `json:"realized_pnl"`
	TriggerType string  `json:"trigger_type,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// OrderCancelled reports a cancelled working order.
type OrderCancelled struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Exchange  string `json:"exchange"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}
