package executor

import "trigger-vault-go/internal/models"

// TriggerType classifies the external signal that fired.
type TriggerType string

const (
	TriggerTP1   TriggerType = "TP1_HIT"
	TriggerTP2   TriggerType = "TP2_HIT"
	TriggerSL    TriggerType = "SL_HIT"
	TriggerTrail TriggerType = "TRAIL_HIT"
	TriggerTime  TriggerType = "TIME_EXIT"
)

// Valid reports whether the trigger type is one of the known signals.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTP1, TriggerTP2, TriggerSL, TriggerTrail, TriggerTime:
		return true
	}
	return false
}

// TriggerEvent is one inbound price/time trigger. It is ephemeral: nothing in
// this subsystem persists it.
type TriggerEvent struct {
	Symbol        string          `json:"symbol"`
	TriggerType   TriggerType     `json:"trigger_type"`
	QuantityPct   float64         `json:"quantity_pct"`
	TriggerPrice  float64         `json:"trigger_price,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	PositionID    string          `json:"position_id,omitempty"`
	WebhookSecret string          `json:"webhook_secret,omitempty"`
	Exchange      models.Exchange `json:"exchange,omitempty"`
}

// ExecutionResult is the per-tenant outcome of one fan-out dispatch.
type ExecutionResult struct {
	UserID   string          `json:"userId"`
	Exchange models.Exchange `json:"exchange"`
	Success  bool            `json:"success"`
	OrderID  string          `json:"orderId,omitempty"`
	Error    string          `json:"error,omitempty"`
	Quantity float64         `json:"quantity,omitempty"`
	Price    float64         `json:"price,omitempty"`
}

// TriggerResponse is the aggregate breakdown returned for one trigger. Partial
// tenant failure is data in this structure, never an HTTP error.
type TriggerResponse struct {
	Success          bool              `json:"success"`
	TriggerType      TriggerType       `json:"trigger_type"`
	Symbol           string            `json:"symbol"`
	UsersProcessed   int               `json:"users_processed"`
	UsersSold        int               `json:"users_sold"`
	UsersFailed      int               `json:"users_failed"`
	Message          string            `json:"message"`
	ExecutionDetails []ExecutionResult `json:"execution_details"`
}
