package exchange

import (
	"context"
	"errors"
	"fmt"

	"trigger-vault-go/internal/models"
	"trigger-vault-go/internal/vault"
)

// ErrTransport marks network-level failures talking to an exchange. Order
// placement is never retried on it; a timed-out order may still have filled,
// and retrying risks selling twice.
var ErrTransport = errors.New("exchange transport error")

// RejectionError is a business-level order rejection from the exchange, such
// as insufficient balance or an untradeable symbol.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected order (code %d): %s", e.Code, e.Message)
}

// OrderResult is the normalized outcome of a placed order.
type OrderResult struct {
	OrderID     string
	ExecutedQty float64
	AvgPrice    float64
}

// OrderGateway places sell orders on behalf of individual tenants. Credentials
// are supplied per call; the gateway itself holds no tenant state.
type OrderGateway interface {
	// Exchange names the venue this gateway executes on. Dispatch refuses to
	// send a holder's keys to a gateway for a different venue.
	Exchange() models.Exchange

	// PlaceSellOrder submits a market sell for quantity of symbol using the
	// given tenant credentials. One attempt only.
	PlaceSellOrder(ctx context.Context, keys vault.Keys, symbol string, quantity float64) (*OrderResult, error)

	// FormatQuantity floors quantity to the symbol's lot-size step. Returns an
	// error if the result would be below the exchange minimum.
	FormatQuantity(symbol string, quantity float64) (float64, error)
}
