package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trigger-vault-go/internal/exchange"
	"trigger-vault-go/internal/models"
	"trigger-vault-go/internal/positions"
	"trigger-vault-go/internal/vault"
)

// ErrUnauthorized is returned by Validate when secret verification is enabled
// and the trigger's webhook_secret does not match. Unlike business validation
// failures it maps to an HTTP auth error, not a 200 response.
var ErrUnauthorized = errors.New("trigger secret mismatch")

// Options tunes the executor's dispatch behavior.
type Options struct {
	// Workers bounds concurrent per-tenant dispatches. Fan-out is never one
	// goroutine per tenant; the shared exchange rate limit would not survive
	// the tenant count growing.
	Workers int

	// DispatchTimeout caps one tenant's credential lookup plus order placement.
	DispatchTimeout time.Duration

	// VerifySecret enables webhook_secret checking against Secret.
	VerifySecret bool
	Secret       string
}

// Executor fans an inbound trigger out into independent per-tenant sell
// dispatches. One Execute call is one request/response cycle; the executor
// keeps no state between invocations beyond the per-(tenant, symbol) locks.
type Executor struct {
	vault   *vault.Vault
	store   positions.Store
	gateway exchange.OrderGateway
	db      *gorm.DB
	opts    Options
	locks   *keyedMutex
	logger  *zap.Logger
}

// NewExecutor creates a trigger executor. db may be nil in tests that do not
// exercise trade-log persistence.
func NewExecutor(v *vault.Vault, store positions.Store, gateway exchange.OrderGateway, db *gorm.DB, opts Options, logger *zap.Logger) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	return &Executor{
		vault:   v,
		store:   store,
		gateway: gateway,
		db:      db,
		opts:    opts,
		locks:   newKeyedMutex(),
		logger:  logger.Named("executor"),
	}
}

// Validate rejects a malformed trigger before any side effect.
func (e *Executor) Validate(trigger *TriggerEvent) error {
	if e.opts.VerifySecret && trigger.WebhookSecret != e.opts.Secret {
		return ErrUnauthorized
	}
	if trigger.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !trigger.TriggerType.Valid() {
		return fmt.Errorf("unknown trigger type %q", trigger.TriggerType)
	}
	if trigger.QuantityPct <= 0 || trigger.QuantityPct > 1 {
		return fmt.Errorf("quantity_pct %v out of range (0,1]", trigger.QuantityPct)
	}
	if trigger.Exchange != "" && !trigger.Exchange.Valid() {
		return fmt.Errorf("unknown exchange %q", trigger.Exchange)
	}
	return nil
}

// Execute runs one full trigger cycle: validate, resolve holders, dispatch
// concurrently, aggregate. Validation failure (other than ErrUnauthorized,
// which the HTTP layer surfaces as 401) comes back as a zero-work response,
// never as an error.
func (e *Executor) Execute(ctx context.Context, trigger *TriggerEvent) (*TriggerResponse, error) {
	start := time.Now()

	if err := e.Validate(trigger); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		e.logger.Warn("Rejected invalid trigger",
			zap.String("symbol", trigger.Symbol),
			zap.String("trigger_type", string(trigger.TriggerType)),
			zap.Error(err))
		return &TriggerResponse{
			Success:          false,
			TriggerType:      trigger.TriggerType,
			Symbol:           trigger.Symbol,
			Message:          fmt.Sprintf("invalid trigger: %v", err),
			ExecutionDetails: []ExecutionResult{},
		}, nil
	}

	holders, err := e.store.HoldersOf(trigger.Symbol, trigger.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve holders: %w", err)
	}

	if len(holders) == 0 {
		e.logger.Info("No holders for trigger symbol", zap.String("symbol", trigger.Symbol))
		return &TriggerResponse{
			Success:          true,
			TriggerType:      trigger.TriggerType,
			Symbol:           trigger.Symbol,
			Message:          fmt.Sprintf("no users hold %s, nothing to do (%s)", trigger.Symbol, time.Since(start).Round(time.Millisecond)),
			ExecutionDetails: []ExecutionResult{},
		}, nil
	}

	results := e.dispatch(ctx, holders, trigger)

	return e.aggregate(trigger, results, start), nil
}

// dispatch runs one sell attempt per holder through a fixed-size worker pool.
// Results land in resolution order regardless of completion order.
func (e *Executor) dispatch(ctx context.Context, holders []positions.Holder, trigger *TriggerEvent) []ExecutionResult {
	results := make([]ExecutionResult, len(holders))

	type job struct {
		idx    int
		holder positions.Holder
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	workers := e.opts.Workers
	if workers > len(holders) {
		workers = len(holders)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx] = e.dispatchOne(ctx, j.holder, trigger)
			}
		}()
	}

	for i, h := range holders {
		jobs <- job{idx: i, holder: h}
	}
	close(jobs)
	wg.Wait()

	return results
}

// dispatchOne sells one tenant's share of the trigger. Every failure mode is
// converted into a failed ExecutionResult here; nothing propagates to the
// other tenants or to the aggregate response.
func (e *Executor) dispatchOne(ctx context.Context, holder positions.Holder, trigger *TriggerEvent) ExecutionResult {
	result := ExecutionResult{
		UserID:   holder.UserID,
		Exchange: holder.Exchange,
	}

	l := e.logger.With(
		zap.String("user_id", holder.UserID),
		zap.String("symbol", trigger.Symbol),
		zap.String("trigger_type", string(trigger.TriggerType)),
	)

	unlock := e.locks.Lock(holder.UserID + "|" + trigger.Symbol)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.opts.DispatchTimeout)
	defer cancel()

	// The gateway executes on exactly one venue; a holder on any other venue
	// must fail here rather than have its keys sent to the wrong exchange.
	if holder.Exchange != e.gateway.Exchange() {
		l.Warn("No gateway for holder's exchange", zap.String("exchange", string(holder.Exchange)))
		result.Error = fmt.Sprintf("no gateway for exchange %s", holder.Exchange)
		return result
	}

	keys, err := e.vault.GetDecrypted(holder.UserID, holder.Exchange)
	if err != nil {
		l.Error("Credential decryption failed", zap.Error(err))
		result.Error = fmt.Sprintf("credential error: %v", err)
		return result
	}
	if keys == nil {
		l.Warn("No active credential for holder")
		result.Error = "no active credential"
		return result
	}

	sellQty, err := e.gateway.FormatQuantity(trigger.Symbol, holder.Quantity*trigger.QuantityPct)
	if err != nil {
		l.Warn("Sell quantity below exchange minimum", zap.Error(err))
		result.Error = fmt.Sprintf("quantity error: %v", err)
		return result
	}

	order, err := e.gateway.PlaceSellOrder(ctx, *keys, trigger.Symbol, sellQty)
	if err != nil {
		l.Warn("Order placement failed", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.OrderID = order.OrderID
	result.Quantity = order.ExecutedQty
	result.Price = order.AvgPrice

	e.recordFill(holder, trigger, order, l)

	l.Info("Trigger sell executed",
		zap.String("order_id", order.OrderID),
		zap.Float64("executed_qty", order.ExecutedQty))
	return result
}

// recordFill persists the executed sell and shrinks the local position view.
// Bookkeeping failures are logged but do not fail the dispatch; the order is
// already on the exchange.
func (e *Executor) recordFill(holder positions.Holder, trigger *TriggerEvent, order *exchange.OrderResult, l *zap.Logger) {
	if e.db != nil {
		log := models.TradeLog{
			UserID:      holder.UserID,
			Exchange:    holder.Exchange,
			Symbol:      trigger.Symbol,
			TriggerType: string(trigger.TriggerType),
			OrderID:     order.OrderID,
			Quantity:    order.ExecutedQty,
			Price:       order.AvgPrice,
			Timestamp:   time.Now().Unix(),
		}
		if err := e.db.Create(&log).Error; err != nil {
			l.Error("Failed to save trade log", zap.Error(err))
		}
	}

	if err := e.store.Reduce(holder.UserID, trigger.Symbol, holder.Exchange, order.ExecutedQty); err != nil {
		l.Error("Failed to reduce position after fill", zap.Error(err))
	}
}

// aggregate folds the per-tenant results into the response breakdown. The
// counts always partition exactly: processed == sold + failed.
func (e *Executor) aggregate(trigger *TriggerEvent, results []ExecutionResult, start time.Time) *TriggerResponse {
	sold := 0
	for _, r := range results {
		if r.Success {
			sold++
		}
	}
	failed := len(results) - sold

	elapsed := time.Since(start)
	resp := &TriggerResponse{
		Success:          failed == 0,
		TriggerType:      trigger.TriggerType,
		Symbol:           trigger.Symbol,
		UsersProcessed:   len(results),
		UsersSold:        sold,
		UsersFailed:      failed,
		Message:          fmt.Sprintf("processed %d users (%d sold, %d failed) in %s", len(results), sold, failed, elapsed.Round(time.Millisecond)),
		ExecutionDetails: results,
	}

	e.logger.Info("Trigger processed",
		zap.String("symbol", trigger.Symbol),
		zap.String("trigger_type", string(trigger.TriggerType)),
		zap.Int("users_processed", resp.UsersProcessed),
		zap.Int("users_sold", resp.UsersSold),
		zap.Int("users_failed", resp.UsersFailed),
		zap.Duration("elapsed", elapsed))

	return resp
}
