package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"trigger-vault-go/internal/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body so the
// orchestrator can authenticate the sender.
const SignatureHeader = "X-Webhook-Signature"

// Notifier delivers position lifecycle events to the external orchestrator
// over signed, retried HTTP. Delivery is best-effort: after the retry budget
// is spent the event is logged and dropped, and the caller is never failed.
//
// All retry state lives inside a single Send call; the Notifier itself holds
// only configuration, so independent instances can coexist.
type Notifier struct {
	client          *resty.Client
	secret          []byte
	maxRetries      int
	backoffBase     time.Duration
	defaultExchange string
	logger          *zap.Logger
}

// NewNotifier creates a webhook notifier for the configured orchestrator.
func NewNotifier(cfg *config.Webhook, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetBaseURL(cfg.OrchestratorURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	return &Notifier{
		client:          client,
		secret:          []byte(cfg.HMACSecret),
		maxRetries:      cfg.MaxRetries,
		backoffBase:     time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		defaultExchange: cfg.DefaultExchange,
		logger:          logger.Named("notifier"),
	}
}

// sign computes the hex HMAC-SHA256 of the exact bytes being posted.
func (n *Notifier) sign(body []byte) string {
	h := hmac.New(sha256.New, n.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Send posts payload to path, retrying on non-2xx and transport failures with
// exponential backoff. Returns true once a 2xx is received, false when every
// attempt failed. Every attempt carries the signature header, including the
// ones that fail.
func (n *Notifier) Send(ctx context.Context, path string, payload interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to marshal webhook payload", zap.String("path", path), zap.Error(err))
		return false
	}
	signature := n.sign(body)

	attempts := n.maxRetries + 1
	delay := n.backoffBase
	for i := 0; i < attempts; i++ {
		resp, err := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader(SignatureHeader, signature).
			SetBody(body).
			Post(path)

		if err == nil && resp.IsSuccess() {
			n.logger.Debug("Webhook delivered",
				zap.String("path", path),
				zap.Int("attempt", i+1))
			return true
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		n.logger.Warn("Webhook delivery failed",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Int("status", status),
			zap.Error(err))

		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			n.logger.Warn("Webhook delivery abandoned", zap.String("path", path), zap.Error(ctx.Err()))
			return false
		}
	}

	n.logger.Error("Webhook delivery gave up after retries",
		zap.String("path", path),
		zap.Int("attempts", attempts))
	return false
}

// NotifyPositionOpened reports a newly opened position.
func (n *Notifier) NotifyPositionOpened(ctx context.Context, p PositionOpened) bool {
	n.fillDefaults(&p.Exchange, &p.Timestamp)
	return n.Send(ctx, "/webhook/position/opened", p)
}

// NotifyPositionUpdated reports a partial exit or size change.
func (n *Notifier) NotifyPositionUpdated(ctx context.Context, p PositionUpdated) bool {
	n.fillDefaults(&p.Exchange, &p.Timestamp)
	return n.Send(ctx, "/webhook/position/updated", p)
}

// NotifyPositionClosed reports a fully exited position.
func (n *Notifier) NotifyPositionClosed(ctx context.Context, p PositionClosed) bool {
	n.fillDefaults(&p.Exchange, &p.Timestamp)
	return n.Send(ctx, "/webhook/position/closed", p)
}

// NotifyOrderCancelled reports a cancelled working order.
func (n *Notifier) NotifyOrderCancelled(ctx context.Context, p OrderCancelled) bool {
	n.fillDefaults(&p.Exchange, &p.Timestamp)
	return n.Send(ctx, "/webhook/order/cancelled", p)
}

// HealthCheck probes orchestrator reachability. Diagnostic only; callers must
// not gate behavior on it.
func (n *Notifier) HealthCheck(ctx context.Context) error {
	resp, err := n.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("orchestrator unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("orchestrator health check returned %s", resp.Status())
	}
	return nil
}

func (n *Notifier) fillDefaults(exchange *string, timestamp *string) {
	if *exchange == "" {
		*exchange = n.defaultExchange
	}
	if *timestamp == "" {
		*timestamp = time.Now().UTC().Format(time.RFC3339)
	}
}
