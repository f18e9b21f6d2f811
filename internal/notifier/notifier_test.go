package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"trigger-vault-go/internal/config"
)

// setupNotifier creates a notifier pointed at a test server with fast backoff.
func setupNotifier(serverURL string, maxRetries int) *Notifier {
	cfg := &config.Webhook{
		OrchestratorURL: serverURL,
		HMACSecret:      "shared-secret",
		MaxRetries:      maxRetries,
		BackoffBaseMs:   1,
		TimeoutSeconds:  2,
		DefaultExchange: "BINANCE",
	}
	return NewNotifier(cfg, zap.NewNop())
}

func verifySignature(t *testing.T, body []byte, signature string) {
	h := hmac.New(sha256.New, []byte("shared-secret"))
	h.Write(body)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), signature)
}

func TestSend_RecoversAfterTransientFailure(t *testing.T) {
	// Arrange: first attempt fails with 500, second succeeds. Every attempt,
	// including the failed one, must carry a verifiable signature.
	var attempts int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		verifySignature(t, body, r.Header.Get(SignatureHeader))

		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	n := setupNotifier(server.URL, 3)

	// Act
	ok := n.Send(context.Background(), "/webhook/position/opened", PositionOpened{
		OrderID: "111", Symbol: "BTCUSDT", Exchange: "BINANCE", Timestamp: "2024-01-01T00:00:00Z",
	})

	// Assert
	assert.True(t, ok)
	assert.Equal(t, 2, attempts)
}

func TestSend_GivesUpAfterRetries(t *testing.T) {
	var attempts int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	n := setupNotifier(server.URL, 2)

	// Exhausting retries returns false; it never panics or errors upward.
	ok := n.Send(context.Background(), "/webhook/position/closed", PositionClosed{PositionID: "p-1"})

	assert.False(t, ok)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestSend_UnreachableHost(t *testing.T) {
	// Closed port: pure transport failure.
	n := setupNotifier("http://127.0.0.1:1", 1)

	ok := n.Send(context.Background(), "/webhook/order/cancelled", OrderCancelled{OrderID: "o-1"})

	assert.False(t, ok)
}

func TestNotifyWrappers_FillDefaults(t *testing.T) {
	var received PositionUpdated
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/position/updated", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		verifySignature(t, body, r.Header.Get(SignatureHeader))
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	n := setupNotifier(server.URL, 0)

	ok := n.NotifyPositionUpdated(context.Background(), PositionUpdated{
		PositionID: "p-7",
		Symbol:     "ETHUSDT",
		SoldQty:    0.5,
		SellPrice:  3000,
	})

	assert.True(t, ok)
	assert.Equal(t, "p-7", received.PositionID)
	assert.Equal(t, "BINANCE", received.Exchange) // default exchange applied
	assert.NotEmpty(t, received.Timestamp)        // timestamp filled in
}

func TestNotifyPositionOpened_RoutesCorrectly(t *testing.T) {
	var path string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	n := setupNotifier(server.URL, 0)

	ok := n.NotifyPositionOpened(context.Background(), PositionOpened{OrderID: "111"})

	assert.True(t, ok)
	assert.Equal(t, "/webhook/position/opened", path)
}

func TestHealthCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		})
		server := httptest.NewServer(handler)
		defer server.Close()
		n := setupNotifier(server.URL, 0)

		assert.NoError(t, n.HealthCheck(context.Background()))
	})

	t.Run("Unhealthy", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		server := httptest.NewServer(handler)
		defer server.Close()
		n := setupNotifier(server.URL, 0)

		assert.Error(t, n.HealthCheck(context.Background()))
	})
}
