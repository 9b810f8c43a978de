package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tryonx-checkout/internal/core/config"
	"tryonx-checkout/internal/features/checkout/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGatewayAdapter(url string) *GatewayAdapter {
	return NewGatewayAdapter(config.GatewayConfig{
		URL:            url,
		MerchantID:     "merchant-1",
		APISecret:      "secret",
		PollIntervalMs: 10,
	})
}

// TestGatewayAdapter_Charge_SuccessAfterPending verifies the initiate-then-poll
// flow: the adapter keeps polling while the charge is pending and returns once
// the gateway reports a terminal status.
func TestGatewayAdapter_Charge_SuccessAfterPending(t *testing.T) {
	var polls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if r.Method == http.MethodPost {
			assert.Equal(t, "/api/payments", r.URL.Path)

			var req gatewayChargeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "merchant-1", req.MerchantID)
			assert.Equal(t, int64(40000), req.Amount)

			w.WriteHeader(http.StatusAccepted)
			return
		}

		assert.Equal(t, "/api/payments/ref-001", r.URL.Path)
		assert.Equal(t, "merchant-1", r.URL.Query().Get("merchant_id"))

		// Report pending twice before resolving.
		if atomic.AddInt64(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(gatewayResultResponse{Status: "PENDING"})
			return
		}
		json.NewEncoder(w).Encode(gatewayResultResponse{
			TransactionID:    "txn-001",
			MerchantOrderRef: "ref-001",
			Status:           "SUCCESS",
		})
	}))
	defer ts.Close()

	adapter := testGatewayAdapter(ts.URL)
	result, err := adapter.Charge(context.Background(), domain.ChargeRequest{
		Amount:           40000,
		Method:           domain.PaymentMethodCard,
		MerchantOrderRef: "ref-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-001", result.TransactionID)
	assert.Equal(t, "ref-001", result.MerchantOrderRef)
	assert.Equal(t, domain.GatewayStatusSuccess, result.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&polls), int64(3))
}

// TestGatewayAdapter_Charge_Declined verifies terminal failures come back as a
// result, not an error: a declined charge is a normal gateway outcome.
func TestGatewayAdapter_Charge_Declined(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(gatewayResultResponse{
			MerchantOrderRef: "ref-002",
			Status:           "FAILURE",
			FailReason:       "insufficient funds",
		})
	}))
	defer ts.Close()

	adapter := testGatewayAdapter(ts.URL)
	result, err := adapter.Charge(context.Background(), domain.ChargeRequest{MerchantOrderRef: "ref-002"})
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayStatusFailure, result.Status)
	assert.Equal(t, "insufficient funds", result.FailReason)
}

// TestGatewayAdapter_Charge_InitiationRejected verifies initiation errors abort
// the charge before any polling starts.
func TestGatewayAdapter_Charge_InitiationRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	adapter := testGatewayAdapter(ts.URL)
	_, err := adapter.Charge(context.Background(), domain.ChargeRequest{MerchantOrderRef: "ref-003"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

// TestGatewayAdapter_Charge_ContextCancelled verifies cancellation is the only
// way out of the await loop while the charge stays pending.
func TestGatewayAdapter_Charge_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(gatewayResultResponse{Status: "PENDING"})
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	adapter := testGatewayAdapter(ts.URL)
	_, err := adapter.Charge(ctx, domain.ChargeRequest{MerchantOrderRef: "ref-004"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestGatewayAdapter_Charge_UnknownStatus verifies that an unrecognized status
// is surfaced instead of being silently treated as pending.
func TestGatewayAdapter_Charge_UnknownStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(gatewayResultResponse{Status: "EXPLODED"})
	}))
	defer ts.Close()

	adapter := testGatewayAdapter(ts.URL)
	_, err := adapter.Charge(context.Background(), domain.ChargeRequest{MerchantOrderRef: "ref-005"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}
