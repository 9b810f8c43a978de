package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tryonx-checkout/internal/core/config"
	"tryonx-checkout/internal/features/checkout/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShopAdapter(url string) *ShopAPIAdapter {
	return NewShopAPIAdapter(config.ShopConfig{URL: url, APIKey: "test_key"})
}

// TestShopAPIAdapter_GetPreview verifies the preview call and response mapping.
func TestShopAPIAdapter_GetPreview(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/orders/preview", r.URL.Path)
		assert.Equal(t, "test_key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Bearer buyer_token", r.Header.Get("Authorization"))

		var req shopPreviewRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Lines, 1)
		assert.Equal(t, "item-1", req.Lines[0].ItemID)

		json.NewEncoder(w).Encode(shopPreviewResponse{
			TotalAmount:          50000,
			DiscountAmount:       5000,
			FinalAmount:          45000,
			ExpectedPointsEarned: 450,
			BuyerPointBalance:    5000,
			BuyerContact:         "buyer@example.com",
		})
	}))
	defer ts.Close()

	adapter := testShopAdapter(ts.URL)
	lines := []domain.OrderLine{{ItemID: "item-1", VariantKey: "M", Quantity: 2}}

	preview, err := adapter.GetPreview(context.Background(), domain.Credential{BearerToken: "buyer_token"}, lines)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), preview.FinalAmount)
	assert.Equal(t, int64(5000), preview.BuyerPointBalance)
	assert.Equal(t, lines, preview.Lines)
}

// TestShopAPIAdapter_GetPreview_ServerError verifies non-2xx handling.
func TestShopAPIAdapter_GetPreview_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	adapter := testShopAdapter(ts.URL)
	_, err := adapter.GetPreview(context.Background(), domain.Credential{}, []domain.OrderLine{{ItemID: "i", Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch order preview")
}

// TestShopAPIAdapter_Verify_Success verifies a clean verification.
func TestShopAPIAdapter_Verify_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/verify", r.URL.Path)

		var req domain.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "txn-001", req.TransactionID)
		assert.Equal(t, int64(40000), req.ExpectedAmount)

		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	adapter := testShopAdapter(ts.URL)
	err := adapter.Verify(context.Background(), domain.Credential{}, domain.VerifyRequest{
		TransactionID:    "txn-001",
		MerchantOrderRef: "ref-001",
		ExpectedAmount:   40000,
	})
	assert.NoError(t, err)
}

// TestShopAPIAdapter_Verify_TypedFailures verifies backend code mapping.
func TestShopAPIAdapter_Verify_TypedFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		wantKind domain.VerificationKind
	}{
		{"not found", http.StatusNotFound, "NOT_FOUND", domain.VerificationNotFound},
		{"amount mismatch", http.StatusConflict, "AMOUNT_MISMATCH", domain.VerificationAmountMismatch},
		{"already consumed", http.StatusConflict, "ALREADY_CONSUMED", domain.VerificationAlreadyConsumed},
		{"unknown code", http.StatusBadGateway, "SOMETHING_ELSE", domain.VerificationNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(shopErrorResponse{Code: tt.code, Message: "verification rejected"})
			}))
			defer ts.Close()

			adapter := testShopAdapter(ts.URL)
			err := adapter.Verify(context.Background(), domain.Credential{}, domain.VerifyRequest{})
			require.Error(t, err)

			var verr *domain.VerificationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantKind, verr.Kind)
		})
	}
}

// TestShopAPIAdapter_Verify_TransportError verifies that dial failures map to
// the network-error kind.
func TestShopAPIAdapter_Verify_TransportError(t *testing.T) {
	adapter := testShopAdapter("http://invalid-host-that-does-not-exist.local")
	err := adapter.Verify(context.Background(), domain.Credential{}, domain.VerifyRequest{})
	require.Error(t, err)

	var verr *domain.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.VerificationNetworkError, verr.Kind)
}

// TestShopAPIAdapter_CreateOrder verifies creation and backend idempotency:
// repeating the identical request yields the same order.
func TestShopAPIAdapter_CreateOrder(t *testing.T) {
	created := make(map[string]string)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders", r.URL.Path)

		var req shopCreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "txn-001", req.TransactionID)

		// Stub backend deduplicates on the merchant order reference.
		if _, ok := created[req.MerchantOrderRef]; !ok {
			created[req.MerchantOrderRef] = "order-42"
		}
		json.NewEncoder(w).Encode(shopCreateOrderResponse{OrderID: created[req.MerchantOrderRef]})
	}))
	defer ts.Close()

	adapter := testShopAdapter(ts.URL)
	req := domain.CreateOrderRequest{
		Lines:            []domain.OrderLine{{ItemID: "item-1", Quantity: 1}},
		FinalAmount:      45000,
		PointsUsed:       5000,
		PaymentMethod:    domain.PaymentMethodCard,
		TransactionID:    "txn-001",
		MerchantOrderRef: "ref-001",
	}

	first, err := adapter.CreateOrder(context.Background(), domain.Credential{}, req)
	require.NoError(t, err)
	second, err := adapter.CreateOrder(context.Background(), domain.Credential{}, req)
	require.NoError(t, err)

	assert.Equal(t, "order-42", first)
	assert.Equal(t, first, second, "identical retries must resolve to the same order")
}

// TestShopAPIAdapter_CreateOrder_EmptyID verifies rejection of malformed responses.
func TestShopAPIAdapter_CreateOrder_EmptyID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(shopCreateOrderResponse{})
	}))
	defer ts.Close()

	adapter := testShopAdapter(ts.URL)
	_, err := adapter.CreateOrder(context.Background(), domain.Credential{}, domain.CreateOrderRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty order id")
}

// TestShopAPIAdapter_HealthCheck verifies the startup health probe.
func TestShopAPIAdapter_HealthCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	assert.NoError(t, testShopAdapter(ts.URL).HealthCheck())
	assert.Error(t, testShopAdapter("http://invalid-host-that-does-not-exist.local").HealthCheck())
}
