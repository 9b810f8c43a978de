package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tryonx-checkout/internal/core/config"
	"tryonx-checkout/internal/core/httpclient"
	"tryonx-checkout/internal/features/checkout/domain"
)

// ShopAPIAdapter talks to the shop backend. It implements the PreviewProvider,
// SettlementVerifier and OrderCreator ports against the backend's REST API.
type ShopAPIAdapter struct {
	// client is the HTTP client used for API requests.
	client *http.Client
	// config holds the shop backend connection details.
	config config.ShopConfig
}

// NewShopAPIAdapter creates a new instance of ShopAPIAdapter.
func NewShopAPIAdapter(cfg config.ShopConfig) *ShopAPIAdapter {
	return &ShopAPIAdapter{
		client: httpclient.NewClient(10 * time.Second),
		config: cfg,
	}
}

// GetPreview fetches the server-priced order preview for the given lines.
func (a *ShopAPIAdapter) GetPreview(ctx context.Context, cred domain.Credential, lines []domain.OrderLine) (*domain.OrderPreview, error) {
	body := shopPreviewRequest{Lines: toWireLines(lines)}

	var resp shopPreviewResponse
	if err := a.post(ctx, cred, "/api/v1/orders/preview", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch order preview: %w", err)
	}

	return &domain.OrderPreview{
		Lines:                lines,
		TotalAmount:          resp.TotalAmount,
		DiscountAmount:       resp.DiscountAmount,
		FinalAmount:          resp.FinalAmount,
		ExpectedPointsEarned: resp.ExpectedPointsEarned,
		BuyerPointBalance:    resp.BuyerPointBalance,
		BuyerContact:         resp.BuyerContact,
	}, nil
}

// Verify asks the backend to confirm a gateway transaction is genuine, matches
// the expected amount, and has not been consumed by a prior order. Failures
// are returned as typed *domain.VerificationError values.
func (a *ShopAPIAdapter) Verify(ctx context.Context, cred domain.Credential, req domain.VerifyRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return &domain.VerificationError{Kind: domain.VerificationNetworkError, Detail: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL+"/api/v1/payments/verify", bytes.NewReader(payload))
	if err != nil {
		return &domain.VerificationError{Kind: domain.VerificationNetworkError, Detail: err.Error()}
	}
	a.setHeaders(httpReq, cred)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return &domain.VerificationError{Kind: domain.VerificationNetworkError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var failure shopErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
		return &domain.VerificationError{
			Kind:   domain.VerificationNetworkError,
			Detail: fmt.Sprintf("verify returned status %d", resp.StatusCode),
		}
	}
	return &domain.VerificationError{Kind: verificationKindFromCode(failure.Code), Detail: failure.Message}
}

// CreateOrder creates the order on the backend and returns the order ID.
// The backend deduplicates on the merchant order reference, so repeating an
// identical request is safe.
func (a *ShopAPIAdapter) CreateOrder(ctx context.Context, cred domain.Credential, req domain.CreateOrderRequest) (string, error) {
	body := shopCreateOrderRequest{
		Lines:               toWireLines(req.Lines),
		FinalAmount:         req.FinalAmount,
		PointsUsed:          req.PointsUsed,
		PaymentMethod:       string(req.PaymentMethod),
		DeliveryInstruction: req.DeliveryInstruction,
		TransactionID:       req.TransactionID,
		MerchantOrderRef:    req.MerchantOrderRef,
	}

	var resp shopCreateOrderResponse
	if err := a.post(ctx, cred, "/api/v1/orders", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create order: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("backend returned an empty order id")
	}
	return resp.OrderID, nil
}

// HealthCheck verifies that the shop backend is reachable and the API key is valid.
func (a *ShopAPIAdapter) HealthCheck() error {
	req, err := http.NewRequest(http.MethodGet, a.config.URL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", a.config.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// post executes an authenticated JSON POST and decodes a 2xx response into out.
func (a *ShopAPIAdapter) post(ctx context.Context, cred domain.Credential, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(req, cred)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("shop API returned status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// setHeaders applies the API key and the buyer's explicitly threaded credential.
func (a *ShopAPIAdapter) setHeaders(req *http.Request, cred domain.Credential) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.config.APIKey)
	if cred.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.BearerToken)
	}
}

// verificationKindFromCode maps backend error codes to verification kinds.
func verificationKindFromCode(code string) domain.VerificationKind {
	switch code {
	case "NOT_FOUND":
		return domain.VerificationNotFound
	case "AMOUNT_MISMATCH":
		return domain.VerificationAmountMismatch
	case "ALREADY_CONSUMED":
		return domain.VerificationAlreadyConsumed
	default:
		return domain.VerificationNetworkError
	}
}

// internal structs for mapping

// shopPreviewRequest is the JSON body for the preview endpoint.
type shopPreviewRequest struct {
	Lines []shopOrderLine `json:"lines"`
}

// shopPreviewResponse represents the backend's pricing snapshot.
type shopPreviewResponse struct {
	// TotalAmount is the pre-discount total in minor units.
	TotalAmount int64 `json:"total_amount"`
	// DiscountAmount is the applied discount in minor units.
	DiscountAmount int64 `json:"discount_amount"`
	// FinalAmount is the payable amount before point redemption.
	FinalAmount int64 `json:"final_amount"`
	// ExpectedPointsEarned is the loyalty reward for the order.
	ExpectedPointsEarned int64 `json:"expected_points_earned"`
	// BuyerPointBalance is the buyer's redeemable point balance.
	BuyerPointBalance int64 `json:"buyer_point_balance"`
	// BuyerContact is the buyer contact handed to the gateway.
	BuyerContact string `json:"buyer_contact"`
}

// shopOrderLine is the wire form of an order line.
type shopOrderLine struct {
	ItemID     string `json:"item_id"`
	VariantKey string `json:"variant_key"`
	Quantity   int    `json:"quantity"`
}

// shopCreateOrderRequest is the JSON body for the order creation endpoint.
type shopCreateOrderRequest struct {
	Lines               []shopOrderLine `json:"lines"`
	FinalAmount         int64           `json:"final_amount"`
	PointsUsed          int64           `json:"points_used"`
	PaymentMethod       string          `json:"payment_method"`
	DeliveryInstruction string          `json:"delivery_instruction,omitempty"`
	TransactionID       string          `json:"transaction_id"`
	MerchantOrderRef    string          `json:"merchant_order_ref"`
}

// shopCreateOrderResponse carries the backend-assigned order identifier.
type shopCreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

// shopErrorResponse is the backend's error body.
type shopErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toWireLines converts domain lines to their wire form.
func toWireLines(lines []domain.OrderLine) []shopOrderLine {
	wire := make([]shopOrderLine, 0, len(lines))
	for _, line := range lines {
		wire = append(wire, shopOrderLine{
			ItemID:     line.ItemID,
			VariantKey: line.VariantKey,
			Quantity:   line.Quantity,
		})
	}
	return wire
}
