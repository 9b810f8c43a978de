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
	"tryonx-checkout/internal/core/logger"
	"tryonx-checkout/internal/features/checkout/domain"

	"go.uber.org/zap"
)

// GatewayAdapter implements the PaymentGateway port against the external
// payment gateway's REST API. The gateway itself is redirect/callback driven;
// this adapter hides that behind a single awaited call: it initiates the
// charge, then polls the result endpoint until the gateway reports a terminal
// status. There is no overall deadline because the buyer may be authenticating
// in a bank or wallet app for an arbitrary amount of time; only ctx
// cancellation stops the wait.
type GatewayAdapter struct {
	// client is the HTTP client used for gateway requests. Each individual
	// request is bounded; the poll loop as a whole is not.
	client *http.Client
	// config holds the gateway connection details.
	config config.GatewayConfig
}

// NewGatewayAdapter creates a new instance of GatewayAdapter.
func NewGatewayAdapter(cfg config.GatewayConfig) *GatewayAdapter {
	return &GatewayAdapter{
		client: httpclient.NewClient(10 * time.Second),
		config: cfg,
	}
}

// Charge initiates a charge and awaits its terminal gateway result.
func (a *GatewayAdapter) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.GatewayResult, error) {
	if err := a.initiate(ctx, req); err != nil {
		return nil, err
	}

	interval := time.Duration(a.config.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}

	logger.Get().Info("awaiting gateway result",
		zap.String("merchant_order_ref", req.MerchantOrderRef),
		zap.Duration("poll_interval", interval),
	)

	for {
		result, terminal, err := a.poll(ctx, req.MerchantOrderRef)
		if err != nil {
			return nil, err
		}
		if terminal {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gateway await interrupted: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// initiate registers the charge with the gateway.
func (a *GatewayAdapter) initiate(ctx context.Context, req domain.ChargeRequest) error {
	body := gatewayChargeRequest{
		MerchantID:       a.config.MerchantID,
		Amount:           req.Amount,
		Method:           string(req.Method),
		MerchantOrderRef: req.MerchantOrderRef,
		BuyerContact:     req.BuyerContact,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL+"/api/payments", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create charge request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to initiate charge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned status %d on charge initiation", resp.StatusCode)
	}
	return nil
}

// poll fetches the current charge result. terminal is false while the gateway
// still reports the charge as pending.
func (a *GatewayAdapter) poll(ctx context.Context, merchantOrderRef string) (*domain.GatewayResult, bool, error) {
	url := fmt.Sprintf("%s/api/payments/%s?merchant_id=%s", a.config.URL, merchantOrderRef, a.config.MerchantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create poll request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		// A single failed poll is not a failed charge; keep waiting.
		logger.Get().Warn("gateway poll failed",
			zap.String("merchant_order_ref", merchantOrderRef),
			zap.Error(err),
		)
		return nil, false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Get().Warn("gateway poll returned unexpected status",
			zap.String("merchant_order_ref", merchantOrderRef),
			zap.Int("status", resp.StatusCode),
		)
		return nil, false, nil
	}

	var body gatewayResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("failed to decode gateway result: %w", err)
	}

	switch body.Status {
	case "PENDING":
		return nil, false, nil
	case string(domain.GatewayStatusSuccess), string(domain.GatewayStatusFailure), string(domain.GatewayStatusCancelled):
		return &domain.GatewayResult{
			TransactionID:    body.TransactionID,
			MerchantOrderRef: body.MerchantOrderRef,
			Status:           domain.GatewayStatus(body.Status),
			FailReason:       body.FailReason,
		}, true, nil
	default:
		return nil, false, fmt.Errorf("gateway reported unknown status: %s", body.Status)
	}
}

// setHeaders applies the merchant credential.
func (a *GatewayAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.APISecret)
}

// internal structs for mapping

// gatewayChargeRequest is the JSON body for charge initiation.
type gatewayChargeRequest struct {
	MerchantID       string `json:"merchant_id"`
	Amount           int64  `json:"amount"`
	Method           string `json:"method"`
	MerchantOrderRef string `json:"merchant_order_ref"`
	BuyerContact     string `json:"buyer_contact,omitempty"`
}

// gatewayResultResponse is the gateway's charge result body.
type gatewayResultResponse struct {
	// TransactionID is the gateway transaction identifier, set once resolved.
	TransactionID string `json:"transaction_id"`
	// MerchantOrderRef echoes the reference this result belongs to.
	MerchantOrderRef string `json:"merchant_order_ref"`
	// Status is PENDING, SUCCESS, FAILURE or CANCELLED.
	Status string `json:"status"`
	// FailReason is the gateway's failure description, if any.
	FailReason string `json:"fail_reason,omitempty"`
}
