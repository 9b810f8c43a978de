package domain

import (
	"errors"
	"fmt"
	"time"
)

// State represents the current phase of a checkout attempt.
type State string

const (
	// StateIdle indicates no checkout attempt exists yet.
	StateIdle State = "IDLE"
	// StatePreviewLoading indicates the pricing preview is being fetched.
	StatePreviewLoading State = "PREVIEW_LOADING"
	// StatePreviewReady indicates the preview snapshot arrived and points default to zero.
	StatePreviewReady State = "PREVIEW_READY"
	// StateAwaitingPaymentSelection indicates the buyer is editing points or payment method.
	StateAwaitingPaymentSelection State = "AWAITING_PAYMENT_SELECTION"
	// StateAwaitingGatewayResult indicates control was handed to the payment gateway.
	// This phase has no timeout: the buyer may be authenticating in a third-party app.
	StateAwaitingGatewayResult State = "AWAITING_GATEWAY_RESULT"
	// StateVerifying indicates the gateway result is being verified against the shop backend.
	StateVerifying State = "VERIFYING"
	// StateCreatingOrder indicates the verified transaction is being turned into an order.
	StateCreatingOrder State = "CREATING_ORDER"
	// StateCompleted indicates the order was created. Terminal.
	StateCompleted State = "COMPLETED"

	// StatePreviewFailed indicates the pricing preview call failed. Terminal, retryable
	// by starting the checkout again.
	StatePreviewFailed State = "PREVIEW_FAILED"
	// StateGatewayFailed indicates the gateway declined, the buyer cancelled, or the
	// gateway result did not belong to this attempt. Terminal for this attempt; a new
	// payment requires a fresh merchant order reference.
	StateGatewayFailed State = "GATEWAY_FAILED"
	// StateVerificationFailed indicates the gateway result could not be trusted.
	// Terminal and fatal: order creation must never run on an unverified charge.
	StateVerificationFailed State = "VERIFICATION_FAILED"
	// StateOrderCreationFailed indicates the charge is verified but the order was not
	// recorded. The verified transaction reference is kept so creation can be retried
	// without charging again.
	StateOrderCreationFailed State = "ORDER_CREATION_FAILED"
)

// IsTerminal reports whether the state ends the attempt's forward progress.
// OrderCreationFailed is terminal for the pipeline but still accepts manual
// order-creation retries.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StatePreviewFailed, StateGatewayFailed, StateVerificationFailed, StateOrderCreationFailed:
		return true
	}
	return false
}

// Editable reports whether points and payment method may still be changed.
func (s State) Editable() bool {
	return s == StatePreviewReady || s == StateAwaitingPaymentSelection
}

// PaymentMethod identifies how the settlement amount is charged.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET_PAY"
)

// IsValid reports whether the method is one the gateway integration supports.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCard || m == PaymentMethodWallet
}

// GatewayStatus is the outcome reported by the payment gateway for a charge.
type GatewayStatus string

const (
	GatewayStatusSuccess   GatewayStatus = "SUCCESS"
	GatewayStatusFailure   GatewayStatus = "FAILURE"
	GatewayStatusCancelled GatewayStatus = "CANCELLED"
)

// OrderLine is a single frozen cart line. Lines are immutable once a checkout
// attempt starts; edits restart the flow.
type OrderLine struct {
	// ItemID identifies the catalog item.
	ItemID string `json:"item_id"`
	// VariantKey identifies the purchased variant (e.g., size).
	VariantKey string `json:"variant_key"`
	// Quantity is the number of units, always >= 1.
	Quantity int `json:"quantity"`
}

// ErrInvalidLines is returned when a checkout starts with no lines or a line
// with a non-positive quantity.
var ErrInvalidLines = errors.New("order lines are empty or contain an invalid quantity")

// ValidateLines checks the frozen line selection before a checkout starts.
func ValidateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return ErrInvalidLines
	}
	for _, line := range lines {
		if line.ItemID == "" || line.Quantity < 1 {
			return ErrInvalidLines
		}
	}
	return nil
}

// OrderPreview is the server-produced pricing snapshot for one checkout attempt.
// It is read-only: prices are never re-derived client-side, to avoid drift
// against the catalog.
type OrderPreview struct {
	// Lines echoes the priced selection.
	Lines []OrderLine `json:"lines"`
	// TotalAmount is the pre-discount total in minor currency units.
	TotalAmount int64 `json:"total_amount"`
	// DiscountAmount is the total applied discount in minor currency units.
	DiscountAmount int64 `json:"discount_amount"`
	// FinalAmount is the payable amount before point redemption.
	FinalAmount int64 `json:"final_amount"`
	// ExpectedPointsEarned is the loyalty reward for completing this order.
	ExpectedPointsEarned int64 `json:"expected_points_earned"`
	// BuyerPointBalance is the buyer's redeemable point balance.
	BuyerPointBalance int64 `json:"buyer_point_balance"`
	// BuyerContact is the contact handed to the gateway (e.g., phone or email).
	BuyerContact string `json:"buyer_contact"`
}

// Credential authenticates collaborator calls on behalf of the buyer.
// It is threaded explicitly into each call instead of living in ambient state.
type Credential struct {
	// BearerToken is the buyer's session token.
	BearerToken string
}

// ChargeRequest is handed to the payment gateway when the buyer submits payment.
type ChargeRequest struct {
	// Amount is the settlement amount in minor units: finalAmount - pointsUsed.
	Amount int64 `json:"amount"`
	// Method is the selected payment method.
	Method PaymentMethod `json:"method"`
	// MerchantOrderRef is the idempotency key minted for this attempt.
	MerchantOrderRef string `json:"merchant_order_ref"`
	// BuyerContact identifies the buyer to the gateway.
	BuyerContact string `json:"buyer_contact"`
}

// GatewayResult is the terminal outcome of a gateway charge.
type GatewayResult struct {
	// TransactionID is the gateway-side transaction identifier.
	TransactionID string `json:"transaction_id"`
	// MerchantOrderRef must echo the reference from the charge request; a
	// mismatch marks the result as belonging to another (stale) attempt.
	MerchantOrderRef string `json:"merchant_order_ref"`
	// Status is the gateway outcome.
	Status GatewayStatus `json:"status"`
	// FailReason carries the gateway's failure description, if any.
	FailReason string `json:"fail_reason,omitempty"`
}

// VerifyRequest asks the shop backend to confirm a gateway transaction is
// genuine, for the expected amount, and not yet consumed.
type VerifyRequest struct {
	TransactionID    string `json:"transaction_id"`
	MerchantOrderRef string `json:"merchant_order_ref"`
	// ExpectedAmount is the settlement amount this client believes was charged.
	ExpectedAmount int64 `json:"expected_amount"`
}

// CreateOrderRequest carries the frozen attempt data to the order endpoint.
// Safe to repeat with identical content: the backend deduplicates on
// MerchantOrderRef.
type CreateOrderRequest struct {
	Lines               []OrderLine   `json:"lines"`
	FinalAmount         int64         `json:"final_amount"`
	PointsUsed          int64         `json:"points_used"`
	PaymentMethod       PaymentMethod `json:"payment_method"`
	DeliveryInstruction string        `json:"delivery_instruction,omitempty"`
	TransactionID       string        `json:"transaction_id"`
	MerchantOrderRef    string        `json:"merchant_order_ref"`
}

// VerificationKind classifies why settlement verification failed.
type VerificationKind string

const (
	// VerificationNotFound: the backend does not know the transaction.
	VerificationNotFound VerificationKind = "NOT_FOUND"
	// VerificationAmountMismatch: the charged amount differs from the expected one.
	VerificationAmountMismatch VerificationKind = "AMOUNT_MISMATCH"
	// VerificationAlreadyConsumed: the transaction was already used, likely a
	// duplicate callback; the order may exist under a prior attempt.
	VerificationAlreadyConsumed VerificationKind = "ALREADY_CONSUMED"
	// VerificationNetworkError: the verification call itself failed.
	VerificationNetworkError VerificationKind = "NETWORK_ERROR"
)

// VerificationError is a typed settlement-verification failure. All kinds drive
// the state machine to VerificationFailed; the kind survives for diagnostics.
type VerificationError struct {
	Kind   VerificationKind
	Detail string
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("settlement verification failed: %s", e.Kind)
	}
	return fmt.Sprintf("settlement verification failed (%s): %s", e.Kind, e.Detail)
}

// MoneyState says what is known about whether the buyer was charged. Terminal
// failure messaging depends on it: a buyer must never assume "failed" means
// "not charged" and purchase twice.
type MoneyState string

const (
	MoneyNotMoved MoneyState = "NOT_MOVED"
	MoneyMoved    MoneyState = "MOVED"
	MoneyUnknown  MoneyState = "UNKNOWN"
)

// FailedStep names the pipeline step a terminal failure occurred in.
type FailedStep string

const (
	StepPreview       FailedStep = "PREVIEW"
	StepGateway       FailedStep = "GATEWAY"
	StepVerification  FailedStep = "VERIFICATION"
	StepOrderCreation FailedStep = "ORDER_CREATION"
)

// FailureInfo carries everything user messaging and support diagnostics need
// about a terminal failure. TransactionID and MerchantOrderRef are kept until
// the buyer explicitly leaves checkout.
type FailureInfo struct {
	// Step is the pipeline step that failed.
	Step FailedStep `json:"step"`
	// Reason is a short human-readable description.
	Reason string `json:"reason"`
	// VerificationKind is set when Step is VERIFICATION.
	VerificationKind VerificationKind `json:"verification_kind,omitempty"`
	// TransactionID is the gateway transaction, when one exists.
	TransactionID string `json:"transaction_id,omitempty"`
	// MerchantOrderRef is this attempt's idempotency key.
	MerchantOrderRef string `json:"merchant_order_ref,omitempty"`
	// Money states whether the buyer is known to have been charged.
	Money MoneyState `json:"money"`
	// RetriesExhausted is set when automatic order-creation retries ran out;
	// the buyer should contact support with the transaction ID.
	RetriesExhausted bool `json:"retries_exhausted,omitempty"`
}

// AttemptEvent is one entry in the attempt's step log.
type AttemptEvent struct {
	// Step is the pipeline step the event belongs to.
	Step FailedStep `json:"step"`
	// Outcome is a short result tag (e.g. "ok", "timeout", "mismatched_ref").
	Outcome string `json:"outcome"`
	// At is when the event was recorded.
	At time.Time `json:"at"`
}

// Snapshot is the read-only view of a checkout attempt exposed to the UI.
type Snapshot struct {
	// CartID identifies the cart this attempt belongs to.
	CartID string `json:"cart_id"`
	// State is the current state machine phase.
	State State `json:"state"`
	// Preview is the pricing snapshot, once loaded.
	Preview *OrderPreview `json:"preview,omitempty"`
	// PointsUsed is the currently applied point redemption.
	PointsUsed int64 `json:"points_used"`
	// PointsClamped is set when the last points edit was clamped to a bound.
	PointsClamped bool `json:"points_clamped,omitempty"`
	// SettlementAmount is finalAmount - pointsUsed, always >= 0.
	SettlementAmount int64 `json:"settlement_amount"`
	// PaymentMethod is the selected method, empty until chosen.
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	// MerchantOrderRef is this attempt's idempotency key, once minted.
	MerchantOrderRef string `json:"merchant_order_ref,omitempty"`
	// OrderID is set once the order is created.
	OrderID string `json:"order_id,omitempty"`
	// Failure describes the terminal failure, if any.
	Failure *FailureInfo `json:"failure,omitempty"`
	// Events is the attempt's step log, oldest first.
	Events []AttemptEvent `json:"events,omitempty"`
}

// AttemptRecord is the archived form of a terminal attempt, kept for support
// lookups and manual reconciliation, keyed by MerchantOrderRef.
type AttemptRecord struct {
	CartID           string         `json:"cart_id"`
	MerchantOrderRef string         `json:"merchant_order_ref"`
	TransactionID    string         `json:"transaction_id,omitempty"`
	State            State          `json:"state"`
	Failure          *FailureInfo   `json:"failure,omitempty"`
	PointsUsed       int64          `json:"points_used"`
	SettlementAmount int64          `json:"settlement_amount"`
	OrderID          string         `json:"order_id,omitempty"`
	PaymentMethod    PaymentMethod  `json:"payment_method,omitempty"`
	Events           []AttemptEvent `json:"events,omitempty"`
	ArchivedAt       time.Time      `json:"archived_at"`
}
