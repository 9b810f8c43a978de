package ports

import (
	"context"
	"time"

	"tryonx-checkout/internal/features/checkout/domain"
)

// CheckoutService defines the primary port exposed to the UI layer. One active
// attempt exists per cart; all reads return an immutable snapshot.
type CheckoutService interface {
	// StartCheckout freezes the line selection, fetches the pricing preview and
	// seeds pointsUsed to zero. Restarting is allowed until payment submission.
	StartCheckout(ctx context.Context, cred domain.Credential, cartID, deliveryInstruction string, lines []domain.OrderLine) (domain.Snapshot, error)

	// SetPointsUsed applies a point redemption, clamping to the nearest valid
	// bound. Pure local recomputation; no network call.
	SetPointsUsed(cartID string, points int64) (domain.Snapshot, error)

	// SetPaymentMethod selects how the settlement amount is charged.
	SetPaymentMethod(cartID string, method domain.PaymentMethod) (domain.Snapshot, error)

	// SubmitPayment mints a fresh merchant order reference and runs the
	// gateway -> verify -> create-order pipeline to a terminal state. The
	// pipeline is detached from ctx cancellation once the gateway holds the
	// charge, so navigating away never orphans a paid transaction.
	SubmitPayment(ctx context.Context, cartID string) (domain.Snapshot, error)

	// RetryOrderCreation re-runs order creation with the already-verified
	// transaction reference. It never re-invokes the gateway.
	RetryOrderCreation(ctx context.Context, cartID string) (domain.Snapshot, error)

	// CurrentState returns the attempt snapshot for rendering.
	CurrentState(cartID string) (domain.Snapshot, error)

	// Abort discards the attempt. Before gateway hand-off nothing has been
	// charged and the state is simply dropped; afterwards the in-flight
	// pipeline keeps running to its terminal state.
	Abort(ctx context.Context, cartID string) error
}

// PreviewProvider fetches the server-priced order preview.
// This is a Secondary Port (Driven Port).
type PreviewProvider interface {
	GetPreview(ctx context.Context, cred domain.Credential, lines []domain.OrderLine) (*domain.OrderPreview, error)
}

// PaymentGateway delegates money movement to the external gateway. Charge
// blocks until the gateway reports a terminal result; the adapter hides the
// callback/redirect mechanics behind this single awaited call.
type PaymentGateway interface {
	Charge(ctx context.Context, req domain.ChargeRequest) (*domain.GatewayResult, error)
}

// SettlementVerifier confirms a gateway transaction with the shop backend
// before it is trusted. Failures are *domain.VerificationError values.
type SettlementVerifier interface {
	Verify(ctx context.Context, cred domain.Credential, req domain.VerifyRequest) error
}

// OrderCreator atomically creates the order on the shop backend and returns
// the order ID. Idempotent per merchant order reference: repeating an
// identical request yields the same order.
type OrderCreator interface {
	CreateOrder(ctx context.Context, cred domain.Credential, req domain.CreateOrderRequest) (string, error)
}

// AttemptLock guarantees at most one active checkout attempt per cart across
// service instances.
type AttemptLock interface {
	// Acquire takes the per-cart lock for the given attempt reference.
	// Returns false when another attempt already holds it.
	Acquire(ctx context.Context, cartID, merchantOrderRef string, ttl time.Duration) (bool, error)

	// Release frees the per-cart lock.
	Release(ctx context.Context, cartID string) error
}

// AttemptArchive stores terminal attempts, keyed by merchant order reference,
// for support lookups and manual reconciliation.
type AttemptArchive interface {
	Save(ctx context.Context, record domain.AttemptRecord) error
	Get(ctx context.Context, merchantOrderRef string) (*domain.AttemptRecord, error)
}
