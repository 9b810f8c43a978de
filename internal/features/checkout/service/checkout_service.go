package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tryonx-checkout/internal/core/config"
	"tryonx-checkout/internal/core/logger"
	"tryonx-checkout/internal/features/checkout/domain"
	"tryonx-checkout/internal/features/checkout/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoActiveCheckout is returned when no attempt exists for the cart.
	ErrNoActiveCheckout = errors.New("no active checkout for cart")
	// ErrCheckoutInProgress is returned when an attempt is already past the
	// gateway hand-off; a second submission could double-charge.
	ErrCheckoutInProgress = errors.New("checkout already in progress for cart")
	// ErrCartLocked is returned when another service instance holds the cart's
	// attempt lock.
	ErrCartLocked = errors.New("cart is locked by another checkout attempt")
	// ErrEditNotAllowed is returned for point or method edits after submission.
	ErrEditNotAllowed = errors.New("checkout attempt is no longer editable")
	// ErrPaymentMethodRequired is returned when payment is submitted without a method.
	ErrPaymentMethodRequired = errors.New("payment method must be selected before submission")
	// ErrInvalidPaymentMethod is returned for an unsupported payment method.
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	// ErrSubmitNotAllowed is returned when the attempt is not in a submittable state.
	ErrSubmitNotAllowed = errors.New("attempt cannot be submitted in its current state")
	// ErrRetryNotAllowed is returned when order-creation retry is requested
	// outside the OrderCreationFailed state.
	ErrRetryNotAllowed = errors.New("order creation retry is only allowed after a failed creation")
)

// attempt is the orchestrator-owned mutable state of one checkout run.
// It is only touched under CheckoutService.mu; the UI sees copies.
type attempt struct {
	cartID              string
	cred                domain.Credential
	lines               []domain.OrderLine
	deliveryInstruction string
	preview             *domain.OrderPreview
	pointsUsed          int64
	pointsClamped       bool
	method              domain.PaymentMethod
	merchantOrderRef    string
	transactionID       string
	state               domain.State
	failure             *domain.FailureInfo
	orderID             string
	events              []domain.AttemptEvent
	abandoned           bool
}

// CheckoutService orchestrates the checkout-and-settlement flow. It owns the
// in-flight attempt state and sequences preview, point redemption, gateway
// charge, settlement verification and order creation.
type CheckoutService struct {
	preview  ports.PreviewProvider
	gateway  ports.PaymentGateway
	verifier ports.SettlementVerifier
	orders   ports.OrderCreator
	locks    ports.AttemptLock
	archive  ports.AttemptArchive

	stepTimeout   time.Duration
	createRetries int
	retryDelay    time.Duration
	lockTTL       time.Duration

	mu       sync.Mutex
	attempts map[string]*attempt
}

var _ ports.CheckoutService = (*CheckoutService)(nil)

// NewCheckoutService creates a new CheckoutService with the given collaborators.
func NewCheckoutService(
	preview ports.PreviewProvider,
	gateway ports.PaymentGateway,
	verifier ports.SettlementVerifier,
	orders ports.OrderCreator,
	locks ports.AttemptLock,
	archive ports.AttemptArchive,
	cfg config.CheckoutConfig,
) *CheckoutService {
	stepTimeout := time.Duration(cfg.StepTimeoutSeconds) * time.Second
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	retries := cfg.OrderCreateRetries
	if retries < 1 {
		retries = 1
	}
	lockTTL := time.Duration(cfg.LockTTLMinutes) * time.Minute
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}

	return &CheckoutService{
		preview:       preview,
		gateway:       gateway,
		verifier:      verifier,
		orders:        orders,
		locks:         locks,
		archive:       archive,
		stepTimeout:   stepTimeout,
		createRetries: retries,
		retryDelay:    500 * time.Millisecond,
		lockTTL:       lockTTL,
		attempts:      make(map[string]*attempt),
	}
}

// StartCheckout freezes the line selection, loads the pricing preview and
// seeds pointsUsed to zero. Restarting replaces any attempt that has not yet
// been handed to the gateway.
func (s *CheckoutService) StartCheckout(ctx context.Context, cred domain.Credential, cartID, deliveryInstruction string, lines []domain.OrderLine) (domain.Snapshot, error) {
	if err := domain.ValidateLines(lines); err != nil {
		return domain.Snapshot{}, err
	}

	a := &attempt{
		cartID:              cartID,
		cred:                cred,
		lines:               append([]domain.OrderLine(nil), lines...),
		deliveryInstruction: deliveryInstruction,
		state:               domain.StatePreviewLoading,
	}

	s.mu.Lock()
	existing := s.attempts[cartID]
	if existing != nil && inFlight(existing.state) {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrCheckoutInProgress
	}
	holdsLock := existing != nil
	s.attempts[cartID] = a
	s.mu.Unlock()

	if !holdsLock {
		ok, err := s.locks.Acquire(ctx, cartID, "pending", s.lockTTL)
		if err != nil {
			logger.Get().Warn("attempt lock acquire failed",
				zap.String("cart_id", cartID), zap.Error(err))
		} else if !ok {
			s.mu.Lock()
			delete(s.attempts, cartID)
			s.mu.Unlock()
			return domain.Snapshot{}, ErrCartLocked
		}
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	preview, err := s.preview.GetPreview(stepCtx, cred, lines)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		logger.Get().Error("pricing preview failed",
			zap.String("cart_id", cartID), zap.Error(err))
		a.state = domain.StatePreviewFailed
		a.failure = &domain.FailureInfo{
			Step:   domain.StepPreview,
			Reason: "failed to load pricing preview",
			Money:  domain.MoneyNotMoved,
		}
		a.record(domain.StepPreview, "failed")
		return snapshotOf(a), nil
	}

	a.preview = preview
	a.pointsUsed = 0
	a.state = domain.StatePreviewReady
	a.record(domain.StepPreview, "ok")

	logger.Get().Info("checkout started",
		zap.String("cart_id", cartID),
		zap.Int64("final_amount", preview.FinalAmount),
		zap.Int64("point_balance", preview.BuyerPointBalance),
	)
	return snapshotOf(a), nil
}

// SetPointsUsed applies a point redemption, clamping out-of-bound values to the
// nearest valid bound. Recomputation is purely local.
func (s *CheckoutService) SetPointsUsed(cartID string, points int64) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[cartID]
	if a == nil || a.abandoned {
		return domain.Snapshot{}, ErrNoActiveCheckout
	}
	if !a.state.Editable() {
		return domain.Snapshot{}, ErrEditNotAllowed
	}

	check := domain.ValidateRedemption(points, a.preview.BuyerPointBalance, a.preview.FinalAmount)
	a.pointsUsed = check.Clamped
	a.pointsClamped = !check.OK
	a.state = domain.StateAwaitingPaymentSelection

	if !check.OK {
		logger.Get().Debug("point redemption clamped",
			zap.String("cart_id", cartID),
			zap.Int64("requested", points),
			zap.Int64("clamped", check.Clamped),
		)
	}
	return snapshotOf(a), nil
}

// SetPaymentMethod selects the method the settlement amount is charged with.
func (s *CheckoutService) SetPaymentMethod(cartID string, method domain.PaymentMethod) (domain.Snapshot, error) {
	if !method.IsValid() {
		return domain.Snapshot{}, ErrInvalidPaymentMethod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[cartID]
	if a == nil || a.abandoned {
		return domain.Snapshot{}, ErrNoActiveCheckout
	}
	if !a.state.Editable() {
		return domain.Snapshot{}, ErrEditNotAllowed
	}

	a.method = method
	a.state = domain.StateAwaitingPaymentSelection
	return snapshotOf(a), nil
}

// SubmitPayment mints a fresh merchant order reference and drives the attempt
// through gateway charge, settlement verification and order creation. The call
// returns when the attempt reaches a terminal state. From the gateway hand-off
// onward the pipeline ignores ctx cancellation: once money may be moving the
// flow must finish, even if the buyer navigated away.
func (s *CheckoutService) SubmitPayment(ctx context.Context, cartID string) (domain.Snapshot, error) {
	s.mu.Lock()
	a := s.attempts[cartID]
	if a == nil || a.abandoned {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveCheckout
	}
	if inFlight(a.state) {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrCheckoutInProgress
	}
	if !a.state.Editable() {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrSubmitNotAllowed
	}
	if a.method == "" {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrPaymentMethodRequired
	}

	a.merchantOrderRef = uuid.NewString()
	a.transactionID = ""
	a.failure = nil
	a.state = domain.StateAwaitingGatewayResult

	req := domain.ChargeRequest{
		Amount:           domain.SettlementAmount(a.preview.FinalAmount, a.pointsUsed),
		Method:           a.method,
		MerchantOrderRef: a.merchantOrderRef,
		BuyerContact:     a.preview.BuyerContact,
	}
	cred := a.cred
	s.mu.Unlock()

	logger.Get().Info("payment submitted",
		zap.String("cart_id", cartID),
		zap.String("merchant_order_ref", req.MerchantOrderRef),
		zap.Int64("settlement_amount", req.Amount),
		zap.String("method", string(req.Method)),
	)

	// Past this point the buyer may already be charged; never cancel.
	detached := context.WithoutCancel(ctx)

	result, err := s.gateway.Charge(detached, req)
	if err != nil {
		return s.failAttempt(detached, a, domain.FailureInfo{
			Step:             domain.StepGateway,
			Reason:           "payment gateway reported no result",
			MerchantOrderRef: req.MerchantOrderRef,
			Money:            domain.MoneyNotMoved,
		}, domain.StateGatewayFailed, "no_result"), nil
	}

	if result.MerchantOrderRef != req.MerchantOrderRef {
		// A stale or duplicate callback from an earlier attempt. It must never
		// reach the settlement verifier.
		logger.Get().Warn("gateway result reference mismatch",
			zap.String("cart_id", cartID),
			zap.String("expected_ref", req.MerchantOrderRef),
			zap.String("received_ref", result.MerchantOrderRef),
			zap.String("transaction_id", result.TransactionID),
		)
		return s.failAttempt(detached, a, domain.FailureInfo{
			Step:             domain.StepGateway,
			Reason:           "gateway result does not belong to this attempt",
			MerchantOrderRef: req.MerchantOrderRef,
			Money:            domain.MoneyUnknown,
		}, domain.StateGatewayFailed, "mismatched_ref"), nil
	}

	if result.Status != domain.GatewayStatusSuccess {
		reason := "payment was cancelled"
		outcome := "cancelled"
		if result.Status == domain.GatewayStatusFailure {
			reason = "payment was declined"
			outcome = "declined"
			if result.FailReason != "" {
				reason = result.FailReason
			}
		}
		return s.failAttempt(detached, a, domain.FailureInfo{
			Step:             domain.StepGateway,
			Reason:           reason,
			MerchantOrderRef: req.MerchantOrderRef,
			Money:            domain.MoneyNotMoved,
		}, domain.StateGatewayFailed, outcome), nil
	}

	s.mu.Lock()
	a.transactionID = result.TransactionID
	a.state = domain.StateVerifying
	a.record(domain.StepGateway, "ok")
	s.mu.Unlock()

	if verr := s.verify(detached, cred, a, req.Amount); verr != nil {
		return s.failAttempt(detached, a, domain.FailureInfo{
			Step:             domain.StepVerification,
			Reason:           verr.Error(),
			VerificationKind: verr.Kind,
			TransactionID:    result.TransactionID,
			MerchantOrderRef: req.MerchantOrderRef,
			Money:            moneyAfterVerification(verr.Kind),
		}, domain.StateVerificationFailed, string(verr.Kind)), nil
	}

	s.mu.Lock()
	a.state = domain.StateCreatingOrder
	a.record(domain.StepVerification, "ok")
	s.mu.Unlock()

	return s.createOrder(detached, a, s.createRetries), nil
}

// RetryOrderCreation re-runs order creation with the same verified transaction
// reference. The gateway is never re-invoked: the charge already happened.
func (s *CheckoutService) RetryOrderCreation(ctx context.Context, cartID string) (domain.Snapshot, error) {
	s.mu.Lock()
	a := s.attempts[cartID]
	if a == nil || a.abandoned {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveCheckout
	}
	if a.state != domain.StateOrderCreationFailed {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrRetryNotAllowed
	}
	a.state = domain.StateCreatingOrder
	a.record(domain.StepOrderCreation, "manual_retry")
	s.mu.Unlock()

	return s.createOrder(context.WithoutCancel(ctx), a, 1), nil
}

// CurrentState returns a read-only snapshot of the attempt for rendering.
func (s *CheckoutService) CurrentState(cartID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[cartID]
	if a == nil || a.abandoned {
		return domain.Snapshot{}, ErrNoActiveCheckout
	}
	return snapshotOf(a), nil
}

// Abort discards the checkout attempt. Before the gateway hand-off nothing was
// charged and the state is simply dropped. While the pipeline is in flight the
// attempt is marked abandoned and cleaned up when it reaches a terminal state;
// the in-flight verification and order-creation calls are never cancelled.
func (s *CheckoutService) Abort(ctx context.Context, cartID string) error {
	s.mu.Lock()
	a := s.attempts[cartID]
	if a == nil {
		s.mu.Unlock()
		return ErrNoActiveCheckout
	}
	if inFlight(a.state) {
		a.abandoned = true
		s.mu.Unlock()
		logger.Get().Info("checkout abandoned while settlement in flight",
			zap.String("cart_id", cartID),
			zap.String("merchant_order_ref", a.merchantOrderRef),
		)
		return nil
	}
	delete(s.attempts, cartID)
	s.mu.Unlock()

	if err := s.locks.Release(ctx, cartID); err != nil {
		logger.Get().Warn("attempt lock release failed",
			zap.String("cart_id", cartID), zap.Error(err))
	}
	return nil
}

// verify runs the settlement verification with a bounded timeout and folds any
// failure into a typed VerificationError.
func (s *CheckoutService) verify(ctx context.Context, cred domain.Credential, a *attempt, expectedAmount int64) *domain.VerificationError {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	s.mu.Lock()
	req := domain.VerifyRequest{
		TransactionID:    a.transactionID,
		MerchantOrderRef: a.merchantOrderRef,
		ExpectedAmount:   expectedAmount,
	}
	s.mu.Unlock()

	err := s.verifier.Verify(stepCtx, cred, req)
	if err == nil {
		return nil
	}

	var verr *domain.VerificationError
	if !errors.As(err, &verr) {
		verr = &domain.VerificationError{Kind: domain.VerificationNetworkError, Detail: err.Error()}
	}
	logger.Get().Error("settlement verification failed",
		zap.String("cart_id", a.cartID),
		zap.String("transaction_id", req.TransactionID),
		zap.String("merchant_order_ref", req.MerchantOrderRef),
		zap.String("kind", string(verr.Kind)),
	)
	return verr
}

// createOrder attempts order creation up to maxAttempts times with the frozen
// payload and the already-verified transaction reference.
func (s *CheckoutService) createOrder(ctx context.Context, a *attempt, maxAttempts int) domain.Snapshot {
	s.mu.Lock()
	req := domain.CreateOrderRequest{
		Lines:               a.lines,
		FinalAmount:         a.preview.FinalAmount,
		PointsUsed:          a.pointsUsed,
		PaymentMethod:       a.method,
		DeliveryInstruction: a.deliveryInstruction,
		TransactionID:       a.transactionID,
		MerchantOrderRef:    a.merchantOrderRef,
	}
	cred := a.cred
	s.mu.Unlock()

	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		orderID, err := s.orders.CreateOrder(stepCtx, cred, req)
		cancel()

		if err == nil {
			s.mu.Lock()
			a.orderID = orderID
			a.state = domain.StateCompleted
			a.record(domain.StepOrderCreation, "ok")
			snap := snapshotOf(a)
			s.mu.Unlock()

			logger.Get().Info("order created",
				zap.String("cart_id", a.cartID),
				zap.String("order_id", orderID),
				zap.String("merchant_order_ref", req.MerchantOrderRef),
			)
			s.finishAttempt(ctx, a)
			return snap
		}

		lastErr = err
		s.mu.Lock()
		a.record(domain.StepOrderCreation, "failed")
		s.mu.Unlock()
		logger.Get().Warn("order creation attempt failed",
			zap.String("cart_id", a.cartID),
			zap.String("merchant_order_ref", req.MerchantOrderRef),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		if i < maxAttempts {
			time.Sleep(s.retryDelay * time.Duration(i))
		}
	}

	reason := "order creation failed after the charge was verified"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return s.failAttempt(ctx, a, domain.FailureInfo{
		Step:             domain.StepOrderCreation,
		Reason:           reason,
		TransactionID:    req.TransactionID,
		MerchantOrderRef: req.MerchantOrderRef,
		Money:            domain.MoneyMoved,
		RetriesExhausted: maxAttempts > 1,
	}, domain.StateOrderCreationFailed, "exhausted")
}

// failAttempt moves the attempt into a terminal failure state, records the
// event, archives the attempt and returns its snapshot.
func (s *CheckoutService) failAttempt(ctx context.Context, a *attempt, info domain.FailureInfo, state domain.State, outcome string) domain.Snapshot {
	s.mu.Lock()
	a.state = state
	a.failure = &info
	a.record(info.Step, outcome)
	snap := snapshotOf(a)
	s.mu.Unlock()

	logger.Get().Error("checkout attempt failed",
		zap.String("cart_id", a.cartID),
		zap.String("state", string(state)),
		zap.String("step", string(info.Step)),
		zap.String("transaction_id", info.TransactionID),
		zap.String("merchant_order_ref", info.MerchantOrderRef),
		zap.String("money", string(info.Money)),
	)
	s.finishAttempt(ctx, a)
	return snap
}

// finishAttempt archives a terminal attempt and, if the buyer already walked
// away, releases the cart.
func (s *CheckoutService) finishAttempt(ctx context.Context, a *attempt) {
	s.mu.Lock()
	record := recordOf(a)
	abandoned := a.abandoned
	if abandoned {
		delete(s.attempts, a.cartID)
	}
	s.mu.Unlock()

	if record.MerchantOrderRef != "" {
		if err := s.archive.Save(ctx, record); err != nil {
			logger.Get().Warn("failed to archive checkout attempt",
				zap.String("merchant_order_ref", record.MerchantOrderRef),
				zap.Error(err),
			)
		}
	}
	if abandoned {
		if err := s.locks.Release(ctx, a.cartID); err != nil {
			logger.Get().Warn("attempt lock release failed",
				zap.String("cart_id", a.cartID), zap.Error(err))
		}
	}
}

// inFlight reports whether the attempt is between gateway hand-off and a
// terminal state; new submissions and restarts are blocked in that window.
func inFlight(state domain.State) bool {
	switch state {
	case domain.StateAwaitingGatewayResult, domain.StateVerifying, domain.StateCreatingOrder:
		return true
	}
	return false
}

// moneyAfterVerification maps a verification failure kind to what is known
// about the charge. AlreadyConsumed and AmountMismatch prove the gateway
// moved money; NotFound and transport failures leave it unknown.
func moneyAfterVerification(kind domain.VerificationKind) domain.MoneyState {
	switch kind {
	case domain.VerificationAlreadyConsumed, domain.VerificationAmountMismatch:
		return domain.MoneyMoved
	default:
		return domain.MoneyUnknown
	}
}

// record appends a step event. Caller must hold the service mutex.
func (a *attempt) record(step domain.FailedStep, outcome string) {
	a.events = append(a.events, domain.AttemptEvent{Step: step, Outcome: outcome, At: time.Now()})
}

// snapshotOf builds a read-only copy for the UI. Caller must hold the mutex.
func snapshotOf(a *attempt) domain.Snapshot {
	snap := domain.Snapshot{
		CartID:           a.cartID,
		State:            a.state,
		PointsUsed:       a.pointsUsed,
		PointsClamped:    a.pointsClamped,
		PaymentMethod:    a.method,
		MerchantOrderRef: a.merchantOrderRef,
		OrderID:          a.orderID,
		Events:           append([]domain.AttemptEvent(nil), a.events...),
	}
	if a.preview != nil {
		preview := *a.preview
		snap.Preview = &preview
		snap.SettlementAmount = domain.SettlementAmount(a.preview.FinalAmount, a.pointsUsed)
	}
	if a.failure != nil {
		failure := *a.failure
		snap.Failure = &failure
	}
	return snap
}

// recordOf builds the archive record for a terminal attempt. Caller must hold the mutex.
func recordOf(a *attempt) domain.AttemptRecord {
	record := domain.AttemptRecord{
		CartID:           a.cartID,
		MerchantOrderRef: a.merchantOrderRef,
		TransactionID:    a.transactionID,
		State:            a.state,
		PointsUsed:       a.pointsUsed,
		PaymentMethod:    a.method,
		OrderID:          a.orderID,
		Events:           append([]domain.AttemptEvent(nil), a.events...),
		ArchivedAt:       time.Now(),
	}
	if a.preview != nil {
		record.SettlementAmount = domain.SettlementAmount(a.preview.FinalAmount, a.pointsUsed)
	}
	if a.failure != nil {
		failure := *a.failure
		record.Failure = &failure
	}
	return record
}
