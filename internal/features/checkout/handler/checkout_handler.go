package handler

import (
	"context"
	"errors"
	"strings"

	"tryonx-checkout/internal/core/logger"
	"tryonx-checkout/internal/features/checkout/domain"
	"tryonx-checkout/internal/features/checkout/ports"
	"tryonx-checkout/internal/features/checkout/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CheckoutHandler handles HTTP requests for the checkout flow.
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
	archive         ports.AttemptArchive
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutService *service.CheckoutService, archive ports.AttemptArchive) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		archive:         archive,
	}
}

// ErrorResponse represents an error response with Ray ID.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for tracing.
	RayID string `json:"ray_id,omitempty"`
}

// startCheckoutRequest is the body for starting a checkout attempt.
type startCheckoutRequest struct {
	CartID              string             `json:"cart_id"`
	DeliveryInstruction string             `json:"delivery_instruction"`
	Lines               []domain.OrderLine `json:"lines"`
}

// setPointsRequest is the body for applying a point redemption.
type setPointsRequest struct {
	PointsUsed int64 `json:"points_used"`
}

// setMethodRequest is the body for selecting a payment method.
type setMethodRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// StartCheckout godoc
// @Summary Start a checkout attempt
// @Description Freezes the cart's line selection, loads the server-priced preview and opens a checkout attempt
// @Tags checkout
// @Accept json
// @Produce json
// @Param request body startCheckoutRequest true "Cart lines to check out"
// @Success 200 {object} domain.Snapshot
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /checkout [post]
func (h *CheckoutHandler) StartCheckout(c *fiber.Ctx) error {
	var req startCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	if req.CartID == "" {
		return h.badRequest(c, "cart_id is required")
	}

	snapshot, err := h.checkoutService.StartCheckout(c.UserContext(), credentialFrom(c), req.CartID, req.DeliveryInstruction, req.Lines)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(snapshot)
}

// GetCheckout godoc
// @Summary Get the current checkout snapshot
// @Description Returns the attempt's state, pricing, point redemption and failure details for rendering
// @Tags checkout
// @Produce json
// @Param cartId path string true "Cart ID"
// @Success 200 {object} domain.Snapshot
// @Failure 404 {object} ErrorResponse
// @Router /checkout/{cartId} [get]
func (h *CheckoutHandler) GetCheckout(c *fiber.Ctx) error {
	snapshot, err := h.checkoutService.CurrentState(c.Params("cartId"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(snapshot)
}

// SetPoints godoc
// @Summary Apply a point redemption
// @Description Sets the points to redeem, clamping out-of-bound values to the nearest valid amount
// @Tags checkout
// @Accept json
// @Produce json
// @Param cartId path string true "Cart ID"
// @Param request body setPointsRequest true "Points to redeem"
// @Success 200 {object} domain.Snapshot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /checkout/{cartId}/points [patch]
func (h *CheckoutHandler) SetPoints(c *fiber.Ctx) error {
	var req setPointsRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}

	snapshot, err := h.checkoutService.SetPointsUsed(c.Params("cartId"), req.PointsUsed)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(snapshot)
}

// SetMethod godoc
// @Summary Select a payment method
// @Description Selects how the settlement amount will be charged
// @Tags checkout
// @Accept json
// @Produce json
// @Param cartId path string true "Cart ID"
// @Param request body setMethodRequest true "Payment method (CARD or WALLET_PAY)"
// @Success 200 {object} domain.Snapshot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /checkout/{cartId}/method [patch]
func (h *CheckoutHandler) SetMethod(c *fiber.Ctx) error {
	var req setMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}

	snapshot, err := h.checkoutService.SetPaymentMethod(c.Params("cartId"), domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(snapshot)
}

// SubmitPayment godoc
// @Summary Submit the payment
// @Description Hands the settlement amount to the payment gateway and runs verification and order creation in the background. Poll the snapshot endpoint for the outcome.
// @Tags checkout
// @Produce json
// @Param cartId path string true "Cart ID"
// @Success 202 {object} domain.Snapshot
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /checkout/{cartId}/submit [post]
func (h *CheckoutHandler) SubmitPayment(c *fiber.Ctx) error {
	cartID := c.Params("cartId")

	// Pre-flight checks mirror the orchestrator's own guards so the buyer gets
	// an immediate status code. The orchestrator re-checks under its lock, so a
	// race here cannot cause a double charge.
	snapshot, err := h.checkoutService.CurrentState(cartID)
	if err != nil {
		return h.serviceError(c, err)
	}
	if !snapshot.State.Editable() {
		return h.serviceError(c, service.ErrSubmitNotAllowed)
	}
	if snapshot.PaymentMethod == "" {
		return h.serviceError(c, service.ErrPaymentMethodRequired)
	}

	rayID := rayIDFrom(c)
	go func() {
		// The request context dies when this handler returns; the pipeline must
		// outlive it once money may be moving.
		if _, err := h.checkoutService.SubmitPayment(context.Background(), cartID); err != nil {
			logger.Get().Warn("payment submission rejected",
				zap.String("cart_id", cartID),
				zap.String("ray_id", rayID),
				zap.Error(err),
			)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(snapshot)
}

// RetryOrder godoc
// @Summary Retry order creation
// @Description Re-runs order creation with the already-verified transaction. The gateway is never charged again.
// @Tags checkout
// @Produce json
// @Param cartId path string true "Cart ID"
// @Success 200 {object} domain.Snapshot
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /checkout/{cartId}/retry-order [post]
func (h *CheckoutHandler) RetryOrder(c *fiber.Ctx) error {
	snapshot, err := h.checkoutService.RetryOrderCreation(c.UserContext(), c.Params("cartId"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(snapshot)
}

// AbortCheckout godoc
// @Summary Abort the checkout attempt
// @Description Discards the attempt. Once the gateway holds the charge the settlement pipeline still runs to completion in the background.
// @Tags checkout
// @Param cartId path string true "Cart ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /checkout/{cartId} [delete]
func (h *CheckoutHandler) AbortCheckout(c *fiber.Ctx) error {
	if err := h.checkoutService.Abort(c.UserContext(), c.Params("cartId")); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetArchivedAttempt godoc
// @Summary Look up an archived checkout attempt
// @Description Returns the terminal record for a merchant order reference, for support and reconciliation
// @Tags checkout
// @Produce json
// @Param ref path string true "Merchant order reference"
// @Success 200 {object} domain.AttemptRecord
// @Failure 404 {object} ErrorResponse
// @Router /checkout/archive/{ref} [get]
func (h *CheckoutHandler) GetArchivedAttempt(c *fiber.Ctx) error {
	ref := c.Params("ref")

	record, err := h.archive.Get(c.UserContext(), ref)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "failed to look up attempt",
			RayID:   rayIDFrom(c),
		})
	}
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Message: "no attempt found for reference",
			RayID:   rayIDFrom(c),
		})
	}
	return c.JSON(record)
}

// serviceError maps orchestrator errors to HTTP status codes.
func (h *CheckoutHandler) serviceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoActiveCheckout):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrCheckoutInProgress),
		errors.Is(err, service.ErrCartLocked),
		errors.Is(err, service.ErrEditNotAllowed),
		errors.Is(err, service.ErrSubmitNotAllowed),
		errors.Is(err, service.ErrRetryNotAllowed):
		status = fiber.StatusConflict
	case errors.Is(err, service.ErrPaymentMethodRequired):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidLines):
		status = fiber.StatusBadRequest
	}

	return c.Status(status).JSON(ErrorResponse{
		Message: err.Error(),
		RayID:   rayIDFrom(c),
	})
}

// badRequest writes a 400 with the given message.
func (h *CheckoutHandler) badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Message: message,
		RayID:   rayIDFrom(c),
	})
}

// rayIDFrom extracts the request's ray ID for error responses.
func rayIDFrom(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

// credentialFrom extracts the buyer's bearer token. The token is threaded
// explicitly through every backend call rather than read from ambient state.
func credentialFrom(c *fiber.Ctx) domain.Credential {
	auth := c.Get(fiber.HeaderAuthorization)
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		token = ""
	}
	return domain.Credential{BearerToken: token}
}
