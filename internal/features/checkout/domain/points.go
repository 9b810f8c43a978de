package domain

// RedemptionCheck is the result of validating a point redemption.
type RedemptionCheck struct {
	// OK is true when the requested value already satisfied every bound.
	OK bool
	// Clamped is the nearest valid value. Equal to the request when OK.
	Clamped int64
}

// ValidateRedemption constrains how many loyalty points may be applied against
// an order. Points must be non-negative, may not exceed the buyer's balance,
// and may not exceed the final amount (settlement can never go below zero).
// Pure and side-effect free; no network call is ever involved.
func ValidateRedemption(pointsUsed, buyerPointBalance, finalAmount int64) RedemptionCheck {
	limit := buyerPointBalance
	if finalAmount < limit {
		limit = finalAmount
	}
	if limit < 0 {
		limit = 0
	}

	switch {
	case pointsUsed < 0:
		return RedemptionCheck{OK: false, Clamped: 0}
	case pointsUsed > limit:
		return RedemptionCheck{OK: false, Clamped: limit}
	default:
		return RedemptionCheck{OK: true, Clamped: pointsUsed}
	}
}

// SettlementAmount is the amount actually handed to the payment gateway:
// the final amount minus redeemed points, never the pre-discount total.
func SettlementAmount(finalAmount, pointsUsed int64) int64 {
	amount := finalAmount - pointsUsed
	if amount < 0 {
		return 0
	}
	return amount
}
