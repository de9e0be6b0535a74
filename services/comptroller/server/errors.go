package server

import (
	"net/http"

	"stablerisk/services/comptroller"
)

// statusFor translates an operation error into the HTTP status and the stable
// reason code returned to clients.
func statusFor(err error) (int, string) {
	reason := comptroller.ErrorReason(err)
	switch reason {
	case "invalid_amount", "invalid_collateral_factor", "invalid_close_factor",
		"invalid_liquidation_incentive", "invalid_mint_rate", "self_liquidation",
		"zero_address", "empty_update", "invalid_blocks", "invalid_exchange_rate",
		"invalid_price", "invalid_underlying":
		return http.StatusBadRequest, reason
	case "unauthorized":
		return http.StatusForbidden, reason
	case "not_listed", "unknown_market":
		return http.StatusNotFound, reason
	case "already_listed", "reentrant":
		return http.StatusConflict, reason
	case "insufficient_liquidity", "insufficient_collateral", "insufficient_shortfall",
		"too_much_repay", "insufficient_collateral_balance", "nonzero_borrow_balance",
		"mint_cap_exceeded", "no_debt", "insufficient_allowance", "insufficient_balance",
		"insufficient_funds", "insufficient_tokens", "overflow", "underflow":
		return http.StatusUnprocessableEntity, reason
	case "quota_requests_exceeded", "quota_amount_exceeded", "quota_overflow":
		return http.StatusTooManyRequests, reason
	case "action_paused", "module_paused", "oracle_unavailable":
		return http.StatusServiceUnavailable, reason
	default:
		return http.StatusInternalServerError, reason
	}
}
