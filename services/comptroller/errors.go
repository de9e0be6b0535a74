package comptroller

import (
	"errors"

	nativecommon "stablerisk/native/common"
	risk "stablerisk/native/comptroller"
	"stablerisk/native/oracle"
	"stablerisk/native/stablecoin"
	"stablerisk/native/vtoken"
)

// ErrEmptyUpdate is returned by UpdateParams when every field is nil.
var ErrEmptyUpdate = errors.New("comptroller service: no parameters to update")

var reasons = []struct {
	err    error
	reason string
}{
	{risk.ErrInvalidAmount, "invalid_amount"},
	{risk.ErrNotListed, "not_listed"},
	{risk.ErrMarketAlreadyListed, "already_listed"},
	{risk.ErrNonzeroBorrowBalance, "nonzero_borrow_balance"},
	{risk.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{risk.ErrOracleUnavailable, "oracle_unavailable"},
	{risk.ErrMintCapExceeded, "mint_cap_exceeded"},
	{risk.ErrInsufficientCollateral, "insufficient_collateral"},
	{risk.ErrInsufficientShortfall, "insufficient_shortfall"},
	{risk.ErrTooMuchRepay, "too_much_repay"},
	{risk.ErrInsufficientCollateralBalance, "insufficient_collateral_balance"},
	{risk.ErrNoDebtToRepay, "no_debt"},
	{risk.ErrOverflow, "overflow"},
	{risk.ErrUnderflow, "underflow"},
	{risk.ErrReentrant, "reentrant"},
	{risk.ErrUnauthorized, "unauthorized"},
	{risk.ErrInvalidCollateralFactor, "invalid_collateral_factor"},
	{risk.ErrInvalidCloseFactor, "invalid_close_factor"},
	{risk.ErrInvalidLiquidationIncentive, "invalid_liquidation_incentive"},
	{risk.ErrInvalidMintRate, "invalid_mint_rate"},
	{risk.ErrSelfLiquidation, "self_liquidation"},
	{risk.ErrActionPaused, "action_paused"},
	{nativecommon.ErrModulePaused, "module_paused"},
	{nativecommon.ErrQuotaRequestsExceeded, "quota_requests_exceeded"},
	{nativecommon.ErrQuotaAmountCapExceeded, "quota_amount_exceeded"},
	{nativecommon.ErrQuotaCounterOverflow, "quota_overflow"},
	{stablecoin.ErrInsufficientAllowance, "insufficient_allowance"},
	{stablecoin.ErrInsufficientBalance, "insufficient_balance"},
	{stablecoin.ErrInvalidAmount, "invalid_amount"},
	{stablecoin.ErrZeroAddress, "zero_address"},
	{vtoken.ErrInsufficientFunds, "insufficient_funds"},
	{vtoken.ErrInsufficientTokens, "insufficient_tokens"},
	{vtoken.ErrInvalidExchangeRate, "invalid_exchange_rate"},
	{vtoken.ErrUnknownMarket, "unknown_market"},
	{oracle.ErrZeroPrice, "invalid_price"},
	{ErrUnknownMarket, "unknown_market"},
	{ErrInvalidBlocks, "invalid_blocks"},
	{ErrEmptyUpdate, "empty_update"},
	{ErrInvalidUnderlying, "invalid_underlying"},
}

// ErrorReason maps an operation error onto a stable machine-readable code.
// Unrecognised errors report "internal".
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
