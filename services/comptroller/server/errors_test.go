package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	nativecommon "stablerisk/native/common"
	risk "stablerisk/native/comptroller"
	"stablerisk/native/stablecoin"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{risk.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{risk.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{fmt.Errorf("wrap: %w", risk.ErrNotListed), http.StatusNotFound, "not_listed"},
		{risk.ErrMarketAlreadyListed, http.StatusConflict, "already_listed"},
		{fmt.Errorf("x: %w", risk.ErrInsufficientCollateral), http.StatusUnprocessableEntity, "insufficient_collateral"},
		{stablecoin.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
		{nativecommon.ErrQuotaAmountCapExceeded, http.StatusTooManyRequests, "quota_amount_exceeded"},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "module_paused"},
		{risk.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, reason := statusFor(tc.err)
		if status != tc.status || reason != tc.reason {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.reason, status, reason)
		}
	}
}
