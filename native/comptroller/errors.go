package comptroller

import "errors"

var (
	ErrNotListed                     = errors.New("comptroller: market not listed")
	ErrMarketAlreadyListed           = errors.New("comptroller: market already listed")
	ErrNonzeroBorrowBalance          = errors.New("comptroller: nonzero borrow balance")
	ErrInsufficientLiquidity         = errors.New("comptroller: insufficient liquidity")
	ErrOracleUnavailable             = errors.New("comptroller: price oracle unavailable")
	ErrMintCapExceeded               = errors.New("comptroller: stablecoin mint cap exceeded")
	ErrInsufficientCollateral        = errors.New("comptroller: insufficient collateral")
	ErrInsufficientShortfall         = errors.New("comptroller: insufficient shortfall")
	ErrTooMuchRepay                  = errors.New("comptroller: repay amount exceeds close factor")
	ErrInsufficientCollateralBalance = errors.New("comptroller: borrower collateral balance below seize amount")
	ErrOverflow                      = errors.New("comptroller: arithmetic overflow")
	ErrUnderflow                     = errors.New("comptroller: arithmetic underflow")

	ErrInvalidAmount               = errors.New("comptroller: amount must be positive")
	ErrNoDebtToRepay               = errors.New("comptroller: no outstanding debt to repay")
	ErrReentrant                   = errors.New("comptroller: operation already in progress")
	ErrUnauthorized                = errors.New("comptroller: caller is not admin")
	ErrInvalidCollateralFactor     = errors.New("comptroller: collateral factor must be below 1")
	ErrInvalidCloseFactor          = errors.New("comptroller: close factor must be within (0, 1]")
	ErrInvalidLiquidationIncentive = errors.New("comptroller: liquidation incentive must be at least 1")
	ErrInvalidMintRate             = errors.New("comptroller: mint rate must not exceed 10000 bps")
	ErrSelfLiquidation             = errors.New("comptroller: liquidator is borrower")
	ErrActionPaused                = errors.New("comptroller: action paused")

	errNilState    = errors.New("comptroller: state not configured")
	errNilResolver = errors.New("comptroller: market resolver not configured")
	errNilOracle   = errors.New("comptroller: price oracle not configured")
	errNilToken    = errors.New("comptroller: stablecoin token not configured")

	errNotInitialised     = errors.New("comptroller: risk parameters not initialised")
	errAlreadyInitialised = errors.New("comptroller: risk parameters already initialised")
)
