package comptroller

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
	nativecommon "stablerisk/native/common"
)

// LiquidateStablecoin repays up to CloseFactor of the borrower's debt value
// with the liquidator's stablecoin and seizes collateralMarket tokens in
// return. The repayment never exceeds the stablecoin debt.
func (e *Engine) LiquidateStablecoin(liquidator, borrower common.Address, amount *uint256.Int, collateralMarket common.Address) (*LiquidationResult, error) {
	if err := checkLiquidationArgs(liquidator, borrower, amount); err != nil {
		return nil, err
	}
	var result *LiquidationResult
	err := e.mutate(func() error {
		plan, err := e.planLiquidation(liquidator, borrower, StablecoinMarket, collateralMarket, amount, true)
		if err != nil {
			return err
		}
		repaid, err := e.repayFresh(liquidator, plan.acct, plan.state, plan.amount)
		if err != nil {
			return err
		}
		if err := plan.collateral.Seize(e.address, liquidator, borrower, plan.seize); err != nil {
			return fmt.Errorf("seize %s: %w", collateralMarket.Hex(), err)
		}
		result = &LiquidationResult{
			Borrower:         borrower,
			Liquidator:       liquidator,
			RepayMarket:      StablecoinMarket,
			CollateralMarket: collateralMarket,
			RepayAmount:      repaid,
			SeizeTokens:      plan.seize,
		}
		e.emitLiquidation(result, true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LiquidateBorrow repays token debt held in repayMarket on behalf of an
// underwater borrower and seizes collateralMarket tokens in return.
func (e *Engine) LiquidateBorrow(liquidator, borrower, repayMarket, collateralMarket common.Address, amount *uint256.Int) (*LiquidationResult, error) {
	if err := checkLiquidationArgs(liquidator, borrower, amount); err != nil {
		return nil, err
	}
	if repayMarket == StablecoinMarket {
		return nil, ErrNotListed
	}
	var result *LiquidationResult
	err := e.mutate(func() error {
		plan, err := e.planLiquidation(liquidator, borrower, repayMarket, collateralMarket, amount, true)
		if err != nil {
			return err
		}
		actual, err := plan.repayToken.RepayBorrowBehalf(liquidator, borrower, plan.amount)
		if err != nil {
			return fmt.Errorf("repay %s: %w", repayMarket.Hex(), err)
		}
		if actual == nil || actual.IsZero() {
			return ErrNoDebtToRepay
		}
		seize := plan.seize
		if !actual.Eq(plan.amount) {
			if seize, err = e.seizeTokens(plan.params, repayMarket, collateralMarket, actual); err != nil {
				return err
			}
		}
		if err := e.state.PutUserAccount(plan.acct); err != nil {
			return err
		}
		if err := plan.collateral.Seize(e.address, liquidator, borrower, seize); err != nil {
			return fmt.Errorf("seize %s: %w", collateralMarket.Hex(), err)
		}
		result = &LiquidationResult{
			Borrower:         borrower,
			Liquidator:       liquidator,
			RepayMarket:      repayMarket,
			CollateralMarket: collateralMarket,
			RepayAmount:      clone(actual),
			SeizeTokens:      seize,
		}
		e.emitLiquidation(result, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LiquidateBorrowAllowed reports whether liquidator may repay amount of the
// borrower's debt in repayMarket and seize collateralMarket tokens. It runs
// the risk checks of the liquidation read-only and returns the error the
// liquidation would fail with. The liquidator's own funds and allowance are
// not checked. The zero repay market selects the stablecoin.
func (e *Engine) LiquidateBorrowAllowed(repayMarket, collateralMarket, liquidator, borrower common.Address, amount *uint256.Int) error {
	if err := checkLiquidationArgs(liquidator, borrower, amount); err != nil {
		return err
	}
	return e.view(func() error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		_, err := e.planLiquidation(liquidator, borrower, repayMarket, collateralMarket, clone(amount), false)
		return err
	})
}

// liquidationPlan is a validated liquidation ready to execute.
type liquidationPlan struct {
	params     *Params
	state      *StablecoinState
	acct       *Account
	amount     *uint256.Int
	seize      *uint256.Int
	collateral MarketToken
	repayToken MarketToken
}

// planLiquidation validates a liquidation request. With persist unset the
// stablecoin accrual is computed but never written.
func (e *Engine) planLiquidation(liquidator, borrower, repayMarket, collateralMarket common.Address, amount *uint256.Int, persist bool) (*liquidationPlan, error) {
	stable := repayMarket == StablecoinMarket
	if stable && e.stablecoin == nil {
		return nil, errNilToken
	}
	params, err := e.loadLiquidationParams()
	if err != nil {
		return nil, err
	}
	if !stable {
		if _, err := e.loadMarket(repayMarket); err != nil {
			return nil, err
		}
	}
	if _, err := e.loadMarket(collateralMarket); err != nil {
		return nil, err
	}

	var st *StablecoinState
	if persist {
		st, err = e.accrue(params)
	} else {
		st, err = e.loadStablecoin()
		if err == nil {
			err = accrueIndex(st, params.Stablecoin.StabilityRatePerBlock, e.blockHeight)
		}
	}
	if err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(borrower)
	if err != nil {
		return nil, err
	}
	if err := settleAccount(acct, st); err != nil {
		return nil, err
	}
	snap, err := e.snapshot(acct, params, common.Address{})
	if err != nil {
		return nil, err
	}

	plan := &liquidationPlan{params: params, state: st, acct: acct}
	priceRepaid := ExpScale()
	var owed *uint256.Int
	if stable {
		if owed, err = acct.Debt(); err != nil {
			return nil, err
		}
	} else {
		if plan.repayToken, err = e.marketToken(repayMarket); err != nil {
			return nil, err
		}
		if priceRepaid, err = e.price(repayMarket); err != nil {
			return nil, err
		}
		borrowed, err := plan.repayToken.BorrowBalanceStored(borrower)
		if err != nil {
			return nil, err
		}
		owed = clone(borrowed)
	}

	if snap.Shortfall.IsZero() {
		if !stable || params.Stablecoin.LiquidationMode != LiquidationModeMinted || owed.IsZero() {
			return nil, ErrInsufficientShortfall
		}
	}
	if err := checkCloseFactor(params, snap.BorrowValue, priceRepaid, amount); err != nil {
		return nil, err
	}
	if owed.IsZero() {
		return nil, ErrNoDebtToRepay
	}
	plan.amount = clone(amount)
	if stable {
		plan.amount = minUint(amount, owed)
	}

	if plan.seize, err = e.seizeTokens(params, repayMarket, collateralMarket, plan.amount); err != nil {
		return nil, err
	}
	if plan.collateral, err = e.checkSeizable(collateralMarket, borrower, plan.seize); err != nil {
		return nil, err
	}
	return plan, nil
}

// LiquidateCalculateSeizeTokens returns the number of collateral tokens a
// repayment of amount would seize. The zero repay market prices the
// stablecoin at one.
func (e *Engine) LiquidateCalculateSeizeTokens(repayMarket, collateralMarket common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if repayMarket != StablecoinMarket {
			if _, err := e.loadMarket(repayMarket); err != nil {
				return err
			}
		}
		if _, err := e.loadMarket(collateralMarket); err != nil {
			return err
		}
		out, err = e.seizeTokens(params, repayMarket, collateralMarket, clone(amount))
		return err
	})
	return out, err
}

func checkLiquidationArgs(liquidator, borrower common.Address, amount *uint256.Int) error {
	if liquidator == borrower {
		return ErrSelfLiquidation
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) loadLiquidationParams() (*Params, error) {
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Pauses.Liquidate {
		return nil, ErrActionPaused
	}
	return params, nil
}

// checkCloseFactor bounds amount by closeFactor times the borrower's total
// debt value, expressed in units of the asset being repaid.
func checkCloseFactor(params *Params, borrowValue, priceRepaid, amount *uint256.Int) error {
	closeValue, err := mulScalarTruncate(params.Liquidation.CloseFactor, borrowValue)
	if err != nil {
		return err
	}
	maxClose, err := divExp(closeValue, priceRepaid)
	if err != nil {
		return err
	}
	if amount.Gt(maxClose) {
		return fmt.Errorf("%w: requested %s, max %s", ErrTooMuchRepay, amount.Dec(), maxClose.Dec())
	}
	return nil
}

// seizeTokens computes
//
//	amount * incentive * priceRepaid / (priceCollateral * exchangeRate)
//
// with every factor except amount expressed as a mantissa.
func (e *Engine) seizeTokens(params *Params, repayMarket, collateralMarket common.Address, amount *uint256.Int) (*uint256.Int, error) {
	priceRepaid := ExpScale()
	if repayMarket != StablecoinMarket {
		var err error
		if priceRepaid, err = e.price(repayMarket); err != nil {
			return nil, err
		}
	}
	priceCollateral, err := e.price(collateralMarket)
	if err != nil {
		return nil, err
	}
	token, err := e.marketToken(collateralMarket)
	if err != nil {
		return nil, err
	}
	rate, err := token.ExchangeRateStored()
	if err != nil {
		return nil, err
	}
	numerator, err := mulExp(params.Liquidation.LiquidationIncentive, priceRepaid)
	if err != nil {
		return nil, err
	}
	denominator, err := mulExp(priceCollateral, rate)
	if err != nil {
		return nil, err
	}
	ratio, err := divExp(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return mulScalarTruncate(ratio, amount)
}

func (e *Engine) checkSeizable(collateralMarket, borrower common.Address, seize *uint256.Int) (MarketToken, error) {
	token, err := e.marketToken(collateralMarket)
	if err != nil {
		return nil, err
	}
	balance, err := token.BalanceOf(borrower)
	if err != nil {
		return nil, err
	}
	if seize.Gt(clone(balance)) {
		return nil, fmt.Errorf("%w: seize %s, balance %s", ErrInsufficientCollateralBalance, seize.Dec(), clone(balance).Dec())
	}
	return token, nil
}

func (e *Engine) emitLiquidation(result *LiquidationResult, stablecoin bool) {
	e.emit(events.LiquidationExecuted{
		Liquidator:       result.Liquidator,
		Borrower:         result.Borrower,
		RepayMarket:      result.RepayMarket,
		CollateralMarket: result.CollateralMarket,
		RepayAmount:      result.RepayAmount.ToBig(),
		SeizeTokens:      result.SeizeTokens.ToBig(),
		Stablecoin:       stablecoin,
	})
}
