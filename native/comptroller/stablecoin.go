package comptroller

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
	nativecommon "stablerisk/native/common"
)

// accrueIndex advances the global mint index to height. Calling it twice at the
// same height is a no-op and the index never decreases.
func accrueIndex(st *StablecoinState, ratePerBlock *uint256.Int, height uint64) error {
	if height <= st.LastAccrualBlock {
		return nil
	}
	delta := height - st.LastAccrualBlock
	if ratePerBlock != nil && !ratePerBlock.IsZero() {
		factor, err := mulCheck(ratePerBlock, uint256.NewInt(delta))
		if err != nil {
			return err
		}
		growth, err := mulExp(st.MintIndex, factor)
		if err != nil {
			return err
		}
		if st.MintIndex, err = addUint(st.MintIndex, growth); err != nil {
			return err
		}
	}
	st.LastAccrualBlock = height
	return nil
}

// settleAccount moves the interest earned since the account's last index
// snapshot into AccruedInterest.
func settleAccount(acct *Account, st *StablecoinState) error {
	if acct.MintIndex.IsZero() || acct.MintedPrincipal.IsZero() {
		acct.MintIndex = clone(st.MintIndex)
		return nil
	}
	if st.MintIndex.Gt(acct.MintIndex) {
		delta := new(uint256.Int).Sub(st.MintIndex, acct.MintIndex)
		interest, err := mulDiv(acct.MintedPrincipal, delta, acct.MintIndex)
		if err != nil {
			return err
		}
		if acct.AccruedInterest, err = addUint(acct.AccruedInterest, interest); err != nil {
			return err
		}
	}
	acct.MintIndex = clone(st.MintIndex)
	return nil
}

// accrue advances and persists the global stablecoin state.
func (e *Engine) accrue(params *Params) (*StablecoinState, error) {
	st, err := e.loadStablecoin()
	if err != nil {
		return nil, err
	}
	if err := accrueIndex(st, params.Stablecoin.StabilityRatePerBlock, e.blockHeight); err != nil {
		return nil, err
	}
	if err := e.state.PutStablecoinState(st); err != nil {
		return nil, err
	}
	return st, nil
}

// AccrueStablecoinInterest brings the mint index up to the current block.
func (e *Engine) AccrueStablecoinInterest() error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		_, err = e.accrue(params)
		return err
	})
}

// MintStablecoin issues amount of stablecoin to minter against its collateral
// headroom.
func (e *Engine) MintStablecoin(minter common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return e.mutate(func() error {
		if e.stablecoin == nil {
			return errNilToken
		}
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Pauses.Mint {
			return ErrActionPaused
		}
		st, err := e.accrue(params)
		if err != nil {
			return err
		}
		acct, err := e.loadAccount(minter)
		if err != nil {
			return err
		}
		if err := settleAccount(acct, st); err != nil {
			return err
		}

		total, err := addUint(st.TotalMinted, amount)
		if err != nil {
			return err
		}
		if limit := params.Stablecoin.MintCap; !limit.IsZero() && total.Gt(limit) {
			return ErrMintCapExceeded
		}
		if quota := params.Stablecoin.Quota; quota.Enabled() {
			next, err := nativecommon.CheckQuota(quota, quota.Epoch(e.blockHeight), acct.Quota, 1, amount)
			if err != nil {
				return err
			}
			acct.Quota = next
		}

		snap, err := e.snapshot(acct, params, common.Address{})
		if err != nil {
			return err
		}
		if amount.Gt(snap.Mintable) {
			return fmt.Errorf("%w: requested %s, mintable %s", ErrInsufficientCollateral, amount.Dec(), snap.Mintable.Dec())
		}

		if acct.MintedPrincipal, err = addUint(acct.MintedPrincipal, amount); err != nil {
			return err
		}
		st.TotalMinted = total
		if err := e.state.PutUserAccount(acct); err != nil {
			return err
		}
		if err := e.state.PutStablecoinState(st); err != nil {
			return err
		}
		if err := e.stablecoin.MintTo(minter, amount); err != nil {
			return fmt.Errorf("mint stablecoin: %w", err)
		}
		e.emit(events.StablecoinMinted{Account: minter, Amount: amount.ToBig(), TotalMinted: total.ToBig()})
		return nil
	})
}

// RepayStablecoin repays the caller's own stablecoin debt.
func (e *Engine) RepayStablecoin(payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return e.RepayStablecoinBehalf(payer, payer, amount)
}

// RepayStablecoinBehalf burns stablecoin held by payer to reduce borrower's
// debt. Amounts above the outstanding debt are clamped, so the returned value
// may be smaller than amount.
func (e *Engine) RepayStablecoinBehalf(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var repaid *uint256.Int
	err := e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Pauses.Repay {
			return ErrActionPaused
		}
		st, err := e.accrue(params)
		if err != nil {
			return err
		}
		acct, err := e.loadAccount(borrower)
		if err != nil {
			return err
		}
		if err := settleAccount(acct, st); err != nil {
			return err
		}
		repaid, err = e.repayFresh(payer, acct, st, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// repayFresh applies a repayment to a settled account. Interest is paid before
// principal.
func (e *Engine) repayFresh(payer common.Address, acct *Account, st *StablecoinState, amount *uint256.Int) (*uint256.Int, error) {
	if e.stablecoin == nil {
		return nil, errNilToken
	}
	debt, err := acct.Debt()
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return nil, ErrNoDebtToRepay
	}
	effective := minUint(amount, debt)
	if err := e.stablecoin.BurnFrom(e.address, payer, effective); err != nil {
		return nil, fmt.Errorf("burn stablecoin: %w", err)
	}

	interestPaid := minUint(effective, acct.AccruedInterest)
	principalPaid := new(uint256.Int).Sub(effective, interestPaid)
	if acct.AccruedInterest, err = subUint(acct.AccruedInterest, interestPaid); err != nil {
		return nil, err
	}
	if acct.MintedPrincipal, err = subUint(acct.MintedPrincipal, principalPaid); err != nil {
		return nil, err
	}
	if st.TotalMinted, err = subUint(st.TotalMinted, principalPaid); err != nil {
		return nil, err
	}
	if st.TotalInterestRepaid, err = addUint(st.TotalInterestRepaid, interestPaid); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(acct); err != nil {
		return nil, err
	}
	if err := e.state.PutStablecoinState(st); err != nil {
		return nil, err
	}
	e.emit(events.StablecoinRepaid{
		Payer:        payer,
		Borrower:     acct.Address,
		Amount:       effective.ToBig(),
		InterestPaid: interestPaid.ToBig(),
		TotalMinted:  st.TotalMinted.ToBig(),
	})
	return effective, nil
}

// MintableStablecoin returns how much the account could mint right now.
func (e *Engine) MintableStablecoin(account common.Address) (*uint256.Int, error) {
	snap, err := e.AccountLiquidity(account)
	if err != nil {
		return nil, err
	}
	return snap.Mintable, nil
}

// MintedStablecoin returns the account's stored principal.
func (e *Engine) MintedStablecoin(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func() error {
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		out = clone(acct.MintedPrincipal)
		return nil
	})
	return out, err
}

// StablecoinDebt returns principal plus interest accrued up to the current
// block without persisting the accrual.
func (e *Engine) StablecoinDebt(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		st, err := e.loadStablecoin()
		if err != nil {
			return err
		}
		if err := accrueIndex(st, params.Stablecoin.StabilityRatePerBlock, e.blockHeight); err != nil {
			return err
		}
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		if err := settleAccount(acct, st); err != nil {
			return err
		}
		out, err = acct.Debt()
		return err
	})
	return out, err
}

// StablecoinState returns a copy of the global stablecoin ledger.
func (e *Engine) StablecoinState() (*StablecoinState, error) {
	var out *StablecoinState
	err := e.view(func() error {
		st, err := e.loadStablecoin()
		if err != nil {
			return err
		}
		out = st.Clone()
		return nil
	})
	return out, err
}

// CheckInvariants verifies that the per-account principals add up to the
// global total.
func (e *Engine) CheckInvariants() error {
	return e.view(func() error {
		st, err := e.loadStablecoin()
		if err != nil {
			return err
		}
		addrs, err := e.state.ListUserAccounts()
		if err != nil {
			return err
		}
		sum := new(uint256.Int)
		for _, addr := range addrs {
			acct, err := e.loadAccount(addr)
			if err != nil {
				return err
			}
			if sum, err = addUint(sum, acct.MintedPrincipal); err != nil {
				return err
			}
		}
		if !sum.Eq(st.TotalMinted) {
			return fmt.Errorf("comptroller: minted principal sum %s does not match total %s", sum.Dec(), st.TotalMinted.Dec())
		}
		return nil
	})
}
