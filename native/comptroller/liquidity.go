package comptroller

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountLiquidity values the account against its entered markets, including
// stability fee accrued up to the current block.
func (e *Engine) AccountLiquidity(account common.Address) (*LiquiditySnapshot, error) {
	return e.HypotheticalLiquidity(account, common.Address{})
}

// HypotheticalLiquidity values the account as if it had exited exclude. The
// zero address excludes nothing.
func (e *Engine) HypotheticalLiquidity(account, exclude common.Address) (*LiquiditySnapshot, error) {
	var out *LiquiditySnapshot
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
		out, err = e.snapshot(acct, params, exclude)
		return err
	})
	return out, err
}

// snapshot computes the liquidity of acct. Oracle prices and token state are
// fetched once per market. Any unpriced market fails the whole snapshot.
func (e *Engine) snapshot(acct *Account, params *Params, exclude common.Address) (*LiquiditySnapshot, error) {
	collateral := new(uint256.Int)
	raw := new(uint256.Int)
	borrow := new(uint256.Int)

	for _, addr := range acct.Markets {
		if exclude != (common.Address{}) && addr == exclude {
			continue
		}
		market, err := e.loadMarket(addr)
		if err != nil {
			return nil, err
		}
		token, err := e.marketToken(addr)
		if err != nil {
			return nil, err
		}
		balance, err := token.BalanceOf(acct.Address)
		if err != nil {
			return nil, err
		}
		borrowed, err := token.BorrowBalanceStored(acct.Address)
		if err != nil {
			return nil, err
		}
		rate, err := token.ExchangeRateStored()
		if err != nil {
			return nil, err
		}
		price, err := e.price(addr)
		if err != nil {
			return nil, err
		}

		tokensToDenom, err := mulExp(rate, price)
		if err != nil {
			return nil, err
		}
		weighted, err := mulExp(market.CollateralFactor, tokensToDenom)
		if err != nil {
			return nil, err
		}
		if collateral, err = mulScalarTruncateAdd(weighted, balance, collateral); err != nil {
			return nil, err
		}
		if raw, err = mulScalarTruncateAdd(tokensToDenom, balance, raw); err != nil {
			return nil, err
		}
		if borrow, err = mulScalarTruncateAdd(price, borrowed, borrow); err != nil {
			return nil, err
		}
	}

	debt, err := acct.Debt()
	if err != nil {
		return nil, err
	}
	if borrow, err = addUint(borrow, debt); err != nil {
		return nil, err
	}
	capacity, err := mulBps(raw, params.Stablecoin.MintRateBps)
	if err != nil {
		return nil, err
	}
	liquidity := subFloor(collateral, borrow)

	// The mint rate can only tighten the collateral-factor bound.
	return &LiquiditySnapshot{
		CollateralValue: collateral,
		BorrowValue:     borrow,
		Shortfall:       subFloor(borrow, collateral),
		Liquidity:       liquidity,
		MintCapacity:    capacity,
		Mintable:        minUint(subFloor(capacity, borrow), liquidity),
	}, nil
}
