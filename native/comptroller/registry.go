package comptroller

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
)

// SupportMarket lists a market token so accounts can enter it. The collateral
// factor starts at zero.
func (e *Engine) SupportMarket(caller, market common.Address, underlying string) error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(params, caller); err != nil {
			return err
		}
		existing, err := e.state.GetMarket(market)
		if err != nil {
			return err
		}
		if existing != nil && existing.Listed {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, market.Hex())
		}
		if _, err := e.marketToken(market); err != nil {
			return err
		}
		record := &Market{
			Address:          market,
			Underlying:       strings.ToUpper(strings.TrimSpace(underlying)),
			CollateralFactor: new(uint256.Int),
			Listed:           true,
		}
		if err := e.state.PutMarket(record); err != nil {
			return err
		}
		e.emit(events.MarketListed{Market: market, Underlying: record.Underlying})
		return nil
	})
}

// SetCollateralFactor updates a listed market's collateral factor. Non-zero
// factors require the oracle to price the market.
func (e *Engine) SetCollateralFactor(caller, market common.Address, factor *uint256.Int) error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(params, caller); err != nil {
			return err
		}
		record, err := e.loadMarket(market)
		if err != nil {
			return err
		}
		if factor == nil || !factor.Lt(expScale) {
			return ErrInvalidCollateralFactor
		}
		if !factor.IsZero() {
			if _, err := e.price(market); err != nil {
				return err
			}
		}
		old := clone(record.CollateralFactor)
		record.CollateralFactor = clone(factor)
		if err := e.state.PutMarket(record); err != nil {
			return err
		}
		e.emit(events.CollateralFactorUpdated{Market: market, Old: old.ToBig(), New: factor.ToBig()})
		return nil
	})
}

// EnterMarkets adds markets to the account's collateral set. Every market must
// be listed; re-entering is a no-op.
func (e *Engine) EnterMarkets(account common.Address, markets ...common.Address) error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Pauses.EnterMarket {
			return ErrActionPaused
		}
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		changed := false
		for _, market := range markets {
			if _, err := e.loadMarket(market); err != nil {
				return err
			}
			if acct.HasMarket(market) {
				continue
			}
			acct.Markets = append(acct.Markets, market)
			changed = true
			e.emit(events.MarketEntered{Account: account, Market: market})
		}
		if !changed {
			return nil
		}
		return e.state.PutUserAccount(acct)
	})
}

// ExitMarket removes market from the account's collateral set. It refuses when
// the account still borrows from the market or when dropping the collateral
// would leave the account in shortfall.
func (e *Engine) ExitMarket(account, market common.Address) error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Pauses.ExitMarket {
			return ErrActionPaused
		}
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		if !acct.HasMarket(market) {
			return nil
		}
		token, err := e.marketToken(market)
		if err != nil {
			return err
		}
		borrowed, err := token.BorrowBalanceStored(account)
		if err != nil {
			return err
		}
		if borrowed != nil && !borrowed.IsZero() {
			return fmt.Errorf("%w: %s", ErrNonzeroBorrowBalance, market.Hex())
		}

		st, err := e.accrue(params)
		if err != nil {
			return err
		}
		if err := settleAccount(acct, st); err != nil {
			return err
		}
		snap, err := e.snapshot(acct, params, market)
		if err != nil {
			return err
		}
		if !snap.Shortfall.IsZero() {
			return ErrInsufficientLiquidity
		}

		remaining := acct.Markets[:0]
		for _, m := range acct.Markets {
			if m != market {
				remaining = append(remaining, m)
			}
		}
		acct.Markets = remaining
		if err := e.state.PutUserAccount(acct); err != nil {
			return err
		}
		e.emit(events.MarketExited{Account: account, Market: market})
		return nil
	})
}

// AssetsIn returns the markets the account has entered.
func (e *Engine) AssetsIn(account common.Address) ([]common.Address, error) {
	var out []common.Address
	err := e.view(func() error {
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		out = append([]common.Address(nil), acct.Markets...)
		return nil
	})
	return out, err
}

// CheckMembership reports whether the account entered market.
func (e *Engine) CheckMembership(account, market common.Address) (bool, error) {
	var member bool
	err := e.view(func() error {
		acct, err := e.loadAccount(account)
		if err != nil {
			return err
		}
		member = acct.HasMarket(market)
		return nil
	})
	return member, err
}

// Market returns the stored configuration of a market.
func (e *Engine) Market(addr common.Address) (*Market, error) {
	var out *Market
	err := e.view(func() error {
		market, err := e.loadMarket(addr)
		if err != nil {
			return err
		}
		out = market.Clone()
		return nil
	})
	return out, err
}

// Markets lists every listed market in listing order.
func (e *Engine) Markets() ([]*Market, error) {
	var out []*Market
	err := e.view(func() error {
		addrs, err := e.state.ListMarkets()
		if err != nil {
			return err
		}
		out = make([]*Market, 0, len(addrs))
		for _, addr := range addrs {
			market, err := e.state.GetMarket(addr)
			if err != nil {
				return err
			}
			if market == nil || !market.Listed {
				continue
			}
			out = append(out, market.Clone())
		}
		return nil
	})
	return out, err
}
