package comptroller

import (
	"errors"
	"testing"
)

func TestAccountLiquidityValuesEnteredMarkets(t *testing.T) {
	env := newTestEnv(t)
	// Exchange rate 2, price 3: each token is worth 6 units of account.
	usdc := env.listMarket(0x01, "usdc", mantissa("500000000000000000"), mantissa("3000000000000000000"), mantissa("2000000000000000000"))
	eth := env.listMarket(0x02, "eth", mantissa("800000000000000000"), mantissa("2000000000000000000"), ExpScale())
	account := makeAddress(0x10)

	env.fund(usdc, account, 100)
	env.fund(eth, makeAddress(0x11), 1_000)
	env.state.ledger.setBorrowBalance(eth, account, u(50))
	env.enter(account, usdc, eth)

	snap, err := env.engine.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	// collateral = 100 * 6 * 0.5, borrow = 50 * 2
	if snap.CollateralValue.Uint64() != 300 || snap.BorrowValue.Uint64() != 100 {
		t.Fatalf("unexpected values: collateral %s borrow %s", snap.CollateralValue, snap.BorrowValue)
	}
	if snap.Liquidity.Uint64() != 200 || !snap.Shortfall.IsZero() {
		t.Fatalf("unexpected liquidity %s shortfall %s", snap.Liquidity, snap.Shortfall)
	}
	// Mint capacity uses the raw collateral value of 600, but minting is
	// still held to the weighted liquidity of 200.
	if snap.MintCapacity.Uint64() != 600 || snap.Mintable.Uint64() != 200 {
		t.Fatalf("unexpected capacity %s mintable %s", snap.MintCapacity, snap.Mintable)
	}

	hypo, err := env.engine.HypotheticalLiquidity(account, usdc)
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if hypo.Shortfall.Uint64() != 100 {
		t.Fatalf("expected shortfall 100 without usdc, got %s", hypo.Shortfall)
	}
}

func TestAccountLiquidityIgnoresMarketsNotEntered(t *testing.T) {
	env := newTestEnv(t)
	usdc := env.listMarket(0x01, "usdc", mantissa("500000000000000000"), ExpScale(), ExpScale())
	account := makeAddress(0x10)
	env.fund(usdc, account, 100)

	snap, err := env.engine.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !snap.CollateralValue.IsZero() || !snap.Mintable.IsZero() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestAccountLiquidityFailsClosedWithoutPrice(t *testing.T) {
	env := newTestEnv(t)
	usdc := env.listMarket(0x01, "usdc", mantissa("500000000000000000"), ExpScale(), ExpScale())
	eth := env.listMarket(0x02, "eth", mantissa("500000000000000000"), ExpScale(), ExpScale())
	account := makeAddress(0x10)
	env.fund(usdc, account, 100)
	env.enter(account, usdc, eth)

	env.oracle.prices[eth] = u(0)
	if _, err := env.engine.AccountLiquidity(account); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if _, err := env.engine.MintableStablecoin(account); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable from mintable, got %v", err)
	}
	if err := env.engine.MintStablecoin(account, u(1)); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected mint to fail closed, got %v", err)
	}

	env.oracle.err = errors.New("feed offline")
	env.oracle.prices[eth] = ExpScale()
	if _, err := env.engine.AccountLiquidity(account); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable on feed error, got %v", err)
	}
}
