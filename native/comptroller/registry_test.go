package comptroller

import (
	"errors"
	"testing"

	"stablerisk/core/events"
)

func TestSupportMarketRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	market := makeAddress(0x01)
	env.markets[market] = &fakeMarketToken{addr: market, ledger: env.state.ledger, rate: ExpScale()}

	if err := env.engine.SupportMarket(makeAddress(0x99), market, "usdc"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SupportMarket(env.admin, market, "usdc"); err != nil {
		t.Fatalf("support market: %v", err)
	}
	if err := env.engine.SupportMarket(env.admin, market, "usdc"); !errors.Is(err, ErrMarketAlreadyListed) {
		t.Fatalf("expected ErrMarketAlreadyListed, got %v", err)
	}
	got, err := env.engine.Market(market)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if got.Underlying != "USDC" || !got.CollateralFactor.IsZero() {
		t.Fatalf("unexpected market %+v", got)
	}
}

func TestSetCollateralFactorBounds(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "usdc", u(0), ExpScale(), ExpScale())

	if err := env.engine.SetCollateralFactor(env.admin, market, ExpScale()); !errors.Is(err, ErrInvalidCollateralFactor) {
		t.Fatalf("expected ErrInvalidCollateralFactor, got %v", err)
	}
	env.oracle.prices[market] = u(0)
	if err := env.engine.SetCollateralFactor(env.admin, market, mantissa("500000000000000000")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if err := env.engine.SetCollateralFactor(env.admin, market, u(0)); err != nil {
		t.Fatalf("zero factor without price should succeed: %v", err)
	}
	if err := env.engine.SetCollateralFactor(env.admin, makeAddress(0x42), u(0)); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed, got %v", err)
	}
}

func TestEnterMarketsIsAtomicAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "usdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	account := makeAddress(0x10)

	env.recorder.Drain()
	if err := env.engine.EnterMarkets(account, market, makeAddress(0x42)); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed, got %v", err)
	}
	if member, _ := env.engine.CheckMembership(account, market); member {
		t.Fatalf("failed call must not record membership")
	}
	if env.recorder.Len() != 0 {
		t.Fatalf("failed call must not emit events")
	}

	env.enter(account, market)
	env.enter(account, market, market)
	assets, err := env.engine.AssetsIn(account)
	if err != nil {
		t.Fatalf("assets in: %v", err)
	}
	if len(assets) != 1 || assets[0] != market {
		t.Fatalf("expected single membership, got %v", assets)
	}
	emitted := env.recorder.Drain()
	if len(emitted) != 1 || emitted[0].EventType() != events.TypeMarketEntered {
		t.Fatalf("expected one enter event, got %v", emitted)
	}
}

func TestExitMarket(t *testing.T) {
	env := newTestEnv(t)
	collateral := env.listMarket(0x01, "usdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	borrowed := env.listMarket(0x02, "eth", mantissa("500000000000000000"), ExpScale(), ExpScale())
	account := makeAddress(0x10)

	if err := env.engine.ExitMarket(account, collateral); err != nil {
		t.Fatalf("exit without membership should be a no-op: %v", err)
	}

	env.fund(collateral, account, 100)
	env.enter(account, collateral, borrowed)
	env.state.ledger.setBorrowBalance(borrowed, account, u(10))

	if err := env.engine.ExitMarket(account, borrowed); !errors.Is(err, ErrNonzeroBorrowBalance) {
		t.Fatalf("expected ErrNonzeroBorrowBalance, got %v", err)
	}
	if err := env.engine.ExitMarket(account, collateral); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if member, _ := env.engine.CheckMembership(account, collateral); !member {
		t.Fatalf("membership must survive a rejected exit")
	}

	env.state.ledger.setBorrowBalance(borrowed, account, u(0))
	if err := env.engine.ExitMarket(account, collateral); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if member, _ := env.engine.CheckMembership(account, collateral); member {
		t.Fatalf("expected membership removed")
	}
}

func TestMarketsListing(t *testing.T) {
	env := newTestEnv(t)
	a := env.listMarket(0x01, "usdc", u(0), ExpScale(), ExpScale())
	b := env.listMarket(0x02, "eth", u(0), ExpScale(), ExpScale())
	markets, err := env.engine.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 2 || markets[0].Address != a || markets[1].Address != b {
		t.Fatalf("unexpected markets %+v", markets)
	}
}
