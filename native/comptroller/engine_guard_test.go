package comptroller

import (
	"errors"
	"testing"
)

func TestNestedCallsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 100)
	env.enter(minter, market)

	var nested error
	env.markets[market].onBalance = func() {
		nested = env.engine.MintStablecoin(minter, u(1))
	}
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("outer mint: %v", err)
	}
	if !errors.Is(nested, ErrReentrant) {
		t.Fatalf("expected ErrReentrant from nested call, got %v", nested)
	}
	minted, _ := env.engine.MintedStablecoin(minter)
	if minted.Uint64() != 10 {
		t.Fatalf("expected only the outer mint to apply, got %s", minted)
	}

	// The guard is released after a failed operation too.
	env.markets[market].onBalance = nil
	if err := env.engine.MintStablecoin(minter, u(1_000)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(1)); err != nil {
		t.Fatalf("guard not released: %v", err)
	}
}

func TestGuardReleasedAfterPanic(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 100)
	env.enter(minter, market)

	env.markets[market].onBalance = func() { panic("collaborator failure") }
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = env.engine.MintStablecoin(minter, u(10))
	}()

	env.markets[market].onBalance = nil
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("mint after panic: %v", err)
	}
	if err := env.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(makeAddress(0xEE))
	if err := engine.MintStablecoin(makeAddress(0x10), u(1)); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
}

func TestInitializeOnce(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Initialize(DefaultParams(env.admin)); !errors.Is(err, errAlreadyInitialised) {
		t.Fatalf("expected errAlreadyInitialised, got %v", err)
	}
	engine := NewEngine(makeAddress(0xEE))
	engine.SetState(newMockEngineState())
	if ok, err := engine.Initialized(); err != nil || ok {
		t.Fatalf("expected uninitialised engine, got %v (%v)", ok, err)
	}
	if _, err := engine.RiskParams(); !errors.Is(err, errNotInitialised) {
		t.Fatalf("expected errNotInitialised, got %v", err)
	}
	bad := DefaultParams(env.admin)
	bad.Liquidation.CloseFactor = u(0)
	if err := engine.Initialize(bad); !errors.Is(err, ErrInvalidCloseFactor) {
		t.Fatalf("expected ErrInvalidCloseFactor, got %v", err)
	}
}

func TestParamSetterValidation(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetLiquidationIncentive(env.admin, mantissa("900000000000000000")); !errors.Is(err, ErrInvalidLiquidationIncentive) {
		t.Fatalf("expected ErrInvalidLiquidationIncentive, got %v", err)
	}
	if err := env.engine.SetCloseFactor(env.admin, mantissa("1100000000000000000")); !errors.Is(err, ErrInvalidCloseFactor) {
		t.Fatalf("expected ErrInvalidCloseFactor, got %v", err)
	}
	if err := env.engine.SetMintRate(env.admin, 10_001); !errors.Is(err, ErrInvalidMintRate) {
		t.Fatalf("expected ErrInvalidMintRate, got %v", err)
	}
	next := makeAddress(0xAE)
	if err := env.engine.SetAdmin(env.admin, next); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if err := env.engine.SetMintRate(env.admin, 5_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old admin rejected, got %v", err)
	}
	if err := env.engine.SetMintRate(next, 5_000); err != nil {
		t.Fatalf("set mint rate: %v", err)
	}
	params, err := env.engine.RiskParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Stablecoin.MintRateBps != 5_000 || params.Admin != next {
		t.Fatalf("unexpected params %+v", params)
	}
}
