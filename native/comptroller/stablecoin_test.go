package comptroller

import (
	"errors"
	"testing"

	nativecommon "stablerisk/native/common"
)

func TestMintableMatchesFixture(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 100)
	env.enter(minter, market)

	mintable, err := env.engine.MintableStablecoin(minter)
	if err != nil {
		t.Fatalf("mintable: %v", err)
	}
	if mintable.Uint64() != 80 {
		t.Fatalf("expected mintable 80, got %s", mintable)
	}
	if err := env.engine.MintStablecoin(minter, u(81)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(80)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if bal := env.stableBalance(minter); bal.Uint64() != 80 {
		t.Fatalf("expected stablecoin balance 80, got %s", bal)
	}
	minted, err := env.engine.MintedStablecoin(minter)
	if err != nil || minted.Uint64() != 80 {
		t.Fatalf("expected minted 80, got %v (%v)", minted, err)
	}
	if mintable, _ := env.engine.MintableStablecoin(minter); !mintable.IsZero() {
		t.Fatalf("expected nothing left to mint, got %s", mintable)
	}
	snap, err := env.engine.AccountLiquidity(minter)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !snap.Shortfall.IsZero() {
		t.Fatalf("a mint must never open a shortfall, got %s", snap.Shortfall)
	}
	if err := env.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestMintRateOnlyTightensCollateralFactor(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("500000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 100)
	env.enter(minter, market)

	// A full mint rate would allow 100 against the raw value.
	snap, err := env.engine.AccountLiquidity(minter)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if snap.MintCapacity.Uint64() != 100 || snap.Mintable.Uint64() != 50 {
		t.Fatalf("expected capacity 100 and mintable 50, got %s and %s", snap.MintCapacity, snap.Mintable)
	}
	if err := env.engine.MintStablecoin(minter, u(51)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral above weighted liquidity, got %v", err)
	}

	// A 40% rate is tighter than the 0.5 factor.
	if err := env.engine.SetMintRate(env.admin, 4_000); err != nil {
		t.Fatalf("set mint rate: %v", err)
	}
	if mintable, _ := env.engine.MintableStablecoin(minter); mintable.Uint64() != 40 {
		t.Fatalf("expected mintable 40, got %s", mintable)
	}
	if err := env.engine.MintStablecoin(minter, u(41)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral above mint rate, got %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(40)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func TestMintRejectsZeroAmount(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.MintStablecoin(makeAddress(0x10), u(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.engine.RepayStablecoin(makeAddress(0x10), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestMintRepayRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)

	if _, err := env.engine.RepayStablecoin(minter, u(1)); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("expected ErrNoDebtToRepay, got %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(300)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := env.engine.RepayStablecoin(minter, u(100)); err == nil {
		t.Fatalf("expected repay without allowance to fail")
	}
	state, _ := env.engine.StablecoinState()
	if state.TotalMinted.Uint64() != 300 {
		t.Fatalf("failed repay must not change total, got %s", state.TotalMinted)
	}

	env.approve(minter)
	repaid, err := env.engine.RepayStablecoin(minter, u(100))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Uint64() != 100 {
		t.Fatalf("expected 100 repaid, got %s", repaid)
	}
	// Overpayment is clamped to the outstanding debt.
	repaid, err = env.engine.RepayStablecoin(minter, u(1_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Uint64() != 200 {
		t.Fatalf("expected clamp to 200, got %s", repaid)
	}
	if bal := env.stableBalance(minter); !bal.IsZero() {
		t.Fatalf("expected balance burned, got %s", bal)
	}
	state, _ = env.engine.StablecoinState()
	if !state.TotalMinted.IsZero() {
		t.Fatalf("expected total minted 0, got %s", state.TotalMinted)
	}
	if err := env.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestRepayBehalf(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	payer := makeAddress(0x20)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)
	if err := env.engine.MintStablecoin(minter, u(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.state.ledger.stable[payer] = u(80)
	env.approve(payer)

	repaid, err := env.engine.RepayStablecoinBehalf(payer, minter, u(80))
	if err != nil {
		t.Fatalf("repay behalf: %v", err)
	}
	if repaid.Uint64() != 50 {
		t.Fatalf("expected 50 repaid, got %s", repaid)
	}
	if bal := env.stableBalance(payer); bal.Uint64() != 30 {
		t.Fatalf("expected payer left with 30, got %s", bal)
	}
	if bal := env.stableBalance(minter); bal.Uint64() != 50 {
		t.Fatalf("borrower balance must be untouched, got %s", bal)
	}
}

func TestStabilityFeeAccrual(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)

	// 1% per block.
	if err := env.engine.SetStabilityRate(env.admin, mantissa("10000000000000000")); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	env.engine.SetBlockHeight(10)
	debt, err := env.engine.StablecoinDebt(minter)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Uint64() != 110 {
		t.Fatalf("expected debt 110 after 10 blocks, got %s", debt)
	}
	// Reading twice at the same height is idempotent.
	if again, _ := env.engine.StablecoinDebt(minter); !again.Eq(debt) {
		t.Fatalf("expected idempotent accrual, got %s then %s", debt, again)
	}
	if err := env.engine.AccrueStablecoinInterest(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := env.engine.AccrueStablecoinInterest(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	state, _ := env.engine.StablecoinState()
	if !state.MintIndex.Eq(mantissa("1100000000000000000")) {
		t.Fatalf("expected index 1.1, got %s", state.MintIndex)
	}

	env.approve(minter)
	repaid, err := env.engine.RepayStablecoin(minter, u(5))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Uint64() != 5 {
		t.Fatalf("expected 5 repaid, got %s", repaid)
	}
	// Interest is paid first, so the principal is untouched.
	minted, _ := env.engine.MintedStablecoin(minter)
	if minted.Uint64() != 100 {
		t.Fatalf("expected principal 100, got %s", minted)
	}
	state, _ = env.engine.StablecoinState()
	if state.TotalInterestRepaid.Uint64() != 5 || state.TotalMinted.Uint64() != 100 {
		t.Fatalf("unexpected stablecoin state %+v", state)
	}

	env.state.ledger.stable[minter] = u(1_000)
	repaid, err = env.engine.RepayStablecoin(minter, u(1_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Uint64() != 105 {
		t.Fatalf("expected clamp to 105, got %s", repaid)
	}
	if err := env.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestMintCap(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)

	if err := env.engine.SetMintCap(env.admin, u(50)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(40)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(11)); !errors.Is(err, ErrMintCapExceeded) {
		t.Fatalf("expected ErrMintCapExceeded, got %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("mint up to cap: %v", err)
	}
}

func TestMintQuota(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)

	quota := nativecommon.Quota{MaxRequestsPerEpoch: 1, MaxAmountPerEpoch: u(0), EpochBlocks: 10}
	if err := env.engine.SetQuota(env.admin, quota); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(10)); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	env.engine.SetBlockHeight(10)
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("mint in next epoch: %v", err)
	}
}

func TestActionAndModulePauses(t *testing.T) {
	env := newTestEnv(t)
	market := env.listMarket(0x01, "vusdc", mantissa("800000000000000000"), ExpScale(), ExpScale())
	minter := makeAddress(0x10)
	env.fund(market, minter, 1_000)
	env.enter(minter, market)

	if err := env.engine.SetActionPauses(makeAddress(0x99), ActionPauses{Mint: true}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetActionPauses(env.admin, ActionPauses{Mint: true}); err != nil {
		t.Fatalf("set pauses: %v", err)
	}
	if err := env.engine.MintStablecoin(minter, u(10)); !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}
	if err := env.engine.SetActionPauses(env.admin, ActionPauses{}); err != nil {
		t.Fatalf("clear pauses: %v", err)
	}

	pauses := nativecommon.NewPauseSet(moduleName)
	env.engine.SetPauses(pauses)
	if err := env.engine.MintStablecoin(minter, u(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	pauses.Set(moduleName, false)
	if err := env.engine.MintStablecoin(minter, u(10)); err != nil {
		t.Fatalf("mint after resume: %v", err)
	}
}
