package comptroller

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "stablerisk/native/common"
)

// Market is the risk configuration the engine keeps for a listed market token.
// Balances live in the token itself; the engine only stores what it needs to
// value them.
type Market struct {
	// Address identifies the market token.
	Address common.Address
	// Underlying names the asset the token is redeemable for.
	Underlying string
	// CollateralFactor is the mantissa share of the market's value that counts
	// as borrowing power. Always strictly below 1e18.
	CollateralFactor *uint256.Int
	// Listed gates entering, borrowing against and liquidating the market.
	Listed bool
}

// Account holds the engine-owned view of a participant.
type Account struct {
	Address common.Address
	// Markets is the set of entered markets. Order carries no meaning.
	Markets []common.Address
	// MintedPrincipal is the stablecoin principal outstanding.
	MintedPrincipal *uint256.Int
	// AccruedInterest is stability fee owed on top of the principal.
	AccruedInterest *uint256.Int
	// MintIndex is the global mint index observed at the last settlement.
	MintIndex *uint256.Int
	// Quota tracks per-epoch mint usage.
	Quota nativecommon.QuotaNow
}

// StablecoinState is the global stablecoin ledger.
type StablecoinState struct {
	// TotalMinted always equals the sum of every account's MintedPrincipal.
	TotalMinted         *uint256.Int
	MintIndex           *uint256.Int
	LastAccrualBlock    uint64
	TotalInterestRepaid *uint256.Int
}

// LiquidationParams bound how liquidations settle.
type LiquidationParams struct {
	// CloseFactor caps the share of debt repayable in one call, (0, 1e18].
	CloseFactor *uint256.Int
	// LiquidationIncentive multiplies seized collateral, >= 1e18.
	LiquidationIncentive *uint256.Int
}

// LiquidationMode selects when stablecoin debt can be liquidated.
type LiquidationMode uint8

const (
	// LiquidationModeShortfall requires the borrower to be in shortfall.
	LiquidationModeShortfall LiquidationMode = iota
	// LiquidationModeMinted additionally permits liquidating any account with
	// outstanding stablecoin debt. Operators must opt in explicitly.
	LiquidationModeMinted
)

func (m LiquidationMode) String() string {
	switch m {
	case LiquidationModeMinted:
		return "minted"
	default:
		return "shortfall"
	}
}

// ParseLiquidationMode maps the textual configuration value onto a mode.
func ParseLiquidationMode(value string) (LiquidationMode, bool) {
	switch value {
	case "", "shortfall":
		return LiquidationModeShortfall, true
	case "minted":
		return LiquidationModeMinted, true
	default:
		return LiquidationModeShortfall, false
	}
}

// StablecoinParams configure the stablecoin controller.
type StablecoinParams struct {
	// MintRateBps is the share of raw collateral value usable for minting.
	MintRateBps uint64
	// MintCap bounds TotalMinted. Zero disables the cap.
	MintCap *uint256.Int
	// StabilityRatePerBlock is the mantissa growth of the mint index per block.
	StabilityRatePerBlock *uint256.Int
	LiquidationMode       LiquidationMode
	Quota                 nativecommon.Quota
}

// ActionPauses exposes fine-grained switches for pausing individual flows.
type ActionPauses struct {
	EnterMarket bool
	ExitMarket  bool
	Mint        bool
	Repay       bool
	Liquidate   bool
}

// String lists the paused actions, or "none".
func (p ActionPauses) String() string {
	var names []string
	for _, item := range []struct {
		name   string
		paused bool
	}{
		{"enterMarket", p.EnterMarket},
		{"exitMarket", p.ExitMarket},
		{"mint", p.Mint},
		{"repay", p.Repay},
		{"liquidate", p.Liquidate},
	} {
		if item.paused {
			names = append(names, item.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Params is the persisted, admin-controlled configuration.
type Params struct {
	Admin       common.Address
	Liquidation LiquidationParams
	Stablecoin  StablecoinParams
	Pauses      ActionPauses
}

// LiquiditySnapshot is the valuation of an account at one point in time. It is
// recomputed on demand and never stored.
type LiquiditySnapshot struct {
	// CollateralValue is the collateral-factor weighted value of entered markets.
	CollateralValue *uint256.Int
	// BorrowValue sums token borrows and stablecoin debt.
	BorrowValue *uint256.Int
	// Shortfall is max(0, BorrowValue - CollateralValue).
	Shortfall *uint256.Int
	// Liquidity is max(0, CollateralValue - BorrowValue).
	Liquidity *uint256.Int
	// MintCapacity is the raw collateral value scaled by the mint rate.
	MintCapacity *uint256.Int
	// Mintable is the smaller of MintCapacity - BorrowValue and Liquidity.
	Mintable *uint256.Int
}

// LiquidationResult reports what a liquidation settled.
type LiquidationResult struct {
	Borrower         common.Address
	Liquidator       common.Address
	RepayMarket      common.Address
	CollateralMarket common.Address
	RepayAmount      *uint256.Int
	SeizeTokens      *uint256.Int
}

// StablecoinMarket is the sentinel repay market used for stablecoin debt.
var StablecoinMarket = common.Address{}

// DefaultParams returns conservative defaults for a fresh deployment.
func DefaultParams(admin common.Address) Params {
	return Params{
		Admin: admin,
		Liquidation: LiquidationParams{
			CloseFactor:          mustMantissa("500000000000000000"),
			LiquidationIncentive: mustMantissa("1080000000000000000"),
		},
		Stablecoin: StablecoinParams{
			MintRateBps:           5_000,
			MintCap:               new(uint256.Int),
			StabilityRatePerBlock: new(uint256.Int),
			LiquidationMode:       LiquidationModeShortfall,
		},
	}
}

// Validate checks the invariants the engine relies on.
func (p *Params) Validate() error {
	if p == nil {
		return errNotInitialised
	}
	cf := p.Liquidation.CloseFactor
	if cf == nil || cf.IsZero() || cf.Gt(expScale) {
		return ErrInvalidCloseFactor
	}
	incentive := p.Liquidation.LiquidationIncentive
	if incentive == nil || incentive.Lt(expScale) {
		return ErrInvalidLiquidationIncentive
	}
	if p.Stablecoin.MintRateBps > basisPoints.Uint64() {
		return ErrInvalidMintRate
	}
	return nil
}

func (p *Params) normalize() {
	if p.Liquidation.CloseFactor == nil {
		p.Liquidation.CloseFactor = new(uint256.Int)
	}
	if p.Liquidation.LiquidationIncentive == nil {
		p.Liquidation.LiquidationIncentive = new(uint256.Int)
	}
	if p.Stablecoin.MintCap == nil {
		p.Stablecoin.MintCap = new(uint256.Int)
	}
	if p.Stablecoin.StabilityRatePerBlock == nil {
		p.Stablecoin.StabilityRatePerBlock = new(uint256.Int)
	}
	if p.Stablecoin.Quota.MaxAmountPerEpoch == nil {
		p.Stablecoin.Quota.MaxAmountPerEpoch = new(uint256.Int)
	}
}

// Clone returns a deep copy of the params.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	out := *p
	out.Liquidation.CloseFactor = clone(p.Liquidation.CloseFactor)
	out.Liquidation.LiquidationIncentive = clone(p.Liquidation.LiquidationIncentive)
	out.Stablecoin.MintCap = clone(p.Stablecoin.MintCap)
	out.Stablecoin.StabilityRatePerBlock = clone(p.Stablecoin.StabilityRatePerBlock)
	out.Stablecoin.Quota.MaxAmountPerEpoch = clone(p.Stablecoin.Quota.MaxAmountPerEpoch)
	return &out
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	out := *m
	out.CollateralFactor = clone(m.CollateralFactor)
	return &out
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Markets = append([]common.Address(nil), a.Markets...)
	out.MintedPrincipal = clone(a.MintedPrincipal)
	out.AccruedInterest = clone(a.AccruedInterest)
	out.MintIndex = clone(a.MintIndex)
	out.Quota.AmountUsed = clone(a.Quota.AmountUsed)
	return &out
}

// Debt returns principal plus accrued interest.
func (a *Account) Debt() (*uint256.Int, error) {
	return addUint(a.MintedPrincipal, a.AccruedInterest)
}

// HasMarket reports membership of market in the entered set.
func (a *Account) HasMarket(market common.Address) bool {
	for _, m := range a.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the stablecoin state.
func (s *StablecoinState) Clone() *StablecoinState {
	if s == nil {
		return nil
	}
	out := *s
	out.TotalMinted = clone(s.TotalMinted)
	out.MintIndex = clone(s.MintIndex)
	out.TotalInterestRepaid = clone(s.TotalInterestRepaid)
	return &out
}

func mustMantissa(value string) *uint256.Int {
	return uint256.MustFromDecimal(value)
}
