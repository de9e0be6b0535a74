package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stablerisk/core/types"
)

const (
	TypeMarketListed            = "comptroller.market_listed"
	TypeCollateralFactorUpdated = "comptroller.collateral_factor_updated"
	TypeMarketEntered           = "comptroller.market_entered"
	TypeMarketExited            = "comptroller.market_exited"
	TypeStablecoinMinted        = "comptroller.stablecoin_minted"
	TypeStablecoinRepaid        = "comptroller.stablecoin_repaid"
	TypeLiquidationExecuted     = "comptroller.liquidation_executed"
	TypeParamsUpdated           = "comptroller.params_updated"
)

type MarketListed struct {
	Market     common.Address
	Underlying string
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketListed,
		Attributes: map[string]string{
			"market":     e.Market.Hex(),
			"underlying": normalizeAsset(e.Underlying),
		},
	}
}

type CollateralFactorUpdated struct {
	Market common.Address
	Old    *big.Int
	New    *big.Int
}

func (CollateralFactorUpdated) EventType() string { return TypeCollateralFactorUpdated }

func (e CollateralFactorUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralFactorUpdated,
		Attributes: map[string]string{
			"market": e.Market.Hex(),
			"old":    formatAmount(e.Old),
			"new":    formatAmount(e.New),
		},
	}
}

type MarketEntered struct {
	Account common.Address
	Market  common.Address
}

func (MarketEntered) EventType() string { return TypeMarketEntered }

func (e MarketEntered) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketEntered,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"market":  e.Market.Hex(),
		},
	}
}

type MarketExited struct {
	Account common.Address
	Market  common.Address
}

func (MarketExited) EventType() string { return TypeMarketExited }

func (e MarketExited) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketExited,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"market":  e.Market.Hex(),
		},
	}
}

// StablecoinMinted records new stablecoin principal issued to an account.
type StablecoinMinted struct {
	Account     common.Address
	Amount      *big.Int
	TotalMinted *big.Int
}

func (StablecoinMinted) EventType() string { return TypeStablecoinMinted }

func (e StablecoinMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeStablecoinMinted,
		Attributes: map[string]string{
			"account":     e.Account.Hex(),
			"amount":      formatAmount(e.Amount),
			"totalMinted": formatAmount(e.TotalMinted),
		},
	}
}

// StablecoinRepaid records a burn against a borrower's stablecoin debt. Amount
// includes InterestPaid.
type StablecoinRepaid struct {
	Payer        common.Address
	Borrower     common.Address
	Amount       *big.Int
	InterestPaid *big.Int
	TotalMinted  *big.Int
}

func (StablecoinRepaid) EventType() string { return TypeStablecoinRepaid }

func (e StablecoinRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeStablecoinRepaid,
		Attributes: map[string]string{
			"account":      e.Borrower.Hex(),
			"payer":        e.Payer.Hex(),
			"amount":       formatAmount(e.Amount),
			"interestPaid": formatAmount(e.InterestPaid),
			"totalMinted":  formatAmount(e.TotalMinted),
		},
	}
}

type LiquidationExecuted struct {
	Liquidator       common.Address
	Borrower         common.Address
	RepayMarket      common.Address
	CollateralMarket common.Address
	RepayAmount      *big.Int
	SeizeTokens      *big.Int
	Stablecoin       bool
}

func (LiquidationExecuted) EventType() string { return TypeLiquidationExecuted }

func (e LiquidationExecuted) Event() *types.Event {
	repayMarket := e.RepayMarket.Hex()
	if e.Stablecoin {
		repayMarket = "stablecoin"
	}
	return &types.Event{
		Type: TypeLiquidationExecuted,
		Attributes: map[string]string{
			"account":          e.Borrower.Hex(),
			"liquidator":       e.Liquidator.Hex(),
			"repayMarket":      repayMarket,
			"collateralMarket": e.CollateralMarket.Hex(),
			"repayAmount":      formatAmount(e.RepayAmount),
			"seizeTokens":      formatAmount(e.SeizeTokens),
		},
	}
}

// ParamsUpdated is emitted whenever an admin changes a risk parameter.
type ParamsUpdated struct {
	Field  string
	Value  string
	Height uint64
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamsUpdated,
		Attributes: map[string]string{
			"field":  e.Field,
			"value":  e.Value,
			"height": strconv.FormatUint(e.Height, 10),
		},
	}
}
