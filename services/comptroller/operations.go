package comptroller

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "stablerisk/native/common"
	risk "stablerisk/native/comptroller"
)

func (s *Service) EnterMarkets(ctx context.Context, account common.Address, markets []common.Address) error {
	return s.run(ctx, "enter_markets", func() error {
		return s.engine.EnterMarkets(account, markets...)
	})
}

func (s *Service) ExitMarket(ctx context.Context, account, market common.Address) error {
	return s.run(ctx, "exit_market", func() error {
		return s.engine.ExitMarket(account, market)
	})
}

// Approve sets the stablecoin allowance the engine may burn from owner when
// repaying or liquidating.
func (s *Service) Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	return s.run(ctx, "approve", func() error {
		if amount == nil {
			return risk.ErrInvalidAmount
		}
		return s.stable.Approve(owner, s.cfg.EngineAddress, amount)
	})
}

func (s *Service) Mint(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return s.run(ctx, "mint", func() error {
		return s.engine.MintStablecoin(account, amount)
	})
}

// Repay burns up to amount of payer's stablecoin against borrower's debt and
// returns the amount actually repaid.
func (s *Service) Repay(ctx context.Context, payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := s.run(ctx, "repay", func() error {
		var err error
		repaid, err = s.engine.RepayStablecoinBehalf(payer, borrower, amount)
		return err
	})
	return repaid, err
}

func (s *Service) LiquidateStablecoin(ctx context.Context, liquidator, borrower common.Address, amount *uint256.Int, collateral common.Address) (*risk.LiquidationResult, error) {
	var result *risk.LiquidationResult
	err := s.run(ctx, "liquidate_stablecoin", func() error {
		var err error
		result, err = s.engine.LiquidateStablecoin(liquidator, borrower, amount, collateral)
		return err
	})
	return result, err
}

func (s *Service) LiquidateBorrow(ctx context.Context, liquidator, borrower, repayMarket, collateral common.Address, amount *uint256.Int) (*risk.LiquidationResult, error) {
	var result *risk.LiquidationResult
	err := s.run(ctx, "liquidate_borrow", func() error {
		var err error
		result, err = s.engine.LiquidateBorrow(liquidator, borrower, repayMarket, collateral, amount)
		return err
	})
	return result, err
}

// MarketListing describes a market to list. Price and ExchangeRate are
// optional; CollateralFactor zero leaves the market without borrowing power.
type MarketListing struct {
	Address          common.Address
	Underlying       string
	CollateralFactor *uint256.Int
	Price            *uint256.Int
	ExchangeRate     *uint256.Int
}

// SupportMarket lists a market, registers its ledger tokens and applies the
// optional price, exchange rate and collateral factor atomically.
func (s *Service) SupportMarket(ctx context.Context, caller common.Address, listing MarketListing) error {
	return s.run(ctx, "support_market", func() error {
		return s.supportMarket(caller, listing)
	})
}

func (s *Service) supportMarket(caller common.Address, listing MarketListing) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	underlying := strings.ToUpper(strings.TrimSpace(listing.Underlying))
	if underlying == "" {
		return ErrInvalidUnderlying
	}
	if _, known := s.markets.Get(listing.Address); known {
		return fmt.Errorf("%w: %s", risk.ErrMarketAlreadyListed, listing.Address.Hex())
	}
	symbol := MarketSymbol(underlying)
	for _, existing := range s.markets.All() {
		if existing.Symbol == symbol {
			return fmt.Errorf("%w: %s already backs %s", risk.ErrMarketAlreadyListed, underlying, existing.Address.Hex())
		}
	}
	if !s.manager.TokenExists(symbol) {
		if err := s.manager.RegisterToken(symbol, "Market "+symbol, 8, s.cfg.EngineAddress); err != nil {
			return err
		}
	}
	if !s.manager.TokenExists(underlying) {
		if err := s.manager.RegisterToken(underlying, underlying, 18, common.Address{}); err != nil {
			return err
		}
	}
	// The engine resolves the token while listing, so attach it first.
	market := s.attachMarket(listing.Address, underlying)
	if err := s.engine.SupportMarket(caller, listing.Address, underlying); err != nil {
		return err
	}
	if listing.ExchangeRate != nil && !listing.ExchangeRate.IsZero() {
		if err := market.SetExchangeRate(listing.ExchangeRate); err != nil {
			return err
		}
	}
	if listing.Price != nil {
		if err := s.oracle.SetPrice(listing.Address, listing.Price); err != nil {
			return err
		}
	}
	if listing.CollateralFactor != nil && !listing.CollateralFactor.IsZero() {
		return s.engine.SetCollateralFactor(caller, listing.Address, listing.CollateralFactor)
	}
	return nil
}

func (s *Service) SetCollateralFactor(ctx context.Context, caller, market common.Address, factor *uint256.Int) error {
	return s.run(ctx, "set_collateral_factor", func() error {
		return s.engine.SetCollateralFactor(caller, market, factor)
	})
}

// SetPrice posts an oracle price for market at the current height.
func (s *Service) SetPrice(ctx context.Context, caller, market common.Address, price *uint256.Int) error {
	return s.run(ctx, "set_price", func() error {
		if err := s.requireAdmin(caller); err != nil {
			return err
		}
		if _, err := s.market(market); err != nil {
			return err
		}
		return s.oracle.SetPrice(market, price)
	})
}

// BalanceKind selects which ledger a harness funding call writes to.
type BalanceKind string

const (
	BalanceCollateral BalanceKind = "collateral"
	BalanceBorrow     BalanceKind = "borrow"
	BalanceStablecoin BalanceKind = "stablecoin"
	BalanceExchange   BalanceKind = "exchangeRate"
)

// SetBalance is the operator harness for seeding positions: it sets a market
// token balance or borrow balance, or allocates stablecoin to account.
func (s *Service) SetBalance(ctx context.Context, caller common.Address, kind BalanceKind, market, account common.Address, amount *uint256.Int) error {
	return s.run(ctx, "set_balance", func() error {
		if err := s.requireAdmin(caller); err != nil {
			return err
		}
		if amount == nil {
			return risk.ErrInvalidAmount
		}
		if kind == BalanceStablecoin {
			return s.stable.Allocate(account, amount)
		}
		token, err := s.market(market)
		if err != nil {
			return err
		}
		switch kind {
		case BalanceCollateral:
			return token.SetBalance(account, amount)
		case BalanceBorrow:
			return token.SetBorrowBalance(account, amount)
		case BalanceExchange:
			return token.SetExchangeRate(amount)
		default:
			return fmt.Errorf("unknown balance kind %q", kind)
		}
	})
}

// ParamsUpdate carries the risk parameters to change. Nil fields are kept.
type ParamsUpdate struct {
	CloseFactor           *uint256.Int
	LiquidationIncentive  *uint256.Int
	MintRateBps           *uint64
	MintCap               *uint256.Int
	StabilityRatePerBlock *uint256.Int
	LiquidationMode       *risk.LiquidationMode
	Pauses                *risk.ActionPauses
	Quota                 *nativecommon.Quota
	Admin                 *common.Address
}

// UpdateParams applies every set field or none of them.
func (s *Service) UpdateParams(ctx context.Context, caller common.Address, update ParamsUpdate) error {
	return s.run(ctx, "update_params", func() error {
		steps := []struct {
			set   bool
			apply func() error
		}{
			{update.CloseFactor != nil, func() error { return s.engine.SetCloseFactor(caller, update.CloseFactor) }},
			{update.LiquidationIncentive != nil, func() error { return s.engine.SetLiquidationIncentive(caller, update.LiquidationIncentive) }},
			{update.MintRateBps != nil, func() error { return s.engine.SetMintRate(caller, *update.MintRateBps) }},
			{update.MintCap != nil, func() error { return s.engine.SetMintCap(caller, update.MintCap) }},
			{update.StabilityRatePerBlock != nil, func() error { return s.engine.SetStabilityRate(caller, update.StabilityRatePerBlock) }},
			{update.LiquidationMode != nil, func() error { return s.engine.SetStablecoinLiquidationMode(caller, *update.LiquidationMode) }},
			{update.Pauses != nil, func() error { return s.engine.SetActionPauses(caller, *update.Pauses) }},
			{update.Quota != nil, func() error { return s.engine.SetQuota(caller, *update.Quota) }},
			{update.Admin != nil, func() error { return s.engine.SetAdmin(caller, *update.Admin) }},
		}
		applied := 0
		for _, step := range steps {
			if !step.set {
				continue
			}
			if err := step.apply(); err != nil {
				return err
			}
			applied++
		}
		if applied == 0 {
			return ErrEmptyUpdate
		}
		return nil
	})
}

// Bootstrap initialises the engine from a risk file on first start and lists
// the markets it names that are not listed yet.
func (s *Service) Bootstrap(ctx context.Context, cfg *risk.Config) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	listings := make([]MarketListing, 0, len(cfg.Markets))
	for i, m := range cfg.Markets {
		listing, err := listingFromConfig(m)
		if err != nil {
			return fmt.Errorf("market %d: %w", i, err)
		}
		listings = append(listings, listing)
	}
	return s.run(ctx, "bootstrap", func() error {
		ok, err := s.engine.Initialized()
		if err != nil {
			return err
		}
		if !ok {
			if err := s.engine.Initialize(params); err != nil {
				return err
			}
		}
		current, err := s.engine.RiskParams()
		if err != nil {
			return err
		}
		for _, listing := range listings {
			if _, known := s.markets.Get(listing.Address); known {
				continue
			}
			if err := s.supportMarket(current.Admin, listing); err != nil {
				return fmt.Errorf("list %s: %w", listing.Address.Hex(), err)
			}
		}
		return nil
	})
}

func listingFromConfig(m risk.MarketConfig) (MarketListing, error) {
	addr, err := risk.ParseAddress(m.Address)
	if err != nil {
		return MarketListing{}, err
	}
	listing := MarketListing{Address: addr, Underlying: m.Underlying}
	if m.Underlying == "" {
		return MarketListing{}, ErrInvalidUnderlying
	}
	if m.CollateralFactor != "" {
		if listing.CollateralFactor, err = risk.ParseMantissa(m.CollateralFactor); err != nil {
			return MarketListing{}, fmt.Errorf("collateral factor: %w", err)
		}
	}
	if m.Price != "" {
		if listing.Price, err = risk.ParseMantissa(m.Price); err != nil {
			return MarketListing{}, fmt.Errorf("price: %w", err)
		}
	}
	if m.ExchangeRate != "" {
		if listing.ExchangeRate, err = risk.ParseMantissa(m.ExchangeRate); err != nil {
			return MarketListing{}, fmt.Errorf("exchange rate: %w", err)
		}
	}
	return listing, nil
}
