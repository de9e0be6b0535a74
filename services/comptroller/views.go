package comptroller

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	risk "stablerisk/native/comptroller"
	"stablerisk/services/comptroller/indexer"
)

// MarketView is the public description of a listed market. Mantissas are
// rendered as decimal fractions, amounts as wei strings.
type MarketView struct {
	Address          string `json:"address"`
	Symbol           string `json:"symbol"`
	Underlying       string `json:"underlying"`
	CollateralFactor string `json:"collateralFactor"`
	ExchangeRate     string `json:"exchangeRate"`
	Price            string `json:"price,omitempty"`
	PriceUpdatedAt   uint64 `json:"priceUpdatedAt,omitempty"`
	PriceError       string `json:"priceError,omitempty"`
}

type PositionView struct {
	Market  string `json:"market"`
	Tokens  string `json:"tokens"`
	Borrow  string `json:"borrow"`
	Entered bool   `json:"entered"`
}

type LiquidityView struct {
	CollateralValue string `json:"collateralValue"`
	BorrowValue     string `json:"borrowValue"`
	Liquidity       string `json:"liquidity"`
	Shortfall       string `json:"shortfall"`
	MintCapacity    string `json:"mintCapacity"`
	Mintable        string `json:"mintable"`
}

type AccountView struct {
	Account           string         `json:"account"`
	Markets           []string       `json:"markets"`
	Positions         []PositionView `json:"positions"`
	MintedPrincipal   string         `json:"mintedPrincipal"`
	StablecoinDebt    string         `json:"stablecoinDebt"`
	StablecoinBalance string         `json:"stablecoinBalance"`
	Allowance         string         `json:"allowance"`
	Liquidity         *LiquidityView `json:"liquidity,omitempty"`
	LiquidityError    string         `json:"liquidityError,omitempty"`
}

type ParamsView struct {
	Admin                 string `json:"admin"`
	CloseFactor           string `json:"closeFactor"`
	LiquidationIncentive  string `json:"liquidationIncentive"`
	MintRateBps           uint64 `json:"mintRateBps"`
	MintCap               string `json:"mintCap"`
	StabilityRatePerBlock string `json:"stabilityRatePerBlock"`
	LiquidationMode       string `json:"liquidationMode"`
	Pauses                string `json:"pauses"`
	QuotaMaxRequests      uint32 `json:"quotaMaxRequests"`
	QuotaMaxAmount        string `json:"quotaMaxAmount"`
	QuotaEpochBlocks      uint64 `json:"quotaEpochBlocks"`
}

type StablecoinView struct {
	Symbol              string     `json:"symbol"`
	Height              uint64     `json:"height"`
	TotalMinted         string     `json:"totalMinted"`
	TotalSupply         string     `json:"totalSupply"`
	MintIndex           string     `json:"mintIndex"`
	LastAccrualBlock    uint64     `json:"lastAccrualBlock"`
	TotalInterestRepaid string     `json:"totalInterestRepaid"`
	ModulePaused        bool       `json:"modulePaused"`
	Params              ParamsView `json:"params"`
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func (s *Service) Markets(ctx context.Context) ([]MarketView, error) {
	var out []MarketView
	err := s.read(ctx, "markets", func() error {
		listed, err := s.engine.Markets()
		if err != nil {
			return err
		}
		out = make([]MarketView, 0, len(listed))
		for _, m := range listed {
			view := MarketView{
				Address:          m.Address.Hex(),
				Symbol:           MarketSymbol(m.Underlying),
				Underlying:       m.Underlying,
				CollateralFactor: risk.FormatMantissa(m.CollateralFactor),
				ExchangeRate:     risk.FormatMantissa(risk.ExpScale()),
			}
			if token, ok := s.markets.Get(m.Address); ok {
				rate, err := token.ExchangeRateStored()
				if err != nil {
					return err
				}
				view.ExchangeRate = risk.FormatMantissa(rate)
			}
			if record, err := s.oracle.Record(m.Address); err == nil {
				view.Price = risk.FormatMantissa(record.Price)
				view.PriceUpdatedAt = record.UpdatedAt
			}
			if _, err := s.oracle.UnderlyingPrice(m.Address); err != nil {
				view.PriceError = err.Error()
			}
			out = append(out, view)
		}
		return nil
	})
	return out, err
}

// Account assembles membership, balances, stablecoin figures and the current
// liquidity snapshot. A snapshot that cannot be priced is reported inline.
func (s *Service) Account(ctx context.Context, account common.Address) (*AccountView, error) {
	var out *AccountView
	err := s.read(ctx, "account", func() error {
		entered, err := s.engine.AssetsIn(account)
		if err != nil {
			return err
		}
		minted, err := s.engine.MintedStablecoin(account)
		if err != nil {
			return err
		}
		debt, err := s.engine.StablecoinDebt(account)
		if err != nil {
			return err
		}
		balance, err := s.stable.BalanceOf(account)
		if err != nil {
			return err
		}
		allowance, err := s.stable.Allowance(account, s.cfg.EngineAddress)
		if err != nil {
			return err
		}
		view := &AccountView{
			Account:           account.Hex(),
			Markets:           make([]string, 0, len(entered)),
			MintedPrincipal:   amountString(minted),
			StablecoinDebt:    amountString(debt),
			StablecoinBalance: amountString(balance),
			Allowance:         amountString(allowance),
		}
		member := make(map[common.Address]bool, len(entered))
		for _, m := range entered {
			view.Markets = append(view.Markets, m.Hex())
			member[m] = true
		}
		for _, token := range s.markets.All() {
			tokens, err := token.BalanceOf(account)
			if err != nil {
				return err
			}
			borrow, err := token.BorrowBalanceStored(account)
			if err != nil {
				return err
			}
			if tokens.IsZero() && borrow.IsZero() && !member[token.Address] {
				continue
			}
			view.Positions = append(view.Positions, PositionView{
				Market:  token.Address.Hex(),
				Tokens:  tokens.Dec(),
				Borrow:  borrow.Dec(),
				Entered: member[token.Address],
			})
		}
		snap, err := s.engine.AccountLiquidity(account)
		switch {
		case err == nil:
			view.Liquidity = &LiquidityView{
				CollateralValue: amountString(snap.CollateralValue),
				BorrowValue:     amountString(snap.BorrowValue),
				Liquidity:       amountString(snap.Liquidity),
				Shortfall:       amountString(snap.Shortfall),
				MintCapacity:    amountString(snap.MintCapacity),
				Mintable:        amountString(snap.Mintable),
			}
		case errors.Is(err, risk.ErrOracleUnavailable):
			view.LiquidityError = err.Error()
		default:
			return err
		}
		out = view
		return nil
	})
	return out, err
}

func (s *Service) Stablecoin(ctx context.Context) (*StablecoinView, error) {
	var out *StablecoinView
	err := s.read(ctx, "stablecoin", func() error {
		st, err := s.engine.StablecoinState()
		if err != nil {
			return err
		}
		params, err := s.engine.RiskParams()
		if err != nil {
			return err
		}
		supply, err := s.stable.TotalSupply()
		if err != nil {
			return err
		}
		out = &StablecoinView{
			Symbol:              s.stable.Symbol(),
			Height:              s.height,
			TotalMinted:         amountString(st.TotalMinted),
			TotalSupply:         amountString(supply),
			MintIndex:           risk.FormatMantissa(st.MintIndex),
			LastAccrualBlock:    st.LastAccrualBlock,
			TotalInterestRepaid: amountString(st.TotalInterestRepaid),
			ModulePaused:        s.pauses.IsPaused(moduleName),
			Params: ParamsView{
				Admin:                 params.Admin.Hex(),
				CloseFactor:           risk.FormatMantissa(params.Liquidation.CloseFactor),
				LiquidationIncentive:  risk.FormatMantissa(params.Liquidation.LiquidationIncentive),
				MintRateBps:           params.Stablecoin.MintRateBps,
				MintCap:               amountString(params.Stablecoin.MintCap),
				StabilityRatePerBlock: risk.FormatMantissa(params.Stablecoin.StabilityRatePerBlock),
				LiquidationMode:       params.Stablecoin.LiquidationMode.String(),
				Pauses:                params.Pauses.String(),
				QuotaMaxRequests:      params.Stablecoin.Quota.MaxRequestsPerEpoch,
				QuotaMaxAmount:        amountString(params.Stablecoin.Quota.MaxAmountPerEpoch),
				QuotaEpochBlocks:      params.Stablecoin.Quota.EpochBlocks,
			},
		}
		return nil
	})
	return out, err
}

// SeizePreview returns the collateral tokens a liquidation of amount would
// seize. The zero repay market denotes stablecoin debt.
func (s *Service) SeizePreview(ctx context.Context, repayMarket, collateral common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := s.read(ctx, "seize_preview", func() error {
		var err error
		out, err = s.engine.LiquidateCalculateSeizeTokens(repayMarket, collateral, amount)
		return err
	})
	return out, err
}

// LiquidationAllowed runs the liquidation checks for a prospective call
// without moving funds. A nil error means the liquidation would go through at
// the current height.
func (s *Service) LiquidationAllowed(ctx context.Context, repayMarket, collateral, liquidator, borrower common.Address, amount *uint256.Int) error {
	return s.read(ctx, "liquidation_allowed", func() error {
		return s.engine.LiquidateBorrowAllowed(repayMarket, collateral, liquidator, borrower, amount)
	})
}

// Events queries the event index.
func (s *Service) Events(ctx context.Context, filter indexer.Filter) ([]indexer.Event, error) {
	if s.store == nil {
		return []indexer.Event{}, nil
	}
	return s.store.Query(ctx, filter)
}
