package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	nativecommon "stablerisk/native/common"
	risk "stablerisk/native/comptroller"
	"stablerisk/services/comptroller"
	"stablerisk/services/comptroller/indexer"
)

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.svc.Markets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.svc.Account(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getStablecoin(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Stablecoin(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := indexer.Filter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := strings.TrimSpace(query.Get("account")); raw != "" {
		account, err := parseAddress("account", raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter.Account = account.Hex()
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, invalid("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	evts, err := s.svc.Events(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

// previewSeize answers LiquidateCalculateSeizeTokens. An empty repayMarket
// prices stablecoin debt.
func (s *Server) previewSeize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	repayMarket, err := parseRepayMarket(query.Get("repayMarket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAddress("collateralMarket", query.Get("collateralMarket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", query.Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	seize, err := s.svc.SeizePreview(r.Context(), repayMarket, collateral, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"seizeTokens": seize.Dec()})
}

// liquidationAllowed answers with the error a liquidation would fail with, so
// keepers can screen candidates before committing funds.
func (s *Server) liquidationAllowed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	repayMarket, err := parseRepayMarket(query.Get("repayMarket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAddress("collateralMarket", query.Get("collateralMarket"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	liquidator, err := parseAddress("liquidator", query.Get("liquidator"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := parseAddress("borrower", query.Get("borrower"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", query.Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.LiquidationAllowed(r.Context(), repayMarket, collateral, liquidator, borrower, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": true})
}

// parseRepayMarket maps an empty value to the stablecoin.
func parseRepayMarket(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return risk.StablecoinMarket, nil
	}
	return parseAddress("repayMarket", raw)
}

type enterRequest struct {
	Account string   `json:"account"`
	Markets []string `json:"markets"`
}

func (s *Server) enterMarkets(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Markets) == 0 {
		s.writeError(w, r, invalid("markets required"))
		return
	}
	markets := make([]common.Address, 0, len(req.Markets))
	for _, raw := range req.Markets {
		addr, err := parseAddress("markets", raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		markets = append(markets, addr)
	}
	if err := s.svc.EnterMarkets(r.Context(), account, markets); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type marketRequest struct {
	Account string `json:"account"`
	Market  string `json:"market"`
}

func (s *Server) exitMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.ExitMarket(r.Context(), account, market); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Approve(r.Context(), account, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Mint(r.Context(), account, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "minted": amount.Dec()})
}

type repayRequest struct {
	Account  string `json:"account"`
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payer, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower := payer
	if strings.TrimSpace(req.Borrower) != "" {
		if borrower, err = parseAddress("borrower", req.Borrower); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	repaid, err := s.svc.Repay(r.Context(), payer, borrower, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "repaid": repaid.Dec()})
}

type liquidateRequest struct {
	Account          string `json:"account"`
	Borrower         string `json:"borrower"`
	RepayMarket      string `json:"repayMarket,omitempty"`
	CollateralMarket string `json:"collateralMarket"`
	Amount           string `json:"amount"`
}

type liquidationResponse struct {
	Status           string `json:"status"`
	Borrower         string `json:"borrower"`
	Liquidator       string `json:"liquidator"`
	RepayMarket      string `json:"repayMarket"`
	CollateralMarket string `json:"collateralMarket"`
	RepayAmount      string `json:"repayAmount"`
	SeizeTokens      string `json:"seizeTokens"`
}

func newLiquidationResponse(res *risk.LiquidationResult) liquidationResponse {
	repayMarket := "stablecoin"
	if res.RepayMarket != risk.StablecoinMarket {
		repayMarket = res.RepayMarket.Hex()
	}
	return liquidationResponse{
		Status:           "ok",
		Borrower:         res.Borrower.Hex(),
		Liquidator:       res.Liquidator.Hex(),
		RepayMarket:      repayMarket,
		CollateralMarket: res.CollateralMarket.Hex(),
		RepayAmount:      res.RepayAmount.Dec(),
		SeizeTokens:      res.SeizeTokens.Dec(),
	}
}

func (s *Server) parseLiquidation(r *http.Request, needRepayMarket bool) (liquidator, borrower, repayMarket, collateral common.Address, amount *uint256.Int, err error) {
	var req liquidateRequest
	if err = decodeJSON(r, &req); err != nil {
		return
	}
	if liquidator, err = s.actor(r.Context(), req.Account); err != nil {
		return
	}
	if borrower, err = parseAddress("borrower", req.Borrower); err != nil {
		return
	}
	if needRepayMarket {
		if repayMarket, err = parseAddress("repayMarket", req.RepayMarket); err != nil {
			return
		}
	}
	if collateral, err = parseAddress("collateralMarket", req.CollateralMarket); err != nil {
		return
	}
	amount, err = parseAmount("amount", req.Amount)
	return
}

func (s *Server) liquidateStablecoin(w http.ResponseWriter, r *http.Request) {
	liquidator, borrower, _, collateral, amount, err := s.parseLiquidation(r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.LiquidateStablecoin(r.Context(), liquidator, borrower, amount, collateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidationResponse(res))
}

func (s *Server) liquidateBorrow(w http.ResponseWriter, r *http.Request) {
	liquidator, borrower, repayMarket, collateral, amount, err := s.parseLiquidation(r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.LiquidateBorrow(r.Context(), liquidator, borrower, repayMarket, collateral, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidationResponse(res))
}

type supportMarketRequest struct {
	Account          string `json:"account"`
	Address          string `json:"address"`
	Underlying       string `json:"underlying"`
	CollateralFactor string `json:"collateralFactor"`
	Price            string `json:"price"`
	ExchangeRate     string `json:"exchangeRate"`
}

func (s *Server) supportMarket(w http.ResponseWriter, r *http.Request) {
	var req supportMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listing := comptroller.MarketListing{Underlying: req.Underlying}
	if listing.Address, err = parseAddress("address", req.Address); err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, field := range []struct {
		name  string
		raw   string
		value **uint256.Int
	}{
		{"collateralFactor", req.CollateralFactor, &listing.CollateralFactor},
		{"price", req.Price, &listing.Price},
		{"exchangeRate", req.ExchangeRate, &listing.ExchangeRate},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		if *field.value, err = parseMantissa(field.name, field.raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.svc.SupportMarket(r.Context(), caller, listing); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "symbol": comptroller.MarketSymbol(req.Underlying)})
}

type collateralFactorRequest struct {
	Account          string `json:"account"`
	Market           string `json:"market"`
	CollateralFactor string `json:"collateralFactor"`
}

func (s *Server) setCollateralFactor(w http.ResponseWriter, r *http.Request) {
	var req collateralFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	factor, err := parseMantissa("collateralFactor", req.CollateralFactor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetCollateralFactor(r.Context(), caller, market, factor); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type priceRequest struct {
	Account string `json:"account"`
	Market  string `json:"market"`
	Price   string `json:"price"`
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := parseMantissa("price", req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetPrice(r.Context(), caller, market, price); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type quotaRequest struct {
	MaxRequestsPerEpoch uint32 `json:"maxRequestsPerEpoch"`
	MaxAmountWei        string `json:"maxAmountWei"`
	EpochBlocks         uint64 `json:"epochBlocks"`
}

type pausesRequest struct {
	EnterMarket bool `json:"enterMarket"`
	ExitMarket  bool `json:"exitMarket"`
	Mint        bool `json:"mint"`
	Repay       bool `json:"repay"`
	Liquidate   bool `json:"liquidate"`
}

type paramsRequest struct {
	Account               string         `json:"account"`
	CloseFactor           string         `json:"closeFactor,omitempty"`
	LiquidationIncentive  string         `json:"liquidationIncentive,omitempty"`
	MintRateBps           *uint64        `json:"mintRateBps,omitempty"`
	MintCapWei            string         `json:"mintCapWei,omitempty"`
	StabilityRatePerBlock string         `json:"stabilityRatePerBlock,omitempty"`
	LiquidationMode       string         `json:"liquidationMode,omitempty"`
	Pauses                *pausesRequest `json:"pauses,omitempty"`
	Quota                 *quotaRequest  `json:"quota,omitempty"`
	Admin                 string         `json:"admin,omitempty"`
}

func (req paramsRequest) update() (comptroller.ParamsUpdate, error) {
	var (
		update comptroller.ParamsUpdate
		err    error
	)
	mantissas := []struct {
		name  string
		raw   string
		value **uint256.Int
	}{
		{"closeFactor", req.CloseFactor, &update.CloseFactor},
		{"liquidationIncentive", req.LiquidationIncentive, &update.LiquidationIncentive},
		{"stabilityRatePerBlock", req.StabilityRatePerBlock, &update.StabilityRatePerBlock},
	}
	for _, field := range mantissas {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		if *field.value, err = parseMantissa(field.name, field.raw); err != nil {
			return update, err
		}
	}
	if strings.TrimSpace(req.MintCapWei) != "" {
		if update.MintCap, err = parseAmount("mintCapWei", req.MintCapWei); err != nil {
			return update, err
		}
	}
	update.MintRateBps = req.MintRateBps
	if req.LiquidationMode != "" {
		mode, ok := risk.ParseLiquidationMode(strings.ToLower(strings.TrimSpace(req.LiquidationMode)))
		if !ok {
			return update, invalid("unknown liquidation mode %q", req.LiquidationMode)
		}
		update.LiquidationMode = &mode
	}
	if p := req.Pauses; p != nil {
		update.Pauses = &risk.ActionPauses{
			EnterMarket: p.EnterMarket,
			ExitMarket:  p.ExitMarket,
			Mint:        p.Mint,
			Repay:       p.Repay,
			Liquidate:   p.Liquidate,
		}
	}
	if q := req.Quota; q != nil {
		quota := nativecommon.Quota{
			MaxRequestsPerEpoch: q.MaxRequestsPerEpoch,
			MaxAmountPerEpoch:   new(uint256.Int),
			EpochBlocks:         q.EpochBlocks,
		}
		if strings.TrimSpace(q.MaxAmountWei) != "" {
			if quota.MaxAmountPerEpoch, err = parseAmount("quota.maxAmountWei", q.MaxAmountWei); err != nil {
				return update, err
			}
		}
		update.Quota = &quota
	}
	if strings.TrimSpace(req.Admin) != "" {
		admin, err := parseAddress("admin", req.Admin)
		if err != nil {
			return update, err
		}
		update.Admin = &admin
	}
	return update, nil
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	update, err := req.update()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.UpdateParams(r.Context(), caller, update); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type balanceRequest struct {
	Account string `json:"account"`
	Kind    string `json:"kind"`
	Market  string `json:"market,omitempty"`
	Target  string `json:"target"`
	Amount  string `json:"amount"`
}

func (s *Server) setBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kind := comptroller.BalanceKind(strings.TrimSpace(req.Kind))
	var market common.Address
	if kind != comptroller.BalanceStablecoin {
		if market, err = parseAddress("market", req.Market); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var target common.Address
	if kind != comptroller.BalanceExchange {
		if target, err = parseAddress("target", req.Target); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var amount *uint256.Int
	if kind == comptroller.BalanceExchange {
		amount, err = parseMantissa("amount", req.Amount)
	} else {
		amount, err = parseAmount("amount", req.Amount)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch kind {
	case comptroller.BalanceCollateral, comptroller.BalanceBorrow, comptroller.BalanceStablecoin, comptroller.BalanceExchange:
	default:
		s.writeError(w, r, invalid("unknown kind %q", req.Kind))
		return
	}
	if err := s.svc.SetBalance(r.Context(), caller, kind, market, target, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pauseRequest struct {
	Account string `json:"account"`
	Paused  bool   `json:"paused"`
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetModulePaused(r.Context(), caller, req.Paused); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": req.Paused})
}

type blocksRequest struct {
	Account string `json:"account"`
	Blocks  uint64 `json:"blocks"`
}

func (s *Server) advanceBlocks(w http.ResponseWriter, r *http.Request) {
	var req blocksRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.actor(r.Context(), req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.AdvanceBlocksAs(r.Context(), caller, req.Blocks); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.svc.Height()})
}
