package comptroller

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func mantissa(value string) *uint256.Int { return uint256.MustFromDecimal(value) }

// mockLedger holds every balance the fake collaborators touch so that engine
// snapshots roll them back together with the engine records.
type mockLedger struct {
	tokens     map[common.Address]map[common.Address]*uint256.Int
	borrows    map[common.Address]map[common.Address]*uint256.Int
	underlying map[common.Address]*uint256.Int
	stable     map[common.Address]*uint256.Int
	allowance  map[[2]common.Address]*uint256.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		tokens:     make(map[common.Address]map[common.Address]*uint256.Int),
		borrows:    make(map[common.Address]map[common.Address]*uint256.Int),
		underlying: make(map[common.Address]*uint256.Int),
		stable:     make(map[common.Address]*uint256.Int),
		allowance:  make(map[[2]common.Address]*uint256.Int),
	}
}

func copyBalances(in map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func (l *mockLedger) copy() *mockLedger {
	out := newMockLedger()
	for m, balances := range l.tokens {
		out.tokens[m] = copyBalances(balances)
	}
	for m, balances := range l.borrows {
		out.borrows[m] = copyBalances(balances)
	}
	out.underlying = copyBalances(l.underlying)
	out.stable = copyBalances(l.stable)
	for k, v := range l.allowance {
		out.allowance[k] = clone(v)
	}
	return out
}

func (l *mockLedger) tokenBalance(market, account common.Address) *uint256.Int {
	return clone(l.tokens[market][account])
}

func (l *mockLedger) setTokenBalance(market, account common.Address, v *uint256.Int) {
	if l.tokens[market] == nil {
		l.tokens[market] = make(map[common.Address]*uint256.Int)
	}
	l.tokens[market][account] = clone(v)
}

func (l *mockLedger) borrowBalance(market, account common.Address) *uint256.Int {
	return clone(l.borrows[market][account])
}

func (l *mockLedger) setBorrowBalance(market, account common.Address, v *uint256.Int) {
	if l.borrows[market] == nil {
		l.borrows[market] = make(map[common.Address]*uint256.Int)
	}
	l.borrows[market][account] = clone(v)
}

type mockSnapshot struct {
	markets      map[common.Address]*Market
	marketOrder  []common.Address
	accounts     map[common.Address]*Account
	accountOrder []common.Address
	stablecoin   *StablecoinState
	params       *Params
	ledger       *mockLedger
}

type mockEngineState struct {
	markets      map[common.Address]*Market
	marketOrder  []common.Address
	accounts     map[common.Address]*Account
	accountOrder []common.Address
	stablecoin   *StablecoinState
	params       *Params
	ledger       *mockLedger
	snapshots    []mockSnapshot
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:  make(map[common.Address]*Market),
		accounts: make(map[common.Address]*Account),
		ledger:   newMockLedger(),
	}
}

func (m *mockEngineState) GetMarket(addr common.Address) (*Market, error) {
	return m.markets[addr].Clone(), nil
}

func (m *mockEngineState) PutMarket(market *Market) error {
	if _, ok := m.markets[market.Address]; !ok {
		m.marketOrder = append(m.marketOrder, market.Address)
	}
	m.markets[market.Address] = market.Clone()
	return nil
}

func (m *mockEngineState) ListMarkets() ([]common.Address, error) {
	return append([]common.Address(nil), m.marketOrder...), nil
}

func (m *mockEngineState) GetUserAccount(addr common.Address) (*Account, error) {
	return m.accounts[addr].Clone(), nil
}

func (m *mockEngineState) PutUserAccount(account *Account) error {
	if _, ok := m.accounts[account.Address]; !ok {
		m.accountOrder = append(m.accountOrder, account.Address)
	}
	m.accounts[account.Address] = account.Clone()
	return nil
}

func (m *mockEngineState) ListUserAccounts() ([]common.Address, error) {
	return append([]common.Address(nil), m.accountOrder...), nil
}

func (m *mockEngineState) GetStablecoinState() (*StablecoinState, error) {
	return m.stablecoin.Clone(), nil
}

func (m *mockEngineState) PutStablecoinState(state *StablecoinState) error {
	m.stablecoin = state.Clone()
	return nil
}

func (m *mockEngineState) GetRiskParams() (*Params, error) {
	return m.params.Clone(), nil
}

func (m *mockEngineState) PutRiskParams(params *Params) error {
	m.params = params.Clone()
	return nil
}

func (m *mockEngineState) Snapshot() int {
	snap := mockSnapshot{
		markets:      make(map[common.Address]*Market, len(m.markets)),
		marketOrder:  append([]common.Address(nil), m.marketOrder...),
		accounts:     make(map[common.Address]*Account, len(m.accounts)),
		accountOrder: append([]common.Address(nil), m.accountOrder...),
		stablecoin:   m.stablecoin.Clone(),
		params:       m.params.Clone(),
		ledger:       m.ledger.copy(),
	}
	for k, v := range m.markets {
		snap.markets[k] = v.Clone()
	}
	for k, v := range m.accounts {
		snap.accounts[k] = v.Clone()
	}
	m.snapshots = append(m.snapshots, snap)
	return len(m.snapshots) - 1
}

func (m *mockEngineState) RevertToSnapshot(id int) {
	snap := m.snapshots[id]
	m.markets = snap.markets
	m.marketOrder = snap.marketOrder
	m.accounts = snap.accounts
	m.accountOrder = snap.accountOrder
	m.stablecoin = snap.stablecoin
	m.params = snap.params
	// Collaborators hold a pointer to the ledger, so restore in place.
	*m.ledger = *snap.ledger
	m.snapshots = m.snapshots[:id]
}

type fakeOracle struct {
	prices map[common.Address]*uint256.Int
	err    error
}

func (o *fakeOracle) UnderlyingPrice(market common.Address) (*uint256.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	return clone(o.prices[market]), nil
}

type fakeMarketToken struct {
	addr      common.Address
	ledger    *mockLedger
	engine    common.Address
	rate      *uint256.Int
	seizeErr  error
	onBalance func()
}

func (t *fakeMarketToken) BalanceOf(account common.Address) (*uint256.Int, error) {
	if t.onBalance != nil {
		t.onBalance()
	}
	return t.ledger.tokenBalance(t.addr, account), nil
}

func (t *fakeMarketToken) ExchangeRateStored() (*uint256.Int, error) { return clone(t.rate), nil }

func (t *fakeMarketToken) BorrowBalanceStored(account common.Address) (*uint256.Int, error) {
	return t.ledger.borrowBalance(t.addr, account), nil
}

func (t *fakeMarketToken) RepayBorrowBehalf(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	actual := minUint(amount, t.ledger.borrowBalance(t.addr, borrower))
	funds := clone(t.ledger.underlying[payer])
	if funds.Lt(actual) {
		return nil, errors.New("insufficient underlying")
	}
	t.ledger.underlying[payer] = new(uint256.Int).Sub(funds, actual)
	t.ledger.setBorrowBalance(t.addr, borrower, new(uint256.Int).Sub(t.ledger.borrowBalance(t.addr, borrower), actual))
	return actual, nil
}

func (t *fakeMarketToken) Seize(seizer, liquidator, borrower common.Address, tokens *uint256.Int) error {
	if t.seizeErr != nil {
		return t.seizeErr
	}
	if seizer != t.engine {
		return errors.New("seize not allowed")
	}
	balance := t.ledger.tokenBalance(t.addr, borrower)
	if balance.Lt(tokens) {
		return errors.New("seize exceeds balance")
	}
	t.ledger.setTokenBalance(t.addr, borrower, new(uint256.Int).Sub(balance, tokens))
	t.ledger.setTokenBalance(t.addr, liquidator, new(uint256.Int).Add(t.ledger.tokenBalance(t.addr, liquidator), tokens))
	return nil
}

type fakeResolver map[common.Address]*fakeMarketToken

func (r fakeResolver) MarketToken(market common.Address) (MarketToken, error) {
	token, ok := r[market]
	if !ok {
		return nil, errors.New("unknown market token")
	}
	return token, nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

type fakeStablecoin struct {
	ledger *mockLedger
}

func (s *fakeStablecoin) MintTo(account common.Address, amount *uint256.Int) error {
	s.ledger.stable[account] = new(uint256.Int).Add(clone(s.ledger.stable[account]), amount)
	return nil
}

func (s *fakeStablecoin) BurnFrom(spender, from common.Address, amount *uint256.Int) error {
	key := [2]common.Address{from, spender}
	allowance := clone(s.ledger.allowance[key])
	if allowance.Lt(amount) {
		return errors.New("insufficient allowance")
	}
	balance := clone(s.ledger.stable[from])
	if balance.Lt(amount) {
		return errors.New("insufficient balance")
	}
	if !allowance.Eq(maxAllowance) {
		s.ledger.allowance[key] = new(uint256.Int).Sub(allowance, amount)
	}
	s.ledger.stable[from] = new(uint256.Int).Sub(balance, amount)
	return nil
}

func (s *fakeStablecoin) BalanceOf(account common.Address) (*uint256.Int, error) {
	return clone(s.ledger.stable[account]), nil
}

type testEnv struct {
	t        *testing.T
	engine   *Engine
	state    *mockEngineState
	oracle   *fakeOracle
	markets  fakeResolver
	admin    common.Address
	recorder *events.Recorder
}

// newTestEnv mirrors the controller fixture: close factor 0.8, incentive 1,
// full mint rate.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := newMockEngineState()
	env := &testEnv{
		t:        t,
		engine:   NewEngine(makeAddress(0xEE)),
		state:    state,
		oracle:   &fakeOracle{prices: make(map[common.Address]*uint256.Int)},
		markets:  make(fakeResolver),
		admin:    makeAddress(0xAD),
		recorder: &events.Recorder{},
	}
	env.engine.SetState(state)
	env.engine.SetOracle(env.oracle)
	env.engine.SetMarkets(env.markets)
	env.engine.SetStablecoin(&fakeStablecoin{ledger: state.ledger})
	env.engine.SetEmitter(env.recorder)

	params := DefaultParams(env.admin)
	params.Liquidation.CloseFactor = mantissa("800000000000000000")
	params.Liquidation.LiquidationIncentive = ExpScale()
	params.Stablecoin.MintRateBps = 10_000
	if err := env.engine.Initialize(params); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return env
}

// listMarket lists a market priced at price with exchange rate rate and the
// given collateral factor.
func (env *testEnv) listMarket(b byte, symbol string, factor, price, rate *uint256.Int) common.Address {
	env.t.Helper()
	addr := makeAddress(b)
	env.markets[addr] = &fakeMarketToken{addr: addr, ledger: env.state.ledger, engine: env.engine.Address(), rate: rate}
	env.oracle.prices[addr] = price
	if err := env.engine.SupportMarket(env.admin, addr, symbol); err != nil {
		env.t.Fatalf("support market: %v", err)
	}
	if err := env.engine.SetCollateralFactor(env.admin, addr, factor); err != nil {
		env.t.Fatalf("set collateral factor: %v", err)
	}
	return addr
}

func (env *testEnv) fund(market, account common.Address, tokens uint64) {
	env.state.ledger.setTokenBalance(market, account, u(tokens))
}

func (env *testEnv) approve(account common.Address) {
	env.state.ledger.allowance[[2]common.Address{account, env.engine.Address()}] = maxAllowance
}

func (env *testEnv) enter(account common.Address, markets ...common.Address) {
	env.t.Helper()
	if err := env.engine.EnterMarkets(account, markets...); err != nil {
		env.t.Fatalf("enter markets: %v", err)
	}
}

func (env *testEnv) stableBalance(account common.Address) *uint256.Int {
	return clone(env.state.ledger.stable[account])
}
