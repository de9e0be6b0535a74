package vtoken

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
	"stablerisk/native/comptroller"
)

var (
	ErrUnauthorizedSeizer  = errors.New("vtoken: seizer is not the comptroller")
	ErrInsufficientTokens  = errors.New("vtoken: insufficient token balance")
	ErrInsufficientFunds   = errors.New("vtoken: insufficient underlying balance")
	ErrSelfSeize           = errors.New("vtoken: liquidator is borrower")
	ErrUnknownMarket       = errors.New("vtoken: unknown market")
	ErrInvalidExchangeRate = errors.New("vtoken: exchange rate must be positive")
	errNilState            = errors.New("vtoken: state not configured")
)

var exchangeRatePrefix = []byte("vtoken:exchange-rate:")

type marketState interface {
	Balance(symbol string, addr common.Address) (*uint256.Int, error)
	SetBalance(symbol string, addr common.Address, amount *uint256.Int) error
	BorrowBalance(symbol string, addr common.Address) (*uint256.Int, error)
	SetBorrowBalance(symbol string, addr common.Address, amount *uint256.Int) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Market is a ledger-backed interest-bearing market token. Token balances are
// kept under Symbol, underlying cash under Underlying and borrows in the
// borrow book of Symbol.
type Market struct {
	Address     common.Address
	Symbol      string
	Underlying  string
	comptroller common.Address
	state       marketState
	emitter     events.Emitter
}

// NewMarket returns a market token that only lets comptroller seize.
func NewMarket(addr common.Address, symbol, underlying string, comptroller common.Address, state marketState) *Market {
	return &Market{
		Address:     addr,
		Symbol:      symbol,
		Underlying:  underlying,
		comptroller: comptroller,
		state:       state,
		emitter:     events.NoopEmitter{},
	}
}

func (m *Market) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Market) BalanceOf(account common.Address) (*uint256.Int, error) {
	if m.state == nil {
		return nil, errNilState
	}
	return m.state.Balance(m.Symbol, account)
}

func (m *Market) BorrowBalanceStored(account common.Address) (*uint256.Int, error) {
	if m.state == nil {
		return nil, errNilState
	}
	return m.state.BorrowBalance(m.Symbol, account)
}

// ExchangeRateStored returns underlying per token as a mantissa. Unset markets
// trade at one.
func (m *Market) ExchangeRateStored() (*uint256.Int, error) {
	if m.state == nil {
		return nil, errNilState
	}
	rate := new(uint256.Int)
	ok, err := m.state.KVGet(m.exchangeRateKey(), rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return comptroller.ExpScale(), nil
	}
	return rate, nil
}

func (m *Market) exchangeRateKey() []byte {
	return append(append([]byte(nil), exchangeRatePrefix...), m.Address.Bytes()...)
}

// RepayBorrowBehalf moves underlying from payer into the market's cash and
// reduces borrower's debt. Repayments above the debt are capped.
func (m *Market) RepayBorrowBehalf(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if m.state == nil {
		return nil, errNilState
	}
	borrowed, err := m.state.BorrowBalance(m.Symbol, borrower)
	if err != nil {
		return nil, err
	}
	actual := new(uint256.Int).Set(amount)
	if actual.Gt(borrowed) {
		actual.Set(borrowed)
	}
	if actual.IsZero() {
		return actual, nil
	}
	funds, err := m.state.Balance(m.Underlying, payer)
	if err != nil {
		return nil, err
	}
	if funds.Lt(actual) {
		return nil, fmt.Errorf("%w: %s holds %s", ErrInsufficientFunds, payer.Hex(), funds.Dec())
	}
	cash, err := m.state.Balance(m.Underlying, m.Address)
	if err != nil {
		return nil, err
	}
	if err := m.state.SetBalance(m.Underlying, payer, new(uint256.Int).Sub(funds, actual)); err != nil {
		return nil, err
	}
	if err := m.state.SetBalance(m.Underlying, m.Address, new(uint256.Int).Add(cash, actual)); err != nil {
		return nil, err
	}
	if err := m.state.SetBorrowBalance(m.Symbol, borrower, new(uint256.Int).Sub(borrowed, actual)); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.Transfer{Asset: m.Underlying, From: payer, To: m.Address, Amount: actual.ToBig(), Reason: "repay"})
	return actual, nil
}

// Seize moves tokens from borrower to liquidator on behalf of the comptroller.
func (m *Market) Seize(seizer, liquidator, borrower common.Address, tokens *uint256.Int) error {
	if m.state == nil {
		return errNilState
	}
	if seizer != m.comptroller {
		return ErrUnauthorizedSeizer
	}
	if liquidator == borrower {
		return ErrSelfSeize
	}
	if err := m.move(borrower, liquidator, tokens); err != nil {
		return err
	}
	m.emitter.Emit(events.Transfer{Asset: m.Symbol, From: borrower, To: liquidator, Amount: tokens.ToBig(), Reason: "seize"})
	return nil
}

func (m *Market) move(from, to common.Address, tokens *uint256.Int) error {
	fromBalance, err := m.state.Balance(m.Symbol, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(tokens) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientTokens, from.Hex(), fromBalance.Dec())
	}
	if err := m.state.SetBalance(m.Symbol, from, new(uint256.Int).Sub(fromBalance, tokens)); err != nil {
		return err
	}
	toBalance, err := m.state.Balance(m.Symbol, to)
	if err != nil {
		return err
	}
	return m.state.SetBalance(m.Symbol, to, new(uint256.Int).Add(toBalance, tokens))
}

// SetBalance overwrites an account's token balance.
func (m *Market) SetBalance(account common.Address, tokens *uint256.Int) error {
	if m.state == nil {
		return errNilState
	}
	return m.state.SetBalance(m.Symbol, account, tokens)
}

// SetBorrowBalance overwrites an account's borrow.
func (m *Market) SetBorrowBalance(account common.Address, amount *uint256.Int) error {
	if m.state == nil {
		return errNilState
	}
	return m.state.SetBorrowBalance(m.Symbol, account, amount)
}

// SetExchangeRate overwrites the stored exchange rate mantissa.
func (m *Market) SetExchangeRate(rate *uint256.Int) error {
	if m.state == nil {
		return errNilState
	}
	if rate == nil || rate.IsZero() {
		return ErrInvalidExchangeRate
	}
	return m.state.KVPut(m.exchangeRateKey(), rate)
}

// Registry resolves market addresses to their tokens.
type Registry struct {
	mu      sync.RWMutex
	markets map[common.Address]*Market
	order   []common.Address
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[common.Address]*Market)}
}

// Add registers market, replacing any previous token at its address.
func (r *Registry) Add(market *Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[market.Address]; !ok {
		r.order = append(r.order, market.Address)
	}
	r.markets[market.Address] = market
}

// Get returns the concrete market token.
func (r *Registry) Get(addr common.Address) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	market, ok := r.markets[addr]
	return market, ok
}

// All lists registered markets in insertion order.
func (r *Registry) All() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.markets[addr])
	}
	return out
}

// MarketToken implements comptroller.MarketResolver.
func (r *Registry) MarketToken(addr common.Address) (comptroller.MarketToken, error) {
	market, ok := r.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, addr.Hex())
	}
	return market, nil
}
