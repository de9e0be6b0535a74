package stablecoin

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
)

var (
	ErrInsufficientBalance   = errors.New("stablecoin: insufficient balance")
	ErrInsufficientAllowance = errors.New("stablecoin: insufficient allowance")
	ErrInvalidAmount         = errors.New("stablecoin: amount must be positive")
	ErrZeroAddress           = errors.New("stablecoin: zero address")
	errNilState              = errors.New("stablecoin: state not configured")
)

// MaxAllowance is treated as an unlimited approval and is never decremented.
var MaxAllowance = new(uint256.Int).SetAllOne()

type tokenState interface {
	Balance(symbol string, addr common.Address) (*uint256.Int, error)
	SetBalance(symbol string, addr common.Address, amount *uint256.Int) error
	Allowance(symbol string, owner, spender common.Address) (*uint256.Int, error)
	SetAllowance(symbol string, owner, spender common.Address, amount *uint256.Int) error
	TokenSupply(symbol string) (*uint256.Int, error)
	SetTokenSupply(symbol string, amount *uint256.Int) error
}

// Token is the ledger-backed protocol stablecoin. Minting is reserved for the
// component wired to it; holders burn through an approval.
type Token struct {
	symbol  string
	state   tokenState
	emitter events.Emitter
}

// New returns a token stored under symbol. The symbol must be registered in
// the state manager.
func New(symbol string, state tokenState) *Token {
	return &Token{symbol: symbol, state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink. Nil resets to a no-op emitter.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) BalanceOf(account common.Address) (*uint256.Int, error) {
	if t.state == nil {
		return nil, errNilState
	}
	return t.state.Balance(t.symbol, account)
}

func (t *Token) TotalSupply() (*uint256.Int, error) {
	if t.state == nil {
		return nil, errNilState
	}
	return t.state.TokenSupply(t.symbol)
}

func (t *Token) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	if t.state == nil {
		return nil, errNilState
	}
	return t.state.Allowance(t.symbol, owner, spender)
}

// Approve lets spender burn or move up to amount of owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if t.state == nil {
		return errNilState
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return t.state.SetAllowance(t.symbol, owner, spender, amount)
}

// MintTo creates amount and credits it to account.
func (t *Token) MintTo(account common.Address, amount *uint256.Int) error {
	if err := t.credit(account, amount, true); err != nil {
		return err
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, To: account, Amount: amount.ToBig(), Reason: "mint"})
	t.emitSupply(amount, events.SupplyReasonMint)
	return nil
}

// Allocate credits test or bootstrap funds to account.
func (t *Token) Allocate(account common.Address, amount *uint256.Int) error {
	if err := t.credit(account, amount, true); err != nil {
		return err
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, To: account, Amount: amount.ToBig(), Reason: "allocate"})
	t.emitSupply(amount, events.SupplyReasonAllocate)
	return nil
}

// BurnFrom destroys amount held by from, spending spender's allowance unless
// it is unlimited.
func (t *Token) BurnFrom(spender, from common.Address, amount *uint256.Int) error {
	if err := t.requireBalance(from, amount); err != nil {
		return err
	}
	if err := t.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	if err := t.debit(from, amount, true); err != nil {
		return err
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, From: from, Amount: amount.ToBig(), Reason: "burn"})
	t.emitSupply(amount, events.SupplyReasonBurn)
	return nil
}

// Transfer moves amount between holders.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := t.debit(from, amount, false); err != nil {
		return err
	}
	if err := t.credit(to, amount, false); err != nil {
		return err
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, From: from, To: to, Amount: amount.ToBig()})
	return nil
}

func (t *Token) emitSupply(delta *uint256.Int, reason string) {
	total, err := t.state.TokenSupply(t.symbol)
	if err != nil {
		return
	}
	t.emitter.Emit(events.TokenSupply{Token: t.symbol, Total: total, Delta: new(uint256.Int).Set(delta), Reason: reason})
}

func (t *Token) spendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	if t.state == nil {
		return errNilState
	}
	if owner == spender {
		return nil
	}
	allowance, err := t.state.Allowance(t.symbol, owner, spender)
	if err != nil {
		return err
	}
	if amount == nil || allowance.Lt(amount) {
		return fmt.Errorf("%w: %s may spend %s", ErrInsufficientAllowance, spender.Hex(), allowance.Dec())
	}
	if allowance.Eq(MaxAllowance) {
		return nil
	}
	return t.state.SetAllowance(t.symbol, owner, spender, new(uint256.Int).Sub(allowance, amount))
}

func (t *Token) requireBalance(account common.Address, amount *uint256.Int) error {
	if t.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	balance, err := t.state.Balance(t.symbol, account)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, account.Hex(), balance.Dec())
	}
	return nil
}

func (t *Token) credit(account common.Address, amount *uint256.Int, supply bool) error {
	if t.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	balance, err := t.state.Balance(t.symbol, account)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("stablecoin: balance overflow for %s", account.Hex())
	}
	if supply {
		total, err := t.state.TokenSupply(t.symbol)
		if err != nil {
			return err
		}
		nextTotal, overflow := new(uint256.Int).AddOverflow(total, amount)
		if overflow {
			return fmt.Errorf("stablecoin: supply overflow")
		}
		if err := t.state.SetTokenSupply(t.symbol, nextTotal); err != nil {
			return err
		}
	}
	return t.state.SetBalance(t.symbol, account, next)
}

func (t *Token) debit(account common.Address, amount *uint256.Int, supply bool) error {
	if err := t.requireBalance(account, amount); err != nil {
		return err
	}
	balance, err := t.state.Balance(t.symbol, account)
	if err != nil {
		return err
	}
	if supply {
		total, err := t.state.TokenSupply(t.symbol)
		if err != nil {
			return err
		}
		if total.Lt(amount) {
			return fmt.Errorf("stablecoin: supply underflow")
		}
		if err := t.state.SetTokenSupply(t.symbol, new(uint256.Int).Sub(total, amount)); err != nil {
			return err
		}
	}
	return t.state.SetBalance(t.symbol, account, new(uint256.Int).Sub(balance, amount))
}
