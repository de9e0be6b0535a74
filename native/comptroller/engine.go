package comptroller

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
	nativecommon "stablerisk/native/common"
)

const moduleName = "comptroller"

// Engine is the risk accounting and liquidation engine. It is not safe for
// concurrent use: callers serialise operations, and the engine rejects nested
// calls made while an operation is in flight.
type Engine struct {
	address     common.Address
	state       engineState
	markets     MarketResolver
	oracle      PriceOracle
	stablecoin  StablecoinToken
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	blockHeight uint64

	busy    bool
	pending []events.Event
}

// NewEngine constructs an engine identified by address. The address is the
// identity presented to collaborators when seizing collateral or burning
// stablecoin.
func NewEngine(address common.Address) *Engine {
	return &Engine{address: address, emitter: events.NoopEmitter{}}
}

// Address returns the engine identity.
func (e *Engine) Address() common.Address { return e.address }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetMarkets configures the resolver used to reach market tokens.
func (e *Engine) SetMarkets(resolver MarketResolver) { e.markets = resolver }

// SetOracle configures the price oracle.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetStablecoin configures the stablecoin token ledger.
func (e *Engine) SetStablecoin(token StablecoinToken) { e.stablecoin = token }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBlockHeight records the block height used for accrual and quota epochs.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// BlockHeight returns the configured block height.
func (e *Engine) BlockHeight() uint64 { return e.blockHeight }

// Initialize stores the initial risk parameters. It fails once parameters
// exist.
func (e *Engine) Initialize(params Params) error {
	return e.mutate(func() error {
		existing, err := e.state.GetRiskParams()
		if err != nil {
			return err
		}
		if existing != nil {
			return errAlreadyInitialised
		}
		p := params.Clone()
		p.normalize()
		if err := p.Validate(); err != nil {
			return err
		}
		return e.state.PutRiskParams(p)
	})
}

// Initialized reports whether risk parameters were stored.
func (e *Engine) Initialized() (bool, error) {
	var ok bool
	err := e.view(func() error {
		params, err := e.state.GetRiskParams()
		ok = params != nil
		return err
	})
	return ok, err
}

// enter acquires the operation guard. The returned release func must run on
// every exit path.
func (e *Engine) enter() (func(), error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.busy {
		return nil, ErrReentrant
	}
	e.busy = true
	return func() { e.busy = false }, nil
}

// view runs a read-only operation under the guard.
func (e *Engine) view(fn func() error) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// mutate runs fn atomically: any error reverts every ledger write made by fn
// and drops the events it produced.
func (e *Engine) mutate(fn func() error) (err error) {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	snap := e.state.Snapshot()
	e.pending = e.pending[:0]
	defer func() {
		if r := recover(); r != nil {
			e.state.RevertToSnapshot(snap)
			e.pending = e.pending[:0]
			panic(r)
		}
		if err != nil {
			e.state.RevertToSnapshot(snap)
			e.pending = e.pending[:0]
			return
		}
		for _, evt := range e.pending {
			e.emitter.Emit(evt)
		}
		e.pending = e.pending[:0]
	}()
	return fn()
}

func (e *Engine) emit(evt events.Event) {
	if evt == nil {
		return
	}
	e.pending = append(e.pending, evt)
}

func (e *Engine) loadParams() (*Params, error) {
	params, err := e.state.GetRiskParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, errNotInitialised
	}
	params.normalize()
	return params, nil
}

func (e *Engine) requireAdmin(params *Params, caller common.Address) error {
	if params.Admin == (common.Address{}) || caller != params.Admin {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) loadMarket(addr common.Address) (*Market, error) {
	market, err := e.state.GetMarket(addr)
	if err != nil {
		return nil, err
	}
	if market == nil || !market.Listed {
		return nil, fmt.Errorf("%w: %s", ErrNotListed, addr.Hex())
	}
	if market.CollateralFactor == nil {
		market.CollateralFactor = new(uint256.Int)
	}
	return market, nil
}

func (e *Engine) marketToken(addr common.Address) (MarketToken, error) {
	if e.markets == nil {
		return nil, errNilResolver
	}
	token, err := e.markets.MarketToken(addr)
	if err != nil {
		return nil, fmt.Errorf("resolve market %s: %w", addr.Hex(), err)
	}
	return token, nil
}

func (e *Engine) price(market common.Address) (*uint256.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	price, err := e.oracle.UnderlyingPrice(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, market.Hex(), err)
	}
	if price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, market.Hex())
	}
	return price, nil
}

func (e *Engine) loadAccount(addr common.Address) (*Account, error) {
	acct, err := e.state.GetUserAccount(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = &Account{Address: addr}
	}
	if acct.MintedPrincipal == nil {
		acct.MintedPrincipal = new(uint256.Int)
	}
	if acct.AccruedInterest == nil {
		acct.AccruedInterest = new(uint256.Int)
	}
	if acct.MintIndex == nil {
		acct.MintIndex = new(uint256.Int)
	}
	if acct.Quota.AmountUsed == nil {
		acct.Quota.AmountUsed = new(uint256.Int)
	}
	return acct, nil
}

func (e *Engine) loadStablecoin() (*StablecoinState, error) {
	st, err := e.state.GetStablecoinState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &StablecoinState{LastAccrualBlock: e.blockHeight}
	}
	if st.TotalMinted == nil {
		st.TotalMinted = new(uint256.Int)
	}
	if st.MintIndex == nil || st.MintIndex.IsZero() {
		st.MintIndex = ExpScale()
	}
	if st.TotalInterestRepaid == nil {
		st.TotalInterestRepaid = new(uint256.Int)
	}
	return st, nil
}
