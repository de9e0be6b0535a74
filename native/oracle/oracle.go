package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrNoPrice indicates the market has never been priced.
	ErrNoPrice = errors.New("oracle: no price for market")
	// ErrStalePrice indicates the stored price is older than the freshness window.
	ErrStalePrice = errors.New("oracle: price is stale")
	ErrZeroPrice  = errors.New("oracle: price must be positive")
	errNilState   = errors.New("oracle: state not configured")
)

var pricePrefix = []byte("oracle:price:")

// PriceRecord is the persisted observation for one market.
type PriceRecord struct {
	Price     *uint256.Int
	UpdatedAt uint64
}

type oracleState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// SimplePriceOracle keeps operator-posted prices in the ledger. Prices are 1e18
// mantissas of the underlying in the unit of account.
type SimplePriceOracle struct {
	state        oracleState
	maxAgeBlocks uint64
	blockHeight  uint64
}

// NewSimplePriceOracle returns an oracle that rejects prices older than
// maxAgeBlocks. Zero disables the freshness check.
func NewSimplePriceOracle(state oracleState, maxAgeBlocks uint64) *SimplePriceOracle {
	return &SimplePriceOracle{state: state, maxAgeBlocks: maxAgeBlocks}
}

// SetBlockHeight records the height used to stamp and age prices.
func (o *SimplePriceOracle) SetBlockHeight(height uint64) { o.blockHeight = height }

func priceKey(market common.Address) []byte {
	return append(append([]byte(nil), pricePrefix...), market.Bytes()...)
}

// SetPrice stores the price of market at the current height.
func (o *SimplePriceOracle) SetPrice(market common.Address, price *uint256.Int) error {
	if o.state == nil {
		return errNilState
	}
	if price == nil || price.IsZero() {
		return ErrZeroPrice
	}
	record := &PriceRecord{Price: new(uint256.Int).Set(price), UpdatedAt: o.blockHeight}
	return o.state.KVPut(priceKey(market), record)
}

// Record returns the raw stored observation.
func (o *SimplePriceOracle) Record(market common.Address) (*PriceRecord, error) {
	if o.state == nil {
		return nil, errNilState
	}
	record := new(PriceRecord)
	ok, err := o.state.KVGet(priceKey(market), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, market.Hex())
	}
	return record, nil
}

// UnderlyingPrice returns the fresh price of market.
func (o *SimplePriceOracle) UnderlyingPrice(market common.Address) (*uint256.Int, error) {
	record, err := o.Record(market)
	if err != nil {
		return nil, err
	}
	if o.maxAgeBlocks > 0 && o.blockHeight > record.UpdatedAt && o.blockHeight-record.UpdatedAt > o.maxAgeBlocks {
		return nil, fmt.Errorf("%w: %s updated at %d", ErrStalePrice, market.Hex(), record.UpdatedAt)
	}
	return record.Price, nil
}
