package comptroller

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceOracle prices a market's underlying asset as a mantissa. A missing or
// zero price is treated as unavailable.
type PriceOracle interface {
	UnderlyingPrice(market common.Address) (*uint256.Int, error)
}

// MarketToken is the narrow contract the engine uses on interest-bearing
// market tokens. Token amounts multiplied by the exchange rate mantissa give
// underlying amounts.
type MarketToken interface {
	BalanceOf(account common.Address) (*uint256.Int, error)
	ExchangeRateStored() (*uint256.Int, error)
	BorrowBalanceStored(account common.Address) (*uint256.Int, error)
	// RepayBorrowBehalf pulls underlying from payer to reduce borrower's debt
	// and returns the amount actually repaid.
	RepayBorrowBehalf(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error)
	// Seize moves tokens from borrower to liquidator. Only the engine
	// identified by seizer may call it.
	Seize(seizer, liquidator, borrower common.Address, tokens *uint256.Int) error
}

// MarketResolver maps market addresses onto their token implementation.
type MarketResolver interface {
	MarketToken(market common.Address) (MarketToken, error)
}

// StablecoinToken is the protocol stablecoin ledger.
type StablecoinToken interface {
	MintTo(account common.Address, amount *uint256.Int) error
	// BurnFrom destroys amount from the holder, spending spender's allowance.
	BurnFrom(spender, from common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) (*uint256.Int, error)
}

type engineState interface {
	GetMarket(addr common.Address) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]common.Address, error)
	GetUserAccount(addr common.Address) (*Account, error)
	PutUserAccount(account *Account) error
	ListUserAccounts() ([]common.Address, error)
	GetStablecoinState() (*StablecoinState, error)
	PutStablecoinState(state *StablecoinState) error
	GetRiskParams() (*Params, error)
	PutRiskParams(params *Params) error
	// Snapshot and RevertToSnapshot give every operation all-or-nothing
	// semantics over the ledger.
	Snapshot() int
	RevertToSnapshot(id int)
}
