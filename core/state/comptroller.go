package state

import (
	"github.com/ethereum/go-ethereum/common"

	"stablerisk/native/comptroller"
)

var (
	comptrollerMarketPrefix  = []byte("comptroller:market:")
	comptrollerMarketListKey = []byte("comptroller:market-list")
	comptrollerAccountPrefix = []byte("comptroller:account:")
	comptrollerAccountList   = []byte("comptroller:account-list")
	comptrollerStablecoinKey = []byte("comptroller:stablecoin")
	comptrollerParamsKey     = []byte("comptroller:params")
)

// ComptrollerState adapts the manager to the storage contract of the
// comptroller engine.
type ComptrollerState struct {
	*Manager
}

// NewComptrollerState wraps manager for use with comptroller.Engine.SetState.
func NewComptrollerState(manager *Manager) *ComptrollerState {
	return &ComptrollerState{Manager: manager}
}

func (s *ComptrollerState) GetMarket(addr common.Address) (*comptroller.Market, error) {
	market := new(comptroller.Market)
	ok, err := s.KVGet(joinKey(comptrollerMarketPrefix, addr.Bytes()), market)
	if err != nil || !ok {
		return nil, err
	}
	return market, nil
}

func (s *ComptrollerState) PutMarket(market *comptroller.Market) error {
	if err := s.KVAppend(comptrollerMarketListKey, market.Address.Bytes()); err != nil {
		return err
	}
	return s.KVPut(joinKey(comptrollerMarketPrefix, market.Address.Bytes()), market)
}

func (s *ComptrollerState) ListMarkets() ([]common.Address, error) {
	return s.addressList(comptrollerMarketListKey)
}

func (s *ComptrollerState) GetUserAccount(addr common.Address) (*comptroller.Account, error) {
	account := new(comptroller.Account)
	ok, err := s.KVGet(joinKey(comptrollerAccountPrefix, addr.Bytes()), account)
	if err != nil || !ok {
		return nil, err
	}
	return account, nil
}

func (s *ComptrollerState) PutUserAccount(account *comptroller.Account) error {
	if err := s.KVAppend(comptrollerAccountList, account.Address.Bytes()); err != nil {
		return err
	}
	return s.KVPut(joinKey(comptrollerAccountPrefix, account.Address.Bytes()), account)
}

func (s *ComptrollerState) ListUserAccounts() ([]common.Address, error) {
	return s.addressList(comptrollerAccountList)
}

func (s *ComptrollerState) GetStablecoinState() (*comptroller.StablecoinState, error) {
	st := new(comptroller.StablecoinState)
	ok, err := s.KVGet(comptrollerStablecoinKey, st)
	if err != nil || !ok {
		return nil, err
	}
	return st, nil
}

func (s *ComptrollerState) PutStablecoinState(st *comptroller.StablecoinState) error {
	return s.KVPut(comptrollerStablecoinKey, st)
}

func (s *ComptrollerState) GetRiskParams() (*comptroller.Params, error) {
	params := new(comptroller.Params)
	ok, err := s.KVGet(comptrollerParamsKey, params)
	if err != nil || !ok {
		return nil, err
	}
	return params, nil
}

func (s *ComptrollerState) PutRiskParams(params *comptroller.Params) error {
	return s.KVPut(comptrollerParamsKey, params)
}

func (s *ComptrollerState) addressList(key []byte) ([]common.Address, error) {
	var raw [][]byte
	if err := s.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}
