package state

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func tokenMetadataKey(symbol string) []byte {
	return joinKey(tokenPrefix, []byte(symbol))
}

func balanceKey(symbol string, addr common.Address) []byte {
	return joinKey(balancePrefix, []byte(symbol), addr.Bytes())
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	return joinKey(allowancePrefix, []byte(symbol), owner.Bytes(), spender.Bytes())
}

func borrowKey(symbol string, addr common.Address) []byte {
	return joinKey(borrowPrefix, []byte(symbol), addr.Bytes())
}

func supplyKey(symbol string) []byte {
	return joinKey(supplyPrefix, []byte(symbol))
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8, authority common.Address) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if name == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	existing, err := m.Token(normalized)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.KVPut(tokenListKey, list); err != nil {
		return err
	}
	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals, MintAuthority: authority}
	return m.KVPut(tokenMetadataKey(normalized), meta)
}

// Token returns the metadata of a registered token or nil.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(normalizeSymbol(symbol)), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	if err := m.KVGetList(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	if !m.TokenExists(normalized) {
		return "", fmt.Errorf("token %s not registered", normalized)
	}
	return normalized, nil
}

// Balance retrieves a token balance. Missing balances are zero.
func (m *Manager) Balance(symbol string, addr common.Address) (*uint256.Int, error) {
	return m.getAmount(balanceKey(normalizeSymbol(symbol), addr))
}

// SetBalance stores an account balance for a registered token.
func (m *Manager) SetBalance(symbol string, addr common.Address, amount *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putAmount(balanceKey(normalized, addr), amount)
}

// Allowance returns how much spender may move on behalf of owner.
func (m *Manager) Allowance(symbol string, owner, spender common.Address) (*uint256.Int, error) {
	return m.getAmount(allowanceKey(normalizeSymbol(symbol), owner, spender))
}

func (m *Manager) SetAllowance(symbol string, owner, spender common.Address, amount *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putAmount(allowanceKey(normalized, owner, spender), amount)
}

// BorrowBalance returns the underlying owed by addr to a market token.
func (m *Manager) BorrowBalance(symbol string, addr common.Address) (*uint256.Int, error) {
	return m.getAmount(borrowKey(normalizeSymbol(symbol), addr))
}

func (m *Manager) SetBorrowBalance(symbol string, addr common.Address, amount *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putAmount(borrowKey(normalized, addr), amount)
}

// TokenSupply returns the persisted total supply for the provided token. Missing
// entries default to zero.
func (m *Manager) TokenSupply(symbol string) (*uint256.Int, error) {
	return m.getAmount(supplyKey(normalizeSymbol(symbol)))
}

// SetTokenSupply overwrites the stored total supply for the token.
func (m *Manager) SetTokenSupply(symbol string, amount *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putAmount(supplyKey(normalized), amount)
}
