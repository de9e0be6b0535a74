package state

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Manager stores typed records in the ledger. Values are RLP encoded and keys
// are hashed with keccak256 so every record has a fixed-width key.
type Manager struct {
	ledger *Ledger
}

// NewManager creates a state manager operating on the provided ledger.
func NewManager(ledger *Ledger) *Manager {
	return &Manager{ledger: ledger}
}

// Ledger exposes the underlying journaled ledger.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Snapshot marks the current ledger state.
func (m *Manager) Snapshot() int { return m.ledger.Snapshot() }

// RevertToSnapshot rolls the ledger back to a snapshot.
func (m *Manager) RevertToSnapshot(id int) { m.ledger.RevertToSnapshot(id) }

type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority common.Address
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = []byte("token-list")
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	borrowPrefix    = []byte("borrow:")
	supplyPrefix    = []byte("supply:")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func joinKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return buf
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.ledger.set(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.ledger.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.ledger.set(kvKey(key), nil)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

func (m *Manager) getAmount(key []byte) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, err := m.KVGet(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) putAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}
