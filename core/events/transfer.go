package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablerisk/core/types"
)

const (
	// TypeTransfer is emitted for stablecoin and market token balance
	// movements. Mints use the zero address as sender, burns as recipient.
	TypeTransfer = "token.transfer"
)

type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
	Reason string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = e.From.Hex()
	attrs["to"] = e.To.Hex()
	attrs["amount"] = formatAmount(e.Amount)
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
