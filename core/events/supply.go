package events

import (
	"github.com/holiman/uint256"

	"stablerisk/core/types"
)

const (
	// TypeTokenSupply is emitted whenever the stablecoin supply changes.
	TypeTokenSupply = "token.supply"

	SupplyReasonMint     = "mint"
	SupplyReasonAllocate = "allocate"
	SupplyReasonBurn     = "burn"
)

// TokenSupply reports the supply after a mint or burn together with the delta
// that produced it.
type TokenSupply struct {
	Token  string
	Total  *uint256.Int
	Delta  *uint256.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{"token": "UNKNOWN"}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	attrs["total"] = uintString(e.Total)
	if e.Delta != nil {
		attrs["delta"] = e.Delta.Dec()
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}

func uintString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
