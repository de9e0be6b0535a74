package comptroller

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablerisk/core/events"
	nativecommon "stablerisk/native/common"
)

// RiskParams returns a copy of the stored parameters.
func (e *Engine) RiskParams() (*Params, error) {
	var out *Params
	err := e.view(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		out = params.Clone()
		return nil
	})
	return out, err
}

// updateParams applies fn to the stored parameters on behalf of the admin and
// persists the result after validation.
func (e *Engine) updateParams(caller common.Address, field string, fn func(p *Params) (string, error)) error {
	return e.mutate(func() error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(params, caller); err != nil {
			return err
		}
		value, err := fn(params)
		if err != nil {
			return err
		}
		params.normalize()
		if err := params.Validate(); err != nil {
			return err
		}
		if err := e.state.PutRiskParams(params); err != nil {
			return err
		}
		e.emit(events.ParamsUpdated{Field: field, Value: value, Height: e.blockHeight})
		return nil
	})
}

func (e *Engine) SetCloseFactor(caller common.Address, factor *uint256.Int) error {
	return e.updateParams(caller, "closeFactor", func(p *Params) (string, error) {
		p.Liquidation.CloseFactor = clone(factor)
		return clone(factor).Dec(), nil
	})
}

func (e *Engine) SetLiquidationIncentive(caller common.Address, incentive *uint256.Int) error {
	return e.updateParams(caller, "liquidationIncentive", func(p *Params) (string, error) {
		p.Liquidation.LiquidationIncentive = clone(incentive)
		return clone(incentive).Dec(), nil
	})
}

// SetMintRate sets the share of raw collateral value, in basis points, that may
// back stablecoin.
func (e *Engine) SetMintRate(caller common.Address, bps uint64) error {
	return e.updateParams(caller, "mintRateBps", func(p *Params) (string, error) {
		p.Stablecoin.MintRateBps = bps
		return strconv.FormatUint(bps, 10), nil
	})
}

// SetMintCap bounds the total stablecoin principal. Zero removes the cap.
func (e *Engine) SetMintCap(caller common.Address, limit *uint256.Int) error {
	return e.updateParams(caller, "mintCap", func(p *Params) (string, error) {
		p.Stablecoin.MintCap = clone(limit)
		return clone(limit).Dec(), nil
	})
}

// SetStabilityRate changes the per-block stability fee. Interest up to the
// current block accrues at the old rate.
func (e *Engine) SetStabilityRate(caller common.Address, ratePerBlock *uint256.Int) error {
	return e.updateParams(caller, "stabilityRatePerBlock", func(p *Params) (string, error) {
		if _, err := e.accrue(p); err != nil {
			return "", err
		}
		p.Stablecoin.StabilityRatePerBlock = clone(ratePerBlock)
		return clone(ratePerBlock).Dec(), nil
	})
}

func (e *Engine) SetStablecoinLiquidationMode(caller common.Address, mode LiquidationMode) error {
	return e.updateParams(caller, "liquidationMode", func(p *Params) (string, error) {
		p.Stablecoin.LiquidationMode = mode
		return mode.String(), nil
	})
}

func (e *Engine) SetActionPauses(caller common.Address, pauses ActionPauses) error {
	return e.updateParams(caller, "pauses", func(p *Params) (string, error) {
		p.Pauses = pauses
		return pauses.String(), nil
	})
}

// SetQuota replaces the per-account mint quota.
func (e *Engine) SetQuota(caller common.Address, quota nativecommon.Quota) error {
	return e.updateParams(caller, "quota", func(p *Params) (string, error) {
		p.Stablecoin.Quota = nativecommon.Quota{
			MaxRequestsPerEpoch: quota.MaxRequestsPerEpoch,
			MaxAmountPerEpoch:   clone(quota.MaxAmountPerEpoch),
			EpochBlocks:         quota.EpochBlocks,
		}
		return strconv.FormatUint(quota.EpochBlocks, 10), nil
	})
}

// SetAdmin hands the admin role to next.
func (e *Engine) SetAdmin(caller, next common.Address) error {
	return e.updateParams(caller, "admin", func(p *Params) (string, error) {
		if next == (common.Address{}) {
			return "", ErrUnauthorized
		}
		p.Admin = next
		return next.Hex(), nil
	})
}
