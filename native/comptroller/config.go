package comptroller

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	nativecommon "stablerisk/native/common"
)

// Config captures the risk file loaded at start-up. Mantissas are written as
// decimal fractions ("0.8"), amounts as integer wei strings.
type Config struct {
	Admin                string           `toml:"Admin"`
	CloseFactor          string           `toml:"CloseFactor"`
	LiquidationIncentive string           `toml:"LiquidationIncentive"`
	Stablecoin           StablecoinConfig `toml:"stablecoin"`
	Pauses               ActionPauses     `toml:"pauses"`
	Markets              []MarketConfig   `toml:"markets"`
}

// StablecoinConfig describes the stablecoin controller section.
type StablecoinConfig struct {
	MintRateBps           uint64      `toml:"MintRateBps"`
	MintCapWei            string      `toml:"MintCapWei"`
	StabilityRatePerBlock string      `toml:"StabilityRatePerBlock"`
	LiquidationMode       string      `toml:"LiquidationMode"`
	Quota                 QuotaConfig `toml:"quota"`
}

type QuotaConfig struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxAmountWei        string `toml:"MaxAmountWei"`
	EpochBlocks         uint64 `toml:"EpochBlocks"`
}

// MarketConfig lists a market to bootstrap together with its initial price and
// exchange rate.
type MarketConfig struct {
	Address          string `toml:"Address"`
	Underlying       string `toml:"Underlying"`
	CollateralFactor string `toml:"CollateralFactor"`
	Price            string `toml:"Price"`
	ExchangeRate     string `toml:"ExchangeRate"`
}

// LoadConfig decodes a TOML risk file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode risk config: %w", err)
	}
	return &cfg, nil
}

// DecodeConfig parses TOML risk configuration from a string.
func DecodeConfig(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode risk config: %w", err)
	}
	return &cfg, nil
}

// Params converts the file into validated engine parameters. Empty fields keep
// the DefaultParams values.
func (c *Config) Params() (Params, error) {
	admin, err := ParseAddress(c.Admin)
	if err != nil {
		return Params{}, fmt.Errorf("admin: %w", err)
	}
	params := DefaultParams(admin)
	if c.CloseFactor != "" {
		if params.Liquidation.CloseFactor, err = ParseMantissa(c.CloseFactor); err != nil {
			return Params{}, fmt.Errorf("close factor: %w", err)
		}
	}
	if c.LiquidationIncentive != "" {
		if params.Liquidation.LiquidationIncentive, err = ParseMantissa(c.LiquidationIncentive); err != nil {
			return Params{}, fmt.Errorf("liquidation incentive: %w", err)
		}
	}
	sc := c.Stablecoin
	if sc.MintRateBps != 0 {
		params.Stablecoin.MintRateBps = sc.MintRateBps
	}
	if sc.MintCapWei != "" {
		if params.Stablecoin.MintCap, err = ParseAmount(sc.MintCapWei); err != nil {
			return Params{}, fmt.Errorf("mint cap: %w", err)
		}
	}
	if sc.StabilityRatePerBlock != "" {
		if params.Stablecoin.StabilityRatePerBlock, err = ParseMantissa(sc.StabilityRatePerBlock); err != nil {
			return Params{}, fmt.Errorf("stability rate: %w", err)
		}
	}
	mode, ok := ParseLiquidationMode(strings.ToLower(strings.TrimSpace(sc.LiquidationMode)))
	if !ok {
		return Params{}, fmt.Errorf("unknown liquidation mode %q", sc.LiquidationMode)
	}
	params.Stablecoin.LiquidationMode = mode
	quota := nativecommon.Quota{
		MaxRequestsPerEpoch: sc.Quota.MaxRequestsPerEpoch,
		MaxAmountPerEpoch:   new(uint256.Int),
		EpochBlocks:         sc.Quota.EpochBlocks,
	}
	if sc.Quota.MaxAmountWei != "" {
		if quota.MaxAmountPerEpoch, err = ParseAmount(sc.Quota.MaxAmountWei); err != nil {
			return Params{}, fmt.Errorf("quota amount: %w", err)
		}
	}
	params.Stablecoin.Quota = quota
	params.Pauses = c.Pauses
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// ParseMantissa converts a decimal fraction into a 1e18 mantissa. Precision
// beyond 18 decimals is rejected.
func ParseMantissa(value string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	return decimalToUint(d.Shift(18), value)
}

// ParseAmount parses a non-negative integer amount.
func ParseAmount(value string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return decimalToUint(d, value)
}

// FormatMantissa renders a mantissa as a decimal fraction.
func FormatMantissa(v *uint256.Int) string {
	return decimal.NewFromBigInt(clone(v).ToBig(), -18).String()
}

func decimalToUint(d decimal.Decimal, raw string) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative value %q", raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("too many decimal places in %q", raw)
	}
	out, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, raw)
	}
	return out, nil
}

// ParseAddress decodes a 0x-prefixed hex account or market address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}
