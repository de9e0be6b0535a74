package common

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrQuotaRequestsExceeded  = errors.New("quota requests exceeded")
	ErrQuotaAmountCapExceeded = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow   = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed *uint256.Int
	EpochID    uint64
}

// Quota defines the limits enforced for a module interaction per address.
// Zero limits are disabled. EpochBlocks controls how many blocks make up one
// quota epoch; a zero value disables the quota entirely.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAmountPerEpoch   *uint256.Int
	EpochBlocks         uint64
}

// Enabled reports whether the quota enforces anything.
func (q Quota) Enabled() bool {
	return q.EpochBlocks > 0 && (q.MaxRequestsPerEpoch > 0 || (q.MaxAmountPerEpoch != nil && !q.MaxAmountPerEpoch.IsZero()))
}

// Epoch maps a block height onto the quota epoch.
func (q Quota) Epoch(height uint64) uint64 {
	if q.EpochBlocks == 0 {
		return 0
	}
	return height / q.EpochBlocks
}

// CheckQuota verifies whether the additional request and amount usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAmount *uint256.Int) (QuotaNow, error) {
	next := QuotaNow{ReqCount: prev.ReqCount, EpochID: prev.EpochID, AmountUsed: new(uint256.Int)}
	if prev.AmountUsed != nil {
		next.AmountUsed.Set(prev.AmountUsed)
	}
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch, AmountUsed: new(uint256.Int)}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount != nil && !addAmount.IsZero() {
		if _, overflow := next.AmountUsed.AddOverflow(next.AmountUsed, addAmount); overflow {
			return prev, ErrQuotaCounterOverflow
		}
	}
	if q.MaxAmountPerEpoch != nil && !q.MaxAmountPerEpoch.IsZero() && next.AmountUsed.Gt(q.MaxAmountPerEpoch) {
		return prev, ErrQuotaAmountCapExceeded
	}

	return next, nil
}
