package comptroller

import (
	"github.com/holiman/uint256"
)

// Mantissas are fixed-point fractions scaled by 1e18.
var (
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
	basisPoints = uint256.NewInt(10_000)
)

// ExpScale returns a fresh copy of the 1e18 mantissa unit.
func ExpScale() *uint256.Int { return new(uint256.Int).Set(expScale) }

// Mantissa scales a whole number by 1e18.
func Mantissa(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), expScale)
}

func zero() *uint256.Int { return new(uint256.Int) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func addUint(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(clone(a), clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

func subUint(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(clone(a), clone(b))
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// subFloor returns max(0, a-b).
func subFloor(a, b *uint256.Int) *uint256.Int {
	if clone(a).Cmp(clone(b)) <= 0 {
		return zero()
	}
	return new(uint256.Int).Sub(a, b)
}

func minUint(a, b *uint256.Int) *uint256.Int {
	if clone(a).Cmp(clone(b)) <= 0 {
		return clone(a)
	}
	return clone(b)
}

// mulDiv computes floor(a*b/d) with a full 512-bit intermediate. Results that do
// not fit in 256 bits report ErrOverflow.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrOverflow
	}
	out, overflow := new(uint256.Int).MulDivOverflow(clone(a), clone(b), d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// mulExp multiplies two mantissas, truncating the product.
func mulExp(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, b, expScale)
}

// mulScalarTruncate applies a mantissa to a raw amount and floors the result.
func mulScalarTruncate(exp, scalar *uint256.Int) (*uint256.Int, error) {
	return mulDiv(exp, scalar, expScale)
}

// mulScalarTruncateAdd returns floor(exp*scalar) + addend.
func mulScalarTruncateAdd(exp, scalar, addend *uint256.Int) (*uint256.Int, error) {
	product, err := mulScalarTruncate(exp, scalar)
	if err != nil {
		return nil, err
	}
	return addUint(product, addend)
}

// divExp divides two mantissas and returns a mantissa.
func divExp(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrOverflow
	}
	return mulDiv(a, expScale, b)
}

// mulBps applies a basis point share to amount, flooring the result.
func mulBps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return mulDiv(amount, uint256.NewInt(bps), basisPoints)
}

// mulCheck multiplies two raw integers detecting 256-bit overflow.
func mulCheck(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(clone(a), clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}
