package cdp

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000")  // 1e18 fixed-point scale
	nicrScale   = mustBigInt("100000000000000000000") // 1e20, price-free ordering scale
)

// decayFactorPerMinute corresponds to a 12 hour base-rate half-life.
var decayFactorPerMinute = mustBigInt("999037758833783000")

// maxDecayMinutes bounds the decay exponent so decPow stays cheap even after
// very long idle periods. Beyond this the factor is indistinguishable from zero.
const maxDecayMinutes = 525_600_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func wadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

func wadDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, wad)
	return scaled.Quo(scaled, b)
}

// collateralRatio returns coll*price/debt at wad scale. A zero debt yields the
// maximum ratio so empty positions always sort as the safest.
func collateralRatio(coll, price, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Lsh(big.NewInt(1), 200)
	}
	if coll == nil || price == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(coll, price)
	return value.Quo(value, debt)
}

// nominalRatio orders positions without a live price: coll*1e20/debt.
func nominalRatio(coll, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Lsh(big.NewInt(1), 200)
	}
	if coll == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(coll, nicrScale)
	return scaled.Quo(scaled, debt)
}

// scaleToWad normalises an oracle answer carrying the supplied number of
// decimals to the canonical 18 decimal scale.
func scaleToWad(answer *big.Int, decimals uint8) *big.Int {
	if answer == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Set(answer)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		scaled.Mul(scaled, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		scaled.Quo(scaled, factor)
	}
	return scaled
}

// decPow raises a wad-scale base to an integer exponent using exponentiation
// by squaring with intermediate wad rounding, matching the base-rate decay
// schedule used by the fee controller.
func decPow(base *big.Int, minutes uint64) *big.Int {
	if minutes > maxDecayMinutes {
		minutes = maxDecayMinutes
	}
	if minutes == 0 {
		return new(big.Int).Set(wad)
	}
	x := new(big.Int).Set(base)
	y := new(big.Int).Set(wad)
	n := minutes
	for n > 1 {
		if n%2 == 0 {
			x = wadMulRounded(x, x)
			n /= 2
		} else {
			y = wadMulRounded(x, y)
			x = wadMulRounded(x, x)
			n = (n - 1) / 2
		}
	}
	return wadMulRounded(x, y)
}

func wadMulRounded(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, new(big.Int).Rsh(wad, 1))
	return product.Quo(product, wad)
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
