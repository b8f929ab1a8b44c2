package venue

import (
	"math/big"

	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// ray is AAVE's fixed-point base (1e27), used for liquidity/borrow index
// math. Computed with go-ethereum's common/math.BigPow, the same helper
// the go-ethereum codebase itself uses for wei-scale constants (e.g.
// 10^18), rather than pushing 1e27-scale numbers through float64.
var ray = ethmath.BigPow(10, 27)

// RayMul computes (a * b) / RAY, AAVE's rounding convention for
// ray-multiplication, operating on decimal.Decimal by routing through
// big.Int so intermediate precision matches the protocol's own math.
func RayMul(a, b decimal.Decimal) decimal.Decimal {
	aInt := toRay(a)
	bInt := toRay(b)

	half := new(big.Int).Div(ray, big.NewInt(2))
	product := new(big.Int).Mul(aInt, bInt)
	product.Add(product, half)
	product.Div(product, ray)

	return fromRay(product)
}

// RayDiv computes (a * RAY) / b, AAVE's ray-division convention.
func RayDiv(a, b decimal.Decimal) decimal.Decimal {
	aInt := toRay(a)
	bInt := toRay(b)
	if bInt.Sign() == 0 {
		return decimal.Zero
	}

	half := new(big.Int).Div(bInt, big.NewInt(2))
	product := new(big.Int).Mul(aInt, ray)
	product.Add(product, half)
	product.Div(product, bInt)

	return fromRay(product)
}

func toRay(d decimal.Decimal) *big.Int {
	return d.Shift(27).BigInt()
}

func fromRay(i *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(i, -27)
}
