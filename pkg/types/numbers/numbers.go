package numbers

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Wei amounts are carried as base-10 integer strings end to end. These helpers do the arithmetic
// without losing precision.

func ParseWei(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid wei amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("wei amount %q is not an integer", s)
	}
	return d, nil
}

func MustParseWei(s string) decimal.Decimal {
	d, err := ParseWei(s)
	if err != nil {
		panic(err)
	}
	return d
}

func BigToWei(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}

func WeiToBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return b, nil
}

func AddWei(a, b string) (string, error) {
	da, err := ParseWei(a)
	if err != nil {
		return "", err
	}
	db, err := ParseWei(b)
	if err != nil {
		return "", err
	}
	return da.Add(db).String(), nil
}

// SubWeiClamped returns a-b, floored at zero.
func SubWeiClamped(a, b string) (string, error) {
	da, err := ParseWei(a)
	if err != nil {
		return "", err
	}
	db, err := ParseWei(b)
	if err != nil {
		return "", err
	}
	res := da.Sub(db)
	if res.IsNegative() {
		return "0", nil
	}
	return res.String(), nil
}

func CompareWei(a, b string) (int, error) {
	da, err := ParseWei(a)
	if err != nil {
		return 0, err
	}
	db, err := ParseWei(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}

// MulWei multiplies an amount by an integer count, e.g. a slot fee by a quantity.
func MulWei(a string, n uint64) (string, error) {
	da, err := ParseWei(a)
	if err != nil {
		return "", err
	}
	return da.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)).String(), nil
}
