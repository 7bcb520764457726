package numbers

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Numbers(t *testing.T) {
	t.Run("Should add amounts beyond uint64", func(t *testing.T) {
		res, err := AddWei("18446744073709551615", "18446744073709551615")
		require.NoError(t, err)
		assert.Equal(t, "36893488147419103230", res)
	})
	t.Run("Should treat empty as zero", func(t *testing.T) {
		res, err := AddWei("", "5")
		require.NoError(t, err)
		assert.Equal(t, "5", res)
	})
	t.Run("Should clamp subtraction at zero", func(t *testing.T) {
		res, err := SubWeiClamped("10", "20")
		require.NoError(t, err)
		assert.Equal(t, "0", res)

		res, err = SubWeiClamped("1000000000000000000000", "1")
		require.NoError(t, err)
		assert.Equal(t, "999999999999999999999", res)
	})
	t.Run("Should reject fractional and malformed amounts", func(t *testing.T) {
		_, err := ParseWei("1.5")
		assert.Error(t, err)
		_, err = ParseWei("abc")
		assert.Error(t, err)
		_, err = WeiToBig("0x10")
		assert.Error(t, err)
	})
	t.Run("Should compare and multiply", func(t *testing.T) {
		c, err := CompareWei("100", "99")
		require.NoError(t, err)
		assert.Equal(t, 1, c)

		res, err := MulWei("1000000000000000", 3)
		require.NoError(t, err)
		assert.Equal(t, "3000000000000000", res)
	})
	t.Run("Should convert big ints", func(t *testing.T) {
		assert.Equal(t, "0", BigToWei(nil))
		b, err := WeiToBig("12345678901234567890123")
		require.NoError(t, err)
		assert.Equal(t, 0, b.Cmp(func() *big.Int { v, _ := new(big.Int).SetString("12345678901234567890123", 10); return v }()))
	})
}
