package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Helpers(t *testing.T) {
	t.Run("Should normalize addresses", func(t *testing.T) {
		assert.Equal(t, "0x00000000000000000000000000000000000000ab", NormalizeAddress(" 0x00000000000000000000000000000000000000AB "))
		assert.Equal(t, "", NormalizeAddress(NullEthereumAddressHex))
		assert.True(t, AreAddressesEqual("0xAB", "0xab"))
	})
	t.Run("Should validate address shape", func(t *testing.T) {
		assert.True(t, IsValidAddress("0x00000000000000000000000000000000000000AB"))
		assert.False(t, IsValidAddress("0x1234"))
		assert.False(t, IsValidAddress("00000000000000000000000000000000000000abcd"))
	})
	t.Run("Should round trip an address through an indexed topic", func(t *testing.T) {
		topic := AddressToTopic("0x00000000000000000000000000000000000000AB")
		assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ab", topic)
		assert.Equal(t, "0x00000000000000000000000000000000000000ab", TopicToAddress(topic))
	})
}
