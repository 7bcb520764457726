package utils

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	NullEthereumAddress    = "0000000000000000000000000000000000000000"
	NullEthereumAddressHex = fmt.Sprintf("0x%s", NullEthereumAddress)
)

var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

func AreAddressesEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

func IsValidAddress(a string) bool {
	return addressRegex.MatchString(a)
}

// NormalizeAddress lowercases an address and maps the zero address to "".
func NormalizeAddress(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if a == NullEthereumAddressHex {
		return ""
	}
	return a
}

// TopicToAddress extracts the address packed into an indexed event topic.
func TopicToAddress(topic string) string {
	return strings.ToLower(common.HexToAddress(topic).Hex())
}

func AddressToTopic(a string) string {
	return strings.ToLower(common.BytesToHash(common.HexToAddress(a).Bytes()).Hex())
}

func ConvertBytesToString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func SnakeCase(s string) string {
	notSnake := regexp.MustCompile(`[_-]`)
	return notSnake.ReplaceAllString(s, "_")
}
