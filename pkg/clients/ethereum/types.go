package ethereum

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/xerrors"
)

type (
	EthereumHexString string
	EthereumQuantity  uint64
)

type (
	EthereumBlock struct {
		Hash       EthereumHexString `json:"hash"`
		ParentHash EthereumHexString `json:"parentHash"`
		Number     EthereumQuantity  `json:"number"`
		Timestamp  EthereumQuantity  `json:"timestamp"`
	}

	EthereumEventLog struct {
		Removed          bool                `json:"removed"`
		LogIndex         EthereumQuantity    `json:"logIndex"`
		TransactionHash  EthereumHexString   `json:"transactionHash"`
		TransactionIndex EthereumQuantity    `json:"transactionIndex"`
		BlockHash        EthereumHexString   `json:"blockHash"`
		BlockNumber      EthereumQuantity    `json:"blockNumber"`
		Address          EthereumHexString   `json:"address"`
		Data             EthereumHexString   `json:"data"`
		Topics           []EthereumHexString `json:"topics"`
	}

	// LogFilter mirrors the eth_getLogs filter object.
	LogFilter struct {
		Addresses []string
		Topics    [][]string
		FromBlock uint64
		ToBlock   uint64
	}
)

func (v EthereumHexString) MarshalJSON() ([]byte, error) {
	s := fmt.Sprintf(`"%s"`, v)
	return []byte(s), nil
}

func (v *EthereumHexString) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return xerrors.Errorf("failed to unmarshal EthereumHexString: %w", err)
	}
	*v = EthereumHexString(strings.ToLower(s))
	return nil
}

func (v EthereumHexString) Value() string {
	return string(v)
}

func (v EthereumQuantity) MarshalJSON() ([]byte, error) {
	s := fmt.Sprintf(`"%s"`, hexutil.EncodeUint64(uint64(v)))
	return []byte(s), nil
}

func (v *EthereumQuantity) UnmarshalJSON(input []byte) error {
	if len(input) > 0 && input[0] != '"' {
		var i uint64
		if err := json.Unmarshal(input, &i); err != nil {
			return xerrors.Errorf("failed to unmarshal EthereumQuantity into uint64: %w", err)
		}
		*v = EthereumQuantity(i)
		return nil
	}

	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return xerrors.Errorf("failed to unmarshal EthereumQuantity into string: %w", err)
	}
	if s == "" {
		*v = 0
		return nil
	}

	i, err := hexutil.DecodeUint64(s)
	if err != nil {
		return xerrors.Errorf("failed to decode EthereumQuantity %v: %w", s, err)
	}
	*v = EthereumQuantity(i)
	return nil
}

func (v EthereumQuantity) Value() uint64 {
	return uint64(v)
}

func (f *LogFilter) toParams() map[string]interface{} {
	params := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(f.FromBlock),
		"toBlock":   hexutil.EncodeUint64(f.ToBlock),
	}
	if len(f.Addresses) == 1 {
		params["address"] = f.Addresses[0]
	} else if len(f.Addresses) > 1 {
		params["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		topics := make([]interface{}, 0, len(f.Topics))
		for _, position := range f.Topics {
			switch len(position) {
			case 0:
				topics = append(topics, nil)
			case 1:
				topics = append(topics, position[0])
			default:
				topics = append(topics, position)
			}
		}
		params["topics"] = topics
	}
	return params
}
