package ethereum

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ResponseParserFunc[T any] func(res json.RawMessage) (T, error)

type RequestResponseHandler[T any] struct {
	RequestMethod  *RequestMethod
	ResponseParser ResponseParserFunc[T]
}

func parseQuotedString(res json.RawMessage) (string, error) {
	return strings.ReplaceAll(string(res), "\"", ""), nil
}

var (
	RPCMethod_GetBlock = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name:    "eth_blockNumber",
			Timeout: time.Second * 5,
		},
		ResponseParser: parseQuotedString,
	}
	RPCMethod_getBlockByNumber = &RequestResponseHandler[*EthereumBlock]{
		RequestMethod: &RequestMethod{
			Name:    "eth_getBlockByNumber",
			Timeout: time.Second * 5,
		},
		ResponseParser: func(res json.RawMessage) (*EthereumBlock, error) {
			if string(res) == "null" {
				return nil, ErrBlockNotFound
			}
			block := &EthereumBlock{}
			if err := json.Unmarshal(res, block); err != nil {
				return nil, err
			}
			return block, nil
		},
	}
	RPCMethod_getLogs = &RequestResponseHandler[[]*EthereumEventLog]{
		RequestMethod: &RequestMethod{
			Name:    "eth_getLogs",
			Timeout: time.Second * 30,
		},
		ResponseParser: func(res json.RawMessage) ([]*EthereumEventLog, error) {
			logs := make([]*EthereumEventLog, 0)
			if err := json.Unmarshal(res, &logs); err != nil {
				return nil, err
			}
			return logs, nil
		},
	}
	RPCMethod_call = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name:    "eth_call",
			Timeout: time.Second * 10,
		},
		ResponseParser: parseQuotedString,
	}
	RPCMethod_chainId = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name:    "eth_chainId",
			Timeout: time.Second * 5,
		},
		ResponseParser: parseQuotedString,
	}
)

var rpcMethodTimeouts = map[string]time.Duration{
	RPCMethod_GetBlock.RequestMethod.Name:         RPCMethod_GetBlock.RequestMethod.Timeout,
	RPCMethod_getBlockByNumber.RequestMethod.Name: RPCMethod_getBlockByNumber.RequestMethod.Timeout,
	RPCMethod_getLogs.RequestMethod.Name:          RPCMethod_getLogs.RequestMethod.Timeout,
	RPCMethod_call.RequestMethod.Name:             RPCMethod_call.RequestMethod.Timeout,
	RPCMethod_chainId.RequestMethod.Name:          RPCMethod_chainId.RequestMethod.Timeout,
}

func timeoutForMethod(method string) time.Duration {
	if t, ok := rpcMethodTimeouts[method]; ok {
		return t
	}
	return time.Second * 10
}

func GetBlockRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_GetBlock.RequestMethod.Name,
		ID:      id,
	}
}

func GetBlockByNumberRequest(blockNumber uint64, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getBlockByNumber.RequestMethod.Name,
		Params:  []interface{}{hexutil.EncodeUint64(blockNumber), false},
		ID:      id,
	}
}

func GetLogsRequest(filter *LogFilter, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getLogs.RequestMethod.Name,
		Params:  []interface{}{filter.toParams()},
		ID:      id,
	}
}

// EthCallRequest builds an eth_call against `block`, which is a hex block number or a tag such as "latest".
func EthCallRequest(to string, data string, block string, id uint) *RPCRequest {
	if block == "" {
		block = "latest"
	}
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_call.RequestMethod.Name,
		Params: []interface{}{
			map[string]string{"to": to, "data": data},
			block,
		},
		ID: id,
	}
}

func ChainIdRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_chainId.RequestMethod.Name,
		ID:      id,
	}
}

func ParseEthCallResult(res json.RawMessage) (string, error) {
	return parseQuotedString(res)
}
