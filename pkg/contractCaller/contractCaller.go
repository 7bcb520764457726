package contractCaller

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// EthereumClient is the subset of the JSON-RPC client the contract callers rely on.
type EthereumClient interface {
	EthCall(ctx context.Context, to string, data string, block string) (string, error)
	BatchCall(ctx context.Context, requests []*ethereum.RPCRequest) ([]*ethereum.RPCResponse, error)
}

type CallOptions struct {
	// Fallback is returned as the value when the call fails and HasFallback is set.
	Fallback    any
	HasFallback bool
	// BlockNumber pins the call to a block; nil reads "latest".
	BlockNumber *uint64
}

func WithFallback(fallback any) *CallOptions {
	return &CallOptions{Fallback: fallback, HasFallback: true}
}

type ViewCall struct {
	Target  string
	Abi     *abi.ABI
	Method  string
	Args    []interface{}
	Options *CallOptions
}

func NewViewCall(target string, contractAbi *abi.ABI, method string, opts *CallOptions, args ...interface{}) *ViewCall {
	return &ViewCall{
		Target:  strings.ToLower(target),
		Abi:     contractAbi,
		Method:  method,
		Args:    args,
		Options: opts,
	}
}

// Result is the outcome of a view call. A failed call never panics or returns an error out of band;
// callers inspect Err, or use ValueOr.
type Result[T any] struct {
	Value        T
	Err          error
	UsedFallback bool
	Reverted     bool
}

func (r Result[T]) Ok() bool {
	return r.Err == nil
}

func (r Result[T]) ValueOr(def T) T {
	if r.Err == nil || r.UsedFallback {
		return r.Value
	}
	return def
}

type IContractCaller interface {
	CallView(ctx context.Context, call *ViewCall) Result[any]
	CallViews(ctx context.Context, calls []*ViewCall) []Result[any]
}

// BlockTag is the eth_call block parameter for a pinned read.
func BlockTag(blockNumber uint64) string {
	return hexutil.EncodeUint64(blockNumber)
}

// Block returns the block parameter for the call, "latest" unless pinned.
func (v *ViewCall) Block() string {
	if v.Options != nil && v.Options.BlockNumber != nil {
		return BlockTag(*v.Options.BlockNumber)
	}
	return "latest"
}

// Pack ABI-encodes the call data.
func (v *ViewCall) Pack() (string, error) {
	if v.Abi == nil {
		return "", fmt.Errorf("no abi provided for %s", v.Method)
	}
	data, err := v.Abi.Pack(v.Method, v.Args...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to pack %s", v.Method)
	}
	return hexutil.Encode(data), nil
}

// Unpack decodes raw call output. Single-output methods yield the bare value.
func (v *ViewCall) Unpack(raw string) (any, error) {
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hex returned for %s", v.Method)
	}
	if len(data) == 0 {
		return nil, &EmptyResultError{Target: v.Target, Method: v.Method}
	}
	values, err := v.Abi.Unpack(v.Method, data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s", v.Method)
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// EmptyResultError is returned for a call against an address with no code.
type EmptyResultError struct {
	Target string
	Method string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("empty result calling %s on %s", e.Method, e.Target)
}

// ResolveResult builds the Result for a finished call, applying the fallback when it failed.
func ResolveResult(call *ViewCall, raw string, callErr error) Result[any] {
	var value any
	err := callErr
	if err == nil {
		value, err = call.Unpack(raw)
	}
	if err == nil {
		return Result[any]{Value: value}
	}

	res := Result[any]{Err: err, Reverted: ethereum.IsRevert(err)}
	if call.Options != nil && call.Options.HasFallback {
		res.Value = call.Options.Fallback
		res.UsedFallback = true
	}
	return res
}

// As converts an untyped result. A value of the wrong type turns into an error result.
func As[T any](r Result[any]) Result[T] {
	out := Result[T]{Err: r.Err, UsedFallback: r.UsedFallback, Reverted: r.Reverted}
	if r.Value == nil {
		return out
	}
	v, ok := r.Value.(T)
	if !ok {
		var zero T
		if out.Err == nil {
			out.Err = fmt.Errorf("unexpected result type %T, wanted %T", r.Value, zero)
		}
		return out
	}
	out.Value = v
	return out
}

func AsString(r Result[any], def string) string {
	return As[string](r).ValueOr(def)
}

func AsBool(r Result[any], def bool) bool {
	return As[bool](r).ValueOr(def)
}

// AsBigInt accepts any unsigned or big integer output.
func AsBigInt(r Result[any], def *big.Int) *big.Int {
	if r.Err != nil && !r.UsedFallback {
		return def
	}
	switch v := r.Value.(type) {
	case *big.Int:
		if v == nil {
			return def
		}
		return v
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	case uint16:
		return new(big.Int).SetUint64(uint64(v))
	case uint32:
		return new(big.Int).SetUint64(uint64(v))
	case uint64:
		return new(big.Int).SetUint64(v)
	case int:
		return big.NewInt(int64(v))
	case int64:
		return big.NewInt(v)
	default:
		return def
	}
}

func AsUint64(r Result[any], def uint64) uint64 {
	v := AsBigInt(r, nil)
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return def
	}
	return v.Uint64()
}

// AsAddress returns the lowercased hex address, or "" for the zero address.
func AsAddress(r Result[any], def string) string {
	if r.Err != nil && !r.UsedFallback {
		return def
	}
	switch v := r.Value.(type) {
	case common.Address:
		if v == (common.Address{}) {
			return ""
		}
		return strings.ToLower(v.Hex())
	case string:
		return strings.ToLower(v)
	default:
		return def
	}
}
