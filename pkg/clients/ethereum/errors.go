package ethereum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
)

var (
	ErrRetriesExhausted = errors.New("exceeded retries for call")
	ErrBlockNotFound    = errors.New("block not found")
)

var executionRevertedRegex = regexp.MustCompile(`(?i)execution reverted`)

// JSON-RPC error codes that will not succeed on retry.
var permanentRpcErrorCodes = map[int64]bool{
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
	3:      true, // execution reverted (geth)
}

type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RevertError is returned when a view call reverts. It is never retried.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

type HttpStatusError struct {
	StatusCode int
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("received http error code %d", e.StatusCode)
}

func IsRevert(err error) bool {
	var revertErr *RevertError
	return errors.As(err, &revertErr)
}

func toRevertIfApplicable(rpcErr *RPCError) error {
	if rpcErr.Code == 3 || executionRevertedRegex.MatchString(rpcErr.Message) {
		return &RevertError{Reason: rpcErr.Message}
	}
	return rpcErr
}

// IsTransient reports whether a failed call is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRevert(err) || errors.Is(err, context.Canceled) || errors.Is(err, ErrBlockNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return !permanentRpcErrorCodes[rpcErr.Code]
	}

	var statusErr *HttpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var transportErr *transportError
	return errors.As(err, &transportErr)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("request failed: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

// Err converts an embedded JSON-RPC error into the typed error Call would have returned.
func (r *RPCResponse) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return toRevertIfApplicable(r.Error)
}
