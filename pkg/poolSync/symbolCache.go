package poolSync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"golang.org/x/sync/singleflight"
)

// SymbolReader resolves an ERC-20 symbol from its source of truth.
type SymbolReader func(ctx context.Context, chainId uint64, token string) (string, error)

// ContractSymbolReader reads symbol() through the caller configured for the chain.
func ContractSymbolReader(callers map[uint64]contractCaller.IContractCaller) SymbolReader {
	return func(ctx context.Context, chainId uint64, token string) (string, error) {
		caller, ok := callers[chainId]
		if !ok {
			return "", fmt.Errorf("no contract caller for chain %d", chainId)
		}
		res := contractCaller.As[string](caller.CallView(ctx, contractCaller.NewViewCall(token, contractCaller.Erc20, "symbol", nil)))
		if res.Err != nil {
			return "", res.Err
		}
		return res.Value, nil
	}
}

// SymbolCache remembers token symbols for the life of the session. Entries are never evicted;
// Invalidate drops all of them at once. Failed lookups are not cached.
type SymbolCache struct {
	read  SymbolReader
	group singleflight.Group

	mu      sync.RWMutex
	symbols map[string]string
}

func NewSymbolCache(read SymbolReader) *SymbolCache {
	return &SymbolCache{
		read:    read,
		symbols: make(map[string]string),
	}
}

func symbolKey(chainId uint64, token string) string {
	return fmt.Sprintf("%d:%s", chainId, strings.ToLower(token))
}

func (c *SymbolCache) Symbol(ctx context.Context, chainId uint64, token string) (string, error) {
	key := symbolKey(chainId, token)

	c.mu.RLock()
	symbol, ok := c.symbols[key]
	c.mu.RUnlock()
	if ok {
		return symbol, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		s, err := c.read(ctx, chainId, strings.ToLower(token))
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.symbols[key] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *SymbolCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols = make(map[string]string)
}

func (c *SymbolCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols)
}
