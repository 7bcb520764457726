package sidecar

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
)

var ErrIndexInProgress = errors.New("an indexing pass is already running for this contract")

// IndexLocks serializes passes per (chain, contractType, contract) within this process.
type IndexLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewIndexLocks() *IndexLocks {
	return &IndexLocks{
		active: make(map[string]struct{}),
	}
}

func lockKey(key syncCursor.CursorKey) string {
	return fmt.Sprintf("%d:%s:%s", key.ChainId, key.ContractType, strings.ToLower(key.ContractAddress))
}

// TryLock acquires the lock for key without waiting. The returned func releases it.
func (l *IndexLocks) TryLock(key syncCursor.CursorKey) (func(), error) {
	k := lockKey(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[k]; held {
		return nil, ErrIndexInProgress
	}
	l.active[k] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, k)
			l.mu.Unlock()
		})
	}, nil
}

func (l *IndexLocks) IsLocked(key syncCursor.CursorKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[lockKey(key)]
	return held
}
