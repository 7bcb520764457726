// Package poolSync is the client side of the raffle cache. It serves queries from the read API,
// falls back to direct chain reads when the cache is empty or failing, and folds the change
// stream into in-memory aggregates.
package poolSync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type SyncState string

const (
	SyncState_Uninitialized      SyncState = "uninitialized"
	SyncState_FetchingPrimary    SyncState = "fetchingPrimary"
	SyncState_ServedFromCache    SyncState = "servedFromCache"
	SyncState_FallingBackToChain SyncState = "fallingBackToChain"
	SyncState_ServedFromChain    SyncState = "servedFromChain"
	SyncState_Subscribed         SyncState = "subscribed"
	SyncState_Idle               SyncState = "idle"
)

// DataSource records which path produced the data a query currently holds.
type DataSource string

const (
	DataSource_None  DataSource = "none"
	DataSource_Cache DataSource = "cache"
	DataSource_Chain DataSource = "chain"
)

// ErrNotFound is returned by a source that answered but holds no such entity.
var ErrNotFound = errors.New("not found")

// ErrNotLoaded is returned by Refresh on a query that never loaded an identity.
var ErrNotLoaded = errors.New("query has no identity to refresh")

// Identity is what a query is about. Two identities with the same key are the same query.
type Identity struct {
	ChainId uint64
	Address string
	Filters map[string]string
}

// Key is the fetch-guard key. Addresses compare case-insensitively and filters in key order.
func (i Identity) Key() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d:%s", i.ChainId, strings.ToLower(i.Address)))

	names := make([]string, 0, len(i.Filters))
	for name := range i.Filters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf(":%s=%s", name, i.Filters[name]))
	}
	return sb.String()
}

type Snapshot[T any] struct {
	State      SyncState
	DataSource DataSource
	Data       T
	Err        error
	Key        string
}
