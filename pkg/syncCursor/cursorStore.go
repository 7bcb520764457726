package syncCursor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ContractType_PoolDeployer = "pool_deployer"
	ContractType_PoolEvents   = "pool_events"
)

type CursorKey struct {
	ChainId         uint64
	ContractType    string
	ContractAddress string
}

func (k CursorKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.ChainId, k.ContractType, strings.ToLower(k.ContractAddress))
}

type CursorStore interface {
	// Get returns nil without an error when no cursor exists for the key.
	Get(ctx context.Context, key CursorKey) (*storage.IndexerSyncState, error)
	Save(ctx context.Context, cursor *storage.IndexerSyncState) error
	// MarkUnhealthy records a failure without moving the last indexed block.
	MarkUnhealthy(ctx context.Context, key CursorKey, message string) error
	List(ctx context.Context, chainId *uint64) ([]*storage.IndexerSyncState, error)
}

type GormCursorStore struct {
	db *gorm.DB
}

func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

var cursorKeyColumns = []clause.Column{{Name: "chain_id"}, {Name: "contract_type"}, {Name: "contract_address"}}

func (s *GormCursorStore) Get(ctx context.Context, key CursorKey) (*storage.IndexerSyncState, error) {
	cursor := &storage.IndexerSyncState{}
	res := s.db.WithContext(ctx).
		Where("chain_id = ? AND contract_type = ? AND contract_address = ?", key.ChainId, key.ContractType, strings.ToLower(key.ContractAddress)).
		Limit(1).
		Find(cursor)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load cursor %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return cursor, nil
}

func (s *GormCursorStore) Save(ctx context.Context, cursor *storage.IndexerSyncState) error {
	cursor.ContractAddress = strings.ToLower(cursor.ContractAddress)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cursorKeyColumns,
		UpdateAll: true,
	}).Create(cursor)
	if res.Error != nil {
		return fmt.Errorf("failed to save cursor: %w", res.Error)
	}
	return nil
}

func (s *GormCursorStore) MarkUnhealthy(ctx context.Context, key CursorKey, message string) error {
	cursor := &storage.IndexerSyncState{
		ChainId:         key.ChainId,
		ContractType:    key.ContractType,
		ContractAddress: strings.ToLower(key.ContractAddress),
		IsHealthy:       false,
		ErrorMessage:    message,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cursorKeyColumns,
		DoUpdates: clause.AssignmentColumns([]string{"is_healthy", "error_message", "updated_at"}),
	}).Create(cursor)
	if res.Error != nil {
		return fmt.Errorf("failed to mark cursor unhealthy: %w", res.Error)
	}
	return nil
}

func (s *GormCursorStore) List(ctx context.Context, chainId *uint64) ([]*storage.IndexerSyncState, error) {
	cursors := make([]*storage.IndexerSyncState, 0)
	query := s.db.WithContext(ctx).Model(&storage.IndexerSyncState{})
	if chainId != nil {
		query = query.Where("chain_id = ?", *chainId)
	}
	res := query.Order("chain_id asc, contract_type asc, contract_address asc").Find(&cursors)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", res.Error)
	}
	return cursors, nil
}

// MemoryCursorStore keeps cursors in process. It is used by one-shot commands and tests.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]*storage.IndexerSyncState
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]*storage.IndexerSyncState)}
}

func keyOf(c *storage.IndexerSyncState) CursorKey {
	return CursorKey{ChainId: c.ChainId, ContractType: c.ContractType, ContractAddress: c.ContractAddress}
}

func (s *MemoryCursorStore) Get(_ context.Context, key CursorKey) (*storage.IndexerSyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryCursorStore) Save(_ context.Context, cursor *storage.IndexerSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cursor
	cp.ContractAddress = strings.ToLower(cp.ContractAddress)
	cp.UpdatedAt = time.Now()
	s.cursors[keyOf(&cp).String()] = &cp
	return nil
}

func (s *MemoryCursorStore) MarkUnhealthy(_ context.Context, key CursorKey, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key.String()]
	if !ok {
		c = &storage.IndexerSyncState{
			ChainId:         key.ChainId,
			ContractType:    key.ContractType,
			ContractAddress: strings.ToLower(key.ContractAddress),
		}
		s.cursors[key.String()] = c
	}
	c.IsHealthy = false
	c.ErrorMessage = message
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryCursorStore) List(_ context.Context, chainId *uint64) ([]*storage.IndexerSyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.IndexerSyncState, 0, len(s.cursors))
	for _, c := range s.cursors {
		if chainId != nil && c.ChainId != *chainId {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return keyOf(out[i]).String() < keyOf(out[j]).String()
	})
	return out, nil
}
