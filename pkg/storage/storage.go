package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNotFound = errors.New("record not found")

type PoolState uint8

const (
	PoolState_Pending PoolState = iota
	PoolState_Active
	PoolState_Ended
	PoolState_Drawing
	PoolState_Completed
	PoolState_Deleted
	PoolState_ActivationFailed
	PoolState_AllPrizesClaimed
	PoolState_Unengaged
)

var poolStateNames = []string{
	"pending",
	"active",
	"ended",
	"drawing",
	"completed",
	"deleted",
	"activationFailed",
	"allPrizesClaimed",
	"unengaged",
}

// AllPoolStates is every state in declaration order.
func AllPoolStates() []PoolState {
	states := make([]PoolState, 0, len(poolStateNames))
	for i := range poolStateNames {
		states = append(states, PoolState(i))
	}
	return states
}

func (s PoolState) String() string {
	if int(s) < len(poolStateNames) {
		return poolStateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", s)
}

func (s PoolState) IsValid() bool {
	return int(s) < len(poolStateNames)
}

func (s PoolState) IsTerminal() bool {
	switch s {
	case PoolState_Completed, PoolState_Deleted, PoolState_ActivationFailed, PoolState_AllPrizesClaimed, PoolState_Unengaged:
		return true
	}
	return false
}

func ParsePoolState(name string) (PoolState, error) {
	for i, n := range poolStateNames {
		if strings.EqualFold(n, name) {
			return PoolState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pool state '%s'", name)
}

// AdvanceState returns the state a pool ends up in when `next` is observed while it is in `current`.
// Non-terminal states only move forward, terminal states are sticky, and the single terminal to
// terminal move allowed is completed -> allPrizesClaimed.
func AdvanceState(current PoolState, next PoolState) PoolState {
	if current == next || !next.IsValid() {
		return current
	}
	if current.IsTerminal() {
		if current == PoolState_Completed && next == PoolState_AllPrizesClaimed {
			return next
		}
		return current
	}
	if next.IsTerminal() || next > current {
		return next
	}
	return current
}

type PrizeType string

const (
	PrizeType_None   PrizeType = "none"
	PrizeType_Native PrizeType = "native"
	PrizeType_Erc20  PrizeType = "erc20"
	PrizeType_Nft    PrizeType = "nft"
)

var AllPrizeTypes = []PrizeType{PrizeType_None, PrizeType_Native, PrizeType_Erc20, PrizeType_Nft}

type PrizeStandard uint8

const (
	PrizeStandard_ERC721  PrizeStandard = 0
	PrizeStandard_ERC1155 PrizeStandard = 1
)

var AllPrizeStandards = []PrizeStandard{PrizeStandard_ERC721, PrizeStandard_ERC1155}

func (p PrizeStandard) String() string {
	switch p {
	case PrizeStandard_ERC721:
		return "ERC721"
	case PrizeStandard_ERC1155:
		return "ERC1155"
	}
	return fmt.Sprintf("unknown(%d)", p)
}

func ParsePrizeStandard(name string) (PrizeStandard, error) {
	for _, p := range AllPrizeStandards {
		if strings.EqualFold(p.String(), name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown prize standard '%s'", name)
}

type ActivityType string

const (
	ActivityType_RaffleCreated       ActivityType = "raffle_created"
	ActivityType_SlotPurchased       ActivityType = "slot_purchased"
	ActivityType_PrizeClaimed        ActivityType = "prize_claimed"
	ActivityType_RefundClaimed       ActivityType = "refund_claimed"
	ActivityType_RandomnessRequested ActivityType = "randomness_requested"
)

type Pool struct {
	Address            string         `gorm:"primaryKey" json:"address"`
	ChainId            uint64         `gorm:"primaryKey" json:"chainId"`
	Creator            string         `json:"creator"`
	Name               string         `json:"name"`
	StartTime          uint64         `json:"startTime"`
	Duration           uint64         `json:"duration"`
	SlotFee            string         `json:"slotFee"`
	SlotLimit          uint64         `json:"slotLimit"`
	WinnersCount       uint64         `json:"winnersCount"`
	MaxSlotsPerAddress uint64         `json:"maxSlotsPerAddress"`
	State              PoolState      `json:"state"`
	IsPrized           bool           `json:"isPrized"`
	IsCollabPool       bool           `json:"isCollabPool"`
	HolderTokenAddress string         `json:"holderTokenAddress"`
	HasHolderToken     bool           `json:"hasHolderToken"`
	NativePrizeAmount  string         `json:"nativePrizeAmount"`
	Erc20PrizeToken    string         `gorm:"column:erc20_prize_token" json:"erc20PrizeToken"`
	Erc20PrizeAmount   string         `gorm:"column:erc20_prize_amount" json:"erc20PrizeAmount"`
	PrizeCollection    string         `json:"prizeCollection"`
	PrizeTokenId       string         `json:"prizeTokenId"`
	PrizeStandard      *PrizeStandard `json:"prizeStandard"`
	PrizeType          PrizeType      `json:"prizeType"`
	SlotsSold          uint64         `json:"slotsSold"`
	CreatedAtBlock     uint64         `json:"createdAtBlock"`
	CreatedAtTimestamp uint64         `json:"createdAtTimestamp"`
	CreationTxHash     string         `json:"creationTxHash"`
	LastSyncedBlock    uint64         `json:"lastSyncedBlock"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`

	// FailedViews names the pool views that could not be read for this observation.
	FailedViews []string `gorm:"-" json:"-"`
}

func (Pool) TableName() string {
	return "pools"
}

func isPositiveAmount(s string) bool {
	s = strings.TrimLeft(strings.TrimSpace(s), "0")
	return s != "" && !strings.HasPrefix(s, "-")
}

func defaultAmount(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Normalize lower-cases addresses, fills empty amounts and recomputes the derived columns.
func (p *Pool) Normalize() {
	p.Address = strings.ToLower(p.Address)
	p.Creator = strings.ToLower(p.Creator)
	p.HolderTokenAddress = strings.ToLower(p.HolderTokenAddress)
	p.Erc20PrizeToken = strings.ToLower(p.Erc20PrizeToken)
	p.PrizeCollection = strings.ToLower(p.PrizeCollection)
	p.CreationTxHash = strings.ToLower(p.CreationTxHash)

	p.SlotFee = defaultAmount(p.SlotFee)
	p.NativePrizeAmount = defaultAmount(p.NativePrizeAmount)
	p.Erc20PrizeAmount = defaultAmount(p.Erc20PrizeAmount)
	p.PrizeTokenId = defaultAmount(p.PrizeTokenId)

	p.HasHolderToken = p.HolderTokenAddress != ""
	switch {
	case p.PrizeCollection != "":
		p.PrizeType = PrizeType_Nft
	case p.Erc20PrizeToken != "" && isPositiveAmount(p.Erc20PrizeAmount):
		p.PrizeType = PrizeType_Erc20
	case isPositiveAmount(p.NativePrizeAmount):
		p.PrizeType = PrizeType_Native
	default:
		p.PrizeType = PrizeType_None
	}
	if p.PrizeType != PrizeType_Nft {
		p.PrizeStandard = nil
	}
}

// poolViewFields copies the column backed by each pool view.
var poolViewFields = map[string]func(dst *Pool, src *Pool){
	"name":               func(dst *Pool, src *Pool) { dst.Name = src.Name },
	"creator":            func(dst *Pool, src *Pool) { dst.Creator = src.Creator },
	"startTime":          func(dst *Pool, src *Pool) { dst.StartTime = src.StartTime },
	"duration":           func(dst *Pool, src *Pool) { dst.Duration = src.Duration },
	"slotFee":            func(dst *Pool, src *Pool) { dst.SlotFee = src.SlotFee },
	"slotLimit":          func(dst *Pool, src *Pool) { dst.SlotLimit = src.SlotLimit },
	"winnersCount":       func(dst *Pool, src *Pool) { dst.WinnersCount = src.WinnersCount },
	"maxSlotsPerAddress": func(dst *Pool, src *Pool) { dst.MaxSlotsPerAddress = src.MaxSlotsPerAddress },
	"state":              func(dst *Pool, src *Pool) { dst.State = src.State },
	"isPrized":           func(dst *Pool, src *Pool) { dst.IsPrized = src.IsPrized },
	"isCollabPool":       func(dst *Pool, src *Pool) { dst.IsCollabPool = src.IsCollabPool },
	"holderTokenAddress": func(dst *Pool, src *Pool) { dst.HolderTokenAddress = src.HolderTokenAddress },
	"nativePrizeAmount":  func(dst *Pool, src *Pool) { dst.NativePrizeAmount = src.NativePrizeAmount },
	"erc20PrizeToken":    func(dst *Pool, src *Pool) { dst.Erc20PrizeToken = src.Erc20PrizeToken },
	"erc20PrizeAmount":   func(dst *Pool, src *Pool) { dst.Erc20PrizeAmount = src.Erc20PrizeAmount },
	"prizeCollection":    func(dst *Pool, src *Pool) { dst.PrizeCollection = src.PrizeCollection },
	"prizeTokenId":       func(dst *Pool, src *Pool) { dst.PrizeTokenId = src.PrizeTokenId },
	"prizeStandard":      func(dst *Pool, src *Pool) { dst.PrizeStandard = src.PrizeStandard },
	"slotsSold":          func(dst *Pool, src *Pool) { dst.SlotsSold = src.SlotsSold },
}

// MergePool folds a fresh observation into the stored row. It returns the row to persist and
// whether anything should be written. Observations older than the stored watermark are dropped,
// the state only advances, slots sold never decreases, and columns whose view failed keep their
// stored value.
func MergePool(existing *Pool, incoming *Pool) (*Pool, bool) {
	merged := *incoming
	merged.FailedViews = nil
	merged.Normalize()
	if existing == nil {
		return &merged, true
	}
	if incoming.LastSyncedBlock < existing.LastSyncedBlock {
		return existing, false
	}

	for _, view := range incoming.FailedViews {
		if keep, ok := poolViewFields[view]; ok {
			keep(&merged, existing)
		}
	}
	merged.Normalize()

	merged.State = AdvanceState(existing.State, incoming.State)
	merged.SlotsSold = max(existing.SlotsSold, incoming.SlotsSold)
	if merged.Creator == "" {
		merged.Creator = existing.Creator
	}
	if existing.CreatedAtBlock != 0 {
		merged.CreatedAtBlock = existing.CreatedAtBlock
		merged.CreatedAtTimestamp = existing.CreatedAtTimestamp
		merged.CreationTxHash = existing.CreationTxHash
	}
	merged.CreatedAt = existing.CreatedAt
	return &merged, true
}

type Collection struct {
	Address         string    `gorm:"primaryKey" json:"address"`
	ChainId         uint64    `gorm:"primaryKey" json:"chainId"`
	Name            string    `json:"name"`
	Symbol          string    `json:"symbol"`
	Standard        string    `json:"standard"`
	Creator         string    `json:"creator"`
	BaseUri         string    `json:"baseUri"`
	UnrevealedUri   string    `json:"unrevealedUri"`
	ContractUri     string    `json:"contractUri"`
	IsRevealed      bool      `json:"isRevealed"`
	MaxSupply       string    `json:"maxSupply"`
	TotalSupply     string    `json:"totalSupply"`
	LastSyncedBlock uint64    `json:"lastSyncedBlock"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Collection) TableName() string {
	return "collections"
}

func (c *Collection) Normalize() {
	c.Address = strings.ToLower(c.Address)
	c.Creator = strings.ToLower(c.Creator)
	c.MaxSupply = defaultAmount(c.MaxSupply)
	c.TotalSupply = defaultAmount(c.TotalSupply)
}

// ArtworkUri resolves the display URI for a token. A nil tokenId resolves the collection level image.
func (c *Collection) ArtworkUri(tokenId *string) string {
	if c.IsRevealed && c.BaseUri != "" {
		if tokenId == nil {
			return c.BaseUri
		}
		return c.BaseUri + *tokenId
	}
	if !c.IsRevealed && c.UnrevealedUri != "" {
		return c.UnrevealedUri
	}
	return c.ContractUri
}

type PoolParticipant struct {
	PoolAddress        string    `gorm:"primaryKey" json:"poolAddress"`
	ChainId            uint64    `gorm:"primaryKey" json:"chainId"`
	ParticipantAddress string    `gorm:"primaryKey" json:"participantAddress"`
	SlotsPurchased     uint64    `json:"slotsPurchased"`
	TotalSpent         string    `json:"totalSpent"`
	RefundableAmount   string    `json:"refundableAmount"`
	RefundClaimed      bool      `json:"refundClaimed"`
	LastUpdatedBlock   uint64    `json:"lastUpdatedBlock"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (PoolParticipant) TableName() string {
	return "pool_participants"
}

type PoolWinner struct {
	PoolAddress     string    `gorm:"primaryKey" json:"poolAddress"`
	ChainId         uint64    `gorm:"primaryKey" json:"chainId"`
	WinnerIndex     uint64    `gorm:"primaryKey" json:"winnerIndex"`
	WinnerAddress   string    `json:"winnerAddress"`
	PrizeClaimed    bool      `json:"prizeClaimed"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (PoolWinner) TableName() string {
	return "pool_winners"
}

type UserActivity struct {
	Id              string       `gorm:"primaryKey" json:"id"`
	ChainId         uint64       `json:"chainId"`
	UserAddress     string       `json:"userAddress"`
	ActivityType    ActivityType `json:"activityType"`
	PoolAddress     string       `json:"poolAddress"`
	TransactionHash string       `json:"transactionHash"`
	LogIndex        uint64       `json:"logIndex"`
	BlockNumber     uint64       `json:"blockNumber"`
	BlockTimestamp  uint64       `json:"blockTimestamp"`
	Quantity        uint64       `json:"quantity"`
	Amount          string       `json:"amount"`
	Metadata        string       `json:"metadata"`
	CreatedAt       time.Time    `json:"createdAt"`
}

func (UserActivity) TableName() string {
	return "user_activity"
}

// ActivityId is the deterministic row id for the activity dedup key.
func ActivityId(chainId uint64, txHash string, logIndex uint64, activityType ActivityType, user string) string {
	key := fmt.Sprintf("%d:%s:%d:%s:%s", chainId, strings.ToLower(txHash), logIndex, activityType, strings.ToLower(user))
	return crypto.Keccak256Hash([]byte(key)).Hex()
}

// Normalize lower-cases the addresses and assigns the dedup id.
func (a *UserActivity) Normalize() {
	a.UserAddress = strings.ToLower(a.UserAddress)
	a.PoolAddress = strings.ToLower(a.PoolAddress)
	a.TransactionHash = strings.ToLower(a.TransactionHash)
	a.Amount = defaultAmount(a.Amount)
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	a.Id = ActivityId(a.ChainId, a.TransactionHash, a.LogIndex, a.ActivityType, a.UserAddress)
}

type IndexerSyncState struct {
	ChainId          uint64    `gorm:"primaryKey" json:"chainId"`
	ContractType     string    `gorm:"primaryKey" json:"contractType"`
	ContractAddress  string    `gorm:"primaryKey" json:"contractAddress"`
	LastIndexedBlock uint64    `json:"lastIndexedBlock"`
	LastBlockHash    string    `json:"lastBlockHash"`
	IsHealthy        bool      `json:"isHealthy"`
	ErrorMessage     string    `json:"errorMessage"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (IndexerSyncState) TableName() string {
	return "indexer_sync_state"
}

type PoolStore interface {
	// UpsertPool merges the observation with the stored row. The bool reports whether a write happened.
	UpsertPool(ctx context.Context, pool *Pool) (*Pool, bool, error)
	GetPool(ctx context.Context, address string, chainId uint64) (*Pool, error)
	ListPoolAddresses(ctx context.Context, chainId uint64) ([]string, error)
	// RaisePoolState advances the pool's state. It never moves backwards.
	RaisePoolState(ctx context.Context, address string, chainId uint64, state PoolState, blockNumber uint64) (bool, error)
}

type CollectionStore interface {
	UpsertCollection(ctx context.Context, collection *Collection) (*Collection, bool, error)
}

// ActivityStore writes the append-only activity log and the aggregates derived from it. Each
// method inserts the activity first and only touches aggregates when the row was new.
type ActivityStore interface {
	InsertActivity(ctx context.Context, activity *UserActivity) (bool, error)
	ApplySlotPurchase(ctx context.Context, activity *UserActivity) (bool, *PoolParticipant, error)
	ApplyRefund(ctx context.Context, activity *UserActivity) (bool, *PoolParticipant, error)
	InsertWinners(ctx context.Context, winners []*PoolWinner) (int64, error)
	MarkPrizeClaimed(ctx context.Context, activity *UserActivity, winnerIndex uint64) (bool, error)
}

type Store interface {
	PoolStore
	CollectionStore
	ActivityStore
}
