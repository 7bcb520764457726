package poolSync

import (
	"errors"
	"math/big"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/types/numbers"
	"go.uber.org/zap"
)

const MaxActivityFeed = 100

var ErrReconcilerClosed = errors.New("reconciler is closed")

type DeltaKind int

const (
	DeltaKind_Participant DeltaKind = iota + 1
	DeltaKind_SlotPurchase
	DeltaKind_Activity
	DeltaKind_Pool
)

// Delta is one change to fold into a RaffleAggregate. Only the field matching Kind is read.
type Delta struct {
	Kind        DeltaKind
	Type        eventBusTypes.ChangeType
	Participant *storage.PoolParticipant
	Quantity    uint64
	Activity    *storage.UserActivity
	Pool        *storage.Pool
}

// RaffleAggregate is the in-memory view of one pool kept current by the change stream.
type RaffleAggregate struct {
	ChainId               uint64
	PoolAddress           string
	SlotsSold             uint64
	Participants          map[string]*storage.PoolParticipant
	TotalClaimableRefunds *big.Int
	Activity              []*storage.UserActivity

	// seen holds every activity id ever applied, including those pushed out of the capped feed.
	seen map[string]struct{}
}

func NewRaffleAggregate(chainId uint64, poolAddress string) *RaffleAggregate {
	return &RaffleAggregate{
		ChainId:               chainId,
		PoolAddress:           strings.ToLower(poolAddress),
		Participants:          make(map[string]*storage.PoolParticipant),
		TotalClaimableRefunds: big.NewInt(0),
		Activity:              make([]*storage.UserActivity, 0),
		seen:                  make(map[string]struct{}),
	}
}

func (a *RaffleAggregate) clone() *RaffleAggregate {
	out := &RaffleAggregate{
		ChainId:               a.ChainId,
		PoolAddress:           a.PoolAddress,
		SlotsSold:             a.SlotsSold,
		Participants:          make(map[string]*storage.PoolParticipant, len(a.Participants)),
		TotalClaimableRefunds: new(big.Int).Set(a.TotalClaimableRefunds),
		Activity:              make([]*storage.UserActivity, len(a.Activity)),
		seen:                  make(map[string]struct{}, len(a.seen)),
	}
	for k, p := range a.Participants {
		cp := *p
		out.Participants[k] = &cp
	}
	copy(out.Activity, a.Activity)
	for id := range a.seen {
		out.seen[id] = struct{}{}
	}
	return out
}

// claimable is what one participant can still claim back. Unparseable or negative amounts count as zero.
func claimable(p *storage.PoolParticipant) *big.Int {
	if p == nil || p.RefundClaimed {
		return big.NewInt(0)
	}
	v, err := numbers.WeiToBig(p.RefundableAmount)
	if err != nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}

func (a *RaffleAggregate) applyParticipant(p *storage.PoolParticipant) {
	key := strings.ToLower(p.ParticipantAddress)
	previous := a.Participants[key]

	total := new(big.Int).Sub(a.TotalClaimableRefunds, claimable(previous))
	total.Add(total, claimable(p))
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	a.TotalClaimableRefunds = total

	stored := *p
	stored.ParticipantAddress = key
	a.Participants[key] = &stored
}

func (a *RaffleAggregate) markSeen(id string) bool {
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	if _, ok := a.seen[id]; ok {
		return false
	}
	a.seen[id] = struct{}{}
	return true
}

// applyActivity prepends a new activity and reports whether it was new.
func (a *RaffleAggregate) applyActivity(activity *storage.UserActivity) bool {
	if !a.markSeen(activity.Id) {
		return false
	}
	feed := make([]*storage.UserActivity, 0, min(len(a.Activity)+1, MaxActivityFeed))
	feed = append(feed, activity)
	feed = append(feed, a.Activity...)
	if len(feed) > MaxActivityFeed {
		feed = feed[:MaxActivityFeed]
	}
	a.Activity = feed
	return true
}

func (a *RaffleAggregate) apply(d *Delta) {
	switch d.Kind {
	case DeltaKind_Participant:
		if d.Participant != nil {
			a.applyParticipant(d.Participant)
		}
	case DeltaKind_SlotPurchase:
		a.SlotsSold += d.Quantity
	case DeltaKind_Activity:
		if d.Activity == nil {
			return
		}
		// A purchase carries its own quantity, counted once however often it is delivered.
		if a.applyActivity(d.Activity) && d.Activity.ActivityType == storage.ActivityType_SlotPurchased {
			a.SlotsSold += d.Activity.Quantity
		}
	case DeltaKind_Pool:
		if d.Pool != nil {
			a.SlotsSold = max(a.SlotsSold, d.Pool.SlotsSold)
		}
	}
}

type applyRequest struct {
	delta *Delta
	done  chan struct{}
}

// Reconciler applies deltas to one aggregate, one at a time, on its own goroutine.
type Reconciler struct {
	logger    *zap.Logger
	aggregate *RaffleAggregate
	requests  chan *applyRequest
	reads     chan chan *RaffleAggregate
	quit      chan struct{}
	stopped   chan struct{}
}

func NewReconciler(seed *RaffleAggregate, l *zap.Logger) *Reconciler {
	r := &Reconciler{
		logger:    l,
		aggregate: seed.clone(),
		requests:  make(chan *applyRequest),
		reads:     make(chan chan *RaffleAggregate),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reconciler) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.requests:
			r.aggregate.apply(req.delta)
			close(req.done)
		case reply := <-r.reads:
			reply <- r.aggregate.clone()
		}
	}
}

// Apply blocks until the delta has been folded in.
func (r *Reconciler) Apply(delta *Delta) error {
	req := &applyRequest{delta: delta, done: make(chan struct{})}
	select {
	case <-r.quit:
		return ErrReconcilerClosed
	case r.requests <- req:
	}
	<-req.done
	return nil
}

// Aggregate returns a copy of the current aggregate.
func (r *Reconciler) Aggregate() (*RaffleAggregate, error) {
	reply := make(chan *RaffleAggregate, 1)
	select {
	case <-r.quit:
		return nil, ErrReconcilerClosed
	case r.reads <- reply:
	}
	return <-reply, nil
}

func (r *Reconciler) Close() error {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	<-r.stopped
	return nil
}

// DeltasFromEvent turns one change-stream message into the deltas it implies. Messages for other
// pools and tables the aggregate does not track yield nothing.
func DeltasFromEvent(event *ChangeEvent, poolAddress string) ([]*Delta, error) {
	if poolAddress != "" && !strings.EqualFold(event.PoolAddress, poolAddress) {
		return nil, nil
	}
	switch event.Table {
	case eventBusTypes.Table_PoolParticipants:
		p := &storage.PoolParticipant{}
		if err := event.decodeRecord(p); err != nil {
			return nil, err
		}
		return []*Delta{{Kind: DeltaKind_Participant, Type: event.Type, Participant: p}}, nil
	case eventBusTypes.Table_UserActivity:
		a := &storage.UserActivity{}
		if err := event.decodeRecord(a); err != nil {
			return nil, err
		}
		return []*Delta{{Kind: DeltaKind_Activity, Type: event.Type, Activity: a}}, nil
	case eventBusTypes.Table_Pools:
		p := &storage.Pool{}
		if err := event.decodeRecord(p); err != nil {
			return nil, err
		}
		return []*Delta{{Kind: DeltaKind_Pool, Type: event.Type, Pool: p}}, nil
	}
	return nil, nil
}
