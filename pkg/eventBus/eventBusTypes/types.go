package eventBusTypes

import (
	"context"
	"strings"
	"sync"
)

type ChangeType string

const (
	ChangeType_Insert ChangeType = "INSERT"
	ChangeType_Update ChangeType = "UPDATE"
)

const (
	Table_Pools            = "pools"
	Table_Collections      = "collections"
	Table_PoolParticipants = "pool_participants"
	Table_PoolWinners      = "pool_winners"
	Table_UserActivity     = "user_activity"
)

// Event names published on the bus.
const (
	EventName_RowChanged   = "row_changed"
	EventName_PoolUpserted = "pool_upserted"
	EventName_PassFinished = "pass_finished"
)

type Event struct {
	Name        string     `json:"-"`
	Table       string     `json:"table"`
	Type        ChangeType `json:"type"`
	ChainId     uint64     `json:"chainId"`
	PoolAddress string     `json:"poolAddress"`
	Record      any        `json:"record"`
}

type PassFinishedData struct {
	ChainId      uint64
	ContractType string
	FromBlock    uint64
	ToBlock      uint64
	Succeeded    int
	Failed       int
}

// ConsumerFilter narrows what a consumer receives. Zero fields match everything.
type ConsumerFilter struct {
	Names       []string
	Table       string
	ChainId     uint64
	PoolAddress string
}

func (f *ConsumerFilter) Matches(event *Event) bool {
	if f == nil {
		return true
	}
	if len(f.Names) > 0 {
		found := false
		for _, n := range f.Names {
			if n == event.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Table != "" && f.Table != event.Table {
		return false
	}
	if f.ChainId != 0 && f.ChainId != event.ChainId {
		return false
	}
	if f.PoolAddress != "" && !strings.EqualFold(f.PoolAddress, event.PoolAddress) {
		return false
	}
	return true
}

type ConsumerId string

type Consumer struct {
	Id      ConsumerId
	Context context.Context
	Channel chan *Event
	Filter  *ConsumerFilter
}

type ConsumerList struct {
	mu        sync.Mutex
	consumers []*Consumer
}

func NewConsumerList() *ConsumerList {
	return &ConsumerList{
		consumers: make([]*Consumer, 0),
	}
}

func (cl *ConsumerList) Add(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = append(cl.consumers, consumer)
}

func (cl *ConsumerList) Remove(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for i, c := range cl.consumers {
		if c.Id == consumer.Id {
			cl.consumers = append(cl.consumers[:i], cl.consumers[i+1:]...)
			break
		}
	}
}

// GetAll returns a snapshot safe to iterate while consumers come and go.
func (cl *ConsumerList) GetAll() []*Consumer {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]*Consumer, len(cl.consumers))
	copy(out, cl.consumers)
	return out
}

func (cl *ConsumerList) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.consumers)
}

type IEventBus interface {
	Subscribe(consumer *Consumer)
	Unsubscribe(consumer *Consumer)
	Publish(event *Event)
}
