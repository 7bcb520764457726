package poolSync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const subscriberCloseTimeout = 5 * time.Second

// ChangeEvent is one message of the /changes stream.
type ChangeEvent struct {
	Table       string                   `json:"table"`
	Type        eventBusTypes.ChangeType `json:"type"`
	ChainId     uint64                   `json:"chainId"`
	PoolAddress string                   `json:"poolAddress"`
	Record      json.RawMessage          `json:"record"`
}

func (e *ChangeEvent) decodeRecord(out any) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("%s change carries no record", e.Table)
	}
	if err := json.Unmarshal(e.Record, out); err != nil {
		return fmt.Errorf("failed to decode %s record: %w", e.Table, err)
	}
	return nil
}

type SubscriberConfig struct {
	// Url is the websocket address of the change stream, e.g. ws://localhost:7101/changes.
	Url         string
	ChainId     uint64
	PoolAddress string
	Table       string
	Dialer      *websocket.Dialer
}

func (c *SubscriberConfig) streamUrl() (string, error) {
	u, err := url.Parse(c.Url)
	if err != nil {
		return "", fmt.Errorf("invalid change stream url: %w", err)
	}
	q := u.Query()
	if c.ChainId != 0 {
		q.Set("chainId", strconv.FormatUint(c.ChainId, 10))
	}
	if c.PoolAddress != "" {
		q.Set("poolAddress", strings.ToLower(c.PoolAddress))
	}
	if c.Table != "" {
		q.Set("table", c.Table)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscriber feeds the change stream of one pool into a reconciler until it is closed or the
// stream ends.
type Subscriber struct {
	logger      *zap.Logger
	conn        *websocket.Conn
	reconciler  *Reconciler
	poolAddress string

	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}

	mu  sync.Mutex
	err error
}

func Subscribe(ctx context.Context, cfg *SubscriberConfig, reconciler *Reconciler, l *zap.Logger) (*Subscriber, error) {
	streamUrl, err := cfg.streamUrl()
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, streamUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	s := &Subscriber{
		logger:      l,
		conn:        conn,
		reconciler:  reconciler,
		poolAddress: strings.ToLower(cfg.PoolAddress),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	defer close(s.done)
	for {
		event := &ChangeEvent{}
		if err := s.conn.ReadJSON(event); err != nil {
			select {
			case <-s.closing:
			default:
				s.setErr(err)
				s.logger.Sugar().Warnw("Change stream ended", zap.String("pool", s.poolAddress), zap.Error(err))
			}
			return
		}

		deltas, err := DeltasFromEvent(event, s.poolAddress)
		if err != nil {
			s.logger.Sugar().Debugw("Skipping undecodable change",
				zap.String("table", event.Table),
				zap.Error(err),
			)
			continue
		}
		for _, d := range deltas {
			if err := s.reconciler.Apply(d); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *Subscriber) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err is why the stream ended on its own, nil while it runs or after Close.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the read loop has exited.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(subscriberCloseTimeout))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Sugar().Debugw("Failed to send close frame", zap.Error(werr))
		}
		err = s.conn.Close()
		<-s.done
	})
	return err
}
