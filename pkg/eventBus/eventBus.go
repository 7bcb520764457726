package eventBus

import (
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"go.uber.org/zap"
)

type EventBus struct {
	consumers *eventBusTypes.ConsumerList
	metrics   *metrics.MetricsSink
	logger    *zap.Logger
}

func NewEventBus(ms *metrics.MetricsSink, l *zap.Logger) *EventBus {
	return &EventBus{
		consumers: eventBusTypes.NewConsumerList(),
		metrics:   ms,
		logger:    l,
	}
}

func (eb *EventBus) Subscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Add(consumer)
	eb.logger.Sugar().Debugw("Subscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (eb *EventBus) Unsubscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Remove(consumer)
	eb.logger.Sugar().Infow("Unsubscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (eb *EventBus) ConsumerCount() int {
	return eb.consumers.Len()
}

// Publish never blocks. Consumers whose channel is full miss the event.
func (eb *EventBus) Publish(event *eventBusTypes.Event) {
	eb.logger.Sugar().Debugw("Publishing event",
		zap.String("eventName", event.Name),
		zap.String("table", event.Table),
	)
	for _, consumer := range eb.consumers.GetAll() {
		if consumer.Channel == nil {
			eb.logger.Sugar().Debugw("Consumer channel is nil", zap.String("consumerId", string(consumer.Id)))
			continue
		}
		if !consumer.Filter.Matches(event) {
			continue
		}
		select {
		case consumer.Channel <- event:
		default:
			eb.logger.Sugar().Debugw("No receiver available, or channel is full",
				zap.String("consumerId", string(consumer.Id)),
				zap.String("eventName", event.Name),
			)
			_ = eb.metrics.Incr(metricsTypes.Metric_Incr_ChangesDropped, nil, 1)
		}
	}
}
