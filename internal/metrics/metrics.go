package metrics

import (
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/dogstatsd"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/prometheus"
	"go.uber.org/zap"
)

type MetricsSink struct {
	clients []metricsTypes.IMetricsClient
	config  *MetricsSinkConfig
}

type MetricsSinkConfig struct {
	DefaultLabels []metricsTypes.MetricsLabel
}

func NewMetricsSink(cfg *MetricsSinkConfig, clients []metricsTypes.IMetricsClient) (*MetricsSink, error) {
	if cfg.DefaultLabels == nil {
		cfg.DefaultLabels = []metricsTypes.MetricsLabel{}
	}
	return &MetricsSink{
		clients: clients,
		config:  cfg,
	}, nil
}

// NewNoopMetricsSink returns a sink with no clients, used by tests and one-shot commands.
func NewNoopMetricsSink() *MetricsSink {
	sink, _ := NewMetricsSink(&MetricsSinkConfig{}, nil)
	return sink
}

func mergeLabels(labels []metricsTypes.MetricsLabel, defaultLabels []metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	if labels == nil {
		return defaultLabels
	}
	mergedLabels := make([]metricsTypes.MetricsLabel, 0, len(defaultLabels)+len(labels))
	mergedLabels = append(mergedLabels, defaultLabels...)
	mergedLabels = append(mergedLabels, labels...)
	return mergedLabels
}

func (ms *MetricsSink) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Incr(name, mergedLabels, value); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MetricsSink) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Gauge(name, value, mergedLabels); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MetricsSink) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Timing(name, value, mergedLabels); err != nil {
			return err
		}
	}
	return nil
}

func InitMetricsSinksFromConfig(cfg *config.Config, l *zap.Logger) ([]metricsTypes.IMetricsClient, error) {
	clients := []metricsTypes.IMetricsClient{}

	if cfg.DataDogConfig.StatsdConfig.Enabled {
		dd, err := dogstatsd.NewDogStatsdMetricsClient(cfg.DataDogConfig.StatsdConfig.Url, cfg.DataDogConfig.StatsdConfig.SampleRate, l)
		if err != nil {
			return nil, err
		}
		clients = append(clients, dd)
	}

	if cfg.PrometheusConfig.Enabled {
		pm, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
			Metrics: metricsTypes.MetricTypes,
		}, l)
		if err != nil {
			return nil, err
		}
		clients = append(clients, pm)
	}

	return clients, nil
}
