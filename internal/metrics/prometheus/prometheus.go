package prometheus

import (
	"strings"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type PrometheusMetricsConfig struct {
	Metrics map[metricsTypes.MetricsType][]metricsTypes.MetricsTypeConfig
	// Registerer defaults to prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

type PrometheusMetricsClient struct {
	logger *zap.Logger
	config *PrometheusMetricsConfig

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	labelNames map[string][]string
}

func NewPrometheusMetricsClient(config *PrometheusMetricsConfig, l *zap.Logger) (*PrometheusMetricsClient, error) {
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	client := &PrometheusMetricsClient{
		config: config,
		logger: l,

		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}

	if err := client.initializeTypes(); err != nil {
		return nil, err
	}

	return client, nil
}

// prometheus metric names cannot contain dots
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func (pmc *PrometheusMetricsClient) logExistingMetric(t metricsTypes.MetricsType, metric metricsTypes.MetricsTypeConfig) {
	pmc.logger.Sugar().Warnw("Prometheus metric already exists for type",
		zap.String("type", string(t)),
		zap.String("name", metric.Name),
	)
}

func (pmc *PrometheusMetricsClient) initializeTypes() error {
	for t, types := range pmc.config.Metrics {
		for _, mt := range types {
			if _, ok := pmc.labelNames[mt.Name]; ok {
				pmc.logExistingMetric(t, mt)
				continue
			}
			pmc.labelNames[mt.Name] = mt.Labels

			var collector prometheus.Collector
			switch t {
			case metricsTypes.MetricsType_Incr:
				pmc.counters[mt.Name] = prometheus.NewCounterVec(prometheus.CounterOpts{
					Name: sanitizeName(mt.Name),
				}, mt.Labels)
				collector = pmc.counters[mt.Name]
			case metricsTypes.MetricsType_Gauge:
				pmc.gauges[mt.Name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
					Name: sanitizeName(mt.Name),
				}, mt.Labels)
				collector = pmc.gauges[mt.Name]
			case metricsTypes.MetricsType_Timing:
				pmc.histograms[mt.Name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
					Name: sanitizeName(mt.Name),
				}, mt.Labels)
				collector = pmc.histograms[mt.Name]
			default:
				continue
			}
			if err := pmc.config.Registerer.Register(collector); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatLabels keeps only the labels declared for the metric and fills missing ones with "",
// since a vec panics on an unexpected label set.
func (pmc *PrometheusMetricsClient) formatLabels(name string, labels []metricsTypes.MetricsLabel) prometheus.Labels {
	l := make(prometheus.Labels)
	for _, declared := range pmc.labelNames[name] {
		l[declared] = ""
	}
	for _, label := range labels {
		if _, ok := l[label.Name]; ok {
			l[label.Name] = label.Value
		}
	}
	return l
}

func (pmc *PrometheusMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	m, ok := pmc.counters[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus incr not found", zap.String("name", name))
		return nil
	}
	m.With(pmc.formatLabels(name, labels)).Add(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	m, ok := pmc.gauges[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus gauge not found", zap.String("name", name))
		return nil
	}
	m.With(pmc.formatLabels(name, labels)).Set(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	m, ok := pmc.histograms[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus histogram not found", zap.String("name", name))
		return nil
	}
	m.With(pmc.formatLabels(name, labels)).Observe(float64(value.Milliseconds()))
	return nil
}
