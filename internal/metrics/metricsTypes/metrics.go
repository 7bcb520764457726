package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_EventsProcessed = "indexer.events.processed"
	Metric_Incr_EventsFailed    = "indexer.events.failed"
	Metric_Incr_LogFetchFailed  = "indexer.logs.failed"
	Metric_Incr_HttpRequest     = "rpc.http.request"
	Metric_Incr_ChangesDropped  = "changes.dropped"

	Metric_Gauge_CursorBlock = "indexer.cursor.block"

	Metric_Timing_PassDuration = "indexer.pass.duration"
	Metric_Timing_HttpDuration = "rpc.http.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_EventsProcessed,
			Labels: []string{"chainId", "contractType"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EventsFailed,
			Labels: []string{"chainId", "contractType"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_LogFetchFailed,
			Labels: []string{"chainId", "contractType"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_HttpRequest,
			Labels: []string{"path", "status"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ChangesDropped,
			Labels: []string{},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_CursorBlock,
			Labels: []string{"chainId", "contractType"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_PassDuration,
			Labels: []string{"chainId", "contractType"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_HttpDuration,
			Labels: []string{"path"},
		},
	},
}
