package domain

import "time"

// MetricSample is one point of an Azure Monitor time series. Samples arrive
// with a 1-2 minute ingestion delay; that lag is a property of the upstream
// monitoring pipeline, not of this service.
type MetricSample struct {
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries groups the samples of a single named metric.
type MetricSeries struct {
	Name    string         `json:"name"`
	Samples []MetricSample `json:"samples"`
	Total   float64        `json:"total"`
}

// MetricsSnapshot is the result of one Azure Monitor fetch.
type MetricsSnapshot struct {
	Series      []MetricSeries `json:"series"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	FetchedAt   time.Time      `json:"fetched_at"`
}
