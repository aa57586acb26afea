package domain

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

type JobKind string

const (
	KindAnalyticsExport   JobKind = "analytics-export"
	KindAnalyticsSnapshot JobKind = "analytics-snapshot"
	KindKeywordRankSync   JobKind = "keyword-rank-sync"
)

// Kinds lists every job kind the orchestrator accepts.
var Kinds = []JobKind{KindAnalyticsExport, KindAnalyticsSnapshot, KindKeywordRankSync}

// JobConfig is the kind-specific payload of a ScheduledJob. Exactly one
// concrete type exists per JobKind.
type JobConfig interface {
	Kind() JobKind
	Validate() error
}

var knownMetrics = map[string]bool{
	"clicks":      true,
	"impressions": true,
	"ctr":         true,
	"position":    true,
	"sessions":    true,
	"conversions": true,
}

func validateMetrics(field string, metrics []string) error {
	if len(metrics) == 0 {
		return Invalid(field, "at least one metric is required")
	}
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		if !knownMetrics[m] {
			return Invalid(field, "unknown metric %q", m)
		}
		if seen[m] {
			return Invalid(field, "metric %q listed twice", m)
		}
		seen[m] = true
	}
	return nil
}

// AnalyticsExportConfig exports a metrics window to a destination.
type AnalyticsExportConfig struct {
	Format       string   `json:"format"`
	LookbackDays int      `json:"lookback_days"`
	Metrics      []string `json:"metrics"`
	Destination  string   `json:"destination,omitempty"`
}

func (AnalyticsExportConfig) Kind() JobKind { return KindAnalyticsExport }

func (c AnalyticsExportConfig) Validate() error {
	if c.Format != "csv" && c.Format != "json" {
		return Invalid("config.format", "must be csv or json, got %q", c.Format)
	}
	if c.LookbackDays < 1 || c.LookbackDays > 365 {
		return Invalid("config.lookback_days", "must be 1-365, got %d", c.LookbackDays)
	}
	if c.Destination != "" && !strings.HasPrefix(c.Destination, "s3://") && !strings.HasPrefix(c.Destination, "https://") {
		return Invalid("config.destination", "must be an s3:// or https:// location")
	}
	return validateMetrics("config.metrics", c.Metrics)
}

// AnalyticsSnapshotConfig captures the current value of a set of metrics.
type AnalyticsSnapshotConfig struct {
	Metrics         []string `json:"metrics"`
	ComparePrevious bool     `json:"compare_previous"`
}

func (AnalyticsSnapshotConfig) Kind() JobKind { return KindAnalyticsSnapshot }

func (c AnalyticsSnapshotConfig) Validate() error {
	return validateMetrics("config.metrics", c.Metrics)
}

// KeywordRankSyncConfig refreshes search positions for a keyword set.
type KeywordRankSyncConfig struct {
	KeywordSetID string `json:"keyword_set_id"`
	SearchEngine string `json:"search_engine"`
	Locale       string `json:"locale"`
	Depth        int    `json:"depth"`
}

func (KeywordRankSyncConfig) Kind() JobKind { return KindKeywordRankSync }

func (c KeywordRankSyncConfig) Validate() error {
	if strings.TrimSpace(c.KeywordSetID) == "" {
		return Invalid("config.keyword_set_id", "required")
	}
	switch c.SearchEngine {
	case "google", "bing":
	default:
		return Invalid("config.search_engine", "must be google or bing, got %q", c.SearchEngine)
	}
	if c.Locale == "" {
		return Invalid("config.locale", "required")
	}
	if c.Depth < 10 || c.Depth > 100 {
		return Invalid("config.depth", "must be 10-100, got %d", c.Depth)
	}
	return nil
}

// DecodeJobConfig parses raw JSON into the concrete config for kind and
// validates it.
func DecodeJobConfig(kind JobKind, raw json.RawMessage) (JobConfig, error) {
	var cfg JobConfig
	switch kind {
	case KindAnalyticsExport:
		var c AnalyticsExportConfig
		if err := unmarshalStrict(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	case KindAnalyticsSnapshot:
		var c AnalyticsSnapshotConfig
		if err := unmarshalStrict(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	case KindKeywordRankSync:
		var c KeywordRankSyncConfig
		if err := unmarshalStrict(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, Invalid("kind", "unknown job kind %q", kind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncodeJobConfig serializes a config for storage.
func EncodeJobConfig(cfg JobConfig) (json.RawMessage, error) {
	if cfg == nil {
		return nil, errors.New("encode job config: nil config")
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode job config")
	}
	return b, nil
}

func unmarshalStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return Invalid("config", "required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return Invalid("config", "%v", err)
	}
	return nil
}
