// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessagesDecoded    prometheus.Counter
	ChatFramesDiscarded    prometheus.Counter
	ChatReconnects         prometheus.Counter
	ChatConnects           prometheus.Counter
	EmoteReloads           prometheus.Counter
	EmoteReloadFailures    prometheus.Counter
	AuthRefreshesSucceeded prometheus.Counter
	AuthRefreshesFailed    prometheus.Counter
	AuthSignIns            prometheus.Counter

	// Histograms (seconds)
	EmoteReloadDuration prometheus.Observer

	// Gauges
	ChatConnectedGauge prometheus.Gauge // 1=connected, 0=not
	EmoteCatalogSize   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessagesDecoded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_decoded_total", Help: "Chat messages decoded from relay frames"})
		ChatFramesDiscarded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frames_discarded_total", Help: "Inbound relay frames dropped as malformed or irrelevant"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Relay reconnect attempts scheduled"})
		ChatConnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_connects_total", Help: "Successful relay connections"})
		EmoteReloads = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_reloads_total", Help: "Emote catalog reloads attempted"})
		EmoteReloadFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_reload_failures_total", Help: "Emote catalog reloads that failed"})
		AuthRefreshesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "auth_refreshes_succeeded_total", Help: "Token refreshes that succeeded"})
		AuthRefreshesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "auth_refreshes_failed_total", Help: "Token refreshes that failed"})
		AuthSignIns = promauto.NewCounter(prometheus.CounterOpts{Name: "auth_sign_ins_total", Help: "Completed sign-in flows"})
		EmoteReloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emote_reload_duration_seconds", Help: "Emote catalog reload duration seconds", Buckets: prometheus.DefBuckets})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connected", Help: "Relay connection up=1 down=0"})
		EmoteCatalogSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "emote_catalog_size", Help: "Entries in the current emote catalog"})
	})
}

// SetChatConnected flips the connection gauge.
func SetChatConnected(up bool) {
	if ChatConnectedGauge == nil {
		return
	}
	if up {
		ChatConnectedGauge.Set(1)
	} else {
		ChatConnectedGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger carrying the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
