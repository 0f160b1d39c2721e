// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーとDiscordクライアントから利用する。
type MetricsCollector interface {
	RecordCallback(outcome string)
	RecordVerify(outcome string)
	ObserveProviderRequest(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	callbacks       *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discordauth_callback_total",
			Help: "OAuthコールバックの結果別の処理数",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discordauth_verify_total",
			Help: "トークン検証の結果別の処理数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discordauth_provider_request_seconds",
			Help:    "Discord API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.callbacks,
		c.verifications,
		c.providerLatency,
	)

	return c
}

// RecordCallback はコールバックの結果を記録する。
func (c *Collector) RecordCallback(outcome string) {
	c.callbacks.WithLabelValues(outcome).Inc()
}

// RecordVerify はトークン検証の結果を記録する。
func (c *Collector) RecordVerify(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// ObserveProviderRequest はDiscord API呼び出しのレイテンシを記録する。
func (c *Collector) ObserveProviderRequest(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テスト用。
type NopCollector struct{}

func (NopCollector) RecordCallback(string)                        {}
func (NopCollector) RecordVerify(string)                          {}
func (NopCollector) ObserveProviderRequest(string, time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
