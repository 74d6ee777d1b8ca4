// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordRegistration()
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordFederatedLogin(provider string)
	RecordSessionValidation(valid bool)
	RecordSessionsSwept(count int64)
	RecordStorageFallback()
	RecordAudienceFallback()
	RecordHTTPStatus(statusCode int)
	RecordVerifyLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations     prometheus.Counter
	loginSuccess      prometheus.Counter
	loginFail         prometheus.Counter
	federatedLogins   *prometheus.CounterVec
	sessionValidation *prometheus.CounterVec
	sessionsSwept     prometheus.Counter
	storageFallback   prometheus.Counter
	audienceFallback  prometheus.Counter
	httpStatus        *prometheus.CounterVec
	verifyLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_registrations_total",
			Help: "ユーザー登録の合計数",
		}),
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_login_fail_total",
			Help: "ログイン失敗の合計数",
		}),
		federatedLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicauth_federated_login_total",
			Help: "外部IdPログイン成功のプロバイダー別合計数",
		}, []string{"provider"}),
		sessionValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicauth_session_validation_total",
			Help: "セッション検証の結果別合計数",
		}, []string{"result"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_sessions_swept_total",
			Help: "定期清掃で削除された期限切れセッションの合計数",
		}),
		storageFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_storage_fallback_total",
			Help: "データベース接続失敗によるファイルストレージへのフォールバック回数",
		}),
		audienceFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_audience_fallback_total",
			Help: "audience未指定でデフォルト値にフォールバックした回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinicauth_verify_latency_seconds",
			Help:    "IDトークン検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.loginSuccess,
		c.loginFail,
		c.federatedLogins,
		c.sessionValidation,
		c.sessionsSwept,
		c.storageFallback,
		c.audienceFallback,
		c.httpStatus,
		c.verifyLatency,
	)

	return c
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFail.Inc()
}

// RecordFederatedLogin は外部IdPログイン成功を記録する。
func (c *Collector) RecordFederatedLogin(provider string) {
	c.federatedLogins.WithLabelValues(provider).Inc()
}

// RecordSessionValidation はセッション検証の結果を記録する。
func (c *Collector) RecordSessionValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.sessionValidation.WithLabelValues(result).Inc()
}

// RecordSessionsSwept は定期清掃で削除されたセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordStorageFallback はファイルストレージへのフォールバックを記録する。
func (c *Collector) RecordStorageFallback() {
	c.storageFallback.Inc()
}

// RecordAudienceFallback はデフォルトaudienceへのフォールバックを記録する。
func (c *Collector) RecordAudienceFallback() {
	c.audienceFallback.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordVerifyLatency はIDトークン検証のレイテンシを記録する。
func (c *Collector) RecordVerifyLatency(duration time.Duration) {
	c.verifyLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
