package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolveRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_resolve_requests_total",
		Help: "Total number of jurisdiction resolutions",
	})
	ResolveDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "civic_resolve_duration_ms",
		Help:    "Resolution duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	LayerUnavailableTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_layer_unavailable_total",
		Help: "Lookups that failed because a jurisdiction layer could not be loaded",
	}, []string{"layer"})
	BoundaryLoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_boundary_load_total",
		Help: "Boundary source loads by format and status",
	}, []string{"format", "status"})
	BoundaryLoadDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "civic_boundary_load_duration_ms",
		Help:    "Boundary source fetch and parse duration in milliseconds",
		Buckets: []float64{5, 20, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	GateVerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_gate_verdicts_total",
		Help: "Gate verdicts by state",
	}, []string{"state"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_cache_hits_total",
		Help: "Resolution cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_cache_misses_total",
		Help: "Resolution cache misses by tier",
	}, []string{"tier"})
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_submissions_total",
		Help: "Report submissions by flow and outcome",
	}, []string{"flow", "outcome"})
	SubmitDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "civic_submit_duration_ms",
		Help:    "Remote submission duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	LocateOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_locate_outcomes_total",
		Help: "Location strategy outcomes by strategy and status",
	}, []string{"strategy", "status"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_rate_limited_total",
		Help: "Requests rejected by the per-visitor rate limiter",
	})
	DuplicateSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_duplicate_submissions_total",
		Help: "Submissions rejected as recent duplicates, by flow",
	}, []string{"flow"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "civic_active_sessions",
		Help: "Report sessions currently held in memory",
	})
)

func init() {
	prometheus.MustRegister(ResolveRequestsTotal)
	prometheus.MustRegister(ResolveDurationMs)
	prometheus.MustRegister(LayerUnavailableTotal)
	prometheus.MustRegister(BoundaryLoadTotal)
	prometheus.MustRegister(BoundaryLoadDurationMs)
	prometheus.MustRegister(GateVerdictsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmitDurationMs)
	prometheus.MustRegister(LocateOutcomesTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(DuplicateSubmissionsTotal)
	prometheus.MustRegister(ActiveSessions)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
