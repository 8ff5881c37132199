// Package metrics 提供Prometheus监控指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carecover"

// Metrics 覆盖服务的指标集合，使用独立注册表
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	assignments       *prometheus.CounterVec
	conflicts         prometheus.Counter
	noCandidate       prometheus.Counter
	batches           *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	recomputeDuration prometheus.Histogram
	reportDuration    prometheus.Histogram
	coverageRate      *prometheus.GaugeVec
	attentionRecords  *prometheus.GaugeVec
	workloadGini      *prometheus.GaugeVec
	jobs              *prometheus.CounterVec
}

// New 创建指标集合并注册到新的注册表
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP请求总数",
		}, []string{"method", "path", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP请求延迟",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path"}),

		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_committed_total",
			Help:      "写入的分配数",
		}, []string{"method"}),

		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_conflicts_total",
			Help:      "写入时检测到的排班冲突次数",
		}),

		noCandidate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_candidate_total",
			Help:      "没有可用治疗师的时间块数",
		}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "批处理次数",
		}, []string{"kind", "outcome"}),

		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "批处理耗时",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"kind"}),

		recomputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coverage_recompute_duration_seconds",
			Help:      "覆盖记录重算耗时",
			Buckets:   prometheus.DefBuckets,
		}),

		reportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "location_report_duration_seconds",
			Help:      "机构报表生成耗时",
			Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0},
		}),

		coverageRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location_coverage_rate",
			Help:      "机构最近一次报表的整体覆盖率",
		}, []string{"location_id"}),

		attentionRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location_records_requiring_attention",
			Help:      "机构最近一次报表中需要关注的患者日数",
		}, []string{"location_id"}),

		workloadGini: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location_workload_gini",
			Help:      "机构员工工作量基尼系数",
		}, []string{"location_id"}),

		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "后台任务处理次数",
		}, []string{"type", "status"}),
	}
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordRequest 记录请求指标
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// AssignmentCommitted 记录一次分配写入
func (m *Metrics) AssignmentCommitted(method string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(method).Inc()
}

// Conflict 记录一次排班冲突
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// Batch 记录批处理结果
func (m *Metrics) Batch(kind string, successful, failed int, truncated bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case truncated:
		outcome = "truncated"
	case failed > 0 && successful > 0:
		outcome = "partial"
	case failed > 0:
		outcome = "failed"
	}
	m.batches.WithLabelValues(kind, outcome).Inc()
	m.batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.noCandidate.Add(float64(failed))
}

// Recompute 记录覆盖重算耗时
func (m *Metrics) Recompute(duration time.Duration) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(duration.Seconds())
}

// Report 记录机构报表结果
func (m *Metrics) Report(locationID string, coverage float64, attention int, gini float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(duration.Seconds())
	m.coverageRate.WithLabelValues(locationID).Set(coverage)
	m.attentionRecords.WithLabelValues(locationID).Set(float64(attention))
	m.workloadGini.WithLabelValues(locationID).Set(gini)
}

// Job 记录后台任务结果
func (m *Metrics) Job(taskType string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobs.WithLabelValues(taskType, status).Inc()
}
