package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// 进程内指标，注册在私有 Registry 上（不对外暴露 HTTP 端点）：
// - codeclean_op_total{comp,stage,result}
// - codeclean_error_total{comp,code}
// - codeclean_op_duration_ms{comp,stage}（直方图）

const metricsNamespace = "codeclean"

var (
	registry = prometheus.NewRegistry()

	opTotal = mustRegisterCounterVec("op_total", "Operations by component, stage and result.",
		"comp", "stage", "result")
	errorTotal = mustRegisterCounterVec("error_total", "Classified errors by component.",
		"comp", "code")
	opDuration = mustRegisterHistogramVec("op_duration_ms", "Stage duration in milliseconds.",
		prometheus.ExponentialBuckets(1, 4, 8), "comp", "stage")
)

func mustRegisterCounterVec(name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, labelNames)
	registry.MustRegister(m)
	return m
}

func mustRegisterHistogramVec(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	registry.MustRegister(m)
	return m
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// Metric 为快照中的一项。
// Name 形如 codeclean_op_total{comp=writer,result=success,stage=finish}，标签按名称排序；
// 直方图拆成 _count 与 _sum 两项。
type Metric struct {
	Name  string
	Value int64
}

// Snapshot 从 Registry 收集并返回按名称排序的快照。
func Snapshot() []Metric {
	mfs, err := registry.Gather()
	if err != nil {
		return nil
	}
	var out []Metric
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, Metric{Name: mf.GetName() + labels, Value: int64(m.GetCounter().GetValue())})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out = append(out,
					Metric{Name: mf.GetName() + "_count" + labels, Value: int64(h.GetSampleCount())},
					Metric{Name: mf.GetName() + "_sum" + labels, Value: int64(h.GetSampleSum())},
				)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ResetMetrics 清空全部指标。
func ResetMetrics() {
	opTotal.Reset()
	errorTotal.Reset()
	opDuration.Reset()
}

// LogSnapshot 将指标快照以 debug 事件写入日志。
func LogSnapshot(l *Logger) {
	if l == nil || !l.Enabled(Debug) {
		return
	}
	kv := map[string]string{}
	for _, m := range Snapshot() {
		kv[m.Name] = fmt.Sprintf("%d", m.Value)
	}
	l.DebugFinish("metrics", "snapshot", "", kv)
}
