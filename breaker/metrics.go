package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/aegis/metrics"
)

// Metrics 指标常量定义
const (
	// MetricRequestsTotal 请求总数（含被拒绝的请求）(Counter)
	MetricRequestsTotal = "breaker_requests_total"

	// MetricSuccessTotal 成功请求数 (Counter)
	MetricSuccessTotal = "breaker_success_total"

	// MetricFailuresTotal 失败请求数 (Counter)
	MetricFailuresTotal = "breaker_failures_total"

	// MetricRejectsTotal 被熔断拒绝的请求数 (Counter)
	MetricRejectsTotal = "breaker_rejects_total"

	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricFallbacksTotal 降级到 fallback 的次数 (Counter)
	MetricFallbacksTotal = "breaker_fallbacks_total"

	// MetricRequestDuration 请求耗时 (Histogram)
	MetricRequestDuration = "breaker_request_duration_seconds"

	// LabelDependency 依赖名标签
	LabelDependency = "dependency"

	// LabelFromState 源状态标签
	LabelFromState = "from_state"

	// LabelToState 目标状态标签
	LabelToState = "to_state"

	// LabelResult 结果标签 (success/failure)
	LabelResult = "result"
)

// recorder 封装熔断器指标（内部使用）
// meter 为 nil 时 newRecorder 返回 nil，调用方需判空
type recorder struct {
	requests     metrics.Counter
	successes    metrics.Counter
	failures     metrics.Counter
	rejects      metrics.Counter
	stateChanges metrics.Counter
	fallbacks    metrics.Counter
	duration     metrics.Histogram
}

func newRecorder(meter metrics.Meter) (*recorder, error) {
	if meter == nil {
		return nil, nil
	}

	requests, err := meter.Counter(MetricRequestsTotal, "熔断器请求总数")
	if err != nil {
		return nil, err
	}
	successes, err := meter.Counter(MetricSuccessTotal, "熔断器成功请求数")
	if err != nil {
		return nil, err
	}
	failures, err := meter.Counter(MetricFailuresTotal, "熔断器失败请求数")
	if err != nil {
		return nil, err
	}
	rejects, err := meter.Counter(MetricRejectsTotal, "被熔断拒绝的请求数")
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Counter(MetricStateChanges, "熔断器状态变更次数")
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Counter(MetricFallbacksTotal, "降级到 fallback 的次数")
	if err != nil {
		return nil, err
	}
	duration, err := meter.Histogram(MetricRequestDuration, "熔断器请求耗时", metrics.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &recorder{
		requests:     requests,
		successes:    successes,
		failures:     failures,
		rejects:      rejects,
		stateChanges: stateChanges,
		fallbacks:    fallbacks,
		duration:     duration,
	}, nil
}

// observe 记录一次实际执行的调用结果
func (r *recorder) observe(ctx context.Context, dependency string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}

	dep := metrics.L(LabelDependency, dependency)
	r.requests.Inc(ctx, dep)
	if err != nil {
		r.failures.Inc(ctx, dep)
	} else {
		r.successes.Inc(ctx, dep)
	}
	r.duration.Record(ctx, elapsed.Seconds(), dep, metrics.L(LabelResult, result))
}

// reject 记录一次被熔断器拒绝的调用
func (r *recorder) reject(ctx context.Context, dependency string) {
	dep := metrics.L(LabelDependency, dependency)
	r.requests.Inc(ctx, dep)
	r.rejects.Inc(ctx, dep)
}

// stateChange 记录一次状态转换
func (r *recorder) stateChange(ctx context.Context, dependency string, from, to State) {
	r.stateChanges.Inc(ctx,
		metrics.L(LabelDependency, dependency),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()))
}

// fallback 记录一次降级跳转
func (r *recorder) fallback(ctx context.Context, primary, fallbackDep string) {
	r.fallbacks.Inc(ctx,
		metrics.L(LabelDependency, primary),
		metrics.L("fallback", fallbackDep))
}
