package breaker

import (
	"context"

	"github.com/ceyewan/aegis/clog"
)

// ExecuteWithFallback 先尝试 primary，被熔断或失败时切换到 fallback
//
// 降级链严格顺序执行，最多一次跳转：
//   - primary 成功则直接返回，不触碰 fallback
//   - primary 失败（含被熔断拒绝）则尝试 fallback
//   - fallback 也失败时返回 fallback 的错误，primary 的错误记入日志
//
// 两个依赖都必须已注册；不做自动重试，fallback 之后没有第三跳。
// 两次调用都经过各自的熔断器，失败会正常计入各自的失败阈值。
func (r *registry) ExecuteWithFallback(
	ctx context.Context,
	primaryName string, primaryFn Func,
	fallbackName string, fallbackFn Func,
) (any, error) {
	primary, err := r.Get(primaryName)
	if err != nil {
		return nil, err
	}
	fallback, err := r.Get(fallbackName)
	if err != nil {
		return nil, err
	}

	result, primaryErr := primary.Execute(ctx, primaryFn)
	if primaryErr == nil {
		return result, nil
	}

	r.logger.Info("primary dependency failed, switching to fallback",
		clog.String("primary", primaryName),
		clog.String("fallback", fallbackName),
		clog.Bool("rejected", IsOpen(primaryErr)),
		clog.Error(primaryErr))

	if r.rec != nil {
		r.rec.fallback(ctx, primaryName, fallbackName)
	}

	result, fallbackErr := fallback.Execute(ctx, fallbackFn)
	if fallbackErr == nil {
		return result, nil
	}

	r.logger.Warn("fallback dependency also failed",
		clog.String("primary", primaryName),
		clog.String("fallback", fallbackName),
		clog.Error(fallbackErr))

	return nil, fallbackErr
}
