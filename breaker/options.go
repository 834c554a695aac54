package breaker

import (
	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 组件初始化选项配置（内部使用，小写）
type options struct {
	logger        clog.Logger
	meter         metrics.Meter
	onStateChange StateChangeFunc
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
// 内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 注入指标 Meter，启用熔断器指标采集
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithOnStateChange 设置状态变更回调
// 回调在状态转换完成后同步执行（锁外），不应阻塞
//
// 使用示例:
//
//	reg, _ := breaker.New(cfg,
//		breaker.WithOnStateChange(func(dep string, from, to breaker.State) {
//			alerting.Notify(dep, from.String(), to.String())
//		}),
//	)
func WithOnStateChange(fn StateChangeFunc) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}
