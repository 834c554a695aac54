// Package breaker 提供了熔断器组件，专注于多服务流水线的故障隔离与自动恢复。
//
// breaker 是 Aegis 治理层的核心组件，它提供了：
// - 基于连续失败计数的熔断器状态机（closed/open/half-open）
// - 依赖级粒度的熔断管理（按依赖名独立注册、独立阈值）
// - 自动故障隔离和自动恢复（超时后通过串行化的半开探测）
// - 主备降级调用链（primary 失败或被熔断时切换到 fallback）
// - 基于 gobreaker 的失败率熔断实现（可按依赖替换默认状态机）
// - gRPC Unary Interceptor 无侵入集成
//
// ## 基本使用
//
//	// 创建注册表
//	reg, _ := breaker.New(&breaker.Config{
//		Default: breaker.Policy{
//			FailureThreshold: 3,
//			OpenTimeout:      30 * time.Second,
//		},
//		Dependencies: map[string]breaker.Policy{
//			"image-analysis": {FailureThreshold: 5},
//		},
//	}, breaker.WithLogger(logger))
//
//	// 显式获取熔断器并在调用点包装依赖调用
//	circ, _ := reg.Get("image-analysis")
//	result, err := circ.Execute(ctx, func() (any, error) {
//		return client.Analyze(ctx, img)
//	})
//
// ## 主备降级
//
//	result, err := reg.ExecuteWithFallback(ctx,
//		"recommend", func() (any, error) { return recommendClient.Top(ctx) },
//		"recommend-cache", func() (any, error) { return cache.Top(ctx) },
//	)
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/xerrors"

	"google.golang.org/grpc"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Func 受熔断保护的依赖调用
// 熔断器本身不会对调用施加超时，需要超时控制时由调用方在闭包内包装
type Func func() (any, error)

// Circuit 单个依赖的熔断器接口
type Circuit interface {
	// Name 返回依赖名
	Name() string

	// Execute 执行受熔断保护的依赖调用
	// 熔断器打开时返回 *CircuitOpenError，且不会调用 fn；
	// fn 自身的错误原样透传，熔断器只做状态记账，不改写错误
	Execute(ctx context.Context, fn Func) (any, error)

	// State 返回当前状态
	State() State

	// Snapshot 返回可观测状态的副本，不暴露内部可变引用
	Snapshot() Snapshot

	// Reset 强制恢复为 Closed 状态，用于运维场景
	Reset()
}

// Registry 熔断器注册表，持有每个命名依赖的熔断器
type Registry interface {
	// Register 为依赖创建熔断器，重复注册返回 ErrDuplicateDependency
	Register(name string, policy Policy) (Circuit, error)

	// RegisterCircuit 注册一个自定义熔断器实现（如 NewRatioCircuit 创建的失败率熔断器）
	RegisterCircuit(name string, circ Circuit) error

	// Get 返回依赖的熔断器，未注册返回 ErrUnknownDependency
	Get(name string) (Circuit, error)

	// Execute 通过命名依赖的熔断器执行调用
	Execute(ctx context.Context, name string, fn Func) (any, error)

	// ExecuteWithFallback 先尝试 primary，被熔断或失败时顺序尝试 fallback
	// 两个依赖都必须已注册；最多一次降级跳转，不做自动重试
	ExecuteWithFallback(ctx context.Context, primaryName string, primaryFn Func, fallbackName string, fallbackFn Func) (any, error)

	// ListHealthy 返回当前 Closed 状态的依赖名
	ListHealthy() []string

	// ListFailing 返回当前 Open 状态的依赖名
	// HalfOpen 视为探测中，既不健康也不失败
	ListFailing() []string

	// Snapshot 返回所有熔断器可观测状态的副本
	Snapshot() map[string]Snapshot

	// Reset 强制将命名依赖恢复为 Closed 状态
	Reset(name string) error

	// UnaryClientInterceptor 返回 gRPC 一元调用客户端拦截器
	// 支持 InterceptorOption 配置熔断 Key 生成策略
	UnaryClientInterceptor(opts ...InterceptorOption) grpc.UnaryClientInterceptor
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// StateChangeFunc 状态变更回调
type StateChangeFunc func(dependency string, from, to State)

// Snapshot 熔断器可观测状态的只读副本
type Snapshot struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalRequests       uint64        `json:"total_requests"`
	TotalSuccesses      uint64        `json:"total_successes"`
	TotalFailures       uint64        `json:"total_failures"`
	LastFailureTime     time.Time     `json:"last_failure_time"`
	OpenRemaining       time.Duration `json:"open_remaining"`
	OpenTimeout         time.Duration `json:"open_timeout"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout"`
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Policy 单个依赖的熔断策略
type Policy struct {
	// FailureThreshold 连续失败次数阈值（默认：5）
	// 连续失败达到该值时触发 Closed → Open
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// OpenTimeout 打开状态持续时间（默认：30s）
	// 自最后一次失败起经过该时间后允许半开探测
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`

	// RecoveryTimeout 半开探测的建议时间上限（默认：60s）
	// 仅作为可观测性元数据记录在 Snapshot 中，不作为状态转换边界
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`

	// CountedFailure 判断错误是否计入失败阈值（默认：所有错误都计入）
	// 不计入的错误原样透传且不影响熔断器状态
	CountedFailure func(error) bool `json:"-" yaml:"-" mapstructure:"-"`
}

// validate 拒绝负值字段
// 零值表示"使用默认值"，负值视为配置书写错误
func (p Policy) validate() error {
	if p.FailureThreshold < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "failure_threshold %d is negative", p.FailureThreshold)
	}
	if p.OpenTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "open_timeout %s is negative", p.OpenTimeout)
	}
	if p.RecoveryTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "recovery_timeout %s is negative", p.RecoveryTimeout)
	}
	return nil
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		RecoveryTimeout:  60 * time.Second,
	}
}

// withDefaults 用默认值填充零值字段
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = def.FailureThreshold
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.RecoveryTimeout <= 0 {
		p.RecoveryTimeout = def.RecoveryTimeout
	}
	return p
}

// Config 熔断器组件配置
type Config struct {
	// Default 默认策略（应用到所有未单独配置的依赖）
	Default Policy `json:"default" yaml:"default" mapstructure:"default"`

	// Dependencies 按依赖名配置不同的策略（可选）
	// 注册表构造时会为每个依赖名创建熔断器
	Dependencies map[string]Policy `json:"dependencies" yaml:"dependencies" mapstructure:"dependencies"`
}

// validate 校验配置中的所有策略，一次性汇总全部错误
func (c *Config) validate() error {
	errs := []error{xerrors.Wrap(c.Default.validate(), "breaker: default policy")}
	for name, policy := range c.Dependencies {
		errs = append(errs, xerrors.Wrapf(policy.validate(), "breaker: dependency %q", name))
	}
	return xerrors.Combine(errs...)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Default:      DefaultPolicy(),
		Dependencies: make(map[string]Policy),
	}
}

// policyFor 返回依赖的生效策略（依赖特定策略覆盖默认策略的非零字段）
func (c *Config) policyFor(name string) Policy {
	policy := c.Default.withDefaults()
	if override, ok := c.Dependencies[name]; ok {
		policy = mergePolicy(policy, override)
	}
	return policy
}

// mergePolicy 合并策略，依赖特定策略覆盖默认策略
func mergePolicy(defaultPolicy, override Policy) Policy {
	result := defaultPolicy
	if override.FailureThreshold > 0 {
		result.FailureThreshold = override.FailureThreshold
	}
	if override.OpenTimeout > 0 {
		result.OpenTimeout = override.OpenTimeout
	}
	if override.RecoveryTimeout > 0 {
		result.RecoveryTimeout = override.RecoveryTimeout
	}
	if override.CountedFailure != nil {
		result.CountedFailure = override.CountedFailure
	}
	return result
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建熔断器注册表
// 这是标准的工厂函数，支持在不依赖其他容器的情况下独立实例化。
// 注册表是显式实例，通过构造注入传递给需要门控调用的组件，不提供包级单例。
//
// 参数:
//   - cfg: 组件配置，Dependencies 中的依赖会在构造时全部注册
//   - opts: 可选参数 (Logger, Meter, OnStateChange)
func New(cfg *Config, opts ...Option) (Registry, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	logger.Info("creating breaker registry",
		clog.Int("failure_threshold", cfg.Default.withDefaults().FailureThreshold),
		clog.Duration("open_timeout", cfg.Default.withDefaults().OpenTimeout),
		clog.Int("dependencies", len(cfg.Dependencies)))

	return newRegistry(cfg, logger, opt.meter, opt.onStateChange)
}
