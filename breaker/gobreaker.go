package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/xerrors"
	"github.com/sony/gobreaker/v2"
)

// RatioPolicy 失败率熔断策略
// 与默认的连续失败计数不同，失败率熔断基于滑动窗口内的失败比例触发，
// 适合高 QPS 依赖：偶发失败被吸收，持续劣化才会打开熔断器。
type RatioPolicy struct {
	// FailureRatio 触发熔断的失败率阈值，范围 (0, 1]（默认：0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinRequests 窗口内的最小请求数，低于该值不触发熔断（默认：10）
	MinRequests uint32 `json:"min_requests" yaml:"min_requests" mapstructure:"min_requests"`

	// OpenTimeout 打开状态持续时间（默认：30s）
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`

	// HalfOpenMaxRequests 半开状态允许的最大并发探测数（默认：1）
	HalfOpenMaxRequests uint32 `json:"half_open_max_requests" yaml:"half_open_max_requests" mapstructure:"half_open_max_requests"`

	// Interval 闭合状态下计数器的清零周期，0 表示不清零
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// CountedFailure 判断错误是否计入失败率（默认：所有错误都计入）
	CountedFailure func(error) bool `json:"-" yaml:"-" mapstructure:"-"`
}

func (p RatioPolicy) withDefaults() RatioPolicy {
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = 0.6
	}
	if p.MinRequests == 0 {
		p.MinRequests = 10
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = 30 * time.Second
	}
	if p.HalfOpenMaxRequests == 0 {
		p.HalfOpenMaxRequests = 1
	}
	return p
}

// ratioCircuit 基于 gobreaker 的失败率熔断器实现（非导出）
// 实现 Circuit 接口，通过 Registry.RegisterCircuit 挂载
type ratioCircuit struct {
	name          string
	policy        RatioPolicy
	logger        clog.Logger
	rec           *recorder
	onStateChange StateChangeFunc

	// gobreaker 的 Counts 随窗口清零，单调累计计数自己维护
	totalRequests  atomic.Uint64
	totalSuccesses atomic.Uint64
	totalFailures  atomic.Uint64

	mu          sync.Mutex
	cb          *gobreaker.CircuitBreaker[any]
	openedAt    time.Time
	lastFailure time.Time
}

// NewRatioCircuit 创建失败率熔断器
//
// 使用示例:
//
//	circ, _ := breaker.NewRatioCircuit("search", breaker.RatioPolicy{
//		FailureRatio: 0.5,
//		MinRequests:  20,
//	}, breaker.WithLogger(logger))
//	reg.RegisterCircuit("search", circ)
func NewRatioCircuit(name string, policy RatioPolicy, opts ...Option) (Circuit, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	rec, err := newRecorder(opt.meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create metrics recorder")
	}

	c := &ratioCircuit{
		name:          name,
		policy:        policy.withDefaults(),
		logger:        logger,
		rec:           rec,
		onStateChange: opt.onStateChange,
	}
	c.cb = c.newBreaker()

	return c, nil
}

// newBreaker 根据策略创建 gobreaker 实例
func (c *ratioCircuit) newBreaker() *gobreaker.CircuitBreaker[any] {
	policy := c.policy
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        c.name,
		MaxRequests: policy.HalfOpenMaxRequests,
		Interval:    policy.Interval,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if policy.CountedFailure != nil && !policy.CountedFailure(err) {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				c.mu.Lock()
				c.openedAt = time.Now()
				c.mu.Unlock()
			}
			c.logger.Info("circuit breaker state changed",
				clog.String("dependency", name),
				clog.String("from", fromGoBreakerState(from).String()),
				clog.String("to", fromGoBreakerState(to).String()))
			if c.rec != nil {
				c.rec.stateChange(context.Background(), name,
					fromGoBreakerState(from), fromGoBreakerState(to))
			}
			if c.onStateChange != nil {
				c.onStateChange(name, fromGoBreakerState(from), fromGoBreakerState(to))
			}
		},
	})
}

// Name 返回依赖名
func (c *ratioCircuit) Name() string {
	return c.name
}

// Execute 执行受熔断保护的依赖调用
// gobreaker 的拒绝错误被转换为 *CircuitOpenError，与默认实现保持一致
func (c *ratioCircuit) Execute(ctx context.Context, fn Func) (any, error) {
	c.totalRequests.Add(1)

	start := time.Now()
	result, err := c.breaker().Execute(func() (any, error) {
		return fn()
	})

	if err != nil {
		if xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests) {
			if c.rec != nil {
				c.rec.reject(ctx, c.name)
			}
			return nil, &CircuitOpenError{
				Dependency: c.name,
				RetryAfter: c.retryAfter(),
			}
		}

		if c.policy.CountedFailure == nil || c.policy.CountedFailure(err) {
			c.totalFailures.Add(1)
			c.mu.Lock()
			c.lastFailure = time.Now()
			c.mu.Unlock()
		}
		if c.rec != nil {
			c.rec.observe(ctx, c.name, err, time.Since(start))
		}
		return nil, err
	}

	c.totalSuccesses.Add(1)
	if c.rec != nil {
		c.rec.observe(ctx, c.name, nil, time.Since(start))
	}
	return result, nil
}

// retryAfter 计算打开窗口的剩余时长
func (c *ratioCircuit) retryAfter() time.Duration {
	c.mu.Lock()
	openedAt := c.openedAt
	c.mu.Unlock()

	if openedAt.IsZero() {
		return 0
	}
	if remaining := c.policy.OpenTimeout - time.Since(openedAt); remaining > 0 {
		return remaining
	}
	return 0
}

// breaker 返回当前 gobreaker 实例（Reset 会替换实例）
func (c *ratioCircuit) breaker() *gobreaker.CircuitBreaker[any] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

// State 返回当前状态
func (c *ratioCircuit) State() State {
	return fromGoBreakerState(c.breaker().State())
}

// Snapshot 返回可观测状态的副本
func (c *ratioCircuit) Snapshot() Snapshot {
	c.mu.Lock()
	lastFailure := c.lastFailure
	c.mu.Unlock()

	return Snapshot{
		Name:            c.name,
		State:           c.State().String(),
		TotalRequests:   c.totalRequests.Load(),
		TotalSuccesses:  c.totalSuccesses.Load(),
		TotalFailures:   c.totalFailures.Load(),
		LastFailureTime: lastFailure,
		OpenRemaining:   c.retryAfter(),
		OpenTimeout:     c.policy.OpenTimeout,
	}
}

// Reset 强制恢复为 Closed 状态
// gobreaker 没有 Reset 方法，重建实例等效于重置
func (c *ratioCircuit) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = c.newBreaker()
	c.openedAt = time.Time{}
}

// fromGoBreakerState 转换 gobreaker 状态到本包状态
func fromGoBreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
