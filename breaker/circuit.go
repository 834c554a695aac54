package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/aegis/clog"
)

// circuit 默认熔断器实现：基于连续失败计数的状态机（非导出）
//
// 状态机: Closed --(连续失败达到阈值)--> Open --(窗口超时后的下一次调用)--> HalfOpen
//         HalfOpen --(探测成功)--> Closed; HalfOpen --(探测失败)--> Open
// 除调用结果和时间流逝外，没有外部事件可以强制状态转换（Reset 是唯一的运维例外）。
type circuit struct {
	name   string
	policy Policy
	logger clog.Logger
	rec    *recorder
	onStateChange StateChangeFunc

	// 以下可变状态只由本熔断器持有和修改。
	// 状态检查与转换是临界区；依赖调用本身在锁外执行，
	// 避免两个并发调用同时完成 Open→HalfOpen 转换并发出两个探测。
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	totalRequests       uint64
	totalSuccesses      uint64
	totalFailures       uint64
	lastFailure         time.Time
	probing             bool // HalfOpen 状态下是否有在途探测
}

// newCircuit 创建熔断器实例（内部函数）
func newCircuit(name string, policy Policy, logger clog.Logger, rec *recorder, onStateChange StateChangeFunc) *circuit {
	return &circuit{
		name:          name,
		policy:        policy.withDefaults(),
		logger:        logger,
		rec:           rec,
		onStateChange: onStateChange,
		state:         StateClosed,
	}
}

// Name 返回依赖名
func (c *circuit) Name() string {
	return c.name
}

// Execute 执行受熔断保护的依赖调用
func (c *circuit) Execute(ctx context.Context, fn Func) (any, error) {
	if err := c.admit(ctx); err != nil {
		if c.rec != nil {
			c.rec.reject(ctx, c.name)
		}
		return nil, err
	}

	// fn panic 时同样要完成结算再继续抛出，
	// 否则半开探测标志会永久占用，熔断器从此拒绝一切调用
	start := time.Now()
	settled := false
	defer func() {
		if settled {
			return
		}
		c.settle(ctx, ErrCallPanicked)
		if c.rec != nil {
			c.rec.observe(ctx, c.name, ErrCallPanicked, time.Since(start))
		}
	}()

	result, err := fn()
	settled = true
	c.settle(ctx, err)

	if c.rec != nil {
		c.rec.observe(ctx, c.name, err, time.Since(start))
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// admit 检查是否允许请求通过，必要时完成 Open→HalfOpen 转换
// 请求计数在这里递增：被拒绝的调用同样计入 total_requests
func (c *circuit) admit(ctx context.Context) error {
	c.mu.Lock()

	c.totalRequests++

	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil

	case StateOpen:
		remaining := c.policy.OpenTimeout - time.Since(c.lastFailure)
		if remaining > 0 {
			c.mu.Unlock()
			return &CircuitOpenError{Dependency: c.name, RetryAfter: remaining}
		}
		// 窗口已过，本次调用作为探测放行
		c.transitionLocked(StateHalfOpen)
		c.probing = true
		c.mu.Unlock()
		c.notify(StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if c.probing {
			// 一次只允许一个探测，其余调用快速失败
			c.mu.Unlock()
			return &CircuitOpenError{Dependency: c.name}
		}
		c.probing = true
		c.mu.Unlock()
		return nil

	default:
		c.mu.Unlock()
		return &CircuitOpenError{Dependency: c.name}
	}
}

// settle 记录调用结果并完成状态转换
// panic 结算为 ErrCallPanicked，不经过 CountedFailure 判定，始终计入失败
func (c *circuit) settle(ctx context.Context, err error) {
	counted := err != nil
	if counted && err != ErrCallPanicked && c.policy.CountedFailure != nil {
		counted = c.policy.CountedFailure(err)
	}

	c.mu.Lock()

	if err == nil {
		c.consecutiveFailures = 0
		c.totalSuccesses++
		if c.state == StateHalfOpen {
			c.probing = false
			c.transitionLocked(StateClosed)
			c.mu.Unlock()
			c.notify(StateHalfOpen, StateClosed)
			return
		}
		c.mu.Unlock()
		return
	}

	if !counted {
		// 不计入的错误原样透传，不影响状态
		if c.state == StateHalfOpen {
			c.probing = false
		}
		c.mu.Unlock()
		return
	}

	c.totalFailures++
	c.consecutiveFailures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		// 探测失败立即重新打开，不需要再次达到阈值
		c.probing = false
		c.transitionLocked(StateOpen)
		c.mu.Unlock()
		c.notify(StateHalfOpen, StateOpen)

	case c.state == StateClosed && c.consecutiveFailures >= c.policy.FailureThreshold:
		c.transitionLocked(StateOpen)
		c.mu.Unlock()
		c.notify(StateClosed, StateOpen)

	default:
		c.mu.Unlock()
	}
}

// State 返回当前状态
// Open 窗口已过但还没有调用触发探测时，按不变量报告为 HalfOpen（等待探测）
func (c *circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveStateLocked()
}

func (c *circuit) effectiveStateLocked() State {
	if c.state == StateOpen && time.Since(c.lastFailure) >= c.policy.OpenTimeout {
		return StateHalfOpen
	}
	return c.state
}

// Snapshot 返回可观测状态的副本
func (c *circuit) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining time.Duration
	if c.state == StateOpen {
		if r := c.policy.OpenTimeout - time.Since(c.lastFailure); r > 0 {
			remaining = r
		}
	}

	return Snapshot{
		Name:                c.name,
		State:               c.effectiveStateLocked().String(),
		ConsecutiveFailures: c.consecutiveFailures,
		TotalRequests:       c.totalRequests,
		TotalSuccesses:      c.totalSuccesses,
		TotalFailures:       c.totalFailures,
		LastFailureTime:     c.lastFailure,
		OpenRemaining:       remaining,
		OpenTimeout:         c.policy.OpenTimeout,
		RecoveryTimeout:     c.policy.RecoveryTimeout,
	}
}

// Reset 强制恢复为 Closed 状态
func (c *circuit) Reset() {
	c.mu.Lock()
	from := c.state
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.probing = false
	c.mu.Unlock()

	if from != StateClosed {
		c.notify(from, StateClosed)
	}
}

// transitionLocked 状态转换，调用方必须持有 c.mu
func (c *circuit) transitionLocked(to State) {
	c.state = to
}

// notify 在锁外发出状态变更日志、指标与回调
func (c *circuit) notify(from, to State) {
	if c.logger != nil {
		c.logger.Info("circuit breaker state changed",
			clog.String("dependency", c.name),
			clog.String("from", from.String()),
			clog.String("to", to.String()))
	}
	if c.rec != nil {
		c.rec.stateChange(context.Background(), c.name, from, to)
	}
	if c.onStateChange != nil {
		c.onStateChange(c.name, from, to)
	}
}
