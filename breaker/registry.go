package breaker

import (
	"context"
	"sort"
	"sync"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/xerrors"
)

// registry 熔断器注册表实现（非导出）
type registry struct {
	cfg           *Config
	logger        clog.Logger
	rec           *recorder
	onStateChange StateChangeFunc

	mu       sync.RWMutex
	circuits map[string]Circuit
}

// newRegistry 创建注册表实例（内部函数）
// 注意：logger 已在 New() 中处理，不会为 nil
func newRegistry(
	cfg *Config,
	logger clog.Logger,
	meter metrics.Meter,
	onStateChange StateChangeFunc,
) (Registry, error) {
	rec, err := newRecorder(meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create metrics recorder")
	}

	r := &registry{
		cfg:           cfg,
		logger:        logger,
		rec:           rec,
		onStateChange: onStateChange,
		circuits:      make(map[string]Circuit),
	}

	// 配置中声明的依赖在构造时全部注册
	for name, policy := range cfg.Dependencies {
		if _, err := r.Register(name, policy); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register 为依赖创建熔断器
func (r *registry) Register(name string, policy Policy) (Circuit, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}

	effective := mergePolicy(r.cfg.Default.withDefaults(), policy)
	circ := newCircuit(name, effective, r.logger, r.rec, r.onStateChange)

	r.mu.Lock()
	if _, exists := r.circuits[name]; exists {
		r.mu.Unlock()
		return nil, xerrors.Wrapf(ErrDuplicateDependency, "breaker: %q", name)
	}
	r.circuits[name] = circ
	r.mu.Unlock()

	r.logger.Info("circuit breaker registered",
		clog.String("dependency", name),
		clog.Int("failure_threshold", effective.FailureThreshold),
		clog.Duration("open_timeout", effective.OpenTimeout))

	return circ, nil
}

// RegisterCircuit 注册一个自定义熔断器实现
func (r *registry) RegisterCircuit(name string, circ Circuit) error {
	if name == "" {
		return ErrNameEmpty
	}
	if circ == nil {
		return ErrCircuitNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.circuits[name]; exists {
		return xerrors.Wrapf(ErrDuplicateDependency, "breaker: %q", name)
	}
	r.circuits[name] = circ
	return nil
}

// Get 返回依赖的熔断器
func (r *registry) Get(name string) (Circuit, error) {
	r.mu.RLock()
	circ, ok := r.circuits[name]
	r.mu.RUnlock()

	if !ok {
		return nil, xerrors.Wrapf(ErrUnknownDependency, "breaker: %q", name)
	}
	return circ, nil
}

// Execute 通过命名依赖的熔断器执行调用
func (r *registry) Execute(ctx context.Context, name string, fn Func) (any, error) {
	circ, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return circ.Execute(ctx, fn)
}

// ListHealthy 返回当前 Closed 状态的依赖名（字典序）
func (r *registry) ListHealthy() []string {
	return r.listByState(StateClosed)
}

// ListFailing 返回当前 Open 状态的依赖名（字典序）
// HalfOpen 视为探测中，既不健康也不失败
func (r *registry) ListFailing() []string {
	return r.listByState(StateOpen)
}

func (r *registry) listByState(want State) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.circuits))
	for name, circ := range r.circuits {
		if circ.State() == want {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot 返回所有熔断器可观测状态的副本
func (r *registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make(map[string]Snapshot, len(r.circuits))
	for name, circ := range r.circuits {
		snapshots[name] = circ.Snapshot()
	}
	return snapshots
}

// Reset 强制将命名依赖恢复为 Closed 状态
func (r *registry) Reset(name string) error {
	circ, err := r.Get(name)
	if err != nil {
		return err
	}

	circ.Reset()
	r.logger.Warn("circuit breaker manually reset", clog.String("dependency", name))
	return nil
}

// ensure 获取依赖的熔断器，未注册时用配置合并后的策略创建
// 供 gRPC 拦截器等自动注册场景使用
func (r *registry) ensure(name string) Circuit {
	r.mu.RLock()
	circ, ok := r.circuits[name]
	r.mu.RUnlock()
	if ok {
		return circ
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查，避免并发创建
	if circ, ok := r.circuits[name]; ok {
		return circ
	}

	circ = newCircuit(name, r.cfg.policyFor(name), r.logger, r.rec, r.onStateChange)
	r.circuits[name] = circ

	r.logger.Debug("circuit breaker auto-registered", clog.String("dependency", name))
	return circ
}
