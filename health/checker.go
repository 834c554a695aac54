package health

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
)

// ProbeFunc 依赖探测函数
// 返回 nil 表示依赖可用；探测调用同样经过熔断器计数
type ProbeFunc func(ctx context.Context) error

// CheckerConfig 探测器配置
type CheckerConfig struct {
	// Interval 探测周期（默认：15s）
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// ProbeTimeout 单次探测的超时（默认：5s）
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

func (c *CheckerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// Checker 周期性探测器
// 没有业务流量时，打开的熔断器永远等不到触发半开探测的调用。
// Checker 定期对非闭合状态的依赖执行探测函数，探测经过熔断器本身，
// 成功即驱动 HalfOpen → Closed，失败则重新打开窗口。
type Checker struct {
	reg    breaker.Registry
	cfg    CheckerConfig
	logger clog.Logger

	mu      sync.Mutex
	probes  map[string]ProbeFunc
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewChecker 创建探测器
func NewChecker(reg breaker.Registry, cfg *CheckerConfig, opts ...Option) (*Checker, error) {
	if reg == nil {
		return nil, ErrRegistryNil
	}
	if cfg == nil {
		cfg = &CheckerConfig{}
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &Checker{
		reg:    reg,
		cfg:    *cfg,
		logger: logger,
		probes: make(map[string]ProbeFunc),
	}, nil
}

// RegisterProbe 为依赖注册探测函数
// 依赖必须已在注册表中注册
func (c *Checker) RegisterProbe(name string, probe ProbeFunc) error {
	if probe == nil {
		return ErrProbeNil
	}
	if _, err := c.reg.Get(name); err != nil {
		return err
	}

	c.mu.Lock()
	c.probes[name] = probe
	c.mu.Unlock()
	return nil
}

// Start 启动周期探测
func (c *Checker) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrCheckerStarted
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()

	c.logger.Info("health checker started",
		clog.Duration("interval", c.cfg.Interval))
	return nil
}

// Stop 停止探测并等待在途探测结束
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("health checker stopped")
}

func (c *Checker) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.probeAll()
		}
	}
}

// probeAll 对非闭合状态的依赖执行一轮探测
// 闭合状态的依赖由业务流量验证，不做多余探测
func (c *Checker) probeAll() {
	c.mu.Lock()
	probes := make(map[string]ProbeFunc, len(c.probes))
	for name, fn := range c.probes {
		probes[name] = fn
	}
	c.mu.Unlock()

	for name, probe := range probes {
		circ, err := c.reg.Get(name)
		if err != nil {
			continue
		}
		if circ.State() == breaker.StateClosed {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ProbeTimeout)
		_, err = circ.Execute(ctx, func() (any, error) {
			return nil, probe(ctx)
		})
		cancel()

		if err != nil {
			c.logger.Debug("dependency probe failed",
				clog.String("dependency", name),
				clog.Error(err))
			continue
		}
		c.logger.Info("dependency recovered",
			clog.String("dependency", name))
	}
}
