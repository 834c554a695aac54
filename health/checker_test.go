package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/stretchr/testify/require"
)

func newCheckerRegistry(t *testing.T) breaker.Registry {
	t.Helper()
	logger, _ := clog.New(&clog.Config{Level: "debug"})
	reg, err := breaker.New(&breaker.Config{
		Default: breaker.Policy{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond},
		Dependencies: map[string]breaker.Policy{
			"svc-a": {},
		},
	}, breaker.WithLogger(logger))
	require.NoError(t, err)
	return reg
}

func TestNewChecker_Validation(t *testing.T) {
	_, err := NewChecker(nil, nil)
	require.ErrorIs(t, err, ErrRegistryNil)

	reg := newCheckerRegistry(t)
	checker, err := NewChecker(reg, nil)
	require.NoError(t, err)

	require.ErrorIs(t, checker.RegisterProbe("svc-a", nil), ErrProbeNil)
	require.ErrorIs(t, checker.RegisterProbe("missing", func(ctx context.Context) error { return nil }),
		breaker.ErrUnknownDependency)
}

func TestChecker_DrivesRecovery(t *testing.T) {
	reg := newCheckerRegistry(t)
	ctx := context.Background()

	// 打开 svc-a 的熔断器
	reg.Execute(ctx, "svc-a", func() (any, error) { return nil, errDown })
	require.Equal(t, []string{"svc-a"}, reg.ListFailing())

	checker, err := NewChecker(reg, &CheckerConfig{
		Interval:     30 * time.Millisecond,
		ProbeTimeout: time.Second,
	})
	require.NoError(t, err)

	var probeCalls atomic.Int32
	require.NoError(t, checker.RegisterProbe("svc-a", func(ctx context.Context) error {
		probeCalls.Add(1)
		return nil
	}))

	require.NoError(t, checker.Start())
	defer checker.Stop()

	// 等待窗口过期 + 至少一轮探测
	require.Eventually(t, func() bool {
		circ, _ := reg.Get("svc-a")
		return circ.State() == breaker.StateClosed
	}, time.Second, 10*time.Millisecond, "probe should close the circuit")

	require.GreaterOrEqual(t, probeCalls.Load(), int32(1))
}

func TestChecker_SkipsClosedCircuits(t *testing.T) {
	reg := newCheckerRegistry(t)

	checker, err := NewChecker(reg, &CheckerConfig{
		Interval:     20 * time.Millisecond,
		ProbeTimeout: time.Second,
	})
	require.NoError(t, err)

	var probeCalls atomic.Int32
	require.NoError(t, checker.RegisterProbe("svc-a", func(ctx context.Context) error {
		probeCalls.Add(1)
		return nil
	}))

	require.NoError(t, checker.Start())
	time.Sleep(100 * time.Millisecond)
	checker.Stop()

	// 闭合状态的依赖不被探测
	require.Zero(t, probeCalls.Load())
}

func TestChecker_StartTwice(t *testing.T) {
	reg := newCheckerRegistry(t)
	checker, err := NewChecker(reg, nil)
	require.NoError(t, err)

	require.NoError(t, checker.Start())
	require.ErrorIs(t, checker.Start(), ErrCheckerStarted)
	checker.Stop()

	// Stop 之后可以重新启动
	require.NoError(t, checker.Start())
	checker.Stop()
}
