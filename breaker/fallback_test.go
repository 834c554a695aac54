package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFallbackRegistry(t *testing.T) Registry {
	t.Helper()
	return newTestRegistry(t, &Config{
		Default: Policy{FailureThreshold: 1, OpenTimeout: time.Minute},
		Dependencies: map[string]Policy{
			"primary":  {FailureThreshold: 2},
			"fallback": {FailureThreshold: 2},
		},
	})
}

func TestExecuteWithFallback_PrimarySucceeds(t *testing.T) {
	reg := newFallbackRegistry(t)

	fallbackInvoked := false
	result, err := reg.ExecuteWithFallback(context.Background(),
		"primary", func() (any, error) { return "primary-result", nil },
		"fallback", func() (any, error) {
			fallbackInvoked = true
			return "fallback-result", nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, "primary-result", result)
	require.False(t, fallbackInvoked, "fallback should not run when primary succeeds")
}

func TestExecuteWithFallback_PrimaryFails(t *testing.T) {
	reg := newFallbackRegistry(t)

	result, err := reg.ExecuteWithFallback(context.Background(),
		"primary", func() (any, error) { return nil, errBoom },
		"fallback", func() (any, error) { return "fallback-result", nil },
	)

	require.NoError(t, err)
	require.Equal(t, "fallback-result", result)
}

func TestExecuteWithFallback_PrimaryRejected(t *testing.T) {
	reg := newFallbackRegistry(t)
	ctx := context.Background()

	// 打开 primary 的熔断器
	reg.Execute(ctx, "primary", func() (any, error) { return nil, errBoom })
	reg.Execute(ctx, "primary", func() (any, error) { return nil, errBoom })

	primaryInvoked := false
	result, err := reg.ExecuteWithFallback(ctx,
		"primary", func() (any, error) {
			primaryInvoked = true
			return nil, nil
		},
		"fallback", func() (any, error) { return "fallback-result", nil },
	)

	require.NoError(t, err)
	require.Equal(t, "fallback-result", result)
	require.False(t, primaryInvoked, "primary fn should not run while its circuit is open")
}

func TestExecuteWithFallback_BothFail(t *testing.T) {
	reg := newFallbackRegistry(t)

	errFallback := errors.New("fallback down too")
	result, err := reg.ExecuteWithFallback(context.Background(),
		"primary", func() (any, error) { return nil, errBoom },
		"fallback", func() (any, error) { return nil, errFallback },
	)

	// 最多一次降级跳转，返回 fallback 的错误
	require.ErrorIs(t, err, errFallback)
	require.Nil(t, result)
}

func TestExecuteWithFallback_FallbackFailureCountsTowardItsCircuit(t *testing.T) {
	reg := newFallbackRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		reg.ExecuteWithFallback(ctx,
			"primary", func() (any, error) { return nil, errBoom },
			"fallback", func() (any, error) { return nil, errBoom },
		)
	}

	// primary 和 fallback 的失败各自计入自己的熔断器
	require.ElementsMatch(t, []string{"primary", "fallback"}, reg.ListFailing())
}

func TestExecuteWithFallback_UnregisteredDependencies(t *testing.T) {
	reg := newFallbackRegistry(t)
	ctx := context.Background()
	noop := func() (any, error) { return nil, nil }

	_, err := reg.ExecuteWithFallback(ctx, "missing", noop, "fallback", noop)
	require.ErrorIs(t, err, ErrUnknownDependency)

	_, err = reg.ExecuteWithFallback(ctx, "primary", noop, "missing", noop)
	require.ErrorIs(t, err, ErrUnknownDependency)
}
