package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRatioCircuit_EmptyName(t *testing.T) {
	circ, err := NewRatioCircuit("", RatioPolicy{})
	require.ErrorIs(t, err, ErrNameEmpty)
	require.Nil(t, circ)
}

func TestRatioCircuit_Defaults(t *testing.T) {
	p := RatioPolicy{}.withDefaults()
	require.Equal(t, 0.6, p.FailureRatio)
	require.Equal(t, uint32(10), p.MinRequests)
	require.Equal(t, 30*time.Second, p.OpenTimeout)
	require.Equal(t, uint32(1), p.HalfOpenMaxRequests)
}

func TestRatioCircuit_OpensOnFailureRatio(t *testing.T) {
	circ, err := NewRatioCircuit("search", RatioPolicy{
		FailureRatio: 0.5,
		MinRequests:  4,
		OpenTimeout:  time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// 低于最小请求数时不触发熔断
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	require.Equal(t, StateClosed, circ.State())

	circ.Execute(ctx, func() (any, error) { return nil, nil })
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	require.Equal(t, StateOpen, circ.State())

	// 打开后拒绝并转换为 *CircuitOpenError
	invoked := false
	_, err = circ.Execute(ctx, func() (any, error) {
		invoked = true
		return nil, nil
	})
	require.False(t, invoked)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "search", openErr.Dependency)
	require.Positive(t, openErr.RetryAfter)
	require.True(t, IsOpen(err))
}

func TestRatioCircuit_UncountedErrors(t *testing.T) {
	errBusiness := errors.New("not found")
	circ, err := NewRatioCircuit("search", RatioPolicy{
		FailureRatio: 0.5,
		MinRequests:  2,
		CountedFailure: func(err error) bool {
			return !errors.Is(err, errBusiness)
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := circ.Execute(ctx, func() (any, error) { return nil, errBusiness })
		require.ErrorIs(t, err, errBusiness)
	}
	require.Equal(t, StateClosed, circ.State())

	snap := circ.Snapshot()
	require.Equal(t, uint64(10), snap.TotalRequests)
	require.Zero(t, snap.TotalFailures)
}

func TestRatioCircuit_Snapshot(t *testing.T) {
	circ, err := NewRatioCircuit("search", RatioPolicy{
		FailureRatio: 0.5,
		MinRequests:  3,
		OpenTimeout:  time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	circ.Execute(ctx, func() (any, error) { return "ok", nil })
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })

	snap := circ.Snapshot()
	require.Equal(t, "search", snap.Name)
	require.Equal(t, "open", snap.State)
	require.Equal(t, uint64(3), snap.TotalRequests)
	require.Equal(t, uint64(1), snap.TotalSuccesses)
	require.Equal(t, uint64(2), snap.TotalFailures)
	require.Positive(t, snap.OpenRemaining)
	require.False(t, snap.LastFailureTime.IsZero())
}

func TestRatioCircuit_Reset(t *testing.T) {
	circ, err := NewRatioCircuit("search", RatioPolicy{
		FailureRatio: 0.5,
		MinRequests:  2,
		OpenTimeout:  time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	circ.Execute(ctx, func() (any, error) { return nil, errBoom })
	require.Equal(t, StateOpen, circ.State())

	circ.Reset()
	require.Equal(t, StateClosed, circ.State())

	result, err := circ.Execute(ctx, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}
