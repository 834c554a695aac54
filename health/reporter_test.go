package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("dependency down")

// newRegistryWithOpen 创建 total 个依赖的注册表，并打开前 open 个
func newRegistryWithOpen(t *testing.T, total, open int) breaker.Registry {
	t.Helper()

	deps := make(map[string]breaker.Policy, total)
	for i := 0; i < total; i++ {
		deps[fmt.Sprintf("dep-%d", i)] = breaker.Policy{}
	}

	logger, _ := clog.New(&clog.Config{Level: "debug"})
	reg, err := breaker.New(&breaker.Config{
		Default:      breaker.Policy{FailureThreshold: 1, OpenTimeout: time.Minute},
		Dependencies: deps,
	}, breaker.WithLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < open; i++ {
		reg.Execute(ctx, fmt.Sprintf("dep-%d", i), func() (any, error) {
			return nil, errDown
		})
	}
	return reg
}

func TestNewReporter_RegistryNil(t *testing.T) {
	reporter, err := NewReporter(nil)
	require.ErrorIs(t, err, ErrRegistryNil)
	require.Nil(t, reporter)
}

func TestOverall_AllHealthy(t *testing.T) {
	reg := newRegistryWithOpen(t, 3, 0)
	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	report := reporter.Overall()
	require.Equal(t, StatusHealthy, report.Status)
	require.Equal(t, 100.0, report.OverallHealthPercentage)
	require.Len(t, report.HealthyServices, 3)
	require.Empty(t, report.FailingServices)
	require.Len(t, report.DetailedStats, 3)
}

func TestOverall_Degraded(t *testing.T) {
	// 6 个依赖 2 个打开：4 健康 2 失败，2 < 3，degraded，66.7%
	reg := newRegistryWithOpen(t, 6, 2)
	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	report := reporter.Overall()
	require.Equal(t, StatusDegraded, report.Status)
	require.Equal(t, 66.7, report.OverallHealthPercentage)
	require.Len(t, report.HealthyServices, 4)
	require.Len(t, report.FailingServices, 2)
	require.ElementsMatch(t, []string{"dep-0", "dep-1"}, report.FailingServices)
}

func TestOverall_Critical(t *testing.T) {
	// 4 个依赖 2 个打开：2 >= 2 = 半数，critical
	reg := newRegistryWithOpen(t, 4, 2)
	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	report := reporter.Overall()
	require.Equal(t, StatusCritical, report.Status)
	require.Equal(t, 50.0, report.OverallHealthPercentage)
}

func TestOverall_AllFailing(t *testing.T) {
	reg := newRegistryWithOpen(t, 2, 2)
	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	report := reporter.Overall()
	require.Equal(t, StatusCritical, report.Status)
	require.Equal(t, 0.0, report.OverallHealthPercentage)
	require.Empty(t, report.HealthyServices)
}

func TestOverall_EmptyRegistry(t *testing.T) {
	reg := newRegistryWithOpen(t, 0, 0)
	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	report := reporter.Overall()
	require.Equal(t, StatusHealthy, report.Status)
	require.Equal(t, 100.0, report.OverallHealthPercentage)
}

func TestOverall_HalfOpenCountsInTotalOnly(t *testing.T) {
	logger, _ := clog.New(&clog.Config{Level: "debug"})
	reg, err := breaker.New(&breaker.Config{
		Default: breaker.Policy{FailureThreshold: 1, OpenTimeout: 30 * time.Millisecond},
		Dependencies: map[string]breaker.Policy{
			"alpha": {},
			"beta":  {},
			"gamma": {},
		},
	}, breaker.WithLogger(logger))
	require.NoError(t, err)

	reg.Execute(context.Background(), "beta", func() (any, error) { return nil, errDown })
	time.Sleep(50 * time.Millisecond)

	reporter, err := NewReporter(reg)
	require.NoError(t, err)

	// beta 处于待探测的半开状态：2 健康 0 失败，总数 3
	report := reporter.Overall()
	require.Equal(t, StatusHealthy, report.Status)
	require.Equal(t, 66.7, report.OverallHealthPercentage)
	require.Len(t, report.HealthyServices, 2)
	require.Empty(t, report.FailingServices)
	require.Len(t, report.DetailedStats, 3)
	require.Equal(t, "half_open", report.DetailedStats["beta"].State)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		failing, total int
		want           Status
	}{
		{0, 0, StatusHealthy},
		{0, 5, StatusHealthy},
		{1, 6, StatusDegraded},
		{2, 6, StatusDegraded},
		{3, 6, StatusCritical},
		{2, 4, StatusCritical},
		{1, 1, StatusCritical},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classify(tc.failing, tc.total),
			"failing=%d total=%d", tc.failing, tc.total)
	}
}
