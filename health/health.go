// Package health 将熔断器注册表的状态聚合为单一的健康摘要。
//
// health 是 Aegis 治理层的观测组件，它提供了：
// - 健康度分级（healthy/degraded/critical）与健康百分比计算
// - 每个依赖的熔断器快照明细
// - Gin HTTP 处理器（GET /health，critical 时返回非 200）
// - 周期性探测器，在没有业务流量时也能驱动熔断器恢复
//
// ## 基本使用
//
//	reporter, _ := health.NewReporter(reg, health.WithLogger(logger))
//
//	r := gin.New()
//	health.RegisterRoutes(r, reporter)
package health

import (
	"math"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Status 健康度分级
type Status string

const (
	// StatusHealthy 所有依赖都正常
	StatusHealthy Status = "healthy"

	// StatusDegraded 部分依赖失败，但少于总数的一半
	StatusDegraded Status = "degraded"

	// StatusCritical 一半及以上的依赖失败
	StatusCritical Status = "critical"
)

// Report 健康摘要
// 字段与 HTTP 健康端点的 JSON 契约一一对应
type Report struct {
	Status                  Status                      `json:"status"`
	OverallHealthPercentage float64                     `json:"overall_health_percentage"`
	HealthyServices         []string                    `json:"healthy_services"`
	FailingServices         []string                    `json:"failing_services"`
	DetailedStats           map[string]breaker.Snapshot `json:"detailed_stats"`
}

// Reporter 健康报告器接口
type Reporter interface {
	// Overall 聚合注册表状态，返回健康摘要
	Overall() Report
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// NewReporter 创建健康报告器
//
// 参数:
//   - reg: 熔断器注册表
//   - opts: 可选参数 (Logger)
func NewReporter(reg breaker.Registry, opts ...Option) (Reporter, error) {
	if reg == nil {
		return nil, ErrRegistryNil
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &reporter{
		reg:    reg,
		logger: logger,
	}, nil
}

// ========================================
// Reporter 实现
// ========================================

// reporter 健康报告器实现（非导出）
type reporter struct {
	reg    breaker.Registry
	logger clog.Logger
}

// Overall 聚合注册表状态
//
// 分级规则:
//   - healthy:  没有处于打开状态的依赖
//   - degraded: 失败依赖数少于总数的一半
//   - critical: 失败依赖数达到或超过总数的一半
//
// 半开状态的依赖计入总数，但既不算健康也不算失败。
// 空注册表报告为 healthy / 100%。
func (r *reporter) Overall() Report {
	healthy := r.reg.ListHealthy()
	failing := r.reg.ListFailing()
	stats := r.reg.Snapshot()

	total := len(stats)
	percentage := 100.0
	if total > 0 {
		percentage = math.Round(float64(len(healthy))/float64(total)*1000) / 10
	}

	status := classify(len(failing), total)
	if status != StatusHealthy {
		r.logger.Warn("service health degraded",
			clog.String("status", string(status)),
			clog.Float64("percentage", percentage),
			clog.Int("failing", len(failing)),
			clog.Int("total", total))
	}

	return Report{
		Status:                  status,
		OverallHealthPercentage: percentage,
		HealthyServices:         healthy,
		FailingServices:         failing,
		DetailedStats:           stats,
	}
}

// classify 根据失败依赖数分级
func classify(failing, total int) Status {
	switch {
	case failing == 0:
		return StatusHealthy
	case float64(failing) < float64(total)/2:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
