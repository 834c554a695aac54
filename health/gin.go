package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinHandler 返回健康端点的 Gin 处理器
// critical 分级返回 503，其余返回 200，响应体为 Report 的 JSON 序列化
//
// 使用示例:
//
//	r := gin.New()
//	r.GET("/health", health.GinHandler(reporter))
func GinHandler(reporter Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := reporter.Overall()

		code := http.StatusOK
		if report.Status == StatusCritical {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

// RegisterRoutes 在路由上挂载 GET /health
func RegisterRoutes(r gin.IRouter, reporter Reporter) {
	r.GET("/health", GinHandler(reporter))
}
