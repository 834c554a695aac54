package breaker

import (
	"context"

	"github.com/ceyewan/aegis/clog"
	"google.golang.org/grpc"
)

// UnaryClientInterceptor 返回 gRPC 一元调用客户端拦截器
// 为每个 gRPC 调用提供熔断保护，依赖名按 KeyFunc 生成，
// 未注册的依赖按配置合并后的策略自动注册
//
// 使用示例:
//
//	reg, _ := breaker.New(cfg, breaker.WithLogger(logger))
//	conn, _ := grpc.NewClient(
//		"localhost:9001",
//		grpc.WithUnaryInterceptor(reg.UnaryClientInterceptor()),
//	)
func (r *registry) UnaryClientInterceptor(opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	cfg := &interceptorConfig{
		keyFunc: ServiceLevelKey(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		key := cfg.keyFunc(ctx, method, cc)
		circ := r.ensure(key)

		r.logger.Debug("unary call with circuit breaker",
			clog.String("dependency", key),
			clog.String("method", method))

		_, err := circ.Execute(ctx, func() (any, error) {
			return nil, invoker(ctx, method, req, reply, cc, opts...)
		})
		return err
	}
}
