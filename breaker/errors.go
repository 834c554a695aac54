package breaker

import (
	"fmt"
	"time"

	"github.com/ceyewan/aegis/xerrors"
)

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrNameEmpty 依赖名为空
	ErrNameEmpty = xerrors.New("breaker: dependency name is empty")

	// ErrCircuitNil 熔断器实例为空
	ErrCircuitNil = xerrors.New("breaker: circuit is nil")

	// ErrLoaderNil 配置加载器为空
	ErrLoaderNil = xerrors.New("breaker: config loader is nil")

	// ErrCallPanicked 被包装的调用发生了 panic
	// 熔断器以该错误完成失败结算后让 panic 继续向上抛出
	ErrCallPanicked = xerrors.New("breaker: wrapped call panicked")

	// ErrOpenState 熔断器处于打开状态
	// *CircuitOpenError 通过 Unwrap 关联到此哨兵，便于 xerrors.Is 判断
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrUnknownDependency 依赖未注册，关联 xerrors.ErrNotFound
	ErrUnknownDependency = xerrors.Wrap(xerrors.ErrNotFound, "breaker: unknown dependency")

	// ErrDuplicateDependency 依赖已注册，关联 xerrors.ErrAlreadyExists
	ErrDuplicateDependency = xerrors.Wrap(xerrors.ErrAlreadyExists, "breaker: dependency already registered")
)

// CircuitOpenError 熔断器拒绝调用时返回的错误
// 与被包装调用自身的错误严格区分：熔断器从不改写依赖调用的错误
type CircuitOpenError struct {
	// Dependency 被熔断的依赖名
	Dependency string

	// RetryAfter 打开窗口的剩余时长
	// 半开状态下已有在途探测时拒绝的调用，该值为 0
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("breaker: circuit for %q is open, retry after %s", e.Dependency, e.RetryAfter)
	}
	return fmt.Sprintf("breaker: circuit for %q is open", e.Dependency)
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrOpenState
}

// IsOpen 判断错误是否为熔断拒绝
func IsOpen(err error) bool {
	return xerrors.Is(err, ErrOpenState)
}
