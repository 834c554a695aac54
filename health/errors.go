package health

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrRegistryNil 注册表为空
	ErrRegistryNil = xerrors.New("health: registry is nil")

	// ErrProbeNil 探测函数为空
	ErrProbeNil = xerrors.New("health: probe func is nil")

	// ErrCheckerStarted 探测器已启动
	ErrCheckerStarted = xerrors.New("health: checker already started")
)
