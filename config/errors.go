package config

import (
	"fmt"

	"github.com/ceyewan/aegis/xerrors"
)

// 机器可读错误码，随日志输出，便于告警按类别聚合
const (
	CodeLoadFailed       = "CONFIG_LOAD_FAILED"
	CodeValidationFailed = "CONFIG_VALIDATION_FAILED"
)

// ErrValidationFailed 验证失败，关联 xerrors.ErrInvalidInput
var ErrValidationFailed = xerrors.Wrap(xerrors.ErrInvalidInput, "config: validation failed")

// IsNotFound 检查错误是否为配置未找到
func IsNotFound(err error) bool {
	return xerrors.Is(err, xerrors.ErrNotFound)
}

// IsInvalidInput 检查错误是否为配置格式无效或验证失败
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, xerrors.ErrInvalidInput)
}

// WrapValidationError 将错误标记为验证失败并附加错误码
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.WithCode(fmt.Errorf("%w: %w", ErrValidationFailed, err), CodeValidationFailed)
}

// WrapLoadError 将错误标记为加载失败并附加错误码
// source 标识出错的配置来源（文件名等）
func WrapLoadError(err error, source string) error {
	if err == nil {
		return nil
	}
	return xerrors.WithCode(xerrors.Wrapf(err, "config: load %s", source), CodeLoadFailed)
}
