package breaker

import (
	"github.com/ceyewan/aegis/config"
	"github.com/ceyewan/aegis/xerrors"
)

// 配置文件中熔断器组件所在的段名
const configSection = "breaker"

// ConfigFromLoader 从配置加载器的 "breaker" 段构建组件配置
//
// 期望的配置结构（YAML 示例）：
//
//	breaker:
//	  default:
//	    failure_threshold: 5
//	    open_timeout: 30s
//	  dependencies:
//	    image-analysis:
//	      failure_threshold: 3
//	      open_timeout: 10s
//
// 缺失的字段保留默认值；CountedFailure 无法从文件表达，
// 需要时通过 Dependencies 覆盖或 RegisterCircuit 注入。
func ConfigFromLoader(loader config.Loader) (*Config, error) {
	if loader == nil {
		return nil, ErrLoaderNil
	}

	cfg := DefaultConfig()
	if err := loader.UnmarshalKey(configSection, cfg); err != nil {
		return nil, xerrors.Wrapf(err, "breaker: unmarshal %q section", configSection)
	}
	return cfg, nil
}

// NewFromLoader 从配置加载器构建熔断器注册表
// 等价于 ConfigFromLoader + New，loader 必须已完成 Load
func NewFromLoader(loader config.Loader, opts ...Option) (Registry, error) {
	cfg, err := ConfigFromLoader(loader)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}
