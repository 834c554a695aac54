package config

import "context"

// New 创建配置加载器
// 加载器创建后需要调用 Load 才会读入配置
func New(opts ...Option) (Loader, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return newLoader(cfg), nil
}

// MustLoad 创建加载器并立即加载配置，出错时 panic
// 仅用于初始化阶段
func MustLoad(opts ...Option) Loader {
	loader, err := New(opts...)
	if err != nil {
		panic(err)
	}
	if err := loader.Load(context.Background()); err != nil {
		panic(err)
	}
	return loader
}
