package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/xerrors"
)

// loader 基于 viper 的 Loader 实现
//
// 配置优先级（高到低）：环境变量 > .env > 环境特定文件 > 基础文件。
// viper 自身保证 AutomaticEnv 的读取优先级，这里只控制加载顺序。
type loader struct {
	v      *viper.Viper
	cfg    *Config
	logger clog.Logger

	mu       sync.RWMutex
	watchers map[string][]chan Event
	baseline map[string]any // 变更检测基线：key -> 上次通知后的值
}

func newLoader(cfg *Config) *loader {
	logger := cfg.logger
	if logger == nil {
		logger = clog.Discard()
	} else {
		logger = logger.WithNamespace("config")
	}

	return &loader{
		v:        viper.New(),
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[string][]chan Event),
		baseline: make(map[string]any),
	}
}

// Load 按优先级加载所有配置源，并启动文件监听
func (l *loader) Load(ctx context.Context) error {
	l.bindSources()

	if err := l.loadDotEnv(); err != nil {
		l.logger.Debug("no .env file loaded", clog.Error(err))
	}

	if err := l.readBaseFile(); err != nil {
		return err
	}
	if err := l.mergeEnvOverlay(); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}

	l.captureBaseline()
	l.watchFile()

	l.logger.Info("configuration loaded",
		clog.String("file", l.v.ConfigFileUsed()),
		clog.String("env_prefix", l.cfg.EnvPrefix))
	return nil
}

// bindSources 绑定文件搜索路径与环境变量
func (l *loader) bindSources() {
	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, path := range l.cfg.Paths {
		l.v.AddConfigPath(path)
	}

	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// readBaseFile 读取基础配置文件
// 文件不存在不算错误：纯环境变量部署是合法形态，交给 Validate 兜底
func (l *loader) readBaseFile() error {
	err := l.v.ReadInConfig()
	if err == nil {
		return nil
	}
	if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
		l.logger.Warn("no configuration file found",
			clog.String("name", l.cfg.Name))
		return nil
	}
	return WrapLoadError(err, l.cfg.Name)
}

// mergeEnvOverlay 合并环境特定配置
// AEGIS_ENV=prod 时在基础配置之上合并 config.prod.yaml
func (l *loader) mergeEnvOverlay() error {
	env := os.Getenv(l.cfg.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}

	overlay := fmt.Sprintf("%s.%s", l.cfg.Name, env)
	l.v.SetConfigName(overlay)
	defer l.v.SetConfigName(l.cfg.Name)

	if err := l.v.MergeInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			l.logger.Debug("no environment overlay found", clog.String("env", env))
			return nil
		}
		return WrapLoadError(err, overlay)
	}

	l.logger.Info("environment overlay merged", clog.String("file", overlay))
	return nil
}

// loadDotEnv 从工作目录和各搜索路径加载 .env 文件
// 任意一个加载成功即视为成功
func (l *loader) loadDotEnv() error {
	candidates := []string{".env"}
	for _, path := range l.cfg.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}

	var lastErr error
	loaded := false
	for _, file := range candidates {
		if err := godotenv.Load(file); err != nil {
			lastErr = err
			continue
		}
		loaded = true
	}

	if !loaded {
		return lastErr
	}
	return nil
}

// watchFile 监听配置文件变化，变化时重新合并并通知订阅者
func (l *loader) watchFile() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.mergeEnvOverlay(); err != nil {
			l.logger.Error("reload environment overlay failed",
				clog.ErrorWithCode(err, xerrors.GetCode(err)))
		}
		if err := l.loadDotEnv(); err != nil {
			l.logger.Debug("no .env file reloaded", clog.Error(err))
		}
		l.broadcast()
	})
	l.v.WatchConfig()
}

// captureBaseline 记录已订阅 key 的当前值，作为变更检测基线
func (l *loader) captureBaseline() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.watchers {
		l.baseline[key] = l.v.Get(key)
	}
}

// Get 获取原始配置值
func (l *loader) Get(key string) any {
	return l.v.Get(key)
}

// Unmarshal 将整个配置反序列化到结构体
func (l *loader) Unmarshal(v any) error {
	return l.v.Unmarshal(v)
}

// UnmarshalKey 将指定 key 的配置反序列化到结构体
func (l *loader) UnmarshalKey(key string, v any) error {
	return l.v.UnmarshalKey(key, v)
}

// Validate 验证当前配置
// 所有来源都为空说明部署缺了配置，直接失败比静默跑默认值安全
func (l *loader) Validate() error {
	if len(l.v.AllSettings()) == 0 {
		return WrapValidationError(xerrors.Wrap(xerrors.ErrInvalidInput, "configuration is empty"))
	}
	return nil
}

// Watch 订阅指定 key 的变更事件，context 取消时关闭通道
func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, 10)
	l.watchers[key] = append(l.watchers[key], ch)
	l.baseline[key] = l.v.Get(key)

	go func() {
		<-ctx.Done()
		l.unsubscribe(key, ch)
	}()

	return ch, nil
}

// unsubscribe 移除订阅通道并关闭它
func (l *loader) unsubscribe(key string, ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chans := l.watchers[key]
	for i, c := range chans {
		if c == ch {
			l.watchers[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(l.watchers[key]) == 0 {
		delete(l.watchers, key)
		delete(l.baseline, key)
	}

	close(ch)
}

// broadcast 对比基线并向订阅者发送变更事件
func (l *loader) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, chans := range l.watchers {
		newValue := l.v.Get(key)
		oldValue := l.baseline[key]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}

		l.baseline[key] = newValue
		event := Event{
			Key:       key,
			Value:     newValue,
			OldValue:  oldValue,
			Source:    "file",
			Timestamp: time.Now(),
		}

		for _, ch := range chans {
			select {
			case ch <- event:
			default:
				l.logger.Warn("watch channel full, event dropped",
					clog.String("key", key))
			}
		}
	}
}
