package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/aegis/xerrors"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(t *testing.T, yaml string) Loader {
	t.Helper()
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", yaml)

	loader, err := New(
		WithConfigName("config"),
		WithConfigPaths(dir),
		WithEnvPrefix("AEGIS"),
	)
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
	return loader
}

// ============================================================
// New / 默认值测试
// ============================================================

func TestNew_Defaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.validate())

	require.Equal(t, "config", cfg.Name)
	require.Equal(t, []string{".", "./config"}, cfg.Paths)
	require.Equal(t, "yaml", cfg.FileType)
	require.Equal(t, "AEGIS", cfg.EnvPrefix)
}

func TestNew_EnvPrefixUppercased(t *testing.T) {
	cfg := &Config{EnvPrefix: "aegis"}
	require.NoError(t, cfg.validate())
	require.Equal(t, "AEGIS", cfg.EnvPrefix)
}

// ============================================================
// 加载与读取测试
// ============================================================

func TestLoader_GetAndUnmarshalKey(t *testing.T) {
	loader := newTestLoader(t, `
app:
  name: gateway
breaker:
  default:
    failure_threshold: 3
    open_timeout: 45s
  dependencies:
    image-analysis:
      failure_threshold: 5
`)

	require.Equal(t, "gateway", loader.Get("app.name"))

	var breakerCfg struct {
		Default struct {
			FailureThreshold int           `mapstructure:"failure_threshold"`
			OpenTimeout      time.Duration `mapstructure:"open_timeout"`
		} `mapstructure:"default"`
		Dependencies map[string]struct {
			FailureThreshold int `mapstructure:"failure_threshold"`
		} `mapstructure:"dependencies"`
	}
	require.NoError(t, loader.UnmarshalKey("breaker", &breakerCfg))
	require.Equal(t, 3, breakerCfg.Default.FailureThreshold)
	require.Equal(t, 45*time.Second, breakerCfg.Default.OpenTimeout)
	require.Equal(t, 5, breakerCfg.Dependencies["image-analysis"].FailureThreshold)
}

func TestLoader_Unmarshal(t *testing.T) {
	loader := newTestLoader(t, `
app:
  name: gateway
  debug: true
`)

	var cfg struct {
		App struct {
			Name  string `mapstructure:"name"`
			Debug bool   `mapstructure:"debug"`
		} `mapstructure:"app"`
	}
	require.NoError(t, loader.Unmarshal(&cfg))
	require.Equal(t, "gateway", cfg.App.Name)
	require.True(t, cfg.App.Debug)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("AEGIS_APP_NAME", "from-env")

	loader := newTestLoader(t, `
app:
  name: from-file
`)

	require.Equal(t, "from-env", loader.Get("app.name"))
}

func TestLoader_MissingFileFails(t *testing.T) {
	dir := t.TempDir()
	loader, err := New(
		WithConfigName("nope"),
		WithConfigPaths(dir),
	)
	require.NoError(t, err)

	// 没有任何配置来源时 Validate 失败
	err = loader.Load(context.Background())
	require.ErrorIs(t, err, ErrValidationFailed)
	require.True(t, IsInvalidInput(err))
	require.Equal(t, CodeValidationFailed, xerrors.GetCode(err))
}

// ============================================================
// Watch 测试
// ============================================================

func TestLoader_WatchCancelClosesChannel(t *testing.T) {
	loader := newTestLoader(t, `
app:
  name: gateway
`)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "app.name")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after context cancel")
	}
}

// ============================================================
// 错误辅助测试
// ============================================================

func TestErrorHelpers(t *testing.T) {
	require.Nil(t, WrapValidationError(nil))
	require.Nil(t, WrapLoadError(nil, "x"))

	wrapped := WrapValidationError(xerrors.New("bad value"))
	require.ErrorIs(t, wrapped, ErrValidationFailed)
	require.Equal(t, CodeValidationFailed, xerrors.GetCode(wrapped))

	loadErr := WrapLoadError(xerrors.New("parse failed"), "config.yaml")
	require.Equal(t, CodeLoadFailed, xerrors.GetCode(loadErr))
	require.Contains(t, loadErr.Error(), "config.yaml")
}
