package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/nexstar-hc/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestBuildModuleLevels(t *testing.T) {
	root, modules, err := build(&config.LogConfig{
		Level:   "warn",
		Format:  "json",
		Output:  "stdout",
		Modules: map[string]string{"serial": "debug"},
	})
	require.NoError(t, err)

	assert.False(t, root.Core().Enabled(zapcore.InfoLevel))
	require.Contains(t, modules, "serial")
	assert.True(t, modules["serial"].Core().Enabled(zapcore.DebugLevel))

	// 运行时调整根级别
	SetLevel("debug")
	defer SetLevel("info")
	assert.True(t, root.Core().Enabled(zapcore.DebugLevel))
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	root, _, err := build(&config.LogConfig{
		Level:  "info",
		Output: "file",
		File: config.LogFileConfig{
			Path:     dir,
			Filename: "test.log",
			MaxSize:  1,
		},
	})
	require.NoError(t, err)

	root.Info("hello")
	require.NoError(t, root.Sync())
	assert.FileExists(t, dir+"/test.log")
}
