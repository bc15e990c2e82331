package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	src := viper.New()
	src.SetConfigType("yaml")
	require.NoError(t, src.ReadConfig(bytes.NewBufferString(doc)))
	return Load(src)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NotNil(t, c)

	assert.Equal(t, 9600, c.Serial.BaudRate)
	assert.Equal(t, 3500*time.Millisecond, c.Serial.ExchangeTimeout)
	assert.Equal(t, 14400.0, c.Protocol.Slew.UnitsPerDegree)
	assert.Equal(t, 65535, c.Protocol.Slew.MaxUnits)
	assert.Equal(t, 9, c.Protocol.Slew.MaxFixedRate)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, "/ws/status", c.WebSocket.Path)
	assert.Equal(t, "_nexstar._tcp", c.Discovery.Service)
}

func TestLoadOverrides(t *testing.T) {
	c, err := loadYAML(t, `
serial:
  port: /dev/ttyS3
  exchange_timeout: 2s
protocol:
  slew:
    max_units: 30000
log:
  modules:
    serial: debug
`)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", c.Serial.Port)
	assert.Equal(t, 2*time.Second, c.Serial.ExchangeTimeout)
	assert.Equal(t, 30000, c.Protocol.Slew.MaxUnits)
	assert.Equal(t, "debug", c.Log.Modules["serial"])
	// 未覆盖的键保留默认值
	assert.Equal(t, 9600, c.Serial.BaudRate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"零超时", "serial:\n  exchange_timeout: 0s\n"},
		{"负的重同步窗口", "serial:\n  resync_window: -1s\n"},
		{"重同步窗口超过应答超时", "serial:\n  exchange_timeout: 1s\n  resync_window: 2s\n"},
		{"速率单位为零", "protocol:\n  slew:\n    units_per_degree: 0\n"},
		{"速率上限超出16位", "protocol:\n  slew:\n    max_units: 70000\n"},
		{"固定速率档位为零", "protocol:\n  slew:\n    max_fixed_rate: 0\n"},
		{"未知数据库驱动", "database:\n  driver: oracle\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadYAML(t, tt.doc)
			assert.Error(t, err)
		})
	}
}
