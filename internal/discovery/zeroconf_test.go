package discovery

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/nexstar-hc/internal/config"
)

func TestNewAdvertiserDefaults(t *testing.T) {
	a := NewAdvertiser(config.DiscoveryConfig{}, 8080)

	hostname, _ := os.Hostname()
	assert.Equal(t, hostname+"-nexstar", a.Instance())
	assert.Equal(t, "_nexstar._tcp", a.cfg.Service)
	assert.Equal(t, "local.", a.cfg.Domain)
	assert.False(t, a.IsRunning())

	// 未启动时停止无影响
	a.Stop()
	assert.False(t, a.IsRunning())
}

func TestAdvertiserTXT(t *testing.T) {
	a := NewAdvertiser(config.DiscoveryConfig{Instance: "observatory"}, 8080, "version=1.0", "model=se45")

	txt := a.TXT()
	assert.Equal(t, "path=/api/v1", txt[0])
	assert.Contains(t, txt, "version=1.0")
	assert.Contains(t, txt, "model=se45")
	for _, record := range txt {
		assert.True(t, strings.Contains(record, "="), record)
	}
	assert.Equal(t, "observatory", a.Instance())
}
