package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"go.uber.org/zap"
)

// Advertiser 通过 mDNS 在局域网内公布 HTTP 服务地址
type Advertiser struct {
	cfg  config.DiscoveryConfig
	port int
	txt  []string

	mu      sync.Mutex
	server  *zeroconf.Server
	running bool
	logger  *zap.Logger
}

// NewAdvertiser 创建广播器，实例名为空时使用 主机名-nexstar
func NewAdvertiser(cfg config.DiscoveryConfig, port int, txt ...string) *Advertiser {
	if cfg.Instance == "" {
		hostname, _ := os.Hostname()
		cfg.Instance = fmt.Sprintf("%s-nexstar", hostname)
	}
	if cfg.Service == "" {
		cfg.Service = "_nexstar._tcp"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	return &Advertiser{
		cfg:    cfg,
		port:   port,
		txt:    txt,
		logger: logger.GetModuleLogger("discovery"),
	}
}

// TXT 广播的元数据
func (a *Advertiser) TXT() []string {
	records := []string{"path=/api/v1"}
	if ip, err := localIP(); err == nil {
		records = append(records, "ip="+ip)
	}
	return append(records, a.txt...)
}

// Start 注册服务，已运行时为空操作
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	server, err := zeroconf.Register(a.cfg.Instance, a.cfg.Service, a.cfg.Domain, a.port, a.TXT(), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	a.running = true

	a.logger.Info("mDNS服务已注册",
		zap.String("instance", a.cfg.Instance),
		zap.String("service", a.cfg.Service),
		zap.Int("port", a.port))
	return nil
}

// Stop 注销服务
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.running = false
	a.logger.Info("mDNS服务已注销")
}

// IsRunning 是否正在广播
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Instance 实例名
func (a *Advertiser) Instance() string {
	return a.cfg.Instance
}

// localIP 第一个非回环的 IPv4 地址
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no non-loopback ipv4 address")
}
