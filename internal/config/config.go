package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Security  SecurityConfig  `mapstructure:"security"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SerialConfig 手控器串口配置
type SerialConfig struct {
	Port            string        `mapstructure:"port"`
	BaudRate        int           `mapstructure:"baud_rate"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // 单次底层读超时
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"` // 一次请求应答的总超时
	ResyncWindow    time.Duration `mapstructure:"resync_window"`    // 应答格式错误后丢弃残留字节的时间窗
	MockMode        bool          `mapstructure:"mock_mode"`        // 使用模拟手控器
	AutoConnect     bool          `mapstructure:"auto_connect"`
}

// ProtocolConfig 协议常量配置
type ProtocolConfig struct {
	Slew SlewConfig `mapstructure:"slew"`
}

// SlewConfig 转动速率换算配置
type SlewConfig struct {
	UnitsPerDegree float64 `mapstructure:"units_per_degree"` // 每度/秒对应的线上速率单位
	MaxUnits       int     `mapstructure:"max_units"`
	MaxFixedRate   int     `mapstructure:"max_fixed_rate"`
}

// MonitorConfig 状态轮询配置
type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig Redis状态发布配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	Key      string `mapstructure:"key"`
}

// DiscoveryConfig mDNS服务发现配置
type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
	Service  string `mapstructure:"service"`
	Domain   string `mapstructure:"domain"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 环境变量覆盖，如 NEXSTAR_SERIAL_PORT
		v.SetEnvPrefix("NEXSTAR")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		c := &Config{}
		if err = v.Unmarshal(c); err != nil {
			return
		}
		if err = c.Validate(); err != nil {
			return
		}
		cfg = c
	})

	return err
}

// Load 从指定viper实例解析配置，不影响全局配置
func Load(src *viper.Viper) (*Config, error) {
	setDefaults(src)
	c := &Config{}
	if err := src.Unmarshal(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default 返回全部默认值组成的配置
func Default() *Config {
	c, _ := Load(viper.New())
	return c
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// NexStar手控器固定为 9600 8N1，应答超时3.5秒
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.exchange_timeout", "3500ms")
	v.SetDefault("serial.resync_window", "250ms")
	v.SetDefault("serial.mock_mode", false)
	v.SetDefault("serial.auto_connect", false)

	v.SetDefault("protocol.slew.units_per_degree", 14400.0)
	v.SetDefault("protocol.slew.max_units", 65535)
	v.SetDefault("protocol.slew.max_fixed_rate", 9)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", "2s")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/nexstar-hc.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention_days", 30)

	v.SetDefault("websocket.path", "/ws/status")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "nexstar:status")
	v.SetDefault("redis.key", "nexstar:status:latest")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "nexstar-hc")
	v.SetDefault("discovery.service", "_nexstar._tcp")
	v.SetDefault("discovery.domain", "local.")

	v.SetDefault("security.jwt.enabled", false)
	v.SetDefault("security.jwt.secret", "change-me")
	v.SetDefault("security.jwt.issuer", "nexstar-hc")
	v.SetDefault("security.jwt.expire_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "nexstar-hc.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Serial.ExchangeTimeout <= 0 {
		return fmt.Errorf("serial.exchange_timeout must be positive, got %s", c.Serial.ExchangeTimeout)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if c.Serial.ResyncWindow < 0 || c.Serial.ResyncWindow > c.Serial.ExchangeTimeout {
		return fmt.Errorf("serial.resync_window must be in 0..%s, got %s", c.Serial.ExchangeTimeout, c.Serial.ResyncWindow)
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Protocol.Slew.UnitsPerDegree <= 0 {
		return fmt.Errorf("protocol.slew.units_per_degree must be positive, got %g", c.Protocol.Slew.UnitsPerDegree)
	}
	if c.Protocol.Slew.MaxUnits <= 0 || c.Protocol.Slew.MaxUnits > 0xFFFF {
		return fmt.Errorf("protocol.slew.max_units must be in 1..65535, got %d", c.Protocol.Slew.MaxUnits)
	}
	if c.Protocol.Slew.MaxFixedRate <= 0 || c.Protocol.Slew.MaxFixedRate > 127 {
		return fmt.Errorf("protocol.slew.max_fixed_rate must be in 1..127, got %d", c.Protocol.Slew.MaxFixedRate)
	}
	if c.Monitor.Enabled && c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive, got %s", c.Monitor.PollInterval)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置校验失败，保留原配置: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
		fmt.Println("配置已重新加载:", e.Name)
	})
}
