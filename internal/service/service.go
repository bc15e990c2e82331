package service

import (
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Telescope TelescopeService
	Journal   JournalService // 数据库未启用时为 nil
}

// ClientConfigFrom 由配置生成协议客户端参数
func ClientConfigFrom(cfg *config.Config) hardware.ClientConfig {
	return hardware.ClientConfig{
		ExchangeTimeout: cfg.Serial.ExchangeTimeout,
		ResyncWindow:    cfg.Serial.ResyncWindow,
		Slew: hardware.SlewProfile{
			UnitsPerDegree: cfg.Protocol.Slew.UnitsPerDegree,
			MaxUnits:       cfg.Protocol.Slew.MaxUnits,
			MaxFixedRate:   cfg.Protocol.Slew.MaxFixedRate,
		},
	}
}

// NewServices 创建服务集合，db 为空时不启用交互日志
func NewServices(cfg *config.Config, opener hardware.Opener, db *gorm.DB) *Services {
	s := &Services{}

	var journal JournalService
	if db != nil {
		journal = NewSerialLogService(db, DefaultJournalConfig())
		s.Journal = journal
	}

	s.Telescope = NewTelescopeService(opener, TelescopeConfig{
		DefaultPath: cfg.Serial.Port,
		Client:      ClientConfigFrom(cfg),
	}, journal)

	return s
}

// Close 断开手控器并写完剩余日志
func (s *Services) Close() error {
	err := s.Telescope.Close()
	if s.Journal != nil {
		s.Journal.Close()
	}
	return err
}
