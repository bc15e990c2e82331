package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/nexstar-hc/internal/api"
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/database"
	"github.com/wfunc/nexstar-hc/internal/discovery"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/monitor"
	"github.com/wfunc/nexstar-hc/internal/publisher"
	"github.com/wfunc/nexstar-hc/internal/service"
	"github.com/wfunc/nexstar-hc/internal/utils"
	"github.com/wfunc/nexstar-hc/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *gorm.DB
	services   *service.Services
	hub        *websocket.Hub
	poller     *monitor.StatusPoller
	publisher  *publisher.RedisPublisher
	advertiser *discovery.Advertiser
	httpServer *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		issueToken  = flag.String("issue-token", "", "签发访问令牌后退出，格式 name[:operator|observer]")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken); err != nil {
			fmt.Printf("签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.GetLogger().Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动手控器服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("serial", s.cfg.Serial.Port),
		zap.Bool("mock", s.cfg.Serial.MockMode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}
	s.initServices()

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
	)
	return nil
}

// initDatabase 初始化数据库，未启用时不记录交互日志
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，跳过交互日志")
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return err
	}
	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	s.db = database.GetDB()
	return nil
}

// initServices 组装服务、推送与状态轮询
func (s *Server) initServices() {
	var opener hardware.Opener
	if s.cfg.Serial.MockMode {
		s.logger.Warn("使用模拟手控器")
		opener = hardware.NewSimulator().Opener()
	} else {
		opener = hardware.SerialOpener(hardware.SerialConfig{
			Port:        s.cfg.Serial.Port,
			BaudRate:    s.cfg.Serial.BaudRate,
			ReadTimeout: s.cfg.Serial.ReadTimeout,
		})
	}
	s.services = service.NewServices(s.cfg, opener, s.db)

	s.hub = websocket.NewHub(websocket.OptionsFrom(s.cfg.WebSocket), logger.GetModuleLogger("websocket"))
	s.publisher = publisher.NewRedisPublisher(s.cfg.Redis)

	s.poller = monitor.NewStatusPoller(s.services.Telescope, s.cfg.Monitor.PollInterval)
	s.poller.Subscribe(s.hub.PublishStatus)
	if s.publisher.Enabled() {
		s.poller.Subscribe(s.publisher.Publish)
	}

	telescope := s.services.Telescope
	telescope.OnStateChange(func(prev, next hardware.ConnState) {
		s.hub.PublishState(telescope.Path(), prev, next)
		s.poller.Trigger()
	})

	router := api.NewRouter(s.cfg, s.services, s.db, s.hub)
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
}

// startServices 启动后台任务与HTTP服务
func (s *Server) startServices() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.cfg.Monitor.Enabled {
		s.poller.Start()
	}

	if s.cfg.Serial.AutoConnect {
		if err := s.services.Telescope.Connect(""); err != nil {
			// 手控器可稍后通过接口连接
			s.logger.Warn("自动连接手控器失败", zap.Error(err))
		}
	}

	if s.services.Journal != nil && s.cfg.Database.RetentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	if s.cfg.Discovery.Enabled {
		s.advertiser = discovery.NewAdvertiser(s.cfg.Discovery, s.cfg.Server.Port, "version="+Version)
		if err := s.advertiser.Start(); err != nil {
			s.logger.Warn("mDNS广播启动失败", zap.Error(err))
		}
	}
	return nil
}

// retentionLoop 每天清理一次过期交互日志
func (s *Server) retentionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		s.cleanupJournal()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) cleanupJournal() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	deleted, err := s.services.Journal.Cleanup(ctx, s.cfg.Database.RetentionDays)
	if err != nil {
		s.logger.Warn("清理交互日志失败", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("已清理过期交互日志",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", s.cfg.Database.RetentionDays))
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.advertiser != nil {
		s.advertiser.Stop()
	}

	// 停止接收新请求
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	s.poller.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// closeComponents 断开手控器并关闭外部连接
func (s *Server) closeComponents() {
	if err := s.services.Close(); err != nil {
		s.logger.Error("断开手控器失败", zap.Error(err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("关闭Redis失败", zap.Error(err))
	}
	if s.db != nil {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}
}

// reloadConfig 重新加载配置，只有日志级别可在运行时生效
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}

// printToken 按配置的密钥签发令牌
func printToken(cfg *config.Config, arg string) error {
	if !cfg.Security.JWT.Enabled {
		return errors.New(errors.ErrConfigValidate, "security.jwt.enabled is false")
	}

	name, role := arg, utils.RoleOperator
	if i := strings.LastIndex(arg, ":"); i >= 0 {
		name, role = arg[:i], arg[i+1:]
	}

	jwtManager := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour)
	token, err := jwtManager.GenerateToken(name, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("NexStar 手控器服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
