package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/service"
	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

// RedisPublisher 把状态快照写入 Redis：最新快照保存在 Key，同时发布到 Channel。
// 写入在后台协程中进行，积压时只保留最新的快照。
type RedisPublisher struct {
	client  *redis.Client
	cfg     config.RedisConfig
	logger  *zap.Logger
	pending chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	published atomic.Int64
	failed    atomic.Int64
}

// NewRedisPublisher 创建发布器并启动后台写入，连接失败不影响启动
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &RedisPublisher{
		cfg:     cfg,
		logger:  logger.GetModuleLogger("redis"),
		pending: make(chan []byte, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if !cfg.Enabled {
		p.logger.Info("Redis发布已禁用")
		return p
	}

	p.client = redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: writeTimeout,
		MaxRetries:  -1,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
	defer pingCancel()
	if err := p.client.Ping(pingCtx).Err(); err != nil {
		p.logger.Warn("Redis暂不可用，稍后重试", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		p.logger.Info("Redis已连接", zap.String("addr", cfg.Addr))
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Enabled 是否启用
func (p *RedisPublisher) Enabled() bool {
	return p.client != nil
}

// Publish 提交一个快照，不阻塞，可作为状态轮询的订阅者
func (p *RedisPublisher) Publish(snap *service.StatusSnapshot) {
	if p.client == nil || snap == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("序列化状态失败", zap.Error(err))
		return
	}

	for {
		select {
		case p.pending <- data:
			return
		default:
		}
		// 丢弃未写入的旧快照
		select {
		case <-p.pending:
		default:
		}
	}
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case data := <-p.pending:
			if err := p.write(data); err != nil {
				p.failed.Add(1)
				p.logger.Warn("Redis写入状态失败", zap.Error(err))
				continue
			}
			p.published.Add(1)
		}
	}
}

// write 在一个 pipeline 中保存并发布快照
func (p *RedisPublisher) write(data []byte) error {
	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if p.cfg.Key != "" {
			pipe.Set(ctx, p.cfg.Key, data, 0)
		}
		if p.cfg.Channel != "" {
			pipe.Publish(ctx, p.cfg.Channel, data)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrRedisPublish)
	}
	return nil
}

// Stats 已发布与失败的次数
func (p *RedisPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close 停止后台写入并关闭连接，可重复调用
func (p *RedisPublisher) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		if p.client != nil {
			err = p.client.Close()
		}
	})
	return err
}
