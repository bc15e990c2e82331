package hardware

import (
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"go.uber.org/zap"
)

// SerialConfig 串口参数，手控器固定 8N1
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration // 驱动层单次读超时，决定读协程的轮询粒度
}

// DefaultSerialConfig 手控器默认串口参数
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:        port,
		BaudRate:    9600,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenSerial 打开串口并包装为 Port
func OpenSerial(cfg SerialConfig) (*StreamPort, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	c := &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "open %s", cfg.Port)
	}

	logger.GetModuleLogger("serial").Info("串口已打开",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.BaudRate))

	return NewStreamPort(port), nil
}

// SerialOpener 以串口路径为参数的连接打开函数
func SerialOpener(cfg SerialConfig) Opener {
	return func(path string) (Port, error) {
		c := cfg
		if path != "" {
			c.Port = path
		}
		port, err := OpenSerial(c)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
