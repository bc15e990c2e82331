package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径")
		port       = flag.String("port", "", "串口路径，默认取配置 serial.port")
		sim        = flag.Bool("sim", false, "使用模拟手控器")
		logLevel   = flag.String("log-level", "warn", "日志级别")
	)
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	logCfg := cfg.Log
	logCfg.Level = *logLevel
	logCfg.Output = "stderr"
	if err := logger.Init(&logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := cfg.Serial.Port
	if *port != "" {
		path = *port
	}

	var opener hardware.Opener
	if *sim || cfg.Serial.MockMode {
		opener = hardware.NewSimulator().Opener()
		path = "sim"
	} else {
		opener = hardware.SerialOpener(hardware.SerialConfig{
			Port:        path,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
		})
	}

	conn := hardware.NewConnection(opener, service.ClientConfigFrom(cfg))
	defer conn.Close()

	editor := NewLineEditor()
	defer editor.Close()

	con := newConsole(conn, path, editor.Output())
	if err := conn.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "打开 %s 失败: %v，可用 connect <path> 重试\n", path, err)
	}
	if editor.IsInteractive() {
		fmt.Fprintln(editor.Output(), "NexStar 手控器控制台，输入 help 查看命令")
	}

	repl(editor, con)
}

func repl(editor *LineEditor, con *console) {
	for {
		line, err := editor.GetLine("nexstar> ")
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取输入失败: %v\n", err)
			return
		}

		quit, err := con.execute(line)
		if err != nil {
			fmt.Fprintf(editor.Output(), "error[%d]: %v\n", errors.GetCode(err), err)
		}
		if quit {
			return
		}
	}
}
