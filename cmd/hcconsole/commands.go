package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
)

const helpText = `命令:
  connect [path]          打开手控器
  disconnect              关闭手控器
  state                   连接状态
  version | model         固件版本 / 型号
  devver <dev>            子设备固件版本
  pos [radec] [std]       当前指向，默认地平坐标、高精度
  goto <a> <b> [radec]    转到目标
  busy                    goto 是否进行中
  sync <ra> <dec>         同步赤道坐标
  cancel                  取消 goto
  align                   是否已校准
  track [mode]            查询或设置跟踪模式 (off alt_az eq_north eq_south)
  loc [lat lon]           查询或设置观测地点
  time [now]              查询时间，now 时写入本机时间
  slew <dev> <rate>       固定档位转动 (-9..9)
  vslew <dev> <deg/s>     可变速率转动
  stop <dev>              停止电机
  done <dev>              电机是否停止
  pt <dev> <hex> <n>      透传，hex 首字节为消息ID，n 为应答长度
  quit                    退出
设备: azm alt gps rtc 或编号`

// console 把一行命令翻译成协议操作
type console struct {
	conn *hardware.Connection
	path string
	out  io.Writer
}

func newConsole(conn *hardware.Connection, path string, out io.Writer) *console {
	return &console{conn: conn, path: path, out: out}
}

// execute 执行一行命令，返回 true 表示退出
func (c *console) execute(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		return false, nil
	case "connect":
		path := c.path
		if len(args) > 0 {
			path = args[0]
		}
		if err := c.conn.Open(path); err != nil {
			return false, err
		}
		c.path = path
		fmt.Fprintf(c.out, "connected %s\n", path)
		return false, nil
	case "disconnect":
		return false, c.conn.Close()
	case "state":
		fmt.Fprintf(c.out, "%s %s\n", c.conn.State(), c.conn.Path())
		return false, nil
	}

	client, err := c.conn.Client()
	if err != nil {
		return false, err
	}
	return false, c.run(client, cmd, args)
}

func (c *console) run(client *hardware.Client, cmd string, args []string) error {
	switch cmd {
	case "version", "v":
		v, err := client.GetVersion()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, v)
	case "model":
		m, err := client.GetModel()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s (%d)\n", m, byte(m))
	case "devver":
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		v, err := client.GetDeviceVersion(dev)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s\n", dev, v)
	case "pos", "p":
		mode, prec := hardware.AzimuthAltitude, hardware.PrecisionPrecise
		for _, a := range args {
			switch a {
			case "radec", "eq":
				mode = hardware.RightAscensionDeclination
			case "std":
				prec = hardware.PrecisionStandard
			default:
				return usage("pos [radec] [std]")
			}
		}
		pos, err := client.GetPosition(mode, prec)
		if err != nil {
			return err
		}
		c.printPair(pos)
	case "goto", "g":
		if len(args) < 2 {
			return usage("goto <a> <b> [radec]")
		}
		target, err := pairArgs(args[0], args[1], len(args) > 2 && args[2] == "radec")
		if err != nil {
			return err
		}
		if err := client.GotoPosition(target, hardware.PrecisionPrecise); err != nil {
			return err
		}
		fmt.Fprint(c.out, "goto ")
		c.printPair(target)
	case "busy":
		busy, err := client.GetGotoInProgress()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, busy)
	case "sync":
		if len(args) != 2 {
			return usage("sync <ra> <dec>")
		}
		target, err := pairArgs(args[0], args[1], true)
		if err != nil {
			return err
		}
		return client.Sync(target, hardware.PrecisionPrecise)
	case "cancel":
		return client.CancelGoto()
	case "align":
		aligned, err := client.GetAlignmentComplete()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, aligned)
	case "track":
		if len(args) == 0 {
			mode, err := client.GetTrackingMode()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, mode)
			return nil
		}
		mode, ok := hardware.ParseTrackingMode(args[0])
		if !ok {
			return errors.Newf(errors.ErrInvalidParam, "unknown tracking mode %q", args[0])
		}
		return client.SetTrackingMode(mode)
	case "loc":
		if len(args) == 0 {
			loc, err := client.GetLocation()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "lat %.4f lon %.4f\n", loc.Latitude, loc.Longitude)
			return nil
		}
		if len(args) != 2 {
			return usage("loc [lat lon]")
		}
		lat, err := floatArg(args[0])
		if err != nil {
			return err
		}
		lon, err := floatArg(args[1])
		if err != nil {
			return err
		}
		return client.SetLocation(hardware.Location{Latitude: lat, Longitude: lon})
	case "time":
		if len(args) > 0 && args[0] == "now" {
			return client.SetTime(time.Now(), false)
		}
		t, dst, err := client.GetTime()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s dst=%t\n", t.Format(time.RFC3339), dst)
	case "slew":
		if len(args) != 2 {
			return usage("slew <dev> <rate>")
		}
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		rate, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Newf(errors.ErrInvalidParam, "rate %q is not an integer", args[1])
		}
		return client.SlewFixed(dev, rate)
	case "vslew":
		if len(args) != 2 {
			return usage("vslew <dev> <deg/s>")
		}
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		rate, err := floatArg(args[1])
		if err != nil {
			return err
		}
		return client.SlewVariable(dev, rate)
	case "stop":
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		return client.StopSlew(dev)
	case "done":
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		done, err := client.MotorSlewDone(dev)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, done)
	case "pt":
		if len(args) != 3 {
			return usage("pt <dev> <hex> <n>")
		}
		dev, err := deviceArg(args, 0)
		if err != nil {
			return err
		}
		payload, err := hex.DecodeString(args[1])
		if err != nil {
			return errors.Newf(errors.ErrInvalidParam, "payload is not hex: %v", err)
		}
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return errors.Newf(errors.ErrInvalidParam, "reply length %q is not an integer", args[2])
		}
		reply, err := client.Passthrough(dev, payload, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "% X\n", reply)
	default:
		return errors.Newf(errors.ErrInvalidParam, "unknown command %q, try help", cmd)
	}
	return nil
}

func (c *console) printPair(p hardware.CoordinatePair) {
	if p.Mode == hardware.RightAscensionDeclination {
		fmt.Fprintf(c.out, "ra %.4f dec %.4f\n", p.First, p.Second)
		return
	}
	fmt.Fprintf(c.out, "azm %.4f alt %.4f\n", p.First, p.Second)
}

func usage(s string) error {
	return errors.New(errors.ErrInvalidParam, "usage: "+s)
}

func floatArg(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrInvalidParam, "%q is not a number", s)
	}
	return v, nil
}

func pairArgs(a, b string, radec bool) (hardware.CoordinatePair, error) {
	first, err := floatArg(a)
	if err != nil {
		return hardware.CoordinatePair{}, err
	}
	second, err := floatArg(b)
	if err != nil {
		return hardware.CoordinatePair{}, err
	}
	if radec {
		return hardware.RADec(first, second), nil
	}
	return hardware.AzmAlt(first, second), nil
}

func deviceArg(args []string, i int) (hardware.DeviceID, error) {
	if len(args) <= i {
		return 0, errors.New(errors.ErrInvalidParam, "missing device")
	}
	dev, ok := hardware.ParseDeviceID(args[i])
	if !ok {
		return 0, errors.Newf(errors.ErrInvalidParam, "unknown device %q", args[i])
	}
	return dev, nil
}
