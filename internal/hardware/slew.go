package hardware

import (
	"math"

	"github.com/wfunc/nexstar-hc/internal/errors"
)

// SlewProfile 转动速率的线上换算常量，随协议版本而定，由配置提供
type SlewProfile struct {
	UnitsPerDegree float64 // 1 度/秒 对应的速率单位（1/4 角秒每秒）
	MaxUnits       int     // 可变速率的最大单位值
	MaxFixedRate   int     // 固定速率档位上限
}

// DefaultSlewProfile 协议1.2的换算常量
func DefaultSlewProfile() SlewProfile {
	return SlewProfile{
		UnitsPerDegree: 3600 * 4,
		MaxUnits:       0xFFFF,
		MaxFixedRate:   9,
	}
}

// VariableUnits 把度/秒换算为速率单位，幅值截断到 [0, MaxUnits]，negative 表示反向
func (p SlewProfile) VariableUnits(degPerSec float64) (units uint16, negative bool, err error) {
	if math.IsNaN(degPerSec) || math.IsInf(degPerSec, 0) {
		return 0, false, errors.Newf(errors.ErrInvalidParam, "slew rate %v is not finite", degPerSec)
	}
	v := math.Round(degPerSec * p.UnitsPerDegree)
	negative = v < 0
	v = math.Abs(v)
	if v > float64(p.MaxUnits) {
		v = float64(p.MaxUnits)
	}
	return uint16(v), negative, nil
}

// DegreesPerSecond 速率单位换算回度/秒
func (p SlewProfile) DegreesPerSecond(units int) float64 {
	return float64(units) / p.UnitsPerDegree
}

func requireMotor(dev DeviceID) error {
	if !dev.IsMotor() {
		return errors.Newf(errors.ErrInvalidParam, "slew is only supported for motors, got %s", dev)
	}
	return nil
}

// SlewFixed 以固定档位转动，rate 的符号表示方向，0 停止
func (c *Client) SlewFixed(dev DeviceID, rate int) error {
	if err := requireMotor(dev); err != nil {
		return err
	}
	limit := c.cfg.Slew.MaxFixedRate
	if rate < -limit || rate > limit {
		return errors.Newf(errors.ErrInvalidParam, "fixed slew rate %d outside [-%d, %d]", rate, limit, limit)
	}

	msg := MsgSlewFixedPositive
	if rate < 0 {
		msg = MsgSlewFixedNegative
		rate = -rate
	}
	_, err := c.Passthrough(dev, []byte{msg, byte(rate)}, 0)
	return err
}

// SlewVariable 以任意速率（度/秒）转动，超出范围的速率被截断。
// 速率为0即停止该电机，协议没有单独的停止命令。
func (c *Client) SlewVariable(dev DeviceID, degPerSec float64) error {
	if err := requireMotor(dev); err != nil {
		return err
	}
	units, negative, err := c.cfg.Slew.VariableUnits(degPerSec)
	if err != nil {
		return err
	}

	msg := MsgSlewVariablePositive
	if negative {
		msg = MsgSlewVariableNegative
	}
	_, err = c.Passthrough(dev, []byte{msg, byte(units >> 8), byte(units)}, 0)
	return err
}

// StopSlew 停止电机转动
func (c *Client) StopSlew(dev DeviceID) error {
	return c.SlewVariable(dev, 0)
}

// MotorSlewDone 电机是否已停止（goto或转动完成）
func (c *Client) MotorSlewDone(dev DeviceID) (bool, error) {
	if err := requireMotor(dev); err != nil {
		return false, err
	}
	reply, err := c.Passthrough(dev, []byte{MsgSlewDone}, 1)
	if err != nil {
		return false, err
	}
	switch reply[0] {
	case 0xFF:
		return true, nil
	case 0x00:
		return false, nil
	}
	return false, errors.Newf(errors.ErrProtocol, "slew done: unexpected reply %02X", reply[0])
}
