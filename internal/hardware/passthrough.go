package hardware

import (
	"github.com/wfunc/nexstar-hc/internal/errors"
)

// deviceVersionReplyLen 各子设备版本查询的应答长度
var deviceVersionReplyLen = map[DeviceID]int{
	DeviceAzmRAMotor:  2,
	DeviceAltDecMotor: 2,
	DeviceGPS:         2,
	DeviceRTC:         2,
}

// Passthrough 把消息原样转发给子设备并返回原始应答，不解释负载含义。
// data 为消息号加最多3个数据字节，replyLen 为期望的应答字节数。
// 子设备没有应答时手控器只回 '#'，返回 ErrPassthrough。
func (c *Client) Passthrough(dev DeviceID, data []byte, replyLen int) ([]byte, error) {
	args, err := EncodePassthrough(dev, data, replyLen)
	if err != nil {
		return nil, err
	}
	return c.exchange(CmdPassthrough, args, ReplyShape{Length: replyLen, Format: ReplyBinary})
}

// GetDeviceVersion 查询子设备固件版本
func (c *Client) GetDeviceVersion(dev DeviceID) (Version, error) {
	n, ok := deviceVersionReplyLen[dev]
	if !ok {
		return Version{}, errors.Newf(errors.ErrInvalidParam, "no version query for %s", dev)
	}
	reply, err := c.Passthrough(dev, []byte{MsgGetDeviceVersion}, n)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: reply[0], Minor: reply[1]}, nil
}
