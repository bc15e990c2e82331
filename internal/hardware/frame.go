package hardware

import (
	"math"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
)

// Terminator 应答结束符
const Terminator byte = '#'

// 转发包：负载长度、设备号、消息号加3个数据字节、期望应答长度
const (
	passthroughArgLen   = 7
	passthroughMaxData  = 4 // 消息号加最多3个数据字节
	passthroughMaxReply = 255
)

// BuildRequest 组装请求：命令字节加参数，请求端没有结束符
func BuildRequest(cmd Command, args []byte) ([]byte, error) {
	switch cmd.Args {
	case ArgNone:
		if len(args) != 0 {
			return nil, errors.Newf(errors.ErrInvalidParam, "%s takes no arguments, got %d bytes", cmd.Name, len(args))
		}
	case ArgAnglePair:
		n := cmd.Precision.Digits()
		if len(args) != 2*n+1 || args[n] != ',' {
			return nil, errors.Newf(errors.ErrInvalidParam, "%s: malformed angle pair %q", cmd.Name, args)
		}
		for i, c := range args {
			if i != n && !isHexDigit(c) {
				return nil, errors.Newf(errors.ErrInvalidParam, "%s: non-hex character %q in angle pair", cmd.Name, c)
			}
		}
	case ArgBytes:
		if len(args) != cmd.ArgLen {
			return nil, errors.Newf(errors.ErrInvalidParam, "%s takes %d argument bytes, got %d", cmd.Name, cmd.ArgLen, len(args))
		}
	case ArgPassthrough:
		if len(args) != passthroughArgLen || args[0] < 1 || int(args[0]) > passthroughMaxData {
			return nil, errors.Newf(errors.ErrInvalidParam, "%s: malformed pass-through packet % X", cmd.Name, args)
		}
	}

	req := make([]byte, 0, 1+len(args))
	req = append(req, cmd.ID)
	return append(req, args...), nil
}

// ParseReply 校验应答帧并返回去掉结束符的负载。
// 协议没有校验和，完整性只能靠结束符、长度和字符集检查。
func ParseReply(raw []byte, shape ReplyShape) ([]byte, error) {
	if len(raw) == 0 || raw[len(raw)-1] != Terminator {
		return nil, errors.Newf(errors.ErrFraming, "reply % X: missing terminator", raw)
	}
	if len(raw) != shape.Length+1 {
		return nil, errors.Newf(errors.ErrFraming, "reply % X: want %d payload bytes, got %d", raw, shape.Length, len(raw)-1)
	}

	payload := raw[:len(raw)-1]
	if shape.Format == ReplyHexPair {
		comma := shape.Length / 2
		for i, c := range payload {
			if i == comma {
				if c != ',' {
					return nil, errors.Newf(errors.ErrFraming, "reply %q: missing separator", payload)
				}
				continue
			}
			if !isHexDigit(c) {
				return nil, errors.Newf(errors.ErrFraming, "reply %q: non-hex character %q", payload, c)
			}
		}
	}
	return payload, nil
}

// EncodeLocation 编码8字节位置：纬度度分秒、南纬标志、经度度分秒、西经标志
func EncodeLocation(loc Location) ([]byte, error) {
	if !loc.Valid() {
		return nil, errors.Newf(errors.ErrInvalidParam, "location %+v out of range", loc)
	}
	out := make([]byte, 0, 8)
	out = append(out, encodeDMS(loc.Latitude)...)
	out = append(out, encodeDMS(loc.Longitude)...)
	return out, nil
}

func encodeDMS(deg float64) []byte {
	seconds := int(math.Round(deg * 3600))
	var sign byte
	if seconds < 0 {
		sign = 1
		seconds = -seconds
	}
	return []byte{
		byte(seconds / 3600),
		byte(seconds % 3600 / 60),
		byte(seconds % 60),
		sign,
	}
}

// DecodeLocation 解码8字节位置
func DecodeLocation(b []byte) (Location, error) {
	if len(b) != 8 {
		return Location{}, errors.Newf(errors.ErrFraming, "location: want 8 bytes, got %d", len(b))
	}
	lat, err := decodeDMS(b[0:4])
	if err != nil {
		return Location{}, err
	}
	lon, err := decodeDMS(b[4:8])
	if err != nil {
		return Location{}, err
	}
	loc := Location{Latitude: lat, Longitude: lon}
	if !loc.Valid() {
		return Location{}, errors.Newf(errors.ErrProtocol, "location %+v out of range", loc)
	}
	return loc, nil
}

func decodeDMS(b []byte) (float64, error) {
	if b[1] >= 60 || b[2] >= 60 || b[3] > 1 {
		return 0, errors.Newf(errors.ErrProtocol, "location field % X out of range", b)
	}
	deg := float64(int(b[0])*3600+int(b[1])*60+int(b[2])) / 3600
	if b[3] == 1 {
		deg = -deg
	}
	return deg, nil
}

// EncodeTime 编码8字节时间：时、分、秒、月、日、年-2000、UTC偏移小时（补码）、夏令时标志。
// 时间按 t 自身时区的墙上时间编码，偏移必须是整小时。
func EncodeTime(t time.Time, dst bool) ([]byte, error) {
	year := t.Year() - 2000
	if year < 0 || year > 255 {
		return nil, errors.Newf(errors.ErrInvalidParam, "year %d not representable", t.Year())
	}
	_, offset := t.Zone()
	if offset%3600 != 0 {
		return nil, errors.Newf(errors.ErrInvalidParam, "utc offset %ds is not a whole hour", offset)
	}
	zone := offset / 3600
	if zone < -128 || zone > 127 {
		return nil, errors.Newf(errors.ErrInvalidParam, "utc offset %dh not representable", zone)
	}

	var dstFlag byte
	if dst {
		dstFlag = 1
	}
	return []byte{
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
		byte(t.Month()),
		byte(t.Day()),
		byte(year),
		byte(int8(zone)),
		dstFlag,
	}, nil
}

// DecodeTime 解码8字节时间，返回带固定偏移时区的时间和夏令时标志
func DecodeTime(b []byte) (time.Time, bool, error) {
	if len(b) != 8 {
		return time.Time{}, false, errors.Newf(errors.ErrFraming, "time: want 8 bytes, got %d", len(b))
	}
	hour, minute, second := int(b[0]), int(b[1]), int(b[2])
	month, day, year := int(b[3]), int(b[4]), 2000+int(b[5])
	zone := int(int8(b[6]))

	if hour > 23 || minute > 59 || second > 59 || month < 1 || month > 12 || day < 1 || day > 31 || b[7] > 1 {
		return time.Time{}, false, errors.Newf(errors.ErrProtocol, "time fields % X out of range", b)
	}

	loc := time.FixedZone("", zone*3600)
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	if t.Day() != day {
		return time.Time{}, false, errors.Newf(errors.ErrProtocol, "invalid date %04d-%02d-%02d", year, month, day)
	}
	return t, b[7] == 1, nil
}

// EncodePassthrough 编码转发包，data 为消息号加最多3个数据字节，不足补零
func EncodePassthrough(dev DeviceID, data []byte, replyLen int) ([]byte, error) {
	if len(data) < 1 || len(data) > passthroughMaxData {
		return nil, errors.Newf(errors.ErrInvalidParam, "pass-through payload must be 1..%d bytes, got %d", passthroughMaxData, len(data))
	}
	if replyLen < 0 || replyLen > passthroughMaxReply {
		return nil, errors.Newf(errors.ErrInvalidParam, "pass-through reply length %d out of range", replyLen)
	}
	out := make([]byte, passthroughArgLen)
	out[0] = byte(len(data))
	out[1] = byte(dev)
	copy(out[2:6], data)
	out[6] = byte(replyLen)
	return out, nil
}
