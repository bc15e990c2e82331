package hardware

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// CoordinateMode 坐标系类型
type CoordinateMode int

const (
	// AzimuthAltitude 地平坐标（方位角/高度角）
	AzimuthAltitude CoordinateMode = iota + 1
	// RightAscensionDeclination 赤道坐标（赤经/赤纬）
	RightAscensionDeclination
)

func (m CoordinateMode) String() string {
	switch m {
	case AzimuthAltitude:
		return "azm_alt"
	case RightAscensionDeclination:
		return "ra_dec"
	default:
		return fmt.Sprintf("CoordinateMode(%d)", int(m))
	}
}

// ParseCoordinateMode 解析坐标系名称
func ParseCoordinateMode(s string) (CoordinateMode, bool) {
	switch s {
	case "azm_alt", "altaz", "azalt", "":
		return AzimuthAltitude, true
	case "ra_dec", "radec", "eq":
		return RightAscensionDeclination, true
	}
	return 0, false
}

// CoordinatePair 一对角度，First/Second 的含义由 Mode 决定：
// 地平坐标为 (方位角, 高度角)，赤道坐标为 (赤经, 赤纬)，单位均为度，范围 [0,360)
type CoordinatePair struct {
	Mode   CoordinateMode `json:"mode"`
	First  float64        `json:"first"`
	Second float64        `json:"second"`
}

// AzmAlt 构造地平坐标
func AzmAlt(azimuth, altitude float64) CoordinatePair {
	return CoordinatePair{Mode: AzimuthAltitude, First: azimuth, Second: altitude}
}

// RADec 构造赤道坐标
func RADec(ra, dec float64) CoordinatePair {
	return CoordinatePair{Mode: RightAscensionDeclination, First: ra, Second: dec}
}

func (p CoordinatePair) Azimuth() float64  { return p.First }
func (p CoordinatePair) Altitude() float64 { return p.Second }
func (p CoordinatePair) RA() float64       { return p.First }
func (p CoordinatePair) Dec() float64      { return p.Second }

// SignedDegrees 把 [0,360) 的角度换算到 (-180,180]，用于显示高度角和赤纬
func SignedDegrees(d float64) float64 {
	if d > 180 {
		return d - 360
	}
	return d
}

func (p CoordinatePair) String() string {
	return fmt.Sprintf("%s(%.6f, %.6f)", p.Mode, p.First, p.Second)
}

// TrackingMode 跟踪模式，线上为单字节
type TrackingMode byte

const (
	TrackingOff     TrackingMode = 0
	TrackingAltAz   TrackingMode = 1
	TrackingEQNorth TrackingMode = 2
	TrackingEQSouth TrackingMode = 3
)

// Valid 是否为协议定义的跟踪模式
func (m TrackingMode) Valid() bool {
	return m <= TrackingEQSouth
}

func (m TrackingMode) String() string {
	switch m {
	case TrackingOff:
		return "off"
	case TrackingAltAz:
		return "alt_az"
	case TrackingEQNorth:
		return "eq_north"
	case TrackingEQSouth:
		return "eq_south"
	default:
		return fmt.Sprintf("TrackingMode(%d)", byte(m))
	}
}

// ParseTrackingMode 解析跟踪模式名称
func ParseTrackingMode(s string) (TrackingMode, bool) {
	for m := TrackingOff; m <= TrackingEQSouth; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// DeviceID 手控器总线上的子设备
type DeviceID byte

const (
	DeviceAzmRAMotor  DeviceID = 16
	DeviceAltDecMotor DeviceID = 17
	DeviceGPS         DeviceID = 176
	DeviceRTC         DeviceID = 178 // CGE赤道仪上的实时时钟
)

// IsMotor 是否为电机控制器
func (d DeviceID) IsMotor() bool {
	return d == DeviceAzmRAMotor || d == DeviceAltDecMotor
}

func (d DeviceID) String() string {
	switch d {
	case DeviceAzmRAMotor:
		return "azm_ra_motor"
	case DeviceAltDecMotor:
		return "alt_dec_motor"
	case DeviceGPS:
		return "gps"
	case DeviceRTC:
		return "rtc"
	default:
		return fmt.Sprintf("device(%d)", byte(d))
	}
}

// ParseDeviceID 解析设备名称或数字编号
func ParseDeviceID(s string) (DeviceID, bool) {
	for _, d := range []DeviceID{DeviceAzmRAMotor, DeviceAltDecMotor, DeviceGPS, DeviceRTC} {
		if d.String() == s {
			return d, true
		}
	}
	switch s {
	case "azm", "ra":
		return DeviceAzmRAMotor, true
	case "alt", "dec":
		return DeviceAltDecMotor, true
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return DeviceID(n), true
	}
	return 0, false
}

// Model 手控器报告的型号编号
type Model byte

var modelNames = map[Model]string{
	1:  "gps_series",
	3:  "i_series",
	4:  "i_series_se",
	5:  "cge",
	6:  "advanced_gt",
	7:  "slt",
	9:  "cpc",
	10: "gt",
	11: "se45",
	12: "se68",
	15: "lcm",
}

func (m Model) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("model(%d)", byte(m))
}

// Version 固件版本号
type Version struct {
	Major byte `json:"major"`
	Minor byte `json:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Location 观测地点，北纬和东经为正
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid 纬度在[-90,90]且经度在[-180,180]
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return math.Abs(l.Latitude) <= 90 && math.Abs(l.Longitude) <= 180
}

// Timestamp 手控器时间，时区为整小时偏移
type Timestamp struct {
	Time time.Time `json:"time"`
	DST  bool      `json:"dst"`
}

func (m CoordinateMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *CoordinateMode) UnmarshalText(b []byte) error {
	parsed, ok := ParseCoordinateMode(string(b))
	if !ok {
		return fmt.Errorf("unknown coordinate mode %q", b)
	}
	*m = parsed
	return nil
}

func (m TrackingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *TrackingMode) UnmarshalText(b []byte) error {
	parsed, ok := ParseTrackingMode(string(b))
	if !ok {
		return fmt.Errorf("unknown tracking mode %q", b)
	}
	*m = parsed
	return nil
}
