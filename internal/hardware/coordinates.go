package hardware

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wfunc/nexstar-hc/internal/errors"
)

// Precision 角度在线上的定点宽度
type Precision int

const (
	// PrecisionStandard 16位，4个十六进制字符
	PrecisionStandard Precision = 16
	// PrecisionPrecise 32位，8个十六进制字符
	PrecisionPrecise Precision = 32
)

func (p Precision) String() string {
	if p == PrecisionPrecise {
		return "precise"
	}
	return "standard"
}

// Digits 十六进制字符数
func (p Precision) Digits() int {
	return int(p) / 4
}

// Step 一个量化步长对应的角度
func (p Precision) Step() float64 {
	return 360 / p.scale()
}

func (p Precision) scale() float64 {
	return math.Ldexp(1, int(p))
}

func (p Precision) valid() bool {
	return p == PrecisionStandard || p == PrecisionPrecise
}

// NormalizeDegrees 把任意有限角度折算到 [0,360)。
// 负角度加一周，例如 -90 得到 270，360 得到 0。
func NormalizeDegrees(d float64) (float64, error) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, errors.Newf(errors.ErrInvalidParam, "angle %v is not finite", d)
	}
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	// -1e-20 + 360 在浮点下等于 360
	if d >= 360 {
		d = 0
	}
	return d, nil
}

// EncodeAngle 度数编码为定点值 round(d/360*2^w) mod 2^w
func EncodeAngle(d float64, p Precision) (uint32, error) {
	if !p.valid() {
		return 0, errors.Newf(errors.ErrInvalidParam, "unknown precision %d", int(p))
	}
	norm, err := NormalizeDegrees(d)
	if err != nil {
		return 0, err
	}
	v := uint64(math.Round(norm / 360 * p.scale()))
	return uint32(v % (uint64(1) << uint(p))), nil
}

// DecodeAngle 定点值解码为度数 v/2^w*360
func DecodeAngle(v uint32, p Precision) float64 {
	if p == PrecisionStandard {
		v &= 0xFFFF
	}
	return float64(v) / p.scale() * 360
}

// FormatAngle 定点值格式化为定宽大写十六进制
func FormatAngle(v uint32, p Precision) string {
	return fmt.Sprintf("%0*X", p.Digits(), v)
}

// ParseAngle 解析定宽十六进制，大小写均可
func ParseAngle(s string, p Precision) (uint32, error) {
	if len(s) != p.Digits() {
		return 0, errors.Newf(errors.ErrFraming, "angle field %q: want %d hex digits", s, p.Digits())
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return 0, errors.Newf(errors.ErrFraming, "angle field %q: non-hex character %q", s, s[i])
		}
	}
	v, err := strconv.ParseUint(s, 16, int(p))
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrFraming, "angle field %q", s)
	}
	return uint32(v), nil
}

// EncodeAnglePair 编码一对角度为 "XXXX,XXXX" 或 "XXXXXXXX,XXXXXXXX"
func EncodeAnglePair(pair CoordinatePair, p Precision) ([]byte, error) {
	first, err := EncodeAngle(pair.First, p)
	if err != nil {
		return nil, err
	}
	second, err := EncodeAngle(pair.Second, p)
	if err != nil {
		return nil, err
	}
	return []byte(FormatAngle(first, p) + "," + FormatAngle(second, p)), nil
}

// DecodeAnglePair 解析应答中的角度对
func DecodeAnglePair(payload []byte, mode CoordinateMode, p Precision) (CoordinatePair, error) {
	n := p.Digits()
	if len(payload) != 2*n+1 || payload[n] != ',' {
		return CoordinatePair{}, errors.Newf(errors.ErrFraming, "angle pair %q: want %d digits, comma, %d digits", payload, n, n)
	}
	first, err := ParseAngle(string(payload[:n]), p)
	if err != nil {
		return CoordinatePair{}, err
	}
	second, err := ParseAngle(string(payload[n+1:]), p)
	if err != nil {
		return CoordinatePair{}, err
	}
	return CoordinatePair{
		Mode:   mode,
		First:  DecodeAngle(first, p),
		Second: DecodeAngle(second, p),
	}, nil
}

// AngularDistance 两个角度在圆周上的最短距离
func AngularDistance(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
