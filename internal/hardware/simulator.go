package hardware

import (
	"io"
	"sync"
	"time"
)

// Simulator 内存中的模拟手控器，按协议应答请求。
// 每次 Dial 得到一个独立的字节流端点，手控器状态在端点之间共享。
type Simulator struct {
	mu sync.Mutex

	// 指向，统一保存为32位定点值
	azm, alt uint32
	ra, dec  uint32

	gotoActive  bool
	gotoMode    CoordinateMode
	gotoFirst   uint32
	gotoSecond  uint32
	gotoPending int

	tracking TrackingMode
	location [8]byte
	clock    [8]byte
	version  Version
	model    Model
	aligned  bool

	devices      map[DeviceID]Version
	variableRate map[DeviceID]int // 有符号速率单位
	fixedRate    map[DeviceID]int

	// GotoPolls goto开始后 'L' 查询返回进行中的次数
	GotoPolls int

	replyDelay time.Duration
	delayNext  int
	replyHook  func(req, reply []byte) []byte
	requests   [][]byte
}

// NewSimulator 创建带默认状态的模拟手控器
func NewSimulator() *Simulator {
	return &Simulator{
		tracking: TrackingAltAz,
		// 52°00'00"N 4°22'00"E
		location: [8]byte{52, 0, 0, 0, 4, 22, 0, 0},
		// 2024-06-20 21:30:15 UTC-2, DST
		clock:   [8]byte{21, 30, 15, 6, 20, 24, 0xFE, 1},
		version: Version{Major: 4, Minor: 21},
		model:   11,
		aligned: true,
		devices: map[DeviceID]Version{
			DeviceAzmRAMotor:  {Major: 7, Minor: 11},
			DeviceAltDecMotor: {Major: 7, Minor: 11},
		},
		variableRate: make(map[DeviceID]int),
		fixedRate:    make(map[DeviceID]int),
		GotoPolls:    2,
	}
}

// Dial 创建新的字节流端点
func (s *Simulator) Dial() io.ReadWriteCloser {
	c := &simConn{sim: s}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Opener 连接时打开新端点，路径被忽略
func (s *Simulator) Opener() Opener {
	return func(string) (Port, error) {
		return NewStreamPort(s.Dial()), nil
	}
}

// SetReplyDelay 之后所有应答延迟 d 发出
func (s *Simulator) SetReplyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = d
	s.delayNext = -1
}

// DelayNextReplies 仅接下来 n 个应答延迟 d 发出
func (s *Simulator) DelayNextReplies(n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = d
	s.delayNext = n
}

// SetReplyHook 在应答发出前改写，用于注入噪声或截断应答
func (s *Simulator) SetReplyHook(hook func(req, reply []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyHook = hook
}

// Requests 收到的全部请求
func (s *Simulator) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	for i, r := range s.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// LastRequest 最近一次请求
func (s *Simulator) LastRequest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return append([]byte(nil), s.requests[len(s.requests)-1]...)
}

// SetPosition 设置地平坐标指向
func (s *Simulator) SetPosition(pair CoordinatePair) {
	first, _ := EncodeAngle(pair.First, PrecisionPrecise)
	second, _ := EncodeAngle(pair.Second, PrecisionPrecise)

	s.mu.Lock()
	defer s.mu.Unlock()
	if pair.Mode == RightAscensionDeclination {
		s.ra, s.dec = first, second
		return
	}
	s.azm, s.alt = first, second
}

// SetClock 设置原始8字节时间
func (s *Simulator) SetClock(raw [8]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = raw
}

// Clock 当前原始8字节时间
func (s *Simulator) Clock() [8]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Tracking 当前跟踪模式
func (s *Simulator) Tracking() TrackingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// MotorRate 电机当前的可变速率（有符号速率单位）
func (s *Simulator) MotorRate(dev DeviceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variableRate[dev]
}

// MotorFixedRate 电机当前的固定档位（有符号）
func (s *Simulator) MotorFixedRate(dev DeviceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixedRate[dev]
}

// RemoveDevice 模拟子设备不在总线上
func (s *Simulator) RemoveDevice(dev DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, dev)
}

// requestLength 根据命令字节判断完整请求长度，未知命令返回0
func requestLength(id byte) int {
	cmd, ok := Commands[id]
	if !ok {
		return 0
	}
	return cmd.RequestLength()
}

// handle 处理一条完整请求，返回应答和发送延迟
func (s *Simulator) handle(req []byte) ([]byte, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, append([]byte(nil), req...))
	reply := s.reply(req)

	if s.replyHook != nil {
		reply = s.replyHook(req, reply)
	}

	var delay time.Duration
	if s.delayNext != 0 {
		delay = s.replyDelay
		if s.delayNext > 0 {
			s.delayNext--
		}
	}
	return reply, delay
}

func (s *Simulator) reply(req []byte) []byte {
	cmd := Commands[req[0]]
	args := req[1:]
	hash := []byte{Terminator}

	switch cmd.ID {
	case 'E', 'e', 'Z', 'z':
		first, second := s.azm, s.alt
		if cmd.Mode == RightAscensionDeclination {
			first, second = s.ra, s.dec
		}
		return append([]byte(formatSimPair(first, second, cmd.Precision)), Terminator)

	case 'R', 'r', 'B', 'b':
		first, second, ok := parseSimPair(args, cmd.Precision)
		if !ok {
			return hash
		}
		s.gotoActive = true
		s.gotoMode = cmd.Mode
		s.gotoFirst, s.gotoSecond = first, second
		s.gotoPending = s.GotoPolls
		return hash

	case 'S', 's':
		if first, second, ok := parseSimPair(args, cmd.Precision); ok {
			s.ra, s.dec = first, second
		}
		return hash

	case 'L':
		if s.gotoActive && s.gotoPending > 0 {
			s.gotoPending--
			return []byte{'1', Terminator}
		}
		s.completeGoto()
		return []byte{'0', Terminator}

	case 'M':
		s.gotoActive = false
		return hash

	case 't':
		return []byte{byte(s.tracking), Terminator}
	case 'T':
		s.tracking = TrackingMode(args[0])
		return hash

	case 'w':
		return append(append([]byte(nil), s.location[:]...), Terminator)
	case 'W':
		copy(s.location[:], args)
		return hash

	case 'h':
		return append(append([]byte(nil), s.clock[:]...), Terminator)
	case 'H':
		copy(s.clock[:], args)
		return hash

	case 'V':
		return []byte{s.version.Major, s.version.Minor, Terminator}
	case 'm':
		return []byte{byte(s.model), Terminator}
	case 'K':
		return []byte{args[0], Terminator}
	case 'J':
		if s.aligned {
			return []byte{1, Terminator}
		}
		return []byte{0, Terminator}

	case 'P':
		return s.passthrough(args)
	}
	return hash
}

// completeGoto goto完成，指向移动到目标
func (s *Simulator) completeGoto() {
	if !s.gotoActive {
		return
	}
	s.gotoActive = false
	if s.gotoMode == RightAscensionDeclination {
		s.ra, s.dec = s.gotoFirst, s.gotoSecond
		return
	}
	s.azm, s.alt = s.gotoFirst, s.gotoSecond
}

func (s *Simulator) passthrough(args []byte) []byte {
	n, dev, msg, data, replyLen := int(args[0]), DeviceID(args[1]), args[2], args[3:6], int(args[6])
	version, present := s.devices[dev]
	if !present || n < 1 {
		// 子设备无应答
		return []byte{Terminator}
	}

	var payload []byte
	switch msg {
	case MsgSlewVariablePositive, MsgSlewVariableNegative:
		rate := int(data[0])<<8 | int(data[1])
		if msg == MsgSlewVariableNegative {
			rate = -rate
		}
		s.variableRate[dev] = rate
		s.fixedRate[dev] = 0
	case MsgSlewFixedPositive, MsgSlewFixedNegative:
		rate := int(data[0])
		if msg == MsgSlewFixedNegative {
			rate = -rate
		}
		s.fixedRate[dev] = rate
		s.variableRate[dev] = 0
	case MsgSlewDone:
		if s.variableRate[dev] == 0 && s.fixedRate[dev] == 0 && !s.gotoActive {
			payload = []byte{0xFF}
		} else {
			payload = []byte{0x00}
		}
	case MsgGetDeviceVersion:
		payload = []byte{version.Major, version.Minor}
	}

	// 按请求的应答长度截断或补零
	out := make([]byte, replyLen, replyLen+1)
	copy(out, payload)
	return append(out, Terminator)
}

func formatSimPair(first, second uint32, p Precision) string {
	if p == PrecisionStandard {
		first = (first + 0x8000) >> 16 & 0xFFFF
		second = (second + 0x8000) >> 16 & 0xFFFF
	}
	return FormatAngle(first, p) + "," + FormatAngle(second, p)
}

func parseSimPair(args []byte, p Precision) (uint32, uint32, bool) {
	n := p.Digits()
	if len(args) != 2*n+1 {
		return 0, 0, false
	}
	first, err := ParseAngle(string(args[:n]), p)
	if err != nil {
		return 0, 0, false
	}
	second, err := ParseAngle(string(args[n+1:]), p)
	if err != nil {
		return 0, 0, false
	}
	if p == PrecisionStandard {
		first <<= 16
		second <<= 16
	}
	return first, second, true
}

// simConn 模拟器的一个字节流端点
type simConn struct {
	sim *Simulator

	mu     sync.Mutex
	cond   *sync.Cond
	in     []byte
	out    []byte
	closed bool

	// 延迟的应答按请求顺序排队，后面的应答不会超过前面的
	pending []pendingReply
}

type pendingReply struct {
	due   time.Time
	bytes []byte
}

func (c *simConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.in = append(c.in, b...)

	var reqs [][]byte
	for len(c.in) > 0 {
		n := requestLength(c.in[0])
		if n == 0 {
			// 未知命令字节，手控器忽略
			c.in = c.in[1:]
			continue
		}
		if len(c.in) < n {
			break
		}
		reqs = append(reqs, append([]byte(nil), c.in[:n]...))
		c.in = c.in[n:]
	}
	c.mu.Unlock()

	for _, req := range reqs {
		reply, delay := c.sim.handle(req)
		c.enqueue(reply, delay)
	}
	return len(b), nil
}

// enqueue 安排应答在 delay 之后发出，且不早于之前排队的应答
func (c *simConn) enqueue(reply []byte, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	due := time.Now().Add(delay)
	if n := len(c.pending); n > 0 && due.Before(c.pending[n-1].due) {
		due = c.pending[n-1].due
	}
	c.pending = append(c.pending, pendingReply{due: due, bytes: reply})
	if wait := time.Until(due); wait > 0 {
		time.AfterFunc(wait, c.release)
		return
	}
	c.releaseLocked()
}

func (c *simConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

// releaseLocked 按顺序发出所有已到期的应答，调用方持有锁
func (c *simConn) releaseLocked() {
	if c.closed {
		return
	}
	now := time.Now()
	released := false
	for len(c.pending) > 0 && !c.pending[0].due.After(now) {
		c.out = append(c.out, c.pending[0].bytes...)
		c.pending = c.pending[1:]
		released = true
	}
	if released {
		c.cond.Broadcast()
	}
}

func (c *simConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *simConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}
