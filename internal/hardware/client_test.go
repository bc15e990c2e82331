package hardware

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/nexstar-hc/internal/errors"
)

// recordingObserver 收集交互记录
type recordingObserver struct {
	mu        sync.Mutex
	exchanges []Exchange
}

func (r *recordingObserver) ObserveExchange(ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, ex)
}

func (r *recordingObserver) all() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Exchange(nil), r.exchanges...)
}

// ClientTestSuite 基于模拟手控器的协议客户端测试
type ClientTestSuite struct {
	suite.Suite
	sim      *Simulator
	port     *StreamPort
	client   *Client
	observer *recordingObserver
}

func (s *ClientTestSuite) SetupTest() {
	s.sim = NewSimulator()
	s.port = NewStreamPort(s.sim.Dial())
	s.observer = &recordingObserver{}
	s.client = NewClient(s.port, ClientConfig{
		ExchangeTimeout: 100 * time.Millisecond,
		ResyncWindow:    50 * time.Millisecond,
		Observer:        s.observer,
	})
}

func (s *ClientTestSuite) TearDownTest() {
	s.port.Close()
}

func (s *ClientTestSuite) TestGotoAndPollScenario() {
	err := s.client.GotoPosition(AzmAlt(180.0, 45.0), PrecisionStandard)
	s.Require().NoError(err)
	s.Equal([]byte("B8000,2000"), s.sim.LastRequest())

	var polls []bool
	for i := 0; i < 3; i++ {
		inProgress, err := s.client.GetGotoInProgress()
		s.Require().NoError(err)
		polls = append(polls, inProgress)
	}
	s.Equal([]bool{true, true, false}, polls)

	pos, err := s.client.GetPosition(AzimuthAltitude, PrecisionStandard)
	s.Require().NoError(err)
	s.Equal(AzimuthAltitude, pos.Mode)
	s.InDelta(180.0, pos.Azimuth(), PrecisionStandard.Step())
	s.InDelta(45.0, pos.Altitude(), PrecisionStandard.Step())
}

func (s *ClientTestSuite) TestPrecisePosition() {
	s.sim.SetPosition(RADec(123.456789, 330.5))

	pos, err := s.client.GetPosition(RightAscensionDeclination, PrecisionPrecise)
	s.Require().NoError(err)
	s.Equal([]byte("e"), s.sim.LastRequest())
	s.InDelta(123.456789, pos.RA(), PrecisionPrecise.Step())
	s.InDelta(-29.5, SignedDegrees(pos.Dec()), PrecisionPrecise.Step())

	pos, err = s.client.GetPosition(RightAscensionDeclination, PrecisionStandard)
	s.Require().NoError(err)
	s.Equal([]byte("E"), s.sim.LastRequest())
	s.InDelta(123.456789, pos.RA(), PrecisionStandard.Step())
}

func (s *ClientTestSuite) TestGotoPreciseRADec() {
	s.Require().NoError(s.client.GotoPosition(RADec(90, 0), PrecisionPrecise))
	s.Equal([]byte("r40000000,00000000"), s.sim.LastRequest())

	s.Require().NoError(s.client.CancelGoto())
	inProgress, err := s.client.GetGotoInProgress()
	s.Require().NoError(err)
	s.False(inProgress)
}

func (s *ClientTestSuite) TestSync() {
	s.Require().NoError(s.client.Sync(RADec(10, 20), PrecisionPrecise))
	s.Equal(byte('s'), s.sim.LastRequest()[0])

	pos, err := s.client.GetPosition(RightAscensionDeclination, PrecisionPrecise)
	s.Require().NoError(err)
	s.InDelta(10.0, pos.RA(), PrecisionPrecise.Step())
	s.InDelta(20.0, pos.Dec(), PrecisionPrecise.Step())

	err = s.client.Sync(AzmAlt(10, 20), PrecisionPrecise)
	s.True(errors.Is(err, errors.ErrInvalidParam))
}

// 读取时间后原样写回，线上字节完全一致
func (s *ClientTestSuite) TestTimeRoundTripScenario() {
	ts, dst, err := s.client.GetTime()
	s.Require().NoError(err)
	s.True(dst)
	s.True(ts.Equal(time.Date(2024, 6, 20, 23, 30, 15, 0, time.UTC)))

	original := s.sim.Clock()
	s.Require().NoError(s.client.SetTime(ts, dst))

	req := s.sim.LastRequest()
	s.Equal(byte('H'), req[0])
	s.Equal(original[:], req[1:])
	s.Equal(original, s.sim.Clock())
}

// 超时后迟到的应答被丢弃，不会被下一次交互读到
func (s *ClientTestSuite) TestLateReplyDiscardedScenario() {
	s.sim.DelayNextReplies(1, 150*time.Millisecond)

	_, err := s.client.GetVersion()
	s.True(errors.Is(err, errors.ErrSerialTimeout), "got %v", err)

	model, err := s.client.GetModel()
	s.Require().NoError(err)
	s.Equal(Model(11), model)

	version, err := s.client.GetVersion()
	s.Require().NoError(err)
	s.Equal(Version{Major: 4, Minor: 21}, version)
}

// 应答在重同步窗口之后才到达，手控器按顺序应答，迟到的字节排在下一个应答之前
func (s *ClientTestSuite) TestReplyLaterThanResyncWindowNotReused() {
	s.sim.DelayNextReplies(1, 180*time.Millisecond)

	_, err := s.client.GetTrackingMode()
	s.True(errors.Is(err, errors.ErrSerialTimeout), "got %v", err)

	// 跟踪模式和型号应答长度相同，迟到的 alt_az 字节不能被当成型号
	model, err := s.client.GetModel()
	s.Require().NoError(err)
	s.Equal(Model(11), model)

	mode, err := s.client.GetTrackingMode()
	s.Require().NoError(err)
	s.Equal(TrackingAltAz, mode)
}

// 超时的应答始终没有出现，静默一个超时周期后恢复正常交互
func (s *ClientTestSuite) TestLostReplyIsForgotten() {
	s.sim.SetReplyHook(func(req, reply []byte) []byte {
		if req[0] == 'V' {
			return nil
		}
		return reply
	})

	_, err := s.client.GetVersion()
	s.True(errors.Is(err, errors.ErrSerialTimeout), "got %v", err)

	model, err := s.client.GetModel()
	s.Require().NoError(err)
	s.Equal(Model(11), model)
}

// 迟到的应答只到了一部分，下一次交互以 ErrFraming 失败且不写入请求
func (s *ClientTestSuite) TestPartialLateReplyFailsNextExchange() {
	s.sim.SetReplyHook(func(req, reply []byte) []byte {
		if req[0] == 'V' {
			return reply[:2]
		}
		return reply
	})
	s.sim.DelayNextReplies(1, 150*time.Millisecond)

	_, err := s.client.GetVersion()
	s.True(errors.Is(err, errors.ErrSerialTimeout), "got %v", err)

	_, err = s.client.GetModel()
	s.True(errors.Is(err, errors.ErrFraming), "got %v", err)
	s.Equal([]byte("V"), s.sim.LastRequest())

	model, err := s.client.GetModel()
	s.Require().NoError(err)
	s.Equal(Model(11), model)
}

func (s *ClientTestSuite) TestTrackingMode() {
	mode, err := s.client.GetTrackingMode()
	s.Require().NoError(err)
	s.Equal(TrackingAltAz, mode)

	s.Require().NoError(s.client.SetTrackingMode(TrackingEQNorth))
	s.Equal([]byte{'T', 2}, s.sim.LastRequest())

	mode, err = s.client.GetTrackingMode()
	s.Require().NoError(err)
	s.Equal(TrackingEQNorth, mode)

	err = s.client.SetTrackingMode(TrackingMode(9))
	s.True(errors.Is(err, errors.ErrInvalidParam))
}

func (s *ClientTestSuite) TestLocation() {
	loc, err := s.client.GetLocation()
	s.Require().NoError(err)
	s.InDelta(52.0, loc.Latitude, 1e-9)
	s.InDelta(4+22.0/60, loc.Longitude, 1e-9)

	want := Location{Latitude: -33.859722, Longitude: 151.211111}
	s.Require().NoError(s.client.SetLocation(want))

	loc, err = s.client.GetLocation()
	s.Require().NoError(err)
	s.InDelta(want.Latitude, loc.Latitude, 1.0/3600)
	s.InDelta(want.Longitude, loc.Longitude, 1.0/3600)
}

func (s *ClientTestSuite) TestInfoQueries() {
	version, err := s.client.GetVersion()
	s.Require().NoError(err)
	s.Equal("4.21", version.String())

	model, err := s.client.GetModel()
	s.Require().NoError(err)
	s.Equal("se45", model.String())

	aligned, err := s.client.GetAlignmentComplete()
	s.Require().NoError(err)
	s.True(aligned)

	s.NoError(s.client.Echo('x'))
	s.NoError(s.client.Echo('#'))
}

// slew_variable(dev, 0) 之后电机不再有运动请求
func (s *ClientTestSuite) TestSlewVariableToZeroStops() {
	s.Require().NoError(s.client.SlewVariable(DeviceAzmRAMotor, 1.5))
	s.Equal(21600, s.sim.MotorRate(DeviceAzmRAMotor))
	s.Equal([]byte{'P', 3, 16, MsgSlewVariablePositive, 0x54, 0x60, 0, 0}, s.sim.LastRequest())

	done, err := s.client.MotorSlewDone(DeviceAzmRAMotor)
	s.Require().NoError(err)
	s.False(done)

	s.Require().NoError(s.client.SlewVariable(DeviceAzmRAMotor, 0.0))
	s.Equal(0, s.sim.MotorRate(DeviceAzmRAMotor))

	done, err = s.client.MotorSlewDone(DeviceAzmRAMotor)
	s.Require().NoError(err)
	s.True(done)
}

func (s *ClientTestSuite) TestSlewVariableClampsAndDirection() {
	s.Require().NoError(s.client.SlewVariable(DeviceAltDecMotor, -100))
	s.Equal(-0xFFFF, s.sim.MotorRate(DeviceAltDecMotor))
	s.Equal(MsgSlewVariableNegative, s.sim.LastRequest()[3])

	s.Require().NoError(s.client.StopSlew(DeviceAltDecMotor))
	s.Equal(0, s.sim.MotorRate(DeviceAltDecMotor))

	err := s.client.SlewVariable(DeviceGPS, 1)
	s.True(errors.Is(err, errors.ErrInvalidParam))
}

func (s *ClientTestSuite) TestSlewFixed() {
	s.Require().NoError(s.client.SlewFixed(DeviceAzmRAMotor, -9))
	s.Equal(-9, s.sim.MotorFixedRate(DeviceAzmRAMotor))
	s.Equal([]byte{'P', 2, 16, MsgSlewFixedNegative, 9, 0, 0, 0}, s.sim.LastRequest())

	s.Require().NoError(s.client.SlewFixed(DeviceAzmRAMotor, 0))
	s.Equal(0, s.sim.MotorFixedRate(DeviceAzmRAMotor))

	err := s.client.SlewFixed(DeviceAzmRAMotor, 10)
	s.True(errors.Is(err, errors.ErrInvalidParam))
}

func (s *ClientTestSuite) TestDeviceVersionAndPassthrough() {
	v, err := s.client.GetDeviceVersion(DeviceAltDecMotor)
	s.Require().NoError(err)
	s.Equal(Version{Major: 7, Minor: 11}, v)

	raw, err := s.client.Passthrough(DeviceAzmRAMotor, []byte{MsgGetDeviceVersion}, 2)
	s.Require().NoError(err)
	s.Equal([]byte{7, 11}, raw)
}

func (s *ClientTestSuite) TestPassthroughToAbsentDevice() {
	_, err := s.client.GetDeviceVersion(DeviceGPS)
	s.True(errors.Is(err, errors.ErrPassthrough), "got %v", err)

	// 连接保持可用
	_, err = s.client.GetVersion()
	s.NoError(err)
}

func (s *ClientTestSuite) TestMissingTerminatorIsFramingError() {
	s.sim.SetReplyHook(func(req, reply []byte) []byte {
		if req[0] == 'V' {
			return append(bytes.TrimSuffix(reply, []byte{'#'}), 'X')
		}
		return reply
	})

	_, err := s.client.GetVersion()
	s.True(errors.Is(err, errors.ErrFraming), "got %v", err)

	_, err = s.client.GetModel()
	s.NoError(err)
}

func (s *ClientTestSuite) TestTruncatedReplyIsFramingError() {
	s.sim.SetReplyHook(func(req, reply []byte) []byte {
		if req[0] == 'Z' {
			return reply[:4]
		}
		return reply
	})

	_, err := s.client.GetPosition(AzimuthAltitude, PrecisionStandard)
	s.True(errors.Is(err, errors.ErrFraming), "got %v", err)
}

func (s *ClientTestSuite) TestSemanticMismatchIsProtocolError() {
	s.sim.SetReplyHook(func(req, reply []byte) []byte {
		switch req[0] {
		case 'L':
			return []byte{'7', '#'}
		case 'J':
			return []byte{2, '#'}
		case 't':
			return []byte{8, '#'}
		case 'K':
			return []byte{'z', '#'}
		}
		return reply
	})

	_, err := s.client.GetGotoInProgress()
	s.True(errors.Is(err, errors.ErrProtocol))
	_, err = s.client.GetAlignmentComplete()
	s.True(errors.Is(err, errors.ErrProtocol))
	_, err = s.client.GetTrackingMode()
	s.True(errors.Is(err, errors.ErrProtocol))
	err = s.client.Echo('a')
	s.True(errors.Is(err, errors.ErrProtocol))
}

func (s *ClientTestSuite) TestObserverSeesEveryExchange() {
	_, _ = s.client.GetVersion()
	s.sim.DelayNextReplies(1, 150*time.Millisecond)
	_, _ = s.client.GetModel()

	exchanges := s.observer.all()
	s.Require().Len(exchanges, 2)
	s.Equal("get_version", exchanges[0].Command)
	s.Equal([]byte("V"), exchanges[0].Request)
	s.Equal([]byte{4, 21, '#'}, exchanges[0].Reply)
	s.NoError(exchanges[0].Err)
	s.True(errors.Is(exchanges[1].Err, errors.ErrSerialTimeout))
}

func (s *ClientTestSuite) TestClosedPort() {
	s.Require().NoError(s.client.Close())
	_, err := s.client.GetVersion()
	s.True(errors.Is(err, errors.ErrConnectionClosed), "got %v", err)
}

func (s *ClientTestSuite) TestConcurrentCallsAreSerialized() {
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := s.client.GetVersion()
				errs <- err
				return
			}
			_, err := s.client.GetPosition(AzimuthAltitude, PrecisionPrecise)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
