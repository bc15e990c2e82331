package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/repository"
)

// TelescopeServiceTestSuite 手控器服务测试套件
type TelescopeServiceTestSuite struct {
	suite.Suite
	sim     *hardware.Simulator
	journal *SerialLogService
	svc     TelescopeService
}

func (suite *TelescopeServiceTestSuite) SetupTest() {
	suite.sim = hardware.NewSimulator()
	db := repository.SetupTestDB(suite.T())
	suite.journal = NewSerialLogService(db, JournalConfig{FlushInterval: time.Hour})
	suite.svc = NewTelescopeService(suite.sim.Opener(), TelescopeConfig{
		DefaultPath: "sim",
		Client: hardware.ClientConfig{
			ExchangeTimeout: 200 * time.Millisecond,
			ResyncWindow:    50 * time.Millisecond,
		},
	}, suite.journal)
}

func (suite *TelescopeServiceTestSuite) TearDownTest() {
	suite.svc.Close()
	suite.journal.Close()
}

func (suite *TelescopeServiceTestSuite) TestConnectUsesDefaultPath() {
	require.NoError(suite.T(), suite.svc.Connect(""))
	assert.Equal(suite.T(), hardware.Connected, suite.svc.State())
	assert.Equal(suite.T(), "sim", suite.svc.Path())

	require.NoError(suite.T(), suite.svc.Disconnect())
	assert.Equal(suite.T(), hardware.Disconnected, suite.svc.State())
}

func (suite *TelescopeServiceTestSuite) TestConnectWithoutPath() {
	svc := NewTelescopeService(suite.sim.Opener(), TelescopeConfig{}, nil)
	err := svc.Connect("")
	assert.True(suite.T(), errors.Is(err, errors.ErrInvalidParam))
	assert.Equal(suite.T(), hardware.Disconnected, svc.State())
}

func (suite *TelescopeServiceTestSuite) TestSnapshot() {
	require.NoError(suite.T(), suite.svc.Connect(""))

	snap := suite.svc.Snapshot()
	assert.True(suite.T(), snap.Connected())
	assert.Equal(suite.T(), "sim", snap.Path)
	assert.Empty(suite.T(), snap.Errors)

	require.NotNil(suite.T(), snap.AzmAlt)
	assert.InDelta(suite.T(), 0, snap.AzmAlt.Azimuth, 1e-6)
	require.NotNil(suite.T(), snap.RADec)
	require.NotNil(suite.T(), snap.Tracking)
	assert.Equal(suite.T(), hardware.TrackingAltAz, *snap.Tracking)
	require.NotNil(suite.T(), snap.GotoInProgress)
	assert.False(suite.T(), *snap.GotoInProgress)
	require.NotNil(suite.T(), snap.Aligned)
	assert.True(suite.T(), *snap.Aligned)
	assert.Equal(suite.T(), "4.21", snap.Version)
	assert.Equal(suite.T(), "se45", snap.Model)

	next := suite.svc.Snapshot()
	assert.Greater(suite.T(), next.Sequence, snap.Sequence)
}

func (suite *TelescopeServiceTestSuite) TestSnapshotSignedAltitude() {
	require.NoError(suite.T(), suite.svc.Connect(""))
	suite.sim.SetPosition(hardware.AzmAlt(120, 350))

	snap := suite.svc.Snapshot()
	require.NotNil(suite.T(), snap.AzmAlt)
	assert.InDelta(suite.T(), 120, snap.AzmAlt.Azimuth, 1e-6)
	assert.InDelta(suite.T(), -10, snap.AzmAlt.Altitude, 1e-6)
}

func (suite *TelescopeServiceTestSuite) TestSnapshotWhileDisconnected() {
	snap := suite.svc.Snapshot()
	assert.False(suite.T(), snap.Connected())
	assert.Nil(suite.T(), snap.AzmAlt)
	assert.Empty(suite.T(), snap.Version)
	assert.Empty(suite.T(), snap.Errors)
}

func (suite *TelescopeServiceTestSuite) TestSnapshotRecordsFieldErrors() {
	require.NoError(suite.T(), suite.svc.Connect(""))
	// 型号查询返回缺少结束符的应答
	suite.sim.SetReplyHook(func(req, reply []byte) []byte {
		if req[0] == 'm' {
			return reply[:len(reply)-1]
		}
		return reply
	})

	snap := suite.svc.Snapshot()
	assert.True(suite.T(), snap.Connected())
	assert.Contains(suite.T(), snap.Errors, "model")
	assert.Empty(suite.T(), snap.Model)
	assert.Equal(suite.T(), "4.21", snap.Version)
}

func (suite *TelescopeServiceTestSuite) TestGotoAndWait() {
	require.NoError(suite.T(), suite.svc.Connect(""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target := hardware.AzmAlt(90, 45)
	require.NoError(suite.T(), suite.svc.GotoAndWait(ctx, target, hardware.PrecisionPrecise, 10*time.Millisecond))

	client, err := suite.svc.Client()
	require.NoError(suite.T(), err)
	pos, err := client.GetPosition(hardware.AzimuthAltitude, hardware.PrecisionPrecise)
	require.NoError(suite.T(), err)
	assert.InDelta(suite.T(), 90, pos.Azimuth(), hardware.PrecisionPrecise.Step())
	assert.InDelta(suite.T(), 45, pos.Altitude(), hardware.PrecisionPrecise.Step())
}

func (suite *TelescopeServiceTestSuite) TestGotoAndWaitDeadline() {
	suite.sim.GotoPolls = 1000
	require.NoError(suite.T(), suite.svc.Connect(""))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := suite.svc.GotoAndWait(ctx, hardware.AzmAlt(10, 10), hardware.PrecisionStandard, 10*time.Millisecond)
	assert.True(suite.T(), errors.Is(err, errors.ErrTimeout))

	// goto未被取消
	client, err := suite.svc.Client()
	require.NoError(suite.T(), err)
	inProgress, err := client.GetGotoInProgress()
	require.NoError(suite.T(), err)
	assert.True(suite.T(), inProgress)
}

func (suite *TelescopeServiceTestSuite) TestGotoAndWaitCanceled() {
	suite.sim.GotoPolls = 1000
	require.NoError(suite.T(), suite.svc.Connect(""))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	err := suite.svc.GotoAndWait(ctx, hardware.AzmAlt(10, 10), hardware.PrecisionStandard, 10*time.Millisecond)
	assert.True(suite.T(), errors.Is(err, errors.ErrCanceled))
}

func (suite *TelescopeServiceTestSuite) TestGotoAndWaitNotConnected() {
	err := suite.svc.GotoAndWait(context.Background(), hardware.AzmAlt(10, 10), hardware.PrecisionStandard, 0)
	assert.True(suite.T(), errors.Is(err, errors.ErrNotConnected))
}

func (suite *TelescopeServiceTestSuite) TestStateHandlersAndJournal() {
	var (
		mu          sync.Mutex
		transitions []hardware.ConnState
	)
	suite.svc.OnStateChange(func(prev, next hardware.ConnState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, next)
	})
	suite.svc.OnStateChange(nil)

	require.NoError(suite.T(), suite.svc.Connect(""))
	client, err := suite.svc.Client()
	require.NoError(suite.T(), err)
	_, err = client.GetVersion()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.svc.Disconnect())

	mu.Lock()
	assert.Equal(suite.T(), []hardware.ConnState{
		hardware.Connecting, hardware.Connected, hardware.Disconnecting, hardware.Disconnected,
	}, transitions)
	mu.Unlock()

	suite.journal.Flush()
	ctx := context.Background()

	logs, err := suite.journal.GetLatest(ctx, 10, "get_version")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), logs, 1)
	assert.Equal(suite.T(), "sim", logs[0].Path)
	assert.Equal(suite.T(), "V", logs[0].CommandID)
	assert.Equal(suite.T(), "56", logs[0].RequestHex)
	assert.False(suite.T(), logs[0].Failed())

	events, err := suite.journal.ListEvents(ctx, repository.NewPagination(1, 10))
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 4)
}

func TestTelescopeServiceSuite(t *testing.T) {
	suite.Run(t, new(TelescopeServiceTestSuite))
}
