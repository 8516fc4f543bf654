package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/handlink/internal/codec"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/locator"
	"github.com/srg/handlink/internal/permission"
	"github.com/srg/handlink/internal/session"
	"github.com/srg/handlink/internal/testutils"
	"github.com/srg/handlink/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ManagerSuite struct {
	testutils.FakeRadioSuite

	gate      permission.Gate
	locator   *locator.Locator
	manager   *session.Manager
	telemetry chan codec.Telemetry
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()
	if s.gate == nil {
		s.gate = permission.NewPlatformGate(permission.PlatformAndroid, 33, permission.GrantAll(), s.Logger)
	}
	s.rebuild()
}

func (s *ManagerSuite) TearDownTest() {
	if s.manager != nil {
		s.NoError(s.manager.Close())
		s.manager = nil
	}
	s.gate = nil
	s.FakeRadioSuite.TearDownTest()
}

// rebuild wires a fresh manager to the current radio and gate.
func (s *ManagerSuite) rebuild() {
	if s.manager != nil {
		_ = s.manager.Close()
	}
	cfg := locator.DefaultConfig()
	cfg.ScanTimeout = time.Second
	s.locator = locator.New(s.Radio, cfg, s.Logger)
	s.manager = session.New(s.gate, s.locator, session.DefaultConfig(), s.Logger)

	s.telemetry = make(chan codec.Telemetry, 64)
	s.Require().NoError(s.manager.OnTelemetry(func(t codec.Telemetry) {
		s.telemetry <- t
	}))
}

func (s *ManagerSuite) handChar(p *testutils.FakePeripheral) *testutils.FakeCharacteristic {
	c := p.Char(codec.ServiceUUID, codec.CharacteristicUUID)
	s.Require().NotNil(c)
	return c
}

func (s *ManagerSuite) connect() (*testutils.FakePeripheral, *testutils.FakeCharacteristic) {
	s.Require().NoError(s.manager.Connect(context.Background()))
	s.Require().Equal(session.Ready, s.manager.State())
	p := s.Radio.LastPeripheral()
	return p, s.handChar(p)
}

func (s *ManagerSuite) drainEvents() []session.Event {
	var out []session.Event
	for {
		select {
		case ev := <-s.manager.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (s *ManagerSuite) awaitTelemetry() codec.Telemetry {
	select {
	case t := <-s.telemetry:
		return t
	case <-time.After(s.TestTimeout):
		s.FailNow("telemetry MUST be delivered")
		return codec.Telemetry{}
	}
}

func (s *ManagerSuite) assertNoTelemetry(wait time.Duration) {
	select {
	case t := <-s.telemetry:
		s.Failf("unexpected telemetry", "stale record delivered: %+v", t)
	case <-time.After(wait):
	}
}

func frame(pitch, roll, yaw float64) []byte {
	return codec.EncodeTelemetry(codec.Telemetry{Pitch: pitch, Roll: roll, Yaw: yaw})
}

func (s *ManagerSuite) TestConnectReachesReady() {
	// GOAL: Verify Connect walks the whole pipeline and reports it in order
	//
	// TEST SCENARIO: Granted permissions, hand advertised → Ready, status text and reset emitted

	s.Equal(session.NotConnectedText, s.manager.Status().Text())

	_, c := s.connect()

	st := s.manager.Status()
	s.Equal("Connected to: nimble-ble", st.Text())
	s.NoError(st.Reason)
	s.True(c.Subscribed(), "hand characteristic MUST be subscribed in Ready")

	var states []session.State
	var kinds []session.EventKind
	for _, ev := range s.drainEvents() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == session.EventStatus {
			states = append(states, ev.Status.State)
		}
	}
	s.Equal([]session.State{
		session.AwaitingPermission,
		session.Scanning,
		session.Connecting,
		session.DiscoveringServices,
		session.Subscribing,
		session.Ready,
	}, states)
	s.Equal(session.EventReset, kinds[len(kinds)-1], "reset MUST follow the Ready status")
}

func (s *ManagerSuite) TestEndToEndCommand() {
	// GOAL: Verify a command is written with response once Ready
	//
	// TEST SCENARIO: permission → scan → Ready → "up" succeeds

	_, c := s.connect()

	s.True(s.manager.SendCommand(context.Background(), codec.CommandUp))
	s.Equal([]string{"up"}, c.Writes())
	s.Equal([]bool{true}, c.WithResponse(), "commands MUST be written with response")
}

func (s *ManagerSuite) TestSendCommandOutsideReady() {
	// GOAL: Verify no write happens unless the session is Ready
	//
	// TEST SCENARIO: Idle → false; Failed → false; after Disconnect → false

	s.False(s.manager.SendCommand(context.Background(), codec.CommandUp), "Idle MUST NOT write")

	s.Radio.SetState(device.StatePoweredOff)
	s.Error(s.manager.Connect(context.Background()))
	s.Equal(session.Failed, s.manager.State())
	s.False(s.manager.SendCommand(context.Background(), codec.CommandToggle), "Failed MUST NOT write")

	s.Radio.SetState(device.StatePoweredOn)
	_, c := s.connect()
	s.Require().NoError(s.manager.Disconnect())
	s.False(s.manager.SendCommand(context.Background(), codec.CommandDown), "Idle after Disconnect MUST NOT write")
	s.Empty(c.Writes())
}

func (s *ManagerSuite) TestWriteFailure() {
	_, c := s.connect()
	c.SetWriteError(errors.New("att: write rejected"))

	s.False(s.manager.SendCommand(context.Background(), codec.CommandUp))
	s.Equal(session.Ready, s.manager.State(), "write failure MUST NOT tear the session down")
}

func (s *ManagerSuite) TestTelemetryInOrder() {
	_, c := s.connect()

	for i := 1; i <= 5; i++ {
		s.True(c.Notify(frame(float64(i), 0, 0)))
	}
	for i := 1; i <= 5; i++ {
		s.Equal(float64(i), s.awaitTelemetry().Pitch, "telemetry MUST arrive in notification order")
	}

	latest, ok := s.manager.Latest()
	s.True(ok)
	s.Equal(5.0, latest.Pitch)
}

func (s *ManagerSuite) TestMalformedTelemetryKeepsLastGood() {
	// GOAL: Verify bad frames are dropped and the last good record survives
	//
	// TEST SCENARIO: good frame → garbage → missing field → good frame; only the good ones are delivered

	_, c := s.connect()

	c.Notify(frame(10, 20, 30))
	s.Equal(codec.Telemetry{Pitch: 10, Roll: 20, Yaw: 30}, s.awaitTelemetry())

	c.Notify([]byte("not json"))
	c.Notify([]byte(`{"rpy":{"pitch":1,"roll":2}}`))
	s.assertNoTelemetry(50 * time.Millisecond)

	latest, ok := s.manager.Latest()
	s.True(ok)
	s.Equal(codec.Telemetry{Pitch: 10, Roll: 20, Yaw: 30}, latest, "last good record MUST be untouched")

	c.Notify(frame(-1, -2, -3))
	s.Equal(codec.Telemetry{Pitch: -1, Roll: -2, Yaw: -3}, s.awaitTelemetry())
}

func (s *ManagerSuite) TestLatestOnlyWhileReady() {
	_, ok := s.manager.Latest()
	s.False(ok)

	_, c := s.connect()
	_, ok = s.manager.Latest()
	s.False(ok, "no record MUST be reported before the first notification")

	c.Notify(frame(1, 1, 1))
	s.awaitTelemetry()
	s.Require().NoError(s.manager.Disconnect())

	_, ok = s.manager.Latest()
	s.False(ok, "telemetry MUST be cleared at teardown")
}

func (s *ManagerSuite) TestReconnectTearsDownPrevious() {
	// GOAL: Verify reconnecting while Ready disconnects the previous handle first
	//
	// TEST SCENARIO: Connect twice; first peripheral disconnected, its late notifications never reach the subscriber

	p1, c1 := s.connect()
	c1.Notify(frame(1, 1, 1))
	s.awaitTelemetry()

	p2, c2 := s.connect()
	s.NotSame(p1, p2)

	s.Equal(1, p1.DisconnectCalls(), "previous peripheral MUST be disconnected")
	s.False(p1.IsConnected())
	s.True(p2.IsConnected())
	s.False(c1.Subscribed(), "previous characteristic MUST be unsubscribed")
	s.Equal(1, c1.Unsubscribes())

	connected := 0
	for _, p := range s.Radio.Peripherals() {
		if p.IsConnected() {
			connected++
		}
	}
	s.Equal(1, connected, "at most one peripheral MUST be connected")

	c1.NotifyLate(frame(99, 99, 99))
	s.assertNoTelemetry(50 * time.Millisecond)

	c2.Notify(frame(2, 2, 2))
	s.Equal(2.0, s.awaitTelemetry().Pitch)
}

func (s *ManagerSuite) TestPermissionDenied() {
	s.gate = permission.NewPlatformGate(permission.PlatformAndroid, 33, permission.StaticRequester{
		permission.BluetoothScan:    permission.Granted,
		permission.BluetoothConnect: permission.NeverAskAgain,
	}, s.Logger)
	s.rebuild()

	err := s.manager.Connect(context.Background())
	s.ErrorIs(err, device.ErrPermissionDenied)

	st := s.manager.Status()
	s.Equal(session.Failed, st.State)
	s.ErrorIs(st.Reason, device.ErrPermissionDenied)
	s.Equal(session.NotConnectedText, st.Text())
	s.Equal(0, s.Radio.Scans(), "scan MUST NOT start without permission")
}

func (s *ManagerSuite) TestRetryFromFailed() {
	s.Radio.SetState(device.StatePoweredOff)
	err := s.manager.Connect(context.Background())
	s.ErrorIs(err, device.ErrRadioUnavailable)
	s.Equal(session.Failed, s.manager.State())
	s.drainEvents()

	s.Radio.SetState(device.StatePoweredOn)
	s.connect()

	events := s.drainEvents()
	s.Require().NotEmpty(events)
	s.Equal(session.Idle, events[0].Status.State, "retry MUST pass through Idle")
}

func (s *ManagerSuite) TestScanTimeoutFails() {
	s.RadioBuilder = testutils.NewRadioBuilder().
		WithAdvertisements(testutils.Advertisements("otherA", "otherB")...)
	s.FakeRadioSuite.SetupTest()
	s.rebuild()

	err := s.manager.Connect(context.Background())
	s.ErrorIs(err, device.ErrScanTimeout)
	s.ErrorIs(s.manager.Status().Reason, device.ErrScanTimeout)
}

func (s *ManagerSuite) TestSubscribeFailures() {
	s.Run("characteristic missing", func() {
		s.RadioBuilder = testutils.NewRadioBuilder().
			WithAdvertisements(testutils.Advertisements(testutils.HandDeviceName)...).
			WithService(codec.ServiceUUID).
			WithCharacteristic("2a19", "read,notify")
		s.FakeRadioSuite.SetupTest()
		s.rebuild()

		err := s.manager.Connect(context.Background())
		s.ErrorIs(err, device.ErrConnection)
		var nf *device.NotFoundError
		s.ErrorAs(err, &nf)
		s.Equal(1, s.Radio.LastPeripheral().DisconnectCalls())
	})

	s.Run("characteristic cannot notify", func() {
		s.RadioBuilder = testutils.NewRadioBuilder().
			WithAdvertisements(testutils.Advertisements(testutils.HandDeviceName)...).
			WithService(codec.ServiceUUID).
			WithCharacteristic(codec.CharacteristicUUID, "write")
		s.FakeRadioSuite.SetupTest()
		s.rebuild()

		s.ErrorIs(s.manager.Connect(context.Background()), device.ErrConnection)
		s.Equal(session.Failed, s.manager.State())
	})
}

func (s *ManagerSuite) TestLinkLost() {
	// GOAL: Verify a peripheral-initiated disconnect fails the session without retry
	//
	// TEST SCENARIO: Ready → link drops → Failed(connection lost), no new scan

	p, c := s.connect()
	c.Notify(frame(1, 2, 3))
	s.awaitTelemetry()

	p.Drop()

	s.Eventually(func() bool {
		return s.manager.State() == session.Failed
	}, s.TestTimeout, 5*time.Millisecond)

	st := s.manager.Status()
	s.ErrorIs(st.Reason, device.ErrConnection)
	s.ErrorIs(st.Reason, device.ErrNotConnected)
	s.False(c.Subscribed())
	s.Equal(1, s.Radio.Scans(), "link loss MUST NOT trigger an automatic reconnect")

	_, ok := s.manager.Latest()
	s.False(ok)
	s.False(s.manager.SendCommand(context.Background(), codec.CommandUp))
}

func (s *ManagerSuite) TestTeardownReportsOverwrittenFrames() {
	// GOAL: Verify the notification buffer statistics are reported when a link ends
	//
	// TEST SCENARIO: buffer of 1, subscriber stuck on frame 1 → frames 2..4 overwrite twice → teardown warns with the counts

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := session.DefaultConfig()
	cfg.TelemetryBuffer = 1
	_ = s.manager.Close()
	s.manager = session.New(s.gate, s.locator, cfg, logger)

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	s.Require().NoError(s.manager.OnTelemetry(func(codec.Telemetry) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}))

	_, c := s.connect()
	c.Notify(frame(1, 0, 0))
	select {
	case <-entered:
	case <-time.After(s.TestTimeout):
		s.FailNow("first frame MUST reach the subscriber")
	}
	c.Notify(frame(2, 0, 0))
	c.Notify(frame(3, 0, 0))
	c.Notify(frame(4, 0, 0))

	close(release)
	s.Require().NoError(s.manager.Disconnect())

	var stats *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Telemetry frames overwritten before delivery" {
			stats = e
		}
	}
	s.Require().NotNil(stats, "teardown MUST report overwritten frames")
	s.Equal(logrus.WarnLevel, stats.Level)
	s.Equal(int64(4), stats.Data["frames_written"])
	s.Equal(int64(2), stats.Data["frames_overwritten"])
	s.Equal(1, stats.Data["buffer"])
}

func (s *ManagerSuite) TestDisconnect() {
	p, _ := s.connect()

	s.Require().NoError(s.manager.Disconnect())
	s.Equal(session.Idle, s.manager.State())
	s.Equal(session.NotConnectedText, s.manager.Status().Text())
	s.False(p.IsConnected())

	s.NoError(s.manager.Disconnect(), "Disconnect while Idle MUST be a no-op")
	s.Equal(1, p.DisconnectCalls())
}

func (s *ManagerSuite) TestSecondSubscriberRejected() {
	err := s.manager.OnTelemetry(func(codec.Telemetry) {})
	s.ErrorIs(err, session.ErrSubscriberRegistered)
	s.Error(s.manager.OnTelemetry(nil))
}

func (s *ManagerSuite) TestConcurrentConnectIgnored() {
	// GOAL: Verify a Connect issued while another is in flight is ignored
	//
	// TEST SCENARIO: First Connect blocks in the permission step; second returns ErrConnectInProgress without touching state

	release := make(chan struct{})
	gate := &mocks.MockGate{}
	gate.On("Request", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(true)
	s.gate = gate
	s.rebuild()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = s.manager.Connect(context.Background())
	}()

	s.Eventually(func() bool {
		return s.manager.State() == session.AwaitingPermission
	}, s.TestTimeout, time.Millisecond)

	s.ErrorIs(s.manager.Connect(context.Background()), session.ErrConnectInProgress)
	s.Equal(session.AwaitingPermission, s.manager.State(), "ignored Connect MUST NOT change state")

	close(release)
	wg.Wait()
	s.NoError(firstErr)
	s.Equal(session.Ready, s.manager.State())
	s.Len(s.Radio.Connects(), 1)
	gate.AssertNumberOfCalls(s.T(), "Request", 1)
}

func (s *ManagerSuite) TestDisconnectCancelsConnect() {
	gate := &mocks.MockGate{}
	gate.On("Request", mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(false)
	s.gate = gate
	s.rebuild()

	errCh := make(chan error, 1)
	go func() { errCh <- s.manager.Connect(context.Background()) }()

	s.Eventually(func() bool {
		return s.manager.State() == session.AwaitingPermission
	}, s.TestTimeout, time.Millisecond)

	s.Require().NoError(s.manager.Disconnect())
	s.ErrorIs(<-errCh, context.Canceled)
	s.Equal(session.Idle, s.manager.State())
}
