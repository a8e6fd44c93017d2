//go:build test

package scoreboard_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/reconnect"
	"github.com/srg/scorectl/internal/scoreboard"
	"github.com/srg/scorectl/internal/store"
	"github.com/srg/scorectl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const displayID = "AA:BB:CC:DD:EE:FF"

var fixedNow = time.Date(2024, 3, 10, 9, 5, 7, 0, time.UTC)

type radioStub struct {
	off atomic.Bool
}

func (r *radioStub) Enabled() bool { return !r.off.Load() }

type RemoteTestSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	transport  *testutils.FakeTransport
	manager    *gatt.Manager
	supervisor *reconnect.Supervisor
	radio      *radioStub
	store      *store.MemoryStore
	remote     *scoreboard.Remote
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *RemoteTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = testutils.NewFakeTransport(testutils.DisplayPeripheral(displayID))
	s.manager = gatt.NewManager(s.transport, nil, s.helper.Logger, gatt.Options{})
	s.radio = &radioStub{}
	s.supervisor = reconnect.NewSupervisor(s.manager, s.radio, s.helper.Logger, reconnect.Options{
		InitialDelay:  time.Millisecond,
		AttemptDelay:  5 * time.Millisecond,
		Cooldown:      5 * time.Millisecond,
		CooldownEvery: 3,
	})
	s.store = store.NewMemoryStore()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.remote = scoreboard.NewRemote(s.ctx, s.manager, s.supervisor, s.store, s.helper.Logger, scoreboard.Options{
		Clock: func() time.Time { return fixedNow },
	})
}

func (s *RemoteTestSuite) TearDownTest() {
	s.remote.Shutdown()
	s.cancel()
	s.helper.Eventually(func() bool { return !s.supervisor.Running() }, time.Second, "supervisor MUST stop")
	s.manager.Close()
}

// writes returns the payloads written to the display characteristic.
func (s *RemoteTestSuite) writes() []string {
	var out []string
	for _, r := range s.transport.Requests() {
		if r.Op == "write" && r.UUID == scoreboard.DisplayCharacteristicUUID {
			out = append(out, string(r.Payload))
		}
	}
	return out
}

func (s *RemoteTestSuite) connect() {
	s.Require().NoError(s.remote.Connect(displayID))
	s.Require().True(s.remote.Ready(), "connect sequence MUST complete against the synchronous fake")
}

// TestConnectSequence
// GOAL: Verify the end of the connect sequence prepares the display
//
// TEST SCENARIO: connect → MTU changed → notifications enabled, time sent, last device stored
func (s *RemoteTestSuite) TestConnectSequence() {
	s.connect()

	s.Equal([]string{"connect", "discover", "mtu", "notify", "write-desc", "write"}, s.transport.RequestOps())
	s.Equal([]string{"SET_TIME=7 10.3.24 9:5:7\r\n"}, s.writes())
	s.True(s.transport.Link(displayID).Notifying(scoreboard.DisplayCharacteristicUUID))

	last, err := s.store.LastDevice()
	s.Require().NoError(err)
	s.Equal(displayID, last)
	s.Equal(displayID, s.remote.Display())
}

// TestSendScore
// GOAL: Verify score commands honour the orientation
func (s *RemoteTestSuite) TestSendScore() {
	s.connect()
	s.transport.ResetRequests()

	k := scoreboard.NewKeeper()
	for range 11 {
		k.Update(scoreboard.Score.IncrementLeft)
	}
	for range 9 {
		k.Update(scoreboard.Score.IncrementRight)
	}

	s.Require().NoError(s.remote.CommitScore(k))
	s.Require().NoError(s.remote.SendScore(k.Score(), true))

	s.Equal([]string{"SET_SCORE=11:9\r\n", "SET_SCORE=9:11\r\n"}, s.writes())
	s.Equal(scoreboard.ChangeNone, k.Pending(), "committed score MUST be confirmed")
	for _, r := range s.transport.Requests() {
		s.Equal(device.WriteWithoutResponse, r.Mode, "display characteristic only supports unacknowledged writes")
	}
}

// TestSettingsCommands
// GOAL: Verify every setting reaches the display as its command
func (s *RemoteTestSuite) TestSettingsCommands() {
	s.connect()
	s.transport.ResetRequests()

	s.Require().NoError(s.remote.SendBrightness(5))
	s.Require().NoError(s.remote.SetShowScore(false))
	s.Require().NoError(s.remote.SetShowDate(true))
	s.Require().NoError(s.remote.SetShowTime(false))
	s.Require().NoError(s.remote.SetScroll(true))
	s.Require().NoError(s.remote.SetAllLedsOn(true))
	s.Require().NoError(s.remote.RequestConfig())
	s.Require().NoError(s.remote.PersistConfig())

	s.Equal([]string{
		"SET_BRIGHT=5\r\n",
		"SET_SHOW_SCORE=0\r\n",
		"SET_SHOW_DATE=1\r\n",
		"SET_SHOW_TIME=0\r\n",
		"SET_SCROLL=1\r\n",
		"SET_ALL_LEDS_ON=1\r\n",
		"GET_CONFIG\r\n",
		"PERSIST_CONFIG=1\r\n",
	}, s.writes())

	s.ErrorIs(s.remote.SendBrightness(99), device.ErrInvalidArgument)
}

// TestApplyConfiguration
func (s *RemoteTestSuite) TestApplyConfiguration() {
	s.connect()
	s.transport.ResetRequests()

	cfg := scoreboard.DefaultConfiguration().WithBrightness(8).WithUseDate(true)
	s.Require().NoError(s.remote.ApplyConfiguration(cfg))

	s.Equal([]string{
		"SET_BRIGHT=8\r\n",
		"SET_SHOW_SCORE=1\r\n",
		"SET_SHOW_DATE=1\r\n",
		"SET_SHOW_TIME=1\r\n",
		"SET_SCROLL=0\r\n",
	}, s.writes())
	s.Equal(cfg, s.remote.Configuration())
}

// TestNotReady
// GOAL: Verify commands are refused before the display is connected
func (s *RemoteTestSuite) TestNotReady() {
	err := s.remote.SendScore(scoreboard.NewScore(1, 0), false)

	s.ErrorIs(err, scoreboard.ErrNotReady)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Empty(s.transport.Requests())
}

// TestChunkedWrites
// GOAL: Verify a command longer than the negotiated MTU is split in order
//
// TEST SCENARIO: MTU 23 → 26 byte SET_TIME → 20 + 6 byte writes
func (s *RemoteTestSuite) TestChunkedWrites() {
	s.transport.NegotiatedMTU(gatt.MinMTU)
	s.connect()

	w := s.writes()
	s.Require().Len(w, 2)
	s.Len(w[0], gatt.MinMTU-3)
	s.Equal("SET_TIME=7 10.3.24 9:5:7\r\n", strings.Join(w, ""))
}

// TestConfigurationMessage
// GOAL: Verify notification chunks are reassembled and CONFIG is decoded
//
// TEST SCENARIO: CONFIG split over three notifications plus an unknown line → one configuration, one raw message
func (s *RemoteTestSuite) TestConfigurationMessage() {
	var mu sync.Mutex
	var configs []scoreboard.Configuration
	var messages []string
	s.remote.OnConfiguration(func(c scoreboard.Configuration) {
		mu.Lock()
		defer mu.Unlock()
		configs = append(configs, c)
	})
	s.remote.OnMessage(func(m string) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, m)
	})
	s.connect()

	s.transport.Notify(displayID, "ffe1", []byte(`CONFIG={"brightness":7,`))
	s.transport.Notify(displayID, "ffe1", []byte(`"useScore":false}`+"\r"))
	s.transport.Notify(displayID, "ffe1", []byte("\nREADY\r\n"))
	s.transport.Notify(displayID, "2a1a", []byte("IGNORED\r\n"))

	want := scoreboard.DefaultConfiguration().WithBrightness(7).WithUseScore(false)
	mu.Lock()
	defer mu.Unlock()
	s.Equal([]scoreboard.Configuration{want}, configs)
	s.Equal([]string{"READY"}, messages, "only the display characteristic MUST be parsed")
	s.Equal(want, s.remote.Configuration())
	s.True(s.remote.Configuration().AskToBond, "askToBond MUST survive a display report")
}

// TestReconnectOnLinkLoss
// GOAL: Verify an unexpected disconnect starts the reconnection loop
func (s *RemoteTestSuite) TestReconnectOnLinkLoss() {
	s.connect()
	first := s.transport.Link(displayID)

	s.transport.Drop(displayID)

	s.helper.Eventually(func() bool {
		return s.remote.Ready() && s.transport.Link(displayID) != first
	}, time.Second, "display MUST be reconnected")
	s.helper.Eventually(func() bool { return !s.supervisor.Running() }, time.Second, "loop MUST end after reconnecting")

	sess, ok := s.manager.Session(displayID)
	s.Require().True(ok)
	s.Equal(reconnect.ReasonLastDevice, sess.Context)
}

// TestManualDisconnect
// GOAL: Verify a user disconnect does not trigger reconnection
func (s *RemoteTestSuite) TestManualDisconnect() {
	s.connect()

	s.Require().NoError(s.remote.Disconnect())
	s.False(s.manager.IsConnected(displayID))
	s.False(s.remote.Ready())

	time.Sleep(20 * time.Millisecond)
	s.False(s.supervisor.Running(), "manual disconnect MUST NOT start the supervisor")
	s.False(s.manager.IsConnected(displayID))
}

// TestRadioToggle
// GOAL: Verify radio off disconnects and radio on reconnects to the last display
func (s *RemoteTestSuite) TestRadioToggle() {
	s.connect()

	s.radio.off.Store(true)
	s.remote.SetRadioEnabled(false)
	s.False(s.manager.IsConnected(displayID), "radio off MUST disconnect all devices")
	s.helper.Eventually(func() bool { return !s.supervisor.Running() }, time.Second, "loop MUST give up while the radio is off")

	s.radio.off.Store(false)
	s.remote.SetRadioEnabled(true)
	s.helper.Eventually(func() bool { return s.remote.Ready() }, time.Second, "radio on MUST reconnect")
}

// TestAutoConnect
// GOAL: Verify the persisted display is used on start
func (s *RemoteTestSuite) TestAutoConnect() {
	_, err := s.remote.AutoConnect()
	s.ErrorIs(err, store.ErrNoDevice)

	s.Require().NoError(s.store.SetLastDevice(displayID))
	id, err := s.remote.AutoConnect()
	s.Require().NoError(err)
	s.Equal(displayID, id)

	s.helper.Eventually(func() bool { return s.remote.Ready() }, time.Second, "persisted display MUST be connected")
	sess, ok := s.manager.Session(displayID)
	s.Require().True(ok)
	s.Equal(reconnect.ReasonPersistedDevice, sess.Context)
}

// TestShutdown
// GOAL: Verify no reconnection happens once shutting down
func (s *RemoteTestSuite) TestShutdown() {
	s.connect()
	s.remote.Shutdown()

	s.transport.Drop(displayID)
	time.Sleep(20 * time.Millisecond)
	s.False(s.supervisor.Running())
	s.False(s.manager.IsConnected(displayID))
	s.Equal(0, s.manager.Listeners().Len(), "shutdown MUST unsubscribe the remote")
}

func TestRemoteTestSuite(t *testing.T) {
	suite.Run(t, new(RemoteTestSuite))
}
