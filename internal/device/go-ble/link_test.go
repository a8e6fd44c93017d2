//go:build test

package goble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/testutils"
	blemocks "github.com/srg/scorectl/internal/testutils/mocks/goble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const linkTestID = "aa:bb:cc:dd:ee:ff"

type LinkTestSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	originalFactory func() (ble.Device, error)

	dev       *blemocks.MockDevice
	client    *blemocks.MockClient
	char      *ble.Characteristic
	transport *Transport
	manager   *gatt.Manager
	listener  *gatt.Listener

	mu      sync.Mutex
	events  []string
	handler ble.NotificationHandler
}

func (suite *LinkTestSuite) SetupSuite() {
	suite.originalFactory = DeviceFactory
}

func (suite *LinkTestSuite) TearDownSuite() {
	DeviceFactory = suite.originalFactory
}

func (suite *LinkTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.events = nil
	suite.handler = nil

	suite.char = &ble.Characteristic{
		UUID:     ble.UUID16(0xffe1),
		Property: ble.CharRead | ble.CharWriteNR | ble.CharNotify,
	}
	profile := &ble.Profile{Services: []*ble.Service{{
		UUID:            ble.UUID16(0xffe0),
		Characteristics: []*ble.Characteristic{suite.char},
	}}}

	suite.client = blemocks.NewMockClient()
	suite.client.On("DiscoverProfile", true).Return(profile, nil)
	suite.client.On("ExchangeMTU", mock.Anything).Return(185, nil)
	suite.client.On("Subscribe", suite.char, false, mock.Anything).
		Run(func(args mock.Arguments) {
			suite.mu.Lock()
			defer suite.mu.Unlock()
			suite.handler = args.Get(2).(ble.NotificationHandler)
		}).
		Return(nil)
	suite.client.On("WriteCharacteristic", suite.char, mock.Anything, true).Return(nil)
	suite.client.On("CancelConnection").Return(nil).Maybe()

	suite.dev = &blemocks.MockDevice{}
	suite.dev.On("Dial", mock.Anything, ble.NewAddr(linkTestID)).Return(suite.client, nil)
	DeviceFactory = func() (ble.Device, error) { return suite.dev, nil }

	suite.transport = NewTransport(suite.helper.Logger, time.Second)
	suite.manager = gatt.NewManager(suite.transport, nil, suite.helper.Logger, gatt.Options{OperationTimeout: 2 * time.Second})

	// Enabling notifications from inside the MTU callback is what the remote does
	suite.listener = &gatt.Listener{
		OnConnect: func(id string) { suite.record("connect:%s", id) },
		OnMTUChanged: func(id string, mtu int) {
			suite.record("mtu:%s:%d", id, mtu)
			if err := suite.manager.EnableNotifications(id, "ffe1"); err != nil {
				suite.record("error:%v", err)
			}
		},
		OnNotificationsEnabled: func(id string, c *device.Characteristic) { suite.record("notify:%s:%s", id, c.UUID) },
		OnCharacteristicWrite: func(id string, c *device.Characteristic, v []byte) {
			suite.record("write:%s:%s:%s", id, c.UUID, v)
		},
		OnCharacteristicChanged: func(id string, c *device.Characteristic, v []byte) {
			suite.record("changed:%s:%s:%s", id, c.UUID, v)
		},
		OnDisconnect: func(id string) { suite.record("disconnect:%s", id) },
	}
	suite.manager.RegisterListener(suite.listener)
}

func (suite *LinkTestSuite) TearDownTest() {
	suite.manager.Close()
}

func (suite *LinkTestSuite) record(format string, args ...any) {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.events = append(suite.events, fmt.Sprintf(format, args...))
}

func (suite *LinkTestSuite) recorded() []string {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	return append([]string(nil), suite.events...)
}

func (suite *LinkTestSuite) has(event string) func() bool {
	return func() bool { return slices.Contains(suite.recorded(), event) }
}

func (suite *LinkTestSuite) count(event string) int {
	n := 0
	for _, e := range suite.recorded() {
		if e == event {
			n++
		}
	}
	return n
}

func (suite *LinkTestSuite) notificationHandler() ble.NotificationHandler {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	return suite.handler
}

// connectAndSubscribe runs the full connect sequence and waits for notifications.
func (suite *LinkTestSuite) connectAndSubscribe() {
	suite.Require().NoError(suite.manager.Connect(linkTestID, nil), "connect MUST be queued")
	suite.helper.Eventually(suite.has("notify:"+linkTestID+":ffe1"), 2*time.Second,
		"notifications MUST be enabled after the MTU exchange")
}

func (suite *LinkTestSuite) TestConnectSequenceThroughManager() {
	// GOAL: Verify the go-ble link drives the manager through a full session lifecycle
	//
	// TEST SCENARIO: Connect → discover → MTU → enable notifications from the MTU callback → write → notification → stack disconnect

	suite.connectAndSubscribe()

	suite.True(suite.manager.IsConnected(linkTestID), "device MUST be connected")
	s, ok := suite.manager.Session(linkTestID)
	suite.Require().True(ok, "session MUST exist")
	suite.Equal(185, s.MTU(), "session MUST carry the negotiated MTU")
	suite.NotContains(fmt.Sprint(suite.recorded()), "error:", "enabling notifications MUST be accepted")

	suite.Require().NoError(suite.manager.WriteCharacteristic(linkTestID, "ffe1", []byte("1:0"), device.WriteWithoutResponse))
	suite.helper.Eventually(suite.has("write:"+linkTestID+":ffe1:1:0"), time.Second, "write MUST complete")
	suite.client.AssertCalled(suite.T(), "WriteCharacteristic", suite.char, []byte("1:0"), true)

	handler := suite.notificationHandler()
	suite.Require().NotNil(handler, "subscribe MUST install a notification handler")
	handler([]byte("ack"))
	suite.helper.Eventually(suite.has("changed:"+linkTestID+":ffe1:ack"), time.Second,
		"notification MUST reach listeners")

	suite.client.Disconnect()
	suite.helper.Eventually(suite.has("disconnect:"+linkTestID), time.Second,
		"stack-reported disconnect MUST reach listeners")
	suite.False(suite.manager.IsConnected(linkTestID), "session MUST be torn down")
	suite.client.AssertNotCalled(suite.T(), "CancelConnection")
	suite.client.AssertExpectations(suite.T())
}

func (suite *LinkTestSuite) TestDisconnectSuppressesStackEvent() {
	// GOAL: Verify a locally closed link does not report the stack's later disconnect
	//
	// TEST SCENARIO: Connect → manager disconnect → stack closes Disconnected() → exactly one OnDisconnect

	suite.connectAndSubscribe()

	suite.Require().NoError(suite.manager.Disconnect(linkTestID))
	suite.helper.Eventually(suite.has("disconnect:"+linkTestID), time.Second, "disconnect MUST reach listeners")
	suite.client.AssertNumberOfCalls(suite.T(), "CancelConnection", 1)

	suite.client.Disconnect()
	suite.Never(func() bool { return suite.count("disconnect:"+linkTestID) > 1 }, 100*time.Millisecond, 5*time.Millisecond,
		"stack disconnect after Close MUST NOT be reported again")
}

func (suite *LinkTestSuite) TestCloseSilencesMonitor() {
	// GOAL: Verify Close on a bare link suppresses the monitor and rejects further requests
	//
	// TEST SCENARIO: newLink → monitor → Close → stack disconnect → no event, requests fail with ErrClosed

	var mu sync.Mutex
	var got []device.Event
	suite.transport.SetEventHandler(func(ev device.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	l := newLink(suite.transport, linkTestID, suite.client)
	l.monitor()

	suite.Require().NoError(l.Close())
	suite.NoError(l.Close(), "second Close MUST be a no-op")
	suite.client.AssertNumberOfCalls(suite.T(), "CancelConnection", 1)

	suite.client.Disconnect()
	suite.Never(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 100*time.Millisecond, 5*time.Millisecond, "closed link MUST NOT emit events")

	suite.ErrorIs(l.DiscoverServices(), device.ErrClosed)
	suite.ErrorIs(l.RequestMTU(23), device.ErrClosed)
	c := &device.Characteristic{UUID: "ffe1", Properties: device.PropNotify, Handle: suite.char}
	suite.ErrorIs(l.SetNotify(c, true), device.ErrClosed)
	suite.client.AssertNotCalled(suite.T(), "DiscoverProfile", mock.Anything)
}

func (suite *LinkTestSuite) TestScanUsesDevice() {
	// GOAL: Verify Scan goes through the platform device and normalizes its errors
	//
	// TEST SCENARIO: Device scan canceled → nil; device reports Bluetooth off → ErrBluetoothOff

	suite.dev.On("Scan", mock.Anything, false, mock.Anything).Return(context.Canceled).Once()
	suite.NoError(suite.transport.Scan(context.Background(), false, func(device.Advertisement) {}),
		"cancellation MUST NOT be an error")

	suite.dev.On("Scan", mock.Anything, false, mock.Anything).Return(errors.New("Bluetooth is turned off")).Once()
	err := suite.transport.Scan(context.Background(), false, func(device.Advertisement) {})
	suite.ErrorIs(err, device.ErrBluetoothOff, "scan error MUST be normalized")
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}
