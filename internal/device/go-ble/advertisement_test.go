package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mockAdvertisement implements ble.Advertisement for testing
type mockAdvertisement struct {
	mock.Mock
}

func (m *mockAdvertisement) LocalName() string { return m.Called().String(0) }

func (m *mockAdvertisement) ManufacturerData() []byte { return m.Called().Get(0).([]byte) }

func (m *mockAdvertisement) ServiceData() []ble.ServiceData {
	return m.Called().Get(0).([]ble.ServiceData)
}

func (m *mockAdvertisement) Services() []ble.UUID { return m.Called().Get(0).([]ble.UUID) }

func (m *mockAdvertisement) OverflowService() []ble.UUID { return m.Called().Get(0).([]ble.UUID) }

func (m *mockAdvertisement) TxPowerLevel() int { return m.Called().Int(0) }

func (m *mockAdvertisement) Connectable() bool { return m.Called().Bool(0) }

func (m *mockAdvertisement) SolicitedService() []ble.UUID {
	return m.Called().Get(0).([]ble.UUID)
}

func (m *mockAdvertisement) RSSI() int { return m.Called().Int(0) }

func (m *mockAdvertisement) Addr() ble.Addr { return m.Called().Get(0).(ble.Addr) }

func TestConvertAdvertisement(t *testing.T) {
	adv := &mockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr("aa:bb:cc:dd:ee:ff"))
	adv.On("LocalName").Return("Scoreboard")
	adv.On("RSSI").Return(-61)
	adv.On("Services").Return([]ble.UUID{ble.UUID16(0xffe0), ble.MustParse("0000180f-0000-1000-8000-00805f9b34fb")})
	adv.On("Connectable").Return(true)

	got := convertAdvertisement(adv)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", got.Address)
	assert.Equal(t, "Scoreboard", got.Name)
	assert.Equal(t, -61, got.RSSI)
	assert.Equal(t, []string{"ffe0", "180f"}, got.Services, "service UUIDs MUST be normalized")
	assert.True(t, got.Connectable)
	adv.AssertExpectations(t)
}
