package scoreboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeCommand(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"sunday is 7", time.Date(2024, 3, 10, 9, 5, 7, 0, time.UTC), "SET_TIME=7 10.3.24 9:5:7"},
		{"monday is 1", time.Date(2025, 1, 6, 13, 45, 0, 0, time.UTC), "SET_TIME=1 6.1.25 13:45:0"},
		{"two digit year", time.Date(2009, 12, 31, 23, 59, 59, 0, time.UTC), "SET_TIME=4 31.12.09 23:59:59"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := TimeCommand(tt.at)
			assert.Equal(t, tt.want, cmd.String())
			assert.Equal(t, []byte(tt.want+"\r\n"), cmd.Bytes())
		})
	}
}

func TestBrightnessCommand(t *testing.T) {
	cmd, err := BrightnessCommand(7)
	require.NoError(t, err)
	assert.Equal(t, "SET_BRIGHT=7\r\n", string(cmd.Bytes()))

	for _, level := range []int{-1, MaxBrightness + 1} {
		_, err := BrightnessCommand(level)
		assert.Error(t, err, "level %d MUST be rejected", level)
	}
}

func TestFlagCommands(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{ShowScoreCommand(true), "SET_SHOW_SCORE=1\r\n"},
		{ShowDateCommand(false), "SET_SHOW_DATE=0\r\n"},
		{ShowTimeCommand(true), "SET_SHOW_TIME=1\r\n"},
		{ScrollCommand(true), "SET_SCROLL=1\r\n"},
		{ScrollCommand(false), "SET_SCROLL=0\r\n"},
		{AllLedsOnCommand(true), "SET_ALL_LEDS_ON=1\r\n"},
		{PersistConfigCommand(), "PERSIST_CONFIG=1\r\n"},
		{GetConfigCommand(), "GET_CONFIG\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.cmd.Bytes()))
		})
	}
}

func TestConfigurationCommands(t *testing.T) {
	cmds, err := ConfigurationCommands(DefaultConfiguration().WithScroll(true))
	require.NoError(t, err)
	assert.Equal(t, []Command{
		"SET_BRIGHT=3",
		"SET_SHOW_SCORE=1",
		"SET_SHOW_DATE=0",
		"SET_SHOW_TIME=1",
		"SET_SCROLL=1",
	}, cmds)

	_, err = ConfigurationCommands(Configuration{Brightness: 42})
	assert.Error(t, err)
}
