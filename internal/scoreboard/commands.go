package scoreboard

import (
	"fmt"
	"strconv"
	"time"
)

// CRLF terminates every command and every message from the display.
const CRLF = "\r\n"

const (
	PrefixSetScore      = "SET_SCORE="
	PrefixSetTime       = "SET_TIME="
	PrefixSetAllLedsOn  = "SET_ALL_LEDS_ON="
	PrefixSetBrightness = "SET_BRIGHT="
	PrefixSetShowScore  = "SET_SHOW_SCORE="
	PrefixSetShowDate   = "SET_SHOW_DATE="
	PrefixSetShowTime   = "SET_SHOW_TIME="
	PrefixSetScroll     = "SET_SCROLL="
	PrefixPersistConfig = "PERSIST_CONFIG="
	PrefixConfig        = "CONFIG="

	CmdGetConfig = "GET_CONFIG"
)

// Command is one ASCII line for the display, without the terminator.
type Command string

// Bytes returns the wire form, CRLF included.
func (c Command) Bytes() []byte {
	return []byte(string(c) + CRLF)
}

func (c Command) String() string { return string(c) }

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// ScoreCommand renders the score as the display shows it: left:right, or
// right:left when the remote is reversed.
func ScoreCommand(s Score, reversed bool) Command {
	if reversed {
		s = s.Swap()
	}
	return Command(PrefixSetScore + s.String())
}

// TimeCommand renders t as "<weekday> d.M.yy H:m:s" with the ISO weekday
// (Monday=1 .. Sunday=7) and no zero padding except the two digit year.
func TimeCommand(t time.Time) Command {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return Command(fmt.Sprintf("%s%d %d.%d.%02d %d:%d:%d",
		PrefixSetTime, weekday,
		t.Day(), int(t.Month()), t.Year()%100,
		t.Hour(), t.Minute(), t.Second()))
}

// BrightnessCommand fails for levels outside [MinBrightness, MaxBrightness].
func BrightnessCommand(level int) (Command, error) {
	if level < MinBrightness || level > MaxBrightness {
		return "", fmt.Errorf("brightness %d out of range [%d, %d]", level, MinBrightness, MaxBrightness)
	}
	return Command(PrefixSetBrightness + strconv.Itoa(level)), nil
}

func ShowScoreCommand(v bool) Command { return Command(PrefixSetShowScore + flag(v)) }
func ShowDateCommand(v bool) Command  { return Command(PrefixSetShowDate + flag(v)) }
func ShowTimeCommand(v bool) Command  { return Command(PrefixSetShowTime + flag(v)) }

// ScrollCommand selects scrolling (true) or alternating (false) display mode.
func ScrollCommand(v bool) Command { return Command(PrefixSetScroll + flag(v)) }

func AllLedsOnCommand(v bool) Command { return Command(PrefixSetAllLedsOn + flag(v)) }

// PersistConfigCommand asks the display to store its current setup in flash.
func PersistConfigCommand() Command { return Command(PrefixPersistConfig + "1") }

func GetConfigCommand() Command { return CmdGetConfig }

// ConfigurationCommands returns the commands that apply c to the display.
func ConfigurationCommands(c Configuration) ([]Command, error) {
	bright, err := BrightnessCommand(c.Brightness)
	if err != nil {
		return nil, err
	}
	return []Command{
		bright,
		ShowScoreCommand(c.UseScore),
		ShowDateCommand(c.UseDate),
		ShowTimeCommand(c.UseTime),
		ScrollCommand(c.Scroll),
	}, nil
}
