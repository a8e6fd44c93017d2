package scoreboard

import (
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/mcuadros/go-defaults"
)

const (
	MinBrightness = 0
	MaxBrightness = 15
)

// Configuration is the display setup. AskToBond is a remote-side setting
// and is never sent to or received from the display.
type Configuration struct {
	Brightness int  `json:"brightness" yaml:"brightness" default:"3"`
	UseScore   bool `json:"useScore" yaml:"use_score" default:"true"`
	UseDate    bool `json:"useDate" yaml:"use_date" default:"false"`
	UseTime    bool `json:"useTime" yaml:"use_time" default:"true"`
	Scroll     bool `json:"scroll" yaml:"scroll" default:"false"`
	AskToBond  bool `json:"-" yaml:"ask_to_bond" default:"true"`
}

// DefaultConfiguration returns the factory setup of the display.
func DefaultConfiguration() Configuration {
	var c Configuration
	defaults.SetDefaults(&c)
	return c
}

func (c Configuration) WithBrightness(level int) Configuration {
	c.Brightness = max(MinBrightness, min(MaxBrightness, level))
	return c
}

func (c Configuration) WithUseScore(v bool) Configuration { c.UseScore = v; return c }
func (c Configuration) WithUseDate(v bool) Configuration  { c.UseDate = v; return c }
func (c Configuration) WithUseTime(v bool) Configuration  { c.UseTime = v; return c }
func (c Configuration) WithScroll(v bool) Configuration   { c.Scroll = v; return c }

func (c Configuration) WithAskToBond(v bool) Configuration {
	c.AskToBond = v
	return c
}

// MarshalJSON renders the display form of c.
func (c Configuration) MarshalJSON() ([]byte, error) {
	type plain Configuration
	return json.Marshal(plain(c))
}

// DecodeConfiguration parses the JSON the display sends after GET_CONFIG.
// Fields the display omits keep their defaults; unknown fields are ignored.
func DecodeConfiguration(data []byte) (Configuration, error) {
	c := DefaultConfiguration()

	err := jsonparser.ObjectEach(data, func(key, value []byte, vt jsonparser.ValueType, _ int) error {
		var err error
		switch string(key) {
		case "brightness":
			err = expect(key, vt, jsonparser.Number)
			if err == nil {
				var n int64
				if n, err = jsonparser.ParseInt(value); err == nil {
					c = c.WithBrightness(int(n))
				}
			}
		case "useScore":
			c.UseScore, err = parseBool(key, value, vt)
		case "useDate":
			c.UseDate, err = parseBool(key, value, vt)
		case "useTime":
			c.UseTime, err = parseBool(key, value, vt)
		case "scroll":
			c.Scroll, err = parseBool(key, value, vt)
		}
		return err
	})
	if err != nil {
		return DefaultConfiguration(), fmt.Errorf("invalid configuration %q: %w", data, err)
	}
	return c, nil
}

func expect(key []byte, got, want jsonparser.ValueType) error {
	if got != want {
		return fmt.Errorf("field %s: expected %s, got %s", key, want, got)
	}
	return nil
}

func parseBool(key, value []byte, vt jsonparser.ValueType) (bool, error) {
	if err := expect(key, vt, jsonparser.Boolean); err != nil {
		return false, err
	}
	return jsonparser.ParseBoolean(value)
}
