package scoreboard

import (
	"fmt"
	"strings"
)

// MessageKind classifies a line received from the display.
type MessageKind int

const (
	MessageUnknown MessageKind = iota
	MessageConfig
)

func (k MessageKind) String() string {
	if k == MessageConfig {
		return "config"
	}
	return "unknown"
}

// Message is one parsed line from the display.
type Message struct {
	Kind   MessageKind
	Raw    string
	Config Configuration
}

// ParseMessage decodes a line without its CRLF. Lines other than
// CONFIG=<json> come back as MessageUnknown with Raw set.
func ParseMessage(line string) (Message, error) {
	msg := Message{Kind: MessageUnknown, Raw: line}

	payload, ok := strings.CutPrefix(line, PrefixConfig)
	if !ok {
		return msg, nil
	}
	cfg, err := DecodeConfiguration([]byte(payload))
	if err != nil {
		return msg, fmt.Errorf("failed to decode %s message: %w", strings.TrimSuffix(PrefixConfig, "="), err)
	}
	msg.Kind = MessageConfig
	msg.Config = cfg
	return msg, nil
}
