package scoreboard

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// DefaultAssemblerCapacity bounds a single pending message.
const DefaultAssemblerCapacity = 2048

var crlf = []byte(CRLF)

// LineAssembler turns notification chunks into CRLF-terminated messages.
// The display may split one message over several notifications, or pack
// several messages into one.
type LineAssembler struct {
	mu     sync.Mutex
	buf    *ringbuffer.RingBuffer
	logger *logrus.Logger
}

func NewLineAssembler(capacity int, logger *logrus.Logger) *LineAssembler {
	if capacity <= 0 {
		capacity = DefaultAssemblerCapacity
	}
	return &LineAssembler{
		buf:    ringbuffer.New(capacity),
		logger: logger,
	}
}

// Feed appends chunk and returns the completed messages without terminators.
// When a message outgrows the buffer, everything buffered is dropped.
func (a *LineAssembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.buf.Write(chunk); err != nil {
		a.logger.WithFields(logrus.Fields{
			"buffered": a.buf.Length(),
			"chunk":    len(chunk),
			"capacity": a.buf.Capacity(),
			"error":    err,
		}).Warn("Message buffer overflow, dropping partial message")
		a.buf.Reset()
		return nil
	}
	if bytes.IndexByte(chunk, '\n') < 0 {
		return nil
	}

	data := make([]byte, a.buf.Length())
	n, _ := a.buf.TryRead(data)
	data = data[:n]

	var lines []string
	for {
		i := bytes.Index(data, crlf)
		if i < 0 {
			break
		}
		lines = append(lines, string(data[:i]))
		data = data[i+len(crlf):]
	}
	if len(data) > 0 {
		_, _ = a.buf.Write(data)
	}
	return lines
}

// Buffered returns the number of bytes waiting for a terminator.
func (a *LineAssembler) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Length()
}

func (a *LineAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
}
