// Package scoreboard holds the payloads exchanged with the LED scoreboard
// display and the Remote that drives it over a GATT connection.
package scoreboard

import "fmt"

const (
	MinScore = 0
	MaxScore = 99
)

// Score is an immutable pair of counters.
type Score struct {
	Left  int
	Right int
}

// NewScore returns a score with both sides clamped to [MinScore, MaxScore].
func NewScore(left, right int) Score {
	return Score{Left: clampScore(left), Right: clampScore(right)}
}

func clampScore(v int) int {
	return max(MinScore, min(MaxScore, v))
}

func (s Score) IncrementLeft() Score  { return NewScore(s.Left+1, s.Right) }
func (s Score) IncrementRight() Score { return NewScore(s.Left, s.Right+1) }
func (s Score) DecrementLeft() Score  { return NewScore(s.Left-1, s.Right) }
func (s Score) DecrementRight() Score { return NewScore(s.Left, s.Right-1) }

// Swap exchanges the sides.
func (s Score) Swap() Score { return Score{Left: s.Right, Right: s.Left} }

// Reset returns 0:0.
func (s Score) Reset() Score { return Score{} }

func (s Score) String() string {
	return fmt.Sprintf("%d:%d", s.Left, s.Right)
}

// Change tells which side differs between two scores.
type Change int

const (
	ChangeNone Change = iota
	ChangeLeft
	ChangeRight
	ChangeBoth
)

func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeLeft:
		return "left"
	case ChangeRight:
		return "right"
	case ChangeBoth:
		return "both"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// DetectChange compares s against other.
func (s Score) DetectChange(other Score) Change {
	left := s.Left != other.Left
	right := s.Right != other.Right
	switch {
	case left && right:
		return ChangeBoth
	case left:
		return ChangeLeft
	case right:
		return ChangeRight
	default:
		return ChangeNone
	}
}
