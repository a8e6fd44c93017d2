package gatt

// RetryDecision is the outcome of DecideConnectRetry.
type RetryDecision int

const (
	// Retry re-submits the same Connect operation.
	Retry RetryDecision = iota
	// GiveUp abandons the attempt and resets the device's counter.
	GiveUp
)

func (d RetryDecision) String() string {
	if d == Retry {
		return "retry"
	}
	return "give-up"
}

// DecideConnectRetry decides what to do after the failures-th consecutive
// sporadic connect failure, given the configured bound.
func DecideConnectRetry(failures, maxAttempts int) RetryDecision {
	if failures < maxAttempts {
		return Retry
	}
	return GiveUp
}
