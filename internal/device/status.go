package device

import "fmt"

// Status is the GATT status code carried by every Event.
type Status int

const (
	StatusSuccess                    Status = 0
	StatusReadNotPermitted           Status = 2
	StatusWriteNotPermitted          Status = 3
	StatusInsufficientAuthentication Status = 5
	StatusRequestNotSupported        Status = 6
	StatusInsufficientEncryption     Status = 15
	// StatusNoResources and StatusGattError are the sporadic low-level
	// connect failures that are worth retrying.
	StatusNoResources Status = 128
	StatusGattError   Status = 133
	StatusFailure     Status = 257

	// StatusTimeout is produced locally when a pending operation misses its deadline.
	StatusTimeout Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusReadNotPermitted:
		return "read not permitted"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusInsufficientAuthentication:
		return "insufficient authentication"
	case StatusRequestNotSupported:
		return "request not supported"
	case StatusInsufficientEncryption:
		return "insufficient encryption"
	case StatusNoResources:
		return "no resources"
	case StatusGattError:
		return "gatt error"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// IsSporadic reports whether s is one of the transient connect failures.
func (s Status) IsSporadic() bool {
	return s == StatusGattError || s == StatusNoResources
}

// IsSecurity reports whether s asks for bonding before the link is usable.
func (s Status) IsSecurity() bool {
	return s == StatusInsufficientEncryption || s == StatusInsufficientAuthentication
}
