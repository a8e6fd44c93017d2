package gatt

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/srg/scorectl/internal/device"
)

// Session is one live connection owned by the Manager. It is created by the
// successful connect callback and dropped by teardown.
type Session struct {
	ID        string
	DeviceID  string
	Context   any
	CreatedAt time.Time

	link    device.Link
	profile atomic.Pointer[device.Profile]
	mtu     atomic.Int32
}

func newSession(link device.Link, sessionCtx any) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		DeviceID:  link.DeviceID(),
		Context:   sessionCtx,
		CreatedAt: time.Now(),
		link:      link,
	}
	s.mtu.Store(MinMTU)
	if services := link.Services(); len(services) > 0 {
		s.profile.Store(device.NewProfile(services))
	}
	return s
}

// Profile returns the cached discovery result, or nil before discovery completed.
func (s *Session) Profile() *device.Profile {
	return s.profile.Load()
}

// MTU returns the last negotiated MTU.
func (s *Session) MTU() int {
	return int(s.mtu.Load())
}

func (s *Session) setProfile(p *device.Profile) {
	s.profile.Store(p)
}

func (s *Session) setMTU(mtu int) {
	s.mtu.Store(int32(mtu))
}
