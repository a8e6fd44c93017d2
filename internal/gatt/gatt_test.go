package gatt

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampMTU(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below minimum", 5, MinMTU},
		{"negative", -1, MinMTU},
		{"minimum", MinMTU, MinMTU},
		{"in range", 185, 185},
		{"maximum", MaxMTU, MaxMTU},
		{"above maximum", 10000, MaxMTU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampMTU(tt.in))
			assert.Equal(t, ClampMTU(tt.in), ClampMTU(ClampMTU(tt.in)), "MUST be idempotent")
		})
	}
}

func TestDecideConnectRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		max      int
		want     RetryDecision
	}{
		{"first failure", 1, 4, Retry},
		{"one below bound", 3, 4, Retry},
		{"at bound", 4, 4, GiveUp},
		{"past bound", 5, 4, GiveUp},
		{"single attempt policy", 1, 1, GiveUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideConnectRetry(tt.failures, tt.max))
		})
	}
}

func TestOperationQueueFIFO(t *testing.T) {
	q := NewOperationQueue()
	assert.Nil(t, q.Pop(), "MUST return nil when empty")

	ops := []Operation{
		&Connect{Device: "a"},
		&MtuRequest{Device: "a", MTU: 100},
		&CharacteristicRead{Device: "b", Characteristic: "2a19"},
	}
	for _, op := range ops {
		q.Push(op)
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, ops, q.Snapshot())

	for _, want := range ops {
		assert.Same(t, want, q.Pop())
	}
	assert.Equal(t, 0, q.Len())

	q.Push(&Disconnect{Device: "a"})
	q.Push(&Disconnect{Device: "b"})
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
}

func TestOperationKinds(t *testing.T) {
	assert.Equal(t, "connect", (&Connect{}).Kind().String())
	assert.Equal(t, "mtu-request(23)", describe(&MtuRequest{MTU: 23}))
	assert.Equal(t, "characteristic-write(ffe1,without-response,3 bytes)",
		describe(&CharacteristicWrite{Characteristic: "ffe1", Mode: 2, Payload: []byte("abc")}))
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return NewRegistry(logger)
}

// registerTransient registers a listener that becomes unreachable on return.
func registerTransient(r *Registry, calls *atomic.Int32) {
	l := &Listener{OnConnect: func(string) { calls.Add(1) }}
	r.Register(l)
}

func TestRegistry(t *testing.T) {
	t.Run("duplicate registration is a no-op", func(t *testing.T) {
		// GOAL: Verify registering the same listener twice keeps a single entry
		//
		// TEST SCENARIO: Register l twice → same subscription returned → one entry
		r := newTestRegistry()
		l := &Listener{}
		s1 := r.Register(l)
		s2 := r.Register(l)
		assert.Same(t, s1, s2, "MUST return the existing subscription")
		assert.Equal(t, 1, r.Len())
		assert.Nil(t, r.Register(nil))
	})

	t.Run("dispatch follows registration order and skips unset slots", func(t *testing.T) {
		r := newTestRegistry()
		var order []string
		a := &Listener{OnDisconnect: func(id string) { order = append(order, "a:"+id) }}
		b := &Listener{}
		c := &Listener{OnDisconnect: func(id string) { order = append(order, "c:"+id) }}
		r.Register(a)
		r.Register(b)
		r.Register(c)

		r.each("disconnect", func(l *Listener) {
			if l.OnDisconnect != nil {
				l.OnDisconnect("dev")
			}
		})
		assert.Equal(t, []string{"a:dev", "c:dev"}, order)
	})

	t.Run("unsubscribe removes the listener", func(t *testing.T) {
		r := newTestRegistry()
		l := &Listener{}
		sub := r.Register(l)
		sub.Unsubscribe()
		sub.Unsubscribe()
		assert.Equal(t, 0, r.Len())

		r.Register(l)
		r.Unregister(l)
		assert.Equal(t, 0, r.Len())
	})

	t.Run("panicking listener does not stop delivery", func(t *testing.T) {
		r := newTestRegistry()
		delivered := false
		bad := &Listener{OnConnect: func(string) { panic("boom") }}
		good := &Listener{OnConnect: func(string) { delivered = true }}
		r.Register(bad)
		r.Register(good)

		assert.NotPanics(t, func() {
			r.each("connect", func(l *Listener) { l.OnConnect("dev") })
		})
		assert.True(t, delivered, "MUST deliver to listeners after the panicking one")
	})

	t.Run("collected listeners are pruned on register", func(t *testing.T) {
		// GOAL: Verify the registry does not keep listeners alive and prunes them
		//
		// TEST SCENARIO: Register transient listener → drop all references → GC → next Register prunes it
		r := newTestRegistry()
		var calls atomic.Int32
		registerTransient(r, &calls)
		require.Equal(t, 1, r.Len())

		keep := &Listener{}
		require.Eventually(t, func() bool {
			runtime.GC()
			r.Register(keep)
			return r.Len() == 1
		}, 2*time.Second, 10*time.Millisecond, "MUST prune the collected listener")

		r.each("connect", func(l *Listener) {
			if l.OnConnect != nil {
				l.OnConnect("dev")
			}
		})
		assert.Equal(t, int32(0), calls.Load(), "MUST NOT dispatch to a collected listener")
		runtime.KeepAlive(keep)
	})
}
