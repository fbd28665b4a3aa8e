package connectivity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withFrozenClock(t *testing.T) *time.Time {
	t.Helper()
	cur := time.Now()
	orig := now
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })
	return &cur
}

func TestDialStartsAttemptingDirect(t *testing.T) {
	withFrozenClock(t)
	p := &PeerConn{}
	p.Dial()
	assert.Equal(t, StateAttemptingDirect, p.State())
}

func TestDirectEscalatesToHolePunchAfterThreeFailures(t *testing.T) {
	cur := withFrozenClock(t)
	p := &PeerConn{}
	p.Dial()

	p.OnFailure()
	assert.Equal(t, StateAttemptingDirect, p.State())
	p.OnFailure()
	assert.Equal(t, StateAttemptingDirect, p.State())
	p.OnFailure()
	assert.Equal(t, StateAttemptingDirect, p.State())
	p.OnFailure()
	assert.Equal(t, StateAttemptingHolePunch, p.State())
	_ = cur
}

func TestDirectEscalatesToHolePunchAfterWindowElapses(t *testing.T) {
	orig := now
	cur := time.Now()
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })

	p := &PeerConn{}
	p.Dial()
	p.OnFailure()
	assert.Equal(t, StateAttemptingDirect, p.State())

	cur = cur.Add(16 * time.Second)
	p.OnFailure()
	assert.Equal(t, StateAttemptingHolePunch, p.State())
}

func TestHolePunchEscalatesToRelayAfterWindow(t *testing.T) {
	orig := now
	cur := time.Now()
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })

	p := &PeerConn{state: StateAttemptingHolePunch, windowStart: cur}
	cur = cur.Add(11 * time.Second)
	p.OnFailure()
	assert.Equal(t, StateAttemptingRelay, p.State())
}

func TestRelayFailureReturnsToDisconnected(t *testing.T) {
	withFrozenClock(t)
	p := &PeerConn{state: StateAttemptingRelay}
	p.OnFailure()
	assert.Equal(t, StateDisconnected, p.State())
}

func TestOnSuccessRecordsConnType(t *testing.T) {
	p := &PeerConn{state: StateAttemptingHolePunch}
	p.OnSuccess(ConnHolePunch)
	assert.Equal(t, StateConnected, p.State())
	assert.Equal(t, ConnHolePunch, p.ConnType())
}

func TestShouldTryRelay(t *testing.T) {
	withFrozenClock(t)
	p := &PeerConn{state: StateAttemptingRelay}
	assert.True(t, p.ShouldTryRelay())

	p2 := &PeerConn{}
	p2.Dial()
	assert.False(t, p2.ShouldTryRelay())
	p2.attempt = 3
	assert.True(t, p2.ShouldTryRelay())
}

func TestReservationLifecycle(t *testing.T) {
	withFrozenClock(t)
	r := &Reservation{}
	assert.Equal(t, RelayNotReserved, r.State())

	r.Request()
	assert.Equal(t, RelayPending, r.State())

	r.Accept(time.Hour)
	assert.Equal(t, RelayReserved, r.State())
	assert.False(t, r.IsExpired())
}

func TestReservationExpiry(t *testing.T) {
	orig := now
	cur := time.Now()
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })

	r := &Reservation{}
	r.Accept(time.Second)
	assert.False(t, r.IsExpired())

	cur = cur.Add(2 * time.Second)
	assert.True(t, r.IsExpired())
}

func TestRelayDialAddress(t *testing.T) {
	got := RelayDialAddress("relay.example", "QmRelay", "QmTarget")
	assert.Equal(t, "relay.example/p2p/QmRelay/p2p-circuit/p2p/QmTarget", got)
}

func TestInferNATType(t *testing.T) {
	assert.Equal(t, NATUnknown, InferNATType(nil))
	assert.Equal(t, NATFullCone, InferNATType([]ObservedAddr{{IP: "1.1.1.1", Port: 10}, {IP: "1.1.1.1", Port: 10}}))
	assert.Equal(t, NATPortRestricted, InferNATType([]ObservedAddr{{IP: "1.1.1.1", Port: 10}, {IP: "1.1.1.1", Port: 20}}))
	assert.Equal(t, NATSymmetric, InferNATType([]ObservedAddr{{IP: "1.1.1.1", Port: 10}, {IP: "2.2.2.2", Port: 10}}))
}

func TestRecommendTransport(t *testing.T) {
	assert.Equal(t, PreferDirectFirst, RecommendTransport(NATFullCone))
	assert.Equal(t, PreferHolePunchFirst, RecommendTransport(NATPortRestricted))
	assert.Equal(t, PreferRelayFirst, RecommendTransport(NATSymmetric))
}

func TestRetryPolicyDelayFor(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	d, stop := p.DelayFor(0)
	assert.Equal(t, time.Second, d)
	assert.False(t, stop)

	d, stop = p.DelayFor(1)
	assert.Equal(t, 2*time.Second, d)
	assert.False(t, stop)

	_, stop = p.DelayFor(5)
	assert.True(t, stop)
}

func TestTrackerReturnsSamePeerConn(t *testing.T) {
	tr := NewTracker()
	p1 := tr.Conn("bob")
	p2 := tr.Conn("bob")
	assert.Same(t, p1, p2)
}
