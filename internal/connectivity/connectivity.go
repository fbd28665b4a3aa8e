// Package connectivity implements the per-peer connection state machine,
// NAT inference, and relay reservation lifecycle described in spec.md
// §4.8. Grounded on opd-ai-toxcore's dht package for the Direct/HolePunch/
// Relay escalation idiom (a transport tries progressively more expensive
// strategies as cheaper ones fail) and its NAT-traversal heuristics, though
// the teacher implements this as a single monolithic DHT client; here it is
// factored into an explicit, independently testable state machine per
// SPEC_FULL.md.
package connectivity

import (
	"fmt"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("connectivity")

// State is the discriminant of a peer's connection state machine
// (spec.md §4.8's state diagram).
type State int

const (
	StateDisconnected State = iota
	StateAttemptingDirect
	StateAttemptingHolePunch
	StateAttemptingRelay
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAttemptingDirect:
		return "AttemptingDirect"
	case StateAttemptingHolePunch:
		return "AttemptingHolePunch"
	case StateAttemptingRelay:
		return "AttemptingRelay"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// ConnType is how a Connected state was actually reached.
type ConnType int

const (
	ConnDirect ConnType = iota
	ConnHolePunch
	ConnRelayed
)

const (
	directAttemptLimit   = 3
	directWindow         = 15 * time.Second
	holePunchWindow      = 10 * time.Second
)

// PeerConn tracks one remote peer's connection state machine. Not safe for
// concurrent use by itself; callers go through *Tracker, which serializes
// access per peer.
type PeerConn struct {
	state       State
	connType    ConnType
	attempt     int
	windowStart time.Time
}

// Dial starts (or restarts) the escalation from Disconnected.
func (p *PeerConn) Dial() {
	p.state = StateAttemptingDirect
	p.attempt = 0
	p.windowStart = now()
}

// OnFailure advances the state machine on a connection attempt failing, per
// spec.md §4.8's transition table.
func (p *PeerConn) OnFailure() {
	switch p.state {
	case StateAttemptingDirect:
		if p.attempt < directAttemptLimit && now().Sub(p.windowStart) < directWindow {
			p.attempt++
			return
		}
		p.state = StateAttemptingHolePunch
		p.windowStart = now()
	case StateAttemptingHolePunch:
		if now().Sub(p.windowStart) < holePunchWindow {
			return
		}
		p.state = StateAttemptingRelay
		p.windowStart = now()
	case StateAttemptingRelay:
		p.state = StateDisconnected
	}
}

// OnSuccess transitions to Connected with the connection type actually
// achieved.
func (p *PeerConn) OnSuccess(ct ConnType) {
	p.state = StateConnected
	p.connType = ct
}

// State, ConnType report the current state machine position.
func (p *PeerConn) State() State       { return p.state }
func (p *PeerConn) ConnType() ConnType { return p.connType }

// ShouldTryRelay implements spec.md §4.8's should_try_relay predicate.
func (p *PeerConn) ShouldTryRelay() bool {
	if p.state == StateAttemptingRelay {
		return true
	}
	if p.state == StateAttemptingDirect {
		return p.attempt >= directAttemptLimit || now().Sub(p.windowStart) >= directWindow
	}
	return false
}

// now is overridable by tests in this package.
var now = time.Now

// Tracker owns one PeerConn per peer id, guarded by a mutex so transport
// goroutines reporting success/failure from different peers don't race.
type Tracker struct {
	mu    sync.Mutex
	peers map[string]*PeerConn
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]*PeerConn)}
}

// Conn returns (creating if necessary) the PeerConn for peerID.
func (t *Tracker) Conn(peerID string) *PeerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peerID]
	if !ok {
		p = &PeerConn{state: StateDisconnected}
		t.peers[peerID] = p
	}
	return p
}

// RelayState is the reservation lifecycle from spec.md §4.8.
type RelayState int

const (
	RelayNotReserved RelayState = iota
	RelayPending
	RelayReserved
	RelayFailed
)

// Reservation tracks a single relay reservation's lifecycle.
type Reservation struct {
	state       RelayState
	requestedAt time.Time
	expiresAt   time.Time
	failReason  string
}

// Request moves the reservation to Pending.
func (r *Reservation) Request() {
	r.state = RelayPending
	r.requestedAt = now()
}

// Accept moves the reservation to Reserved with the given TTL.
func (r *Reservation) Accept(ttl time.Duration) {
	r.state = RelayReserved
	r.expiresAt = now().Add(ttl)
}

// Reject moves the reservation to Failed with reason.
func (r *Reservation) Reject(reason string) {
	r.state = RelayFailed
	r.failReason = reason
}

// IsExpired reports whether a Reserved reservation has passed its TTL.
func (r *Reservation) IsExpired() bool {
	return r.state == RelayReserved && now().After(r.expiresAt)
}

// State, FailReason expose the reservation's current position.
func (r *Reservation) State() RelayState  { return r.state }
func (r *Reservation) FailReason() string { return r.failReason }

// RelayDialAddress constructs the relayed dial address per spec.md §4.8:
// "<relay_addr>/p2p/<relay_peer>/p2p-circuit/p2p/<target_peer>".
func RelayDialAddress(relayAddr, relayPeer, targetPeer string) string {
	return fmt.Sprintf("%s/p2p/%s/p2p-circuit/p2p/%s", relayAddr, relayPeer, targetPeer)
}

// NATType is the inferred NAT behavior from spec.md §4.8 "NAT inference".
type NATType int

const (
	NATUnknown NATType = iota
	NATFullCone
	NATPortRestricted
	NATSymmetric
)

// TransportPreference is the recommendation spec.md §4.8's NAT-inference
// map yields.
type TransportPreference int

const (
	PreferDirectFirst TransportPreference = iota
	PreferHolePunchFirst
	PreferRelayFirst
)

// ObservedAddr is one (ip, port) sample a remote peer reported back to us.
type ObservedAddr struct {
	IP   string
	Port int
}

// InferNATType implements spec.md §4.8's sample-comparison rule: identical
// (ip, port) across all samples means FullCone; same ip, differing ports
// means PortRestricted; differing ip means Symmetric; no samples means
// Unknown.
func InferNATType(samples []ObservedAddr) NATType {
	if len(samples) == 0 {
		return NATUnknown
	}
	first := samples[0]
	sameIP, samePort := true, true
	for _, s := range samples[1:] {
		if s.IP != first.IP {
			sameIP = false
		}
		if s.Port != first.Port {
			samePort = false
		}
	}
	switch {
	case sameIP && samePort:
		return NATFullCone
	case sameIP && !samePort:
		return NATPortRestricted
	default:
		return NATSymmetric
	}
}

// RecommendTransport maps an inferred NAT type to a dial-order
// recommendation (spec.md §4.8 recommendation map).
func RecommendTransport(nat NATType) TransportPreference {
	switch nat {
	case NATFullCone:
		return PreferDirectFirst
	case NATPortRestricted:
		return PreferHolePunchFirst
	case NATSymmetric:
		return PreferRelayFirst
	default:
		return PreferDirectFirst
	}
}

// RetryPolicy is the generic retry parameterization from spec.md §4.8's
// closing paragraph, reused by anything (not just Dispatcher) that needs
// bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DelayFor returns the delay before attempt n (0-indexed) and whether the
// caller should stop retrying.
func (r RetryPolicy) DelayFor(attempt int) (delay time.Duration, stop bool) {
	if attempt >= r.MaxAttempts {
		return 0, true
	}
	d := r.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.MaxDelay {
			return r.MaxDelay, false
		}
	}
	return d, false
}
