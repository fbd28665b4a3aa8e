// Package bootstrap models the operator-run bootstrap/relay node spec.md
// §4.11 describes: "An operator-run peer that serves two roles for the
// overlay: (a) DHT seed with persisted peer-address records keyed by
// peer-id; (b) relay provider offering reservations and circuit
// brokerage. The core treats it as a configured peer-id + address pair."
// The engine consumes it as static configuration, never dials it
// directly beyond that pair.
package bootstrap

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a peer id has no configured bootstrap node.
var ErrNotFound = errors.New("bootstrap: node not found")

// Node is one configured bootstrap/relay peer: its overlay identity and
// the network address the engine dials to reach it.
type Node struct {
	PeerID  string
	Address string
}

// Table holds the set of bootstrap/relay nodes the engine was configured
// with (spec.md never describes discovery of these — they are supplied
// out of band, e.g. via cmd/mepassad flags or a config file).
type Table struct {
	nodes map[string]Node
	order []string
}

// NewTable builds a Table from a list of nodes, preserving the given order
// for enumeration by All.
func NewTable(nodes ...Node) *Table {
	t := &Table{nodes: make(map[string]Node, len(nodes))}
	for _, n := range nodes {
		if _, exists := t.nodes[n.PeerID]; !exists {
			t.order = append(t.order, n.PeerID)
		}
		t.nodes[n.PeerID] = n
	}
	return t
}

// Get resolves a configured peer id to its network address.
func (t *Table) Get(peerID string) (Node, error) {
	n, ok := t.nodes[peerID]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, peerID)
	}
	return n, nil
}

// All returns every configured node, in the order they were added.
func (t *Table) All() []Node {
	out := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Add registers or replaces a bootstrap/relay node.
func (t *Table) Add(n Node) {
	if _, exists := t.nodes[n.PeerID]; !exists {
		t.order = append(t.order, n.PeerID)
	}
	t.nodes[n.PeerID] = n
}

// Remove drops a configured node, if present.
func (t *Table) Remove(peerID string) {
	if _, ok := t.nodes[peerID]; !ok {
		return
	}
	delete(t.nodes, peerID)
	for i, id := range t.order {
		if id == peerID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports how many nodes are configured.
func (t *Table) Len() int { return len(t.nodes) }
