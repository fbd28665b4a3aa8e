// Package mepassa is the public entry point for embedding the engine
// described by spec.md directly from Go: a peer-to-peer end-to-end
// encrypted messaging core with pairwise Double-Ratchet-style sessions,
// Sender-Key groups, and a relational store with full-text search.
//
// Most callers want internal/engine's command surface; this package
// re-exports the pieces a host program constructs and wires together
// without reaching into internal/.
package mepassa

import (
	"context"

	"github.com/edsonmartins/mepassa/internal/bootstrap"
	"github.com/edsonmartins/mepassa/internal/connectivity"
	"github.com/edsonmartins/mepassa/internal/dispatcher"
	"github.com/edsonmartins/mepassa/internal/engine"
	"github.com/edsonmartins/mepassa/internal/eventbus"
	"github.com/edsonmartins/mepassa/internal/handler"
	"github.com/edsonmartins/mepassa/internal/signaling"
	"github.com/edsonmartins/mepassa/internal/store"
)

// Config configures a new Engine (spec.md §4.11's external collaborators
// plus the local data directory).
type Config = engine.Config

// BootstrapNode is a configured bootstrap/relay peer (spec.md §4.11).
type BootstrapNode = bootstrap.Node

// Transport is the narrow send capability a host-supplied network layer
// must implement to be installed via Engine.ListenOn.
type Transport = dispatcher.Transport

// Conversation, Message, Group, and GroupMember are the Store's row
// types, returned by the engine's list/get commands.
type (
	Conversation = store.Conversation
	Message      = store.Message
	Group        = store.Group
	GroupMember  = store.GroupMember
)

// Event is the marker type every EventBus event implements (spec.md §4.9).
type Event = eventbus.Event

// ConnState is a peer's connectivity state machine state (spec.md §4.8).
type ConnState = connectivity.State

// SignalEnvelope is the audio/video control-plane passthrough envelope
// (spec.md §6).
type SignalEnvelope = signaling.Envelope

// Engine is the command/reply façade a host embeds (spec.md §4.10).
type Engine = engine.Engine

// New constructs an Engine from cfg but does not start its command loop;
// call Run (typically in its own goroutine) before issuing commands.
func New(cfg Config) (*Engine, error) {
	return engine.New(cfg)
}

// Run starts eng's command-processing loop and blocks until ctx is
// cancelled (spec.md §5 "Cancellation").
func Run(ctx context.Context, eng *Engine) error {
	return eng.Run(ctx)
}

// HandlerFor exposes the engine's MessageHandler, the single entry point a
// host-supplied transport's receive loop calls with each inbound
// envelope (spec.md §4.5).
func HandlerFor(eng *Engine) *handler.Handler {
	return eng.Handler()
}
