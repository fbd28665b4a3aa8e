// Package engine implements the command/reply façade spec.md §4.10
// describes as the FFI / host boundary: "The host interacts with the
// engine as a command-response channel: commands are enumerated
// (send_text, list_conversations, get_messages, mark_read, connect_peer,
// listen_on, bootstrap, call control, group ops); each command carries a
// one-shot reply port. A dedicated engine task owns the non-shareable
// network handle and drains the command queue; callers that cannot cross
// thread boundaries use a blocking wait on the reply port."
//
// Grounded on opd-ai-toxcore's testnet/internal QueueProcessor
// (ctx/cancel-driven background loop started by Run, stopped by Close)
// generalized from a single polling loop into a command queue, and on
// actuallydan-pollis's App struct for the facade shape (one type
// aggregating every collaborator service).
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/internal/bootstrap"
	"github.com/edsonmartins/mepassa/internal/connectivity"
	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/dispatcher"
	"github.com/edsonmartins/mepassa/internal/eventbus"
	"github.com/edsonmartins/mepassa/internal/groupsession"
	"github.com/edsonmartins/mepassa/internal/handler"
	"github.com/edsonmartins/mepassa/internal/identity"
	"github.com/edsonmartins/mepassa/internal/logging"
	"github.com/edsonmartins/mepassa/internal/offlinestore"
	"github.com/edsonmartins/mepassa/internal/registry"
	"github.com/edsonmartins/mepassa/internal/signaling"
	"github.com/edsonmartins/mepassa/internal/store"
)

var log = logging.For("engine")

// ErrClosed is returned by command methods submitted after Close.
var ErrClosed = errors.New("engine: closed")

// ErrNoTransport is returned when a command requires sending over the
// network but ListenOn has not yet supplied one.
var ErrNoTransport = errors.New("engine: no transport configured")

// Config is the engine's startup configuration: everything spec.md §4.11's
// external collaborators need an address for, plus the local data
// directory spec.md §3's "Lifecycle summary" and §6's file layout
// describe.
type Config struct {
	DataDir         string
	RegistryURL     string
	OfflineStoreURL string
	Bootstrap       []bootstrap.Node
}

// Engine is the single entry point a host process embeds: one dedicated
// goroutine owns the identity vault, store connection, and network
// transport, and every public method here is a command submitted to that
// goroutine's queue and answered on a one-shot reply channel.
type Engine struct {
	vault   *identity.Vault
	db      *store.DB
	bus     *eventbus.Bus
	handler *handler.Handler
	disp    *dispatcher.Dispatcher

	conns     *connectivity.Tracker
	bootstrap *bootstrap.Table
	registry  *registry.Client
	offline   *offlinestore.Client
	transport *transportProxy

	groupsMu sync.Mutex
	groups   map[string]*groupsession.Session

	cmdCh     chan func()
	closeOnce sync.Once
	closed    chan struct{}
}

// New assembles the engine's collaborators. It does not start the command
// loop; call Run for that.
func New(cfg Config) (*Engine, error) {
	vault, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: load identity: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "mepassa.db"))
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	mediaDir := filepath.Join(cfg.DataDir, "media")
	bus := eventbus.New()
	h := handler.New(vault, db, bus, mediaDir)

	proxy := &transportProxy{}

	var offline *offlinestore.Client
	if cfg.OfflineStoreURL != "" {
		offline = offlinestore.New(cfg.OfflineStoreURL)
	}

	var reg *registry.Client
	if cfg.RegistryURL != "" {
		reg = registry.New(cfg.RegistryURL)
	}

	disp := dispatcher.New(vault, db, proxy, offlineAdapter{offline})

	return &Engine{
		vault:     vault,
		db:        db,
		bus:       bus,
		handler:   h,
		disp:      disp,
		conns:     connectivity.NewTracker(),
		bootstrap: bootstrap.NewTable(cfg.Bootstrap...),
		registry:  reg,
		offline:   offline,
		transport: proxy,
		groups:    make(map[string]*groupsession.Session),
		cmdCh:     make(chan func(), 64),
		closed:    make(chan struct{}),
	}, nil
}

// offlineAdapter lets a nil *offlinestore.Client satisfy
// dispatcher.OfflineStore as a no-op, so Config.OfflineStoreURL is
// optional.
type offlineAdapter struct{ c *offlinestore.Client }

func (a offlineAdapter) Store(ctx context.Context, peerID string, payload []byte) error {
	if a.c == nil {
		return errors.New("engine: no offline store configured")
	}
	return a.c.Store(ctx, peerID, payload)
}

// Bus exposes the event bus so hosts can Subscribe directly; subscribing
// is not command-queue-routed because it never touches the engine's
// owned network handle (spec.md §4.9's delivery is already concurrency-safe).
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Handler returns the MessageHandler so a transport adapter's receive
// loop can call OnIncoming directly (spec.md §5 "Ordering": inbound
// handling is per-peer sequential and does not go through the command
// queue, which exists for host-issued commands, not inbound delivery).
func (e *Engine) Handler() *handler.Handler { return e.handler }

// Run starts the dedicated command-processing goroutine and blocks until
// ctx is cancelled, at which point it drains any remaining queued
// commands, closes the store, and returns (spec.md §5 "Cancellation").
func (e *Engine) Run(ctx context.Context) error {
	logger := log.WithField("function", "Run")
	logger.Info("engine command loop starting")

	for {
		select {
		case <-ctx.Done():
			e.drainAndClose()
			logger.Info("engine command loop stopped")
			return ctx.Err()
		case cmd := <-e.cmdCh:
			cmd()
		}
	}
}

// Close stops accepting new commands and, if Run is not already doing so,
// closes the store. Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return e.db.Close()
}

func (e *Engine) drainAndClose() {
	for {
		select {
		case cmd := <-e.cmdCh:
			cmd()
		default:
			e.closeOnce.Do(func() { close(e.closed) })
			if err := e.db.Close(); err != nil {
				log.WithField("function", "drainAndClose").WithField("error", err).Warn("closing store failed")
			}
			return
		}
	}
}

// submit enqueues fn on the command queue and blocks for its one-shot
// reply, per spec.md §4.10's "blocking wait on the reply port" caller
// shape.
func submit[T any](e *Engine, fn func() (T, error)) (T, error) {
	reply := make(chan result[T], 1)
	cmd := func() {
		v, err := fn()
		reply <- result[T]{v, err}
	}

	select {
	case e.cmdCh <- cmd:
	case <-e.closed:
		var zero T
		return zero, ErrClosed
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-e.closed:
		var zero T
		return zero, ErrClosed
	}
}

type result[T any] struct {
	value T
	err   error
}

// --- Commands ---

// SendText implements the send_text command.
func (e *Engine) SendText(ctx context.Context, to, content string) (string, error) {
	return submit(e, func() (string, error) {
		return e.disp.SendText(ctx, to, content)
	})
}

// ListConversations implements the list_conversations command.
func (e *Engine) ListConversations() ([]store.Conversation, error) {
	return submit(e, func() ([]store.Conversation, error) {
		return e.db.ListConversations()
	})
}

// GetMessages implements the get_messages command.
func (e *Engine) GetMessages(conversationID string, limit int, before *time.Time) ([]store.Message, error) {
	return submit(e, func() ([]store.Message, error) {
		return e.db.ListMessages(conversationID, limit, before)
	})
}

// MarkRead implements the mark_read command.
func (e *Engine) MarkRead(conversationID string) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		return struct{}{}, e.db.MarkConversationRead(conversationID)
	})
}

// ConnectPeer implements the connect_peer command: it drives the
// per-peer connectivity state machine (spec.md §4.8) and returns its
// current state immediately. The actual socket-level dial is performed
// by whatever Transport was supplied via ListenOn; the state machine
// here only tracks escalation (Direct → HolePunch → Relay).
func (e *Engine) ConnectPeer(peerID string) (connectivity.State, error) {
	return submit(e, func() (connectivity.State, error) {
		conn := e.conns.Conn(peerID)
		conn.Dial()
		return conn.State(), nil
	})
}

// ListenOn implements the listen_on command: installs the Transport the
// dispatcher and signaling passthrough send through. The engine never
// constructs a Transport itself — spec.md §4.11 treats the overlay as an
// external collaborator the core only addresses through this narrow
// capability.
func (e *Engine) ListenOn(t dispatcher.Transport) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		e.transport.set(t)
		return struct{}{}, nil
	})
}

// Bootstrap implements the bootstrap command: registers bootstrap/relay
// nodes (spec.md §4.11) for later connectivity/relay use.
func (e *Engine) Bootstrap(nodes ...bootstrap.Node) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		for _, n := range nodes {
			e.bootstrap.Add(n)
		}
		return struct{}{}, nil
	})
}

// SendSignal implements call control: passes a signaling envelope through
// to peerID over whatever Transport is installed, without interpreting
// call state itself (spec.md §6 "Signaling envelope").
func (e *Engine) SendSignal(ctx context.Context, peerID string, env signaling.Envelope) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		payload, err := signaling.Encode(env)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, e.transport.Send(ctx, peerID, payload)
	})
}

// CreateGroup implements the group-ops "create" command: persists the
// group and its creator membership row, creates the conversation that
// backs its chat history and system messages, and builds the local
// GroupSession the handler will use for this group's traffic.
func (e *Engine) CreateGroup(g store.Group) (*groupsession.Session, error) {
	return submit(e, func() (*groupsession.Session, error) {
		if err := e.db.CreateGroup(g); err != nil {
			return nil, fmt.Errorf("engine: create group: %w", err)
		}
		if _, err := e.db.CreateGroupConversation(g.ID, g.Name); err != nil {
			return nil, fmt.Errorf("engine: create group conversation: %w", err)
		}
		sess, err := groupsession.NewSession(g.ID, string(e.vault.PeerID()))
		if err != nil {
			return nil, fmt.Errorf("engine: new group session: %w", err)
		}
		e.groupsMu.Lock()
		e.groups[g.ID] = sess
		e.groupsMu.Unlock()
		e.handler.RegisterGroupSession(g.ID, sess)
		return sess, nil
	})
}

// AddGroupMember implements the group-ops "add member" command (admin-only,
// spec.md §4.4 "Membership actions"). The adding admin mints the new
// member's initial SenderKey seed, registers a decryptable replica of it
// locally, and fans it out over the pairwise channel to the new member and
// every other current member — a synchronous simplification of the fully
// decentralized protocol where each member independently generates and
// distributes its own seed (spec.md §4.4 "Creation"), chosen because this
// engine exposes no separate asynchronous join handshake. The membership
// change is also broadcast as a system message (spec.md §4.4 "Membership
// actions... broadcast as system messages").
func (e *Engine) AddGroupMember(ctx context.Context, m store.GroupMember) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		caller := string(e.vault.PeerID())
		if err := e.db.AddGroupMember(caller, m); err != nil {
			return struct{}{}, fmt.Errorf("engine: add group member: %w", err)
		}

		e.groupsMu.Lock()
		sess, ok := e.groups[m.GroupID]
		e.groupsMu.Unlock()
		if !ok {
			return struct{}{}, fmt.Errorf("engine: add group member: no local session for group %s", m.GroupID)
		}

		var seed [cryptoutil.KeySize]byte
		if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
			return struct{}{}, fmt.Errorf("engine: mint member seed: %w", err)
		}
		sess.AddMemberKey(m.PeerID, seed)

		e.fanOutSenderKeySeed(ctx, m.GroupID, m.PeerID, seed)
		e.broadcastGroupSystem(ctx, m.GroupID, handler.GroupMemberAdded, caller, m.PeerID)
		return struct{}{}, nil
	})
}

// RemoveGroupMember implements the group-ops "remove member" command
// (admin-only; the creator cannot be removed, spec.md §4.4). The removed
// member's SenderKey replica is evicted from the local GroupSession so this
// node stops tracking their broadcast chain; per spec.md §4.4's documented
// simplification, their already-decrypted history and any keys other
// members still hold are unaffected — full forward secrecy requires a
// re-key flow, a documented Non-goal.
func (e *Engine) RemoveGroupMember(ctx context.Context, groupID, peerID string) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		caller := string(e.vault.PeerID())
		if err := e.db.RemoveGroupMember(caller, groupID, peerID); err != nil {
			return struct{}{}, fmt.Errorf("engine: remove group member: %w", err)
		}

		e.groupsMu.Lock()
		sess, ok := e.groups[groupID]
		e.groupsMu.Unlock()
		if ok {
			sess.RemoveMemberKey(peerID)
		}

		e.broadcastGroupSystem(ctx, groupID, handler.GroupMemberRemoved, caller, peerID)
		return struct{}{}, nil
	})
}

// PromoteGroupMember implements the group-ops "promote" command: raises a
// member to admin (admin-only, spec.md §4.4).
func (e *Engine) PromoteGroupMember(ctx context.Context, groupID, peerID string) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		caller := string(e.vault.PeerID())
		if err := e.db.PromoteToAdmin(caller, groupID, peerID); err != nil {
			return struct{}{}, fmt.Errorf("engine: promote group member: %w", err)
		}
		e.broadcastGroupSystem(ctx, groupID, handler.GroupMemberPromoted, caller, peerID)
		return struct{}{}, nil
	})
}

// DemoteGroupMember implements the group-ops "demote" command: lowers an
// admin back to member (admin-only; the creator cannot be demoted, spec.md
// §4.4).
func (e *Engine) DemoteGroupMember(ctx context.Context, groupID, peerID string) (struct{}, error) {
	return submit(e, func() (struct{}, error) {
		caller := string(e.vault.PeerID())
		if err := e.db.DemoteToMember(caller, groupID, peerID); err != nil {
			return struct{}{}, fmt.Errorf("engine: demote group member: %w", err)
		}
		e.broadcastGroupSystem(ctx, groupID, handler.GroupMemberDemoted, caller, peerID)
		return struct{}{}, nil
	})
}
