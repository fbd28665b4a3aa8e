// Package handler implements MessageHandler, described in spec.md §4.5:
// the single entry point inbound envelopes pass through on their way from
// transport into the Store and EventBus. Grounded on opd-ai-toxcore's
// friend/message dispatch style (a typed-union payload switched on by
// variant) and file/transfer.go's content-addressed chunk handling for the
// media path.
package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/internal/eventbus"
	"github.com/edsonmartins/mepassa/internal/groupsession"
	"github.com/edsonmartins/mepassa/internal/identity"
	"github.com/edsonmartins/mepassa/internal/logging"
	"github.com/edsonmartins/mepassa/internal/ratchet"
	"github.com/edsonmartins/mepassa/internal/store"
	"github.com/edsonmartins/mepassa/internal/x3dh"
	"github.com/google/uuid"
)

var log = logging.For("handler")

// staleWarnAfter is spec.md §4.5's "messages older than 7 days produce a
// warning but are accepted" window.
const staleWarnAfter = 7 * 24 * time.Hour

// Handler is MessageHandler. Transport adapters call OnIncoming once per
// delivered envelope; Dispatcher and Connectivity never call into Handler
// directly (spec.md §4.9 "Cyclic references. None required.").
type Handler struct {
	vault    *identity.Vault
	db       *store.DB
	bus      *eventbus.Bus
	sessions *sessionStore

	groupsMu sync.RWMutex
	groups   map[string]*groupsession.Session

	mediaDir string
}

// New constructs a Handler. mediaDir is where in-flight chunk downloads and
// completed content-addressed attachments are written (spec.md §4.5
// MediaChunk handling).
func New(vault *identity.Vault, db *store.DB, bus *eventbus.Bus, mediaDir string) *Handler {
	return &Handler{
		vault:    vault,
		db:       db,
		bus:      bus,
		sessions: newSessionStore(),
		groups:   make(map[string]*groupsession.Session),
		mediaDir: mediaDir,
	}
}

// RegisterGroupSession makes a *groupsession.Session available to the
// handler, which installs member SenderKey seeds into it as SenderKeySeed
// envelopes arrive. Encrypted envelopes are always decrypted with the
// pairwise session; the handler has no group decryption path. This hook
// is how the engine wires in sessions built by internal/groupsession.
func (h *Handler) RegisterGroupSession(groupID string, sess *groupsession.Session) {
	h.groupsMu.Lock()
	defer h.groupsMu.Unlock()
	h.groups[groupID] = sess
}

// OnIncoming is the MessageHandler entry point (spec.md §4.5).
func (h *Handler) OnIncoming(fromPeer string, env Envelope) Ack {
	logger := log.WithField("function", "OnIncoming").
		WithField("message_id", env.MessageID).
		WithField("from", fromPeer)

	if err := h.validate(fromPeer, env); err != nil {
		logger.WithField("error", err).Warn("rejecting invalid envelope")
		return failed(env.MessageID, err.Error())
	}

	if !env.CreatedAt.IsZero() && time.Since(env.CreatedAt) > staleWarnAfter {
		logger.Warn("accepting envelope older than staleness window")
	}

	exists, err := h.db.MessageExists(env.MessageID)
	if err != nil {
		logger.WithField("error", err).Error("idempotence check failed")
		return failed(env.MessageID, "storage error")
	}
	if exists && env.Kind != KindAck && env.Kind != KindReadReceipt && env.Kind != KindTyping {
		logger.Debug("duplicate message_id, replaying ack")
		return received(env.MessageID)
	}

	switch env.Kind {
	case KindText:
		return h.handleText(fromPeer, env)
	case KindEncrypted:
		return h.handleEncrypted(fromPeer, env)
	case KindMediaOffer:
		return h.handleMediaOffer(fromPeer, env)
	case KindMediaChunk:
		return h.handleMediaChunk(fromPeer, env)
	case KindAck:
		return h.handleAck(env)
	case KindReadReceipt:
		return h.handleReadReceipt(env)
	case KindTyping:
		return h.handleTyping(fromPeer, env)
	case KindSenderKeySeed:
		return h.handleSenderKeySeed(fromPeer, env)
	case KindGroupSystem:
		return h.handleGroupSystem(fromPeer, env)
	case KindMediaRequest:
		// Producing the outbound MediaChunk stream is Dispatcher's job
		// (spec.md §4.5: "out of this handler into dispatcher"); the
		// handler only acknowledges receipt of the request here.
		return received(env.MessageID)
	default:
		return failed(env.MessageID, "unknown envelope kind")
	}
}

func (h *Handler) validate(fromPeer string, env Envelope) error {
	if env.MessageID == "" {
		return errors.New("empty message_id")
	}
	if env.SenderPeerID == "" {
		return errors.New("empty sender_peer_id")
	}
	if env.SenderPeerID != fromPeer {
		return errors.New("sender_peer_id does not match transport-observed peer")
	}
	if env.RecipientPeerID != "" && env.RecipientPeerID != string(h.vault.PeerID()) {
		return errors.New("recipient_peer_id is not the local peer")
	}
	return nil
}

func (h *Handler) handleText(fromPeer string, env Envelope) Ack {
	conv, err := h.conversationFor(fromPeer)
	if err != nil {
		return failed(env.MessageID, "conversation lookup failed")
	}

	content := env.Content
	msg := store.Message{
		MessageID:        env.MessageID,
		ConversationID:   conv.ID,
		SenderPeerID:     fromPeer,
		RecipientPeerID:  strp(string(h.vault.PeerID())),
		MessageType:      "Text",
		ContentPlaintext: &content,
		ParentMessageID:  env.ReplyTo,
		CreatedAt:        time.Now(),
		Status:           store.StatusDelivered,
	}
	if err := h.persistAndNotify(conv.ID, msg, fromPeer, content); err != nil {
		return failed(env.MessageID, err.Error())
	}
	return received(env.MessageID)
}

func (h *Handler) handleEncrypted(fromPeer string, env Envelope) Ack {
	_, existed := h.sessions.get(fromPeer)
	sess, err := h.sessionFor(fromPeer, env)
	if err != nil {
		log.WithField("function", "handleEncrypted").WithField("error", err).Warn("session establishment failed")
		return failed(env.MessageID, "session establishment failed")
	}

	counter := counterFromEnvelope(env)
	if !existed {
		// First message of a new session: the slot held a prekey id.
		counter = 0
	}
	plaintext, err := sess.Decrypt(ratchet.Envelope{Counter: counter, Nonce: env.Nonce, Ciphertext: env.Ciphertext})
	if err != nil {
		return failed(env.MessageID, "decryption failed")
	}

	inner := env
	inner.Kind = KindText
	inner.Content = string(plaintext)
	return h.handleText(fromPeer, inner)
}

// counterFromEnvelope reads the ratchet counter carried in OneTimePreKeyID's
// field slot for encrypted envelopes that are not the session's first
// message (on first contact the id addresses a prekey; afterwards the same
// transport field line carries the ratchet counter set by the sender — this
// reuse mirrors how spec.md's wire envelope keeps a single fixed-shape
// struct across both uses).
func counterFromEnvelope(env Envelope) uint64 { return uint64(env.OneTimePreKeyID) }

// sessionFor returns the existing PairwiseSession for fromPeer, or
// establishes one via the X3DH responder path (spec.md §4.5's five-step
// atomic sequence), locking per-peer so concurrent first messages from the
// same peer cannot double-consume a one-time prekey.
func (h *Handler) sessionFor(fromPeer string, env Envelope) (*ratchet.Session, error) {
	if sess, ok := h.sessions.get(fromPeer); ok {
		return sess, nil
	}

	lock := h.sessions.lockFor(fromPeer)
	lock.Lock()
	defer lock.Unlock()

	if sess, ok := h.sessions.get(fromPeer); ok {
		return sess, nil
	}

	signedSecret := h.vault.SignedPreKeySecret()
	var otpSecret *[32]byte
	if env.OneTimePreKeyID != 0 {
		secret, ok := h.vault.PreKeySecretByID(env.OneTimePreKeyID)
		if !ok {
			return nil, fmt.Errorf("handler: unknown one-time prekey id %d", env.OneTimePreKeyID)
		}
		otpSecret = &secret
	}

	shared, err := x3dh.Respond(signedSecret, otpSecret, env.EphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("handler: x3dh respond: %w", err)
	}

	sess, err := ratchet.New(fromPeer, shared, false)
	if err != nil {
		return nil, fmt.Errorf("handler: new session: %w", err)
	}

	if env.OneTimePreKeyID != 0 {
		if _, err := h.vault.ConsumeOneTimePreKey(env.OneTimePreKeyID); err != nil {
			return nil, fmt.Errorf("handler: consume one-time prekey: %w", err)
		}
	}

	h.sessions.put(fromPeer, sess)
	return sess, nil
}

func (h *Handler) handleMediaOffer(fromPeer string, env Envelope) Ack {
	conv, err := h.conversationFor(fromPeer)
	if err != nil {
		return failed(env.MessageID, "conversation lookup failed")
	}

	msg := store.Message{
		MessageID:       env.MessageID,
		ConversationID:  conv.ID,
		SenderPeerID:    fromPeer,
		RecipientPeerID: strp(string(h.vault.PeerID())),
		MessageType:     "MediaOffer",
		CreatedAt:       time.Now(),
		Status:          store.StatusDelivered,
	}
	if err := h.db.CreateMessage(msg); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return failed(env.MessageID, "persist failed")
	}
	if err := h.db.CreateMedia(store.Media{
		MediaHash: env.MediaHash,
		MessageID: env.MessageID,
		MediaType: env.MediaType,
		FileName:  env.FileName,
		Size:      env.Size,
		MIME:      env.MIME,
	}); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return failed(env.MessageID, "media persist failed")
	}

	if err := h.db.RecordIncomingMessage(conv.ID, env.MessageID, msg.CreatedAt); err != nil {
		log.WithField("function", "handleMediaOffer").WithField("error", err).Warn("conversation update failed")
	}
	h.bus.Publish(eventbus.MessageReceived{ID: env.MessageID, From: fromPeer, Message: "[media]"})
	return received(env.MessageID)
}

// handleMediaChunk appends incoming bytes to a temp file keyed by media
// hash, and on the final chunk renames it to a content-addressed path and
// updates the media row (spec.md §4.5).
func (h *Handler) handleMediaChunk(fromPeer string, env Envelope) Ack {
	tmpPath := h.tempChunkPath(env.MediaHash)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return failed(env.MessageID, "open temp file failed")
	}
	defer f.Close()

	if _, err := f.Write(env.Data); err != nil {
		return failed(env.MessageID, "write chunk failed")
	}

	if !env.IsLast {
		return received(env.MessageID)
	}

	finalPath := h.contentAddressedPath(env.MediaHash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return failed(env.MessageID, "create media dir failed")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return failed(env.MessageID, "finalize media failed")
	}
	if err := h.db.SetLocalPaths(env.MediaHash, &finalPath, nil); err != nil {
		return failed(env.MessageID, "update media row failed")
	}
	h.bus.Publish(eventbus.MessageReceived{ID: env.MessageID, From: fromPeer, Message: "[media complete]"})
	return received(env.MessageID)
}

func (h *Handler) tempChunkPath(mediaHash string) string {
	return filepath.Join(h.mediaDir, "tmp-"+mediaHash)
}

func (h *Handler) contentAddressedPath(mediaHash string) string {
	sum := sha256.Sum256([]byte(mediaHash))
	hexed := hex.EncodeToString(sum[:])
	return filepath.Join(h.mediaDir, hexed[:2], hexed)
}

func (h *Handler) handleAck(env Envelope) Ack {
	status := store.StatusSent
	if env.AckStatus == AckReceived {
		status = store.StatusDelivered
	}
	if err := h.db.UpdateMessageStatus(env.AckMessageID, status); err != nil {
		return failed(env.MessageID, "status update failed")
	}
	msg, err := h.db.GetMessage(env.AckMessageID)
	if err == nil && msg.RecipientPeerID != nil {
		h.bus.Publish(eventbus.MessageDelivered{ID: env.AckMessageID, To: *msg.RecipientPeerID})
	}
	return received(env.MessageID)
}

func (h *Handler) handleReadReceipt(env Envelope) Ack {
	if err := h.db.UpdateMessageStatus(env.AckMessageID, store.StatusRead); err != nil {
		return failed(env.MessageID, "status update failed")
	}
	h.bus.Publish(eventbus.MessageRead{ID: env.AckMessageID, By: env.SenderPeerID, ReadAt: env.ReadAt})
	return received(env.MessageID)
}

func (h *Handler) handleTyping(fromPeer string, env Envelope) Ack {
	if env.IsTyping {
		h.bus.Publish(eventbus.TypingStarted{Peer: fromPeer})
	} else {
		h.bus.Publish(eventbus.TypingStopped{Peer: fromPeer})
	}
	return received(env.MessageID)
}

// handleSenderKeySeed installs a replica of fromPeer's SenderKey for the
// named group (spec.md §4.4 "Creation": "distributed to other members
// through the pairwise session with each, constituting the group's
// authentication"). The envelope arrives already pairwise-decrypted by the
// transport adapter that called OnIncoming, matching KindEncrypted's own
// boundary.
func (h *Handler) handleSenderKeySeed(fromPeer string, env Envelope) Ack {
	h.groupsMu.RLock()
	sess, ok := h.groups[env.GroupID]
	h.groupsMu.RUnlock()
	if !ok {
		log.WithField("function", "handleSenderKeySeed").WithField("group_id", env.GroupID).
			Warn("sender-key seed for unknown group")
		return failed(env.MessageID, "unknown group")
	}
	sess.AddMemberKey(fromPeer, env.Seed)
	return received(env.MessageID)
}

// handleGroupSystem persists a membership-change system message into the
// group's conversation and emits the matching event (spec.md §4.4
// "Membership actions... mutate the group metadata locally and are
// broadcast as system messages").
func (h *Handler) handleGroupSystem(fromPeer string, env Envelope) Ack {
	conv, err := h.db.GetConversationByGroupID(env.GroupID)
	if err != nil {
		return failed(env.MessageID, "group conversation lookup failed")
	}

	content := systemMessageText(env.SystemAction, env.SystemActorPeerID, env.SystemTargetPeerID)
	msg := store.Message{
		MessageID:        env.MessageID,
		ConversationID:   conv.ID,
		SenderPeerID:     fromPeer,
		MessageType:      "System",
		ContentPlaintext: &content,
		CreatedAt:        time.Now(),
		Status:           store.StatusDelivered,
	}
	if err := h.persistAndNotify(conv.ID, msg, fromPeer, content); err != nil {
		return failed(env.MessageID, err.Error())
	}

	h.emitGroupSystemEvent(env)
	return received(env.MessageID)
}

func (h *Handler) emitGroupSystemEvent(env Envelope) {
	switch env.SystemAction {
	case GroupMemberAdded:
		h.bus.Publish(eventbus.MemberAdded{GroupID: env.GroupID, PeerID: env.SystemTargetPeerID})
	case GroupMemberRemoved:
		h.bus.Publish(eventbus.MemberRemoved{GroupID: env.GroupID, PeerID: env.SystemTargetPeerID})
	case GroupMemberPromoted, GroupMemberDemoted:
		h.bus.Publish(eventbus.GroupUpdated{GroupID: env.GroupID})
	}
}

func systemMessageText(action GroupSystemAction, actor, target string) string {
	switch action {
	case GroupMemberAdded:
		return fmt.Sprintf("%s added %s to the group", actor, target)
	case GroupMemberRemoved:
		return fmt.Sprintf("%s removed %s from the group", actor, target)
	case GroupMemberPromoted:
		return fmt.Sprintf("%s promoted %s to admin", actor, target)
	case GroupMemberDemoted:
		return fmt.Sprintf("%s demoted %s to member", actor, target)
	default:
		return fmt.Sprintf("%s performed a membership change on %s", actor, target)
	}
}

// conversationFor returns (creating if necessary) the 1:1 conversation with
// peerID, using a deterministic id derived from the peer so concurrent
// first contacts converge on one row (spec.md §4.6 "Ensure a conversation
// row exists (deterministic id from recipient)").
func (h *Handler) conversationFor(peerID string) (store.Conversation, error) {
	id := conversationID(peerID)
	conv, err := h.db.GetConversation(id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, err
	}

	if _, err := h.db.GetContact(peerID); errors.Is(err, store.ErrNotFound) {
		if err := h.db.UpsertContact(store.Contact{PeerID: peerID, PublicKey: []byte{}}); err != nil {
			return store.Conversation{}, err
		}
	}

	return h.db.CreateDirectConversationWithID(id, peerID, peerID)
}

// conversationID derives a deterministic conversation id for a 1:1 peer so
// two processes racing to first-contact the same peer agree on one row
// (spec.md §4.6). uuid.NewSHA1 over a fixed namespace gives a stable,
// collision-resistant mapping from peer id to conversation id.
func conversationID(peerID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(peerID)).String()
}

var conversationNamespace = uuid.MustParse("6ba7b815-9dad-11d1-80b4-00c04fd430c8")

func (h *Handler) persistAndNotify(conversationID string, msg store.Message, fromPeer, content string) error {
	if err := h.db.CreateMessage(msg); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("persist message: %w", err)
	}
	if err := h.db.RecordIncomingMessage(conversationID, msg.MessageID, msg.CreatedAt); err != nil {
		log.WithField("function", "persistAndNotify").WithField("error", err).Warn("conversation update failed")
	}
	// Failure to emit does not roll back the persist (spec.md §4.5 "Emission").
	h.bus.Publish(eventbus.MessageReceived{ID: msg.MessageID, From: fromPeer, Message: content})
	return nil
}

func strp(s string) *string { return &s }
