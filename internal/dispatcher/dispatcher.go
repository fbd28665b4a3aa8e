// Package dispatcher implements the outbound half of the engine described
// in spec.md §4.6: constructing and sending messages, retrying transient
// transport failures with exponential backoff, and falling back to the
// external offline-store when a peer stays unreachable. Grounded on
// opd-ai-toxcore's testnet/internal/orchestrator.go retry-loop shape,
// wired to a real backoff library (github.com/cenkalti/backoff/v4) rather
// than the teacher's hand-rolled 2^n delay math, since spec.md §4.6's
// exact retry parameters (base=1s, cap=30s, max 5 attempts) map directly
// onto backoff.NewExponentialBackOff's tunables.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/edsonmartins/mepassa/internal/identity"
	"github.com/edsonmartins/mepassa/internal/logging"
	"github.com/edsonmartins/mepassa/internal/store"
)

var log = logging.For("dispatcher")

const maxAttempts = 5

// retryBase, retryCap and offlineFallback are vars (not consts) so tests
// can shrink them instead of sleeping out real multi-second backoff
// delays; production code never reassigns them.
var (
	retryBase       = 1 * time.Second
	retryCap        = 30 * time.Second
	offlineFallback = 60 * time.Second // T_offline: time unreachable before falling back (spec.md §4.6)
)

// Transport is the narrow send capability the dispatcher needs; the real
// implementation lives in the overlay/connectivity layer and is injected
// here so this package stays free of any transport concern.
type Transport interface {
	// Send delivers payload to peerID and reports whether it was
	// accepted by the transport. A non-nil error is treated as a
	// transient failure eligible for retry.
	Send(ctx context.Context, peerID string, payload []byte) error
}

// OfflineStore is the narrow capability internal/offlinestore exposes,
// injected so the dispatcher doesn't import that package's HTTP details.
type OfflineStore interface {
	Store(ctx context.Context, peerID string, payload []byte) error
}

// Dispatcher is the Dispatcher component (spec.md §4.6).
type Dispatcher struct {
	vault     *identity.Vault
	db        *store.DB
	transport Transport
	offline   OfflineStore
}

// New constructs a Dispatcher.
func New(vault *identity.Vault, db *store.DB, transport Transport, offline OfflineStore) *Dispatcher {
	return &Dispatcher{vault: vault, db: db, transport: transport, offline: offline}
}

// SendText implements send_text: insert an optimistic Sent row, then drive
// delivery with exponential backoff in the background, returning the fresh
// message id immediately (spec.md §4.6 "Send").
func (d *Dispatcher) SendText(ctx context.Context, to, content string) (string, error) {
	messageID := uuid.NewString()
	conv, err := d.ensureConversation(to)
	if err != nil {
		return "", fmt.Errorf("dispatcher: ensure conversation: %w", err)
	}

	plaintext := content
	msg := store.Message{
		MessageID:        messageID,
		ConversationID:   conv.ID,
		SenderPeerID:     string(d.vault.PeerID()),
		RecipientPeerID:  &to,
		MessageType:      "Text",
		ContentPlaintext: &plaintext,
		CreatedAt:        time.Now(),
		Status:           store.StatusSent,
	}
	if err := d.db.CreateMessage(msg); err != nil {
		return "", fmt.Errorf("dispatcher: persist outgoing message: %w", err)
	}

	payload := []byte(content)
	go d.deliver(context.Background(), messageID, to, payload)

	return messageID, nil
}

// deliver drives a single message through the exponential-backoff retry
// policy, falling back to the offline store, and finally marking the
// message Failed if everything is exhausted.
func (d *Dispatcher) deliver(ctx context.Context, messageID, to string, payload []byte) {
	d.deliverWithDeadline(ctx, messageID, to, payload, time.Now().Add(offlineFallback))
}

// deliverWithDeadline is deliver parameterized on the offline-store
// fallback deadline, split out so tests can exercise the post-retry
// fallback path without waiting out the real offlineFallback window.
func (d *Dispatcher) deliverWithDeadline(ctx context.Context, messageID, to string, payload []byte, deadline time.Time) {
	logger := log.WithField("function", "deliver").WithField("message_id", messageID).WithField("to", to)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBase
	policy.MaxInterval = retryCap
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	bounded := backoff.WithMaxRetries(policy, maxAttempts-1)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		sendErr := d.transport.Send(ctx, to, payload)
		if sendErr != nil {
			logger.WithField("attempt", attempt).WithField("error", sendErr).Warn("transport send failed, retrying")
		}
		return sendErr
	}, bounded)

	if err == nil {
		return
	}

	if time.Now().After(deadline) && d.offline != nil {
		if offErr := d.offline.Store(ctx, to, payload); offErr == nil {
			logger.Info("delivered via offline-store fallback")
			return
		}
	}

	logger.WithField("error", err).Error("delivery exhausted retries, marking failed")
	if upErr := d.db.UpdateMessageStatus(messageID, store.StatusFailed); upErr != nil {
		logger.WithField("error", upErr).Error("failed to mark message failed")
	}
}

func (d *Dispatcher) ensureConversation(peerID string) (store.Conversation, error) {
	id := deterministicConversationID(peerID)
	conv, err := d.db.GetConversation(id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, err
	}
	return d.db.CreateDirectConversationWithID(id, peerID, peerID)
}

var conversationNamespace = uuid.MustParse("6ba7b815-9dad-11d1-80b4-00c04fd430c8")

func deterministicConversationID(peerID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(peerID)).String()
}
