package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/handler"
)

// senderKeySeedWire is the JSON payload carried over the pairwise channel
// for a SenderKey seed, mirroring internal/signaling's JSON-over-Transport
// approach (spec.md §4.4 "Creation").
type senderKeySeedWire struct {
	GroupID string `json:"group_id"`
	Seed    string `json:"seed"`
}

// groupSystemWire is the JSON payload for a group-membership system
// message (spec.md §4.4 "Membership actions... broadcast as system
// messages").
type groupSystemWire struct {
	GroupID string `json:"group_id"`
	Action  string `json:"action"`
	Actor   string `json:"actor_peer_id"`
	Target  string `json:"target_peer_id"`
}

// fanOutSenderKeySeed delivers newPeerID's freshly minted SenderKey seed to
// that peer (so it knows which chain to encrypt its broadcasts with) and to
// every other current member (so they can decrypt them), over whatever
// Transport is installed. Delivery failures are logged and otherwise
// non-fatal: spec.md §4.4 does not make group membership contingent on
// every pairwise delivery succeeding synchronously.
func (e *Engine) fanOutSenderKeySeed(ctx context.Context, groupID, newPeerID string, seed [cryptoutil.KeySize]byte) {
	logger := log.WithField("function", "fanOutSenderKeySeed").WithField("group_id", groupID)

	members, err := e.db.ListGroupMembers(groupID)
	if err != nil {
		logger.WithField("error", err).Warn("listing group members failed")
		return
	}

	payload, err := json.Marshal(senderKeySeedWire{GroupID: groupID, Seed: hex.EncodeToString(seed[:])})
	if err != nil {
		logger.WithField("error", err).Error("marshal sender-key seed payload failed")
		return
	}

	self := string(e.vault.PeerID())
	recipients := []string{newPeerID}
	for _, m := range members {
		if m.PeerID == newPeerID || m.PeerID == self {
			continue
		}
		recipients = append(recipients, m.PeerID)
	}

	for _, peerID := range recipients {
		if err := e.transport.Send(ctx, peerID, payload); err != nil {
			logger.WithField("peer_id", peerID).WithField("error", err).Warn("sender-key seed delivery failed")
		}
	}
}

// broadcastGroupSystem fans a membership-change system message out to
// every current group member (spec.md §4.4 "Membership actions... broadcast
// as system messages").
func (e *Engine) broadcastGroupSystem(ctx context.Context, groupID string, action handler.GroupSystemAction, actorPeerID, targetPeerID string) {
	logger := log.WithField("function", "broadcastGroupSystem").WithField("group_id", groupID)

	members, err := e.db.ListGroupMembers(groupID)
	if err != nil {
		logger.WithField("error", err).Warn("listing group members failed")
		return
	}

	payload, err := json.Marshal(groupSystemWire{
		GroupID: groupID,
		Action:  string(action),
		Actor:   actorPeerID,
		Target:  targetPeerID,
	})
	if err != nil {
		logger.WithField("error", err).Error("marshal group system payload failed")
		return
	}

	self := string(e.vault.PeerID())
	for _, m := range members {
		if m.PeerID == self {
			continue
		}
		if err := e.transport.Send(ctx, m.PeerID, payload); err != nil {
			logger.WithField("peer_id", m.PeerID).WithField("error", err).Warn("system message delivery failed")
		}
	}
}
