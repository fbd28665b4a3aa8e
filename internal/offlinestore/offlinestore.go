// Package offlinestore implements the HTTP client for the external
// offline-store collaborator (spec.md §4.11): storing an encrypted
// envelope for a peer that is unreachable, fetching pending messages on
// reconnect, and deleting acknowledged ones. Grounded on the same stdlib
// net/http client idiom as internal/registry.
package offlinestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("offlinestore")

// TTL is spec.md §4.11's "TTL=14 days" for stored messages.
const TTL = 14 * 24 * time.Hour

const callTimeout = 30 * time.Second

// Client talks to one offline-store instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

// StoreRequest is the body of POST /api/store.
type StoreRequest struct {
	Recipient        string `json:"recipient"`
	Sender           string `json:"sender"`
	EncryptedPayload string `json:"encrypted_payload"`
	MessageType      string `json:"message_type"`
	MessageID        string `json:"message_id"`
}

// StoreResponse is the body of a successful store call.
type StoreResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store submits an encrypted envelope for later retrieval by recipient.
// It implements the dispatcher.OfflineStore capability interface.
func (c *Client) Store(ctx context.Context, recipient string, payload []byte) error {
	req := StoreRequest{
		Recipient:        recipient,
		EncryptedPayload: base64.StdEncoding.EncodeToString(payload),
		MessageType:      "Encrypted",
	}
	var resp StoreResponse
	return c.doJSON(ctx, http.MethodPost, "/api/store", req, &resp)
}

// PendingMessage is one row of ListPending's result.
type PendingMessage struct {
	ID               string `json:"id"`
	Sender           string `json:"sender"`
	EncryptedPayload string `json:"encrypted_payload"`
	MessageType      string `json:"message_type"`
	MessageID        string `json:"message_id"`
	CreatedAt        int64  `json:"created_at"`
}

type listResponse struct {
	Messages []PendingMessage `json:"messages"`
	Total    int              `json:"total"`
}

// ListPending fetches up to limit pending messages for peerID (spec.md
// §4.11 "GET /api/store?peer_id=…&limit=…"). Retrieval of stored messages
// is the recipient's own responsibility on next connect.
func (c *Client) ListPending(ctx context.Context, peerID string, limit int) ([]PendingMessage, error) {
	path := fmt.Sprintf("/api/store?peer_id=%s&limit=%d", peerID, limit)
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Delete acknowledges and purges messageIDs from the offline store.
func (c *Client) Delete(ctx context.Context, messageIDs []string) (int, error) {
	req := struct {
		MessageIDs []string `json:"message_ids"`
	}{MessageIDs: messageIDs}

	var resp struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/store", req, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	logger := log.WithField("function", "doJSON").WithField("method", method).WithField("path", path)

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("offlinestore: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("offlinestore: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.WithField("error", err).Warn("offlinestore request failed")
		return fmt.Errorf("offlinestore: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("offlinestore: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("offlinestore: decode response: %w", err)
	}
	return nil
}
