// Package registry implements the HTTP client for the identity registry
// collaborator described in spec.md §4.11: username/peer_id registration,
// lookup, and prekey-bundle refresh. Grounded on opd-ai-toxcore's
// transport/upnp_client.go for the stdlib net/http client idiom (an
// explicit *http.Client with a fixed timeout, typed request/response
// structs, context-scoped calls) — the pack carries no third-party HTTP
// client library, so stdlib net/http is the teacher's own choice here too.
package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("registry")

// callTimeout is spec.md §5 "Timeouts. Registry HTTP calls: 30 s."
const callTimeout = 30 * time.Second

// Typed registry error codes (spec.md §4.11).
var (
	ErrInvalidUsername  = errors.New("registry: invalid username")
	ErrUsernameTaken     = errors.New("registry: username taken")
	ErrUsernameNotFound  = errors.New("registry: username not found")
	ErrInvalidSignature  = errors.New("registry: invalid signature")
	ErrRateLimitExceeded = errors.New("registry: rate limit exceeded")
)

// Client talks to one identity registry instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL (e.g. "https://registry.example").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

// RegisterRequest is the body of POST /api/v1/register.
type RegisterRequest struct {
	Username     string `json:"username"`
	PeerID       string `json:"peer_id"`
	PublicKey    string `json:"public_key"`
	PreKeyBundle string `json:"prekey_bundle"`
	Signature    string `json:"signature"`
	Timestamp    int64  `json:"timestamp"`
}

// RegisterResponse is the body of a successful registration.
type RegisterResponse struct {
	Username  string `json:"username"`
	PeerID    string `json:"peer_id"`
	CreatedAt int64  `json:"created_at"`
}

// Register signs the registration payload with the caller-supplied Ed25519
// key and submits it (spec.md §4.11: "Signature on register is Ed25519 over
// \"register:\" ∥ username ∥ \":\" ∥ timestamp").
func Register(ctx context.Context, c *Client, priv ed25519.PrivateKey, req RegisterRequest) (RegisterResponse, error) {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	signInput := "register:" + req.Username + ":" + strconv.FormatInt(req.Timestamp, 10)
	req.Signature = hexEncode(cryptoutil.Sign(priv, []byte(signInput)))

	var resp RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/register", req, &resp)
	return resp, err
}

// LookupResponse is the body of GET /api/v1/lookup.
type LookupResponse struct {
	Username     string `json:"username"`
	PeerID       string `json:"peer_id"`
	PreKeyBundle string `json:"prekey_bundle"`
	LastUpdated  int64  `json:"last_updated"`
}

// Lookup resolves a username to a peer id and current prekey bundle.
func (c *Client) Lookup(ctx context.Context, username string) (LookupResponse, error) {
	var resp LookupResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/lookup?username="+username, nil, &resp)
	return resp, err
}

// PreKeysRequest is the body of PUT /api/v1/prekeys.
type PreKeysRequest struct {
	PeerID       string `json:"peer_id"`
	PreKeyBundle string `json:"prekey_bundle"`
	Signature    string `json:"signature"`
	Timestamp    int64  `json:"timestamp"`
}

// PreKeysResponse is the body of a successful prekey update.
type PreKeysResponse struct {
	UpdatedAt int64 `json:"updated_at"`
}

// UpdatePreKeys signs and submits a refreshed prekey bundle (spec.md
// §4.11: signature over "update_prekeys:" ∥ peer_id ∥ ":" ∥ timestamp).
func UpdatePreKeys(ctx context.Context, c *Client, priv ed25519.PrivateKey, req PreKeysRequest) (PreKeysResponse, error) {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	signInput := "update_prekeys:" + req.PeerID + ":" + strconv.FormatInt(req.Timestamp, 10)
	req.Signature = hexEncode(cryptoutil.Sign(priv, []byte(signInput)))

	var resp PreKeysResponse
	err := c.doJSON(ctx, http.MethodPut, "/api/v1/prekeys", req, &resp)
	return resp, err
}

// Health calls GET /health and reports whether the registry is reachable
// and reporting healthy.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("registry: build health request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("registry: health request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry: health returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	logger := log.WithField("function", "doJSON").WithField("method", method).WithField("path", path)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("registry: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.WithField("error", err).Warn("registry request failed")
		return fmt.Errorf("registry: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := errorForStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func errorForStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	case http.StatusNotFound:
		return ErrUsernameNotFound
	case http.StatusConflict:
		return ErrUsernameTaken
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidSignature
	case http.StatusBadRequest:
		return ErrInvalidUsername
	default:
		return fmt.Errorf("registry: unexpected status %d", resp.StatusCode)
	}
}
