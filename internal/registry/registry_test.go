package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSendsSignedRequestAndDecodesResponse(t *testing.T) {
	pub, priv, err := cryptoutil.GenerateEd25519KeyPair()
	require.NoError(t, err)

	var gotBody RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RegisterResponse{Username: gotBody.Username, PeerID: gotBody.PeerID, CreatedAt: 123})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := Register(context.Background(), c, priv, RegisterRequest{
		Username:  "alice",
		PeerID:    "peer-alice",
		PublicKey: hexEncode(pub),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)
	assert.NotEmpty(t, gotBody.Signature)
	assert.NotZero(t, gotBody.Timestamp)
}

func TestLookupUsernameNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUsernameNotFound)
}

func TestLookupRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.Health(context.Background()))
}

func TestUpdatePreKeysSignsRequest(t *testing.T) {
	_, priv, err := cryptoutil.GenerateEd25519KeyPair()
	require.NoError(t, err)

	var gotBody PreKeysRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(PreKeysResponse{UpdatedAt: 456})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := UpdatePreKeys(context.Background(), c, priv, PreKeysRequest{PeerID: "peer-alice", PreKeyBundle: "bundle"})
	require.NoError(t, err)
	assert.Equal(t, int64(456), resp.UpdatedAt)
	assert.NotEmpty(t, gotBody.Signature)
}
