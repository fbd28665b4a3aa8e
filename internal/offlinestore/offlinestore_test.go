package offlinestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSendsBase64Payload(t *testing.T) {
	var got StoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StoreResponse{ID: "row-1", MessageID: "msg-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Store(context.Background(), "bob", []byte("ciphertext"))
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Recipient)
	assert.NotEmpty(t, got.EncryptedPayload)
}

func TestListPendingReturnsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/store", r.URL.Path)
		assert.Equal(t, "bob", r.URL.Query().Get("peer_id"))
		json.NewEncoder(w).Encode(listResponse{
			Messages: []PendingMessage{{ID: "row-1", MessageID: "msg-1", Sender: "alice"}},
			Total:    1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	msgs, err := c.ListPending(context.Background(), "bob", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Sender)
}

func TestDeleteReturnsDeletedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		json.NewEncoder(w).Encode(struct {
			DeletedCount int `json:"deleted_count"`
		}{DeletedCount: 2})
	}))
	defer srv.Close()

	c := New(srv.URL)
	n, err := c.Delete(context.Background(), []string{"msg-1", "msg-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStorePropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Store(context.Background(), "bob", []byte("x"))
	assert.Error(t, err)
}
