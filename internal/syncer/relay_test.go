package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessmate/accessmate/internal/common"
)

func TestRelayPush(t *testing.T) {
	var gotReq pushRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/changes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(pushResponse{Cursor: "c42"})
	}))
	defer srv.Close()

	c := NewRelayClient(srv.Client(), srv.URL, "tok")
	rec, err := NewChangeRecord(ScopeSetting, "app_theme", "dark", "aaaa000011112222")
	require.NoError(t, err)

	cursor, err := c.Push(context.Background(), []*ChangeRecord{rec}, "c41")
	require.NoError(t, err)
	assert.Equal(t, "c42", cursor)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "c41", gotReq.Cursor)
	require.Len(t, gotReq.Records, 1)
	assert.Equal(t, rec.ChangeID, gotReq.Records[0].ChangeID)
}

func TestRelayPull(t *testing.T) {
	rec, err := NewChangeRecord(ScopeNote, "user_data.notes", []string{"shopping"}, "bbbb000011112222")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		require.Equal(t, "c41", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(pullResponse{Records: []*ChangeRecord{rec}, Cursor: "c42"})
	}))
	defer srv.Close()

	c := NewRelayClient(srv.Client(), srv.URL, "")
	recs, cursor, err := c.Pull(context.Background(), "user-1", "c41")
	require.NoError(t, err)
	assert.Equal(t, "c42", cursor)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ChangeID, recs[0].ChangeID)
	assert.True(t, recs[0].Verify())
}

func TestRelayErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is transient", http.StatusInternalServerError, common.ErrSyncTransient},
		{"throttling is transient", http.StatusTooManyRequests, common.ErrSyncTransient},
		{"auth failure is permanent", http.StatusUnauthorized, common.ErrSyncPermanent},
		{"bad request is permanent", http.StatusBadRequest, common.ErrSyncPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewRelayClient(srv.Client(), srv.URL, "tok")
			_, _, err := c.Pull(context.Background(), "user-1", "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRelayNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewRelayClient(nil, srv.URL, "")
	_, err := c.Push(context.Background(), nil, "")
	require.ErrorIs(t, err, common.ErrSyncTransient)
}

func TestRelayMalformedResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{truncated"))
	}))
	defer srv.Close()

	c := NewRelayClient(srv.Client(), srv.URL, "")
	_, _, err := c.Pull(context.Background(), "user-1", "")
	require.ErrorIs(t, err, common.ErrSyncTransient)
}
