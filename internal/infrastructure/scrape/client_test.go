package scrape

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorpulse/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitReturnsSnapshotID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/snapshots" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected auth header: %q", got)
		}

		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"https://instagram.com/jane"}, req.URLs)
		assert.Equal(t, 50, req.MaxResults)

		json.NewEncoder(w).Encode(map[string]string{"id": "snap_abc"})
	}))
	defer srv.Close()

	c := NewWithClient(srv.URL, "token-1", srv.Client(), discardLogger())

	id, err := c.Submit(context.Background(), []string{"https://instagram.com/jane"}, 50)
	require.NoError(t, err)
	assert.Equal(t, "snap_abc", id)
}

func TestStatusDecodesProviderShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/snapshots/snap_abc", r.URL.Path)
		io.WriteString(w, `{"id":"snap_abc","status":"ready","resultCount":12,"datasetSizeBytes":2048,"cost":0.05}`)
	}))
	defer srv.Close()

	c := NewWithClient(srv.URL, "t", srv.Client(), discardLogger())

	status, err := c.Status(context.Background(), "snap_abc")
	require.NoError(t, err)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, 12, status.ResultCount)
	assert.Equal(t, int64(2048), status.DatasetSizeBytes)
	assert.InDelta(t, 0.05, status.Cost, 1e-9)
}

func TestItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/snapshots/snap_abc/items", r.URL.Path)
		io.WriteString(w, `[{"id":"p1","url":"https://instagram.com/p/p1"},{"id":"p2","url":"https://instagram.com/p/p2"}]`)
	}))
	defer srv.Close()

	c := NewWithClient(srv.URL, "t", srv.Client(), discardLogger())

	items, err := c.Items(context.Background(), "snap_abc")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0]["id"])
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		code      int
		transient bool
	}{
		{"throttled", http.StatusTooManyRequests, true},
		{"server fault", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			c := NewWithClient(srv.URL, "t", srv.Client(), discardLogger())

			_, err := c.Status(context.Background(), "snap_abc")
			require.Error(t, err)
			if tc.transient {
				assert.True(t, domain.IsTransientUpstream(err))
			} else {
				assert.True(t, domain.IsPermanentUpstream(err))
			}
		})
	}
}

func TestSubmitWithoutURLs(t *testing.T) {
	t.Parallel()

	c := New("http://unused", "t", discardLogger())

	_, err := c.Submit(context.Background(), nil, 10)
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestSubmitEmptyIDIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := NewWithClient(srv.URL, "t", srv.Client(), discardLogger())

	_, err := c.Submit(context.Background(), []string{"https://tiktok.com/@jane"}, 10)
	assert.True(t, domain.IsPermanentUpstream(err))
}
