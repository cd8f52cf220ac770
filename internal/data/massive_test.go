package data

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMassive(srv *httptest.Server) *massiveProvider {
	return &massiveProvider{
		apiKey:            "test-key",
		client:            srv.Client(),
		baseURL:           srv.URL,
		maxRateLimitWaits: 0, // fail fast instead of sleeping in tests
	}
}

// An HTTP-error status yields error plus nil response with the body already
// closed; callers must never be handed a response they cannot use.
func TestProcessGetRequestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	prov := newTestMassive(srv)
	req, err := http.NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)

	resp, err := prov.processGetRequest(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "500")
}

func TestProcessGetRequestRateLimitGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	prov := newTestMassive(srv)
	req, err := http.NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)

	resp, err := prov.processGetRequest(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), hits.Load(), "zero allowed waits means no retry")
}

func TestProcessGetRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	prov := newTestMassive(srv)
	req, err := http.NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)

	resp, err := prov.processGetRequest(req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
