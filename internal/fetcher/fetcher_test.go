package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		WorkerSettings: &config.WorkerConfig{UserAgent: "occupancy-crawler-test"},
		FetcherSettings: &config.FetcherConfig{
			Mechanism:    0,
			PageCacheTtl: time.Minute,
		},
		HttpClientSettings: &config.HttpClientConfig{
			RequestTimeout: 5 * time.Second,
		},
	}
}

func TestFetchPageReturnsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div class="status_text">40 frei</div>`))
	}))
	defer server.Close()

	pc := NewPageClient(testConfig(), &http.Transport{})
	body, err := pc.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, body, "40 frei")
}

func TestFetchPageSendsConfiguredUserAgent(t *testing.T) {
	t.Parallel()

	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.UserAgent())
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	pc := NewPageClient(testConfig(), &http.Transport{})
	_, err := pc.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "occupancy-crawler-test", userAgent.Load())
}

func TestFetchPageErrorStatusIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	pc := NewPageClient(testConfig(), &http.Transport{})
	_, err := pc.FetchPage(context.Background(), server.URL)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, server.URL, transportErr.URL)
}

func TestFetchPageUnreachableHostIsTransportError(t *testing.T) {
	t.Parallel()

	pc := NewPageClient(testConfig(), &http.Transport{})
	_, err := pc.FetchPage(context.Background(), "http://127.0.0.1:1")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestFetchPageServesFromCacheWithinTtl(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("cached page"))
	}))
	defer server.Close()

	pc := NewPageClient(testConfig(), &http.Transport{})
	first, err := pc.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	second, err := pc.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetchPageDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "nope", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	pc := NewPageClient(testConfig(), &http.Transport{})
	_, err := pc.FetchPage(context.Background(), server.URL)
	require.Error(t, err)

	body, err := pc.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", body)
}
