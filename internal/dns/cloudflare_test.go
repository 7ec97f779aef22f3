package dns_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cloudflare/cloudflare-go/v6/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/internet-gateway/internal/dns"
	"github.com/lexfrei/internet-gateway/internal/metrics"
)

type apiCall struct {
	method string
	path   string
	query  string
	body   map[string]any
}

type fakeCloudflare struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeCloudflare) recorded() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]apiCall(nil), f.calls...)
}

func (f *fakeCloudflare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := apiCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}

	if r.Body != nil && r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&call.body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	var result any

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		result = []map[string]any{}
		if r.URL.Query().Get("name") == "example.com" {
			result = []map[string]any{{"id": "zone-1", "name": "example.com"}}
		}
	case r.Method == http.MethodGet && r.URL.Path == "/zones/zone-1/dns_records":
		result = []map[string]any{
			{"id": "rec-1", "name": "a.example.com", "type": "A", "content": "203.0.113.1"},
			{"id": "rec-2", "name": "b.a.example.com", "type": "A", "content": "203.0.113.2"},
		}
	case r.Method == http.MethodPost && r.URL.Path == "/zones/zone-1/dns_records":
		result = map[string]any{"id": "rec-3", "name": call.body["name"], "type": "A", "content": call.body["content"]}
	case r.Method == http.MethodDelete && r.URL.Path == "/zones/zone-1/dns_records/rec-1":
		result = map[string]any{"id": "rec-1"}
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  false,
			"errors":   []map[string]any{{"code": 7003, "message": "not found"}},
			"messages": []any{},
			"result":   nil,
		})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
		"result_info": map[string]any{
			"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1,
		},
	})
}

func newTestProvider(t *testing.T) (*dns.CloudflareProvider, *fakeCloudflare) {
	t.Helper()

	api := &fakeCloudflare{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	provider := dns.NewCloudflareProvider("test-token", metrics.NewNoopCollector(),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)

	return provider, api
}

func TestCloudflareProvider_FindZone(t *testing.T) {
	t.Parallel()

	provider, _ := newTestProvider(t)
	ctx := context.Background()

	zoneID, found, err := provider.FindZone(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "zone-1", zoneID)

	_, found, err = provider.FindZone(ctx, "example.org")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCloudflareProvider_ListARecordsExactMatch(t *testing.T) {
	t.Parallel()

	provider, api := newTestProvider(t)

	records, err := provider.ListARecords(context.Background(), "zone-1", "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, []dns.Record{{ID: "rec-1", Name: "a.example.com", Content: "203.0.113.1"}}, records)

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].query, "type=A")
}

func TestCloudflareProvider_HostCaseAndTrailingDot(t *testing.T) {
	t.Parallel()

	provider, api := newTestProvider(t)
	ctx := context.Background()

	records, err := provider.ListARecords(ctx, "zone-1", "A.Example.com.")
	require.NoError(t, err)
	assert.Equal(t, []dns.Record{{ID: "rec-1", Name: "a.example.com", Content: "203.0.113.1"}}, records)

	require.NoError(t, provider.CreateARecord(ctx, "zone-1", "App.Example.com.", "203.0.113.5"))

	calls := api.recorded()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].query, "a.example.com")
	assert.NotContains(t, calls[0].query, "Example")
	assert.Equal(t, "app.example.com", calls[1].body["name"])
}

func TestCloudflareProvider_CreateUnproxied(t *testing.T) {
	t.Parallel()

	provider, api := newTestProvider(t)

	require.NoError(t, provider.CreateARecord(context.Background(), "zone-1", "a.example.com", "203.0.113.5"))

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "a.example.com", calls[0].body["name"])
	assert.Equal(t, "203.0.113.5", calls[0].body["content"])
	assert.Equal(t, "A", calls[0].body["type"])
	assert.Equal(t, false, calls[0].body["proxied"])
}

func TestCloudflareProvider_Delete(t *testing.T) {
	t.Parallel()

	provider, _ := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.DeleteRecord(ctx, "zone-1", "rec-1"))
	require.Error(t, provider.DeleteRecord(ctx, "zone-1", "rec-missing"))
}
