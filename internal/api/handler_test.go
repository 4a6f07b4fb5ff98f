package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/api"
	"traffic-router/internal/engine"
	"traffic-router/internal/storage"
)

const targetJSON = `{
	"id": "0",
	"url": "http://example.com",
	"value": "0.50",
	"maxAcceptsPerDay": "10",
	"accept": {
		"geoState": {"$in": ["ca", "ny"]},
		"hour": {"$in": ["13", "14", "15"]}
	}
}`

func newTestRouter(t *testing.T, targets ...string) (http.Handler, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	h := api.NewHandler(store, engine.New(store, store))
	r := api.Router(h)
	for _, raw := range targets {
		w := do(r, http.MethodPost, "/api/targets", raw)
		require.Equal(t, http.StatusOK, w.Code, "registering fixture target")
	}
	return r, store
}

func do(r http.Handler, method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func visitorJSON(geoState, timestamp string) string {
	b, _ := json.Marshal(map[string]string{
		"geoState":  geoState,
		"publisher": "abc",
		"timestamp": timestamp,
	})
	return string(b)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, api.Version, body["version"])
}

func TestUpsertTarget_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id": `},
		{"missing id", `{"url": "http://example.com", "value": "1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)

			w := do(r, http.MethodPost, "/api/targets", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeBody(t, w), "error")
		})
	}
}

func TestUpsertTarget_SecondWriteReplaces(t *testing.T) {
	r, _ := newTestRouter(t, targetJSON)

	replaced := strings.Replace(targetJSON, "http://example.com", "http://replaced.example.com", 1)
	w := do(r, http.MethodPost, "/api/targets", replaced)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, w.Code)
	var targets []engine.Target
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "http://replaced.example.com", targets[0].URL)
}

func TestListTargets_RoundTrip(t *testing.T) {
	r, _ := newTestRouter(t, targetJSON)

	w := do(r, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var want engine.Target
	require.NoError(t, json.Unmarshal([]byte(targetJSON), &want))
	var got []engine.Target
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
}

func TestListTargets_EmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/targets", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestGetTarget(t *testing.T) {
	r, _ := newTestRouter(t, targetJSON)

	w := do(r, http.MethodGet, "/api/targets/0", "")
	require.Equal(t, http.StatusOK, w.Code)

	var want, got engine.Target
	require.NoError(t, json.Unmarshal([]byte(targetJSON), &want))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestGetTarget_Missing(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/targets/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w), "error")
}

func TestDecide_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		targets    []string
		visitor    string
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "no targets registered",
			visitor:    visitorJSON("ca", "2018-07-19T23:28:59.513Z"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name:       "geo and hour match",
			targets:    []string{targetJSON},
			visitor:    visitorJSON("ca", "2018-07-19T13:28:59.513Z"),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "accept", "url": "http://example.com"},
		},
		{
			name:       "hour matches, geo does not",
			targets:    []string{targetJSON},
			visitor:    visitorJSON("la", "2018-07-19T13:28:59.513Z"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name:       "geo matches, hour does not",
			targets:    []string{targetJSON},
			visitor:    visitorJSON("ca", "2018-07-19T23:28:59.513Z"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name: "highest value among eligible wins",
			targets: []string{
				targetJSON,
				strings.NewReplacer(`"0"`, `"1"`, "http://example.com", "http://example1.com", "0.50", "3").Replace(targetJSON),
				strings.NewReplacer(`"0"`, `"2"`, "http://example.com", "http://example2.com", "0.50", "7").Replace(targetJSON),
			},
			visitor:    visitorJSON("ca", "2018-07-19T15:28:59.513Z"),
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "accept", "url": "http://example2.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, tt.targets...)

			w := do(r, http.MethodPost, "/route", tt.visitor)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, decodeBody(t, w))
		})
	}
}

func TestDecide_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"geoState": `},
		{"missing geoState", visitorJSON("", "2018-07-19T13:28:59.513Z")},
		{"missing timestamp", `{"geoState": "ca", "publisher": "abc"}`},
		{"unparsable timestamp", `{"geoState": "ca", "timestamp": "yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, targetJSON)

			w := do(r, http.MethodPost, "/route", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDecide_CapViaHTTP(t *testing.T) {
	capped := strings.Replace(targetJSON, `"maxAcceptsPerDay": "10"`, `"maxAcceptsPerDay": "2"`, 1)
	r, _ := newTestRouter(t, capped)
	visitor := visitorJSON("ca", "2018-07-19T13:28:59.513Z")

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/route", visitor)
		assert.Equal(t, http.StatusOK, w.Code, "accept #%d", i+1)
	}
	w := do(r, http.MethodPost, "/route", visitor)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]any{"decision": "reject"}, decodeBody(t, w))
}

func TestUnsupportedMethod(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, tc := range []struct{ method, url string }{
		{http.MethodGet, "/route"},
		{http.MethodDelete, "/api/targets"},
		{http.MethodPost, "/api/targets/0"},
	} {
		w := do(r, tc.method, tc.url, "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", tc.method, tc.url)
		assert.Contains(t, decodeBody(t, w), "error")
	}
}

func TestCORSHeaders(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/targets", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, accept, content-type", w.Header().Get("Access-Control-Allow-Headers"))

	w = do(r, http.MethodOptions, "/api/targets", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestFavicon(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/favicon.ico", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// downStore fails every operation, standing in for an unreachable backend.
type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Upsert(context.Context, engine.Target) error      { return errDown }
func (downStore) List(context.Context) ([]engine.Target, error)    { return nil, errDown }
func (downStore) Get(context.Context, string) (engine.Target, error) {
	return engine.Target{}, errDown
}
func (downStore) Count(context.Context, string) (int64, error)     { return 0, errDown }
func (downStore) Increment(context.Context, string) (int64, error) { return 0, errDown }
func (downStore) Ping(context.Context) error                       { return errDown }
func (downStore) Close()                                           {}

func TestStoreUnavailable(t *testing.T) {
	store := downStore{}
	h := api.NewHandler(store, engine.New(store, store))
	r := api.Router(h)

	tests := []struct {
		name       string
		method     string
		url        string
		body       string
		wantStatus int
	}{
		{"upsert", http.MethodPost, "/api/targets", targetJSON, http.StatusServiceUnavailable},
		{"list", http.MethodGet, "/api/targets", "", http.StatusServiceUnavailable},
		{"get", http.MethodGet, "/api/targets/0", "", http.StatusServiceUnavailable},
		{"decide", http.MethodPost, "/route", visitorJSON("ca", "2018-07-19T13:28:59.513Z"), http.StatusServiceUnavailable},
		{"health", http.MethodGet, "/health", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.url, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			// a store failure must never surface as an accept
			assert.NotContains(t, w.Body.String(), "accept")
		})
	}
}
