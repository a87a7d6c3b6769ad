package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-insights/internal/models"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// fakeBackend mimics the prediction API including its session cookie
type fakeBackend struct {
	mu       sync.Mutex
	selected map[string]string
	adjusted map[string]map[string]string
	calls    []string
	sessions int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		selected: map[string]string{},
		adjusted: map[string]map[string]string{},
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	session := func(w http.ResponseWriter, r *http.Request) string {
		if c, err := r.Cookie("session"); err == nil {
			return c.Value
		}
		f.mu.Lock()
		f.sessions++
		id := "s" + strconv.Itoa(f.sessions)
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "session", Value: id, Path: "/"})
		return id
	}
	record := func(r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
	}

	mux.HandleFunc("GET /api/get-district-names", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(map[string]any{"districtNames": []string{"Alpha", "Beta City"}})
	})
	mux.HandleFunc("POST /api/select-district/{name}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
			return
		}
		id := session(w, r)
		f.mu.Lock()
		f.selected[id] = r.PathValue("name")
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "selected " + r.PathValue("name")})
	})
	mux.HandleFunc("GET /api/get-important-features", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		ok := false
		if c, err := r.Cookie("session"); err == nil {
			f.mu.Lock()
			_, ok = f.selected[c.Value]
			f.mu.Unlock()
		}
		if !ok {
			http.Error(w, "no district selected", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(models.FeatureNames{
			TopLevel:    []string{"Teacher Salary", "Class Size"},
			BottomLevel: []string{"Free Lunch"},
		})
	})
	mux.HandleFunc("POST /api/adjust-data", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := session(w, r)
		f.mu.Lock()
		f.adjusted[id] = body
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	mux.HandleFunc("GET /api/predict-adjusted-data", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"districtPercentIncrease": "1.5",
			"statePercentIncrease":    "0.2",
		})
	})
	return mux
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, 5*time.Second, nil, logging.NewNopLogger(), metrics.NewTestCollector())
	require.NoError(t, err)
	return c
}

func TestFormatDistrictName(t *testing.T) {
	tests := map[string]string{
		"Alpha":            "Alpha",
		"Beta City":        "Beta-City",
		"Gamma  Hills\tCo": "Gamma-Hills-Co",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatDistrictName(in), in)
	}
}

func TestClient_Workflow(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")
	ctx := context.Background()

	names, err := c.DistrictNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta City"}, names)

	msg, err := c.SelectDistrict(ctx, "Beta City")
	require.NoError(t, err)
	assert.Equal(t, "selected Beta-City", msg)

	features, err := c.ImportantFeatures(ctx)
	require.NoError(t, err, "the session cookie from select must be replayed")
	assert.Equal(t, []string{"Teacher Salary", "Class Size"}, features.TopLevel)
	assert.Equal(t, []string{"Free Lunch"}, features.BottomLevel)

	_, err = c.AdjustData(ctx, map[string]string{"Teacher_Salary": "10"})
	require.NoError(t, err)

	prediction, err := c.PredictAdjustedData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.5", prediction.DistrictPercentIncrease)
	assert.Equal(t, models.NotAvailable, prediction.Display().SimilarDistrictsPercentIncrease)

	assert.Equal(t, []string{
		"GET /api/get-district-names",
		"POST /api/select-district/Beta-City",
		"GET /api/get-important-features",
		"POST /api/adjust-data",
		"GET /api/predict-adjusted-data",
	}, backend.calls)
	assert.Len(t, backend.adjusted, 1)
}

func TestClient_SeparateSessions(t *testing.T) {
	srv := httptest.NewServer(newFakeBackend().handler())
	defer srv.Close()

	first := newTestClient(t, srv.URL)
	second := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := first.SelectDistrict(ctx, "Alpha")
	require.NoError(t, err)

	_, err = second.ImportantFeatures(ctx)
	require.Error(t, err, "cookies are not shared between clients")
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model warming up"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.PredictAdjustedData(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, OpPredict, netErr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, "Service Unavailable", netErr.StatusText)
	assert.Equal(t, "API call failed: predict_adjusted_data: Service Unavailable", err.Error())
	assert.True(t, netErr.IsTransient())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.DistrictNames(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Zero(t, netErr.StatusCode)
	assert.Error(t, netErr.Unwrap())
}

func TestNetworkError_IsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want bool
	}{
		{"bad request", &NetworkError{StatusCode: 400}, false},
		{"not found", &NetworkError{StatusCode: 404}, false},
		{"rate limited", &NetworkError{StatusCode: 429}, true},
		{"server error", &NetworkError{StatusCode: 500}, true},
		{"cancelled", &NetworkError{Err: context.Canceled}, false},
		{"connection refused", &NetworkError{Err: errors.New("connection refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsTransient())
		})
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("ftp://example.org", time.Second, nil, logging.NewNopLogger(), metrics.NewTestCollector())
	assert.Error(t, err)
	_, err = NewClient("://", time.Second, nil, logging.NewNopLogger(), metrics.NewTestCollector())
	assert.Error(t, err)
}
