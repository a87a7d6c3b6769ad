package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/get-district-names", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"districtNames": []string{"Alpha", "Beta"}})
	})
	mux.HandleFunc("POST /api/select-district/{name}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	mux.HandleFunc("GET /api/get-important-features", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"topLevelFeatures":    []string{"Median Income", "Teacher Salary"},
			"bottomLevelFeatures": []string{"Class Size"},
		})
	})
	mux.HandleFunc("POST /api/adjust-data", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	mux.HandleFunc("GET /api/predict-adjusted-data", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"districtPercentIncrease": "4.0"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "AL_Dist.csv")
	require.NoError(t, os.WriteFile(path, []byte("leanm,grade,year,math,rla\nAlpha,3,2019,0.25,0.1\nAlpha,4,2018,0.5,\nBeta,3,2019,0.1,0.1\n"), 0o600))

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--backend", fakeBackend(t).URL, "--dataset", path}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDistrictsCmd(t *testing.T) {
	out, _, err := run(t, "districts")
	require.NoError(t, err)
	assert.Equal(t, "Alpha\nBeta\n", out)
}

func TestExploreCmd(t *testing.T) {
	out, _, err := run(t, "explore", "alpha", "--sort", "year", "--columns", "year,math")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"YEAR", "MATH", "SCORE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"2018", "0.5"}, strings.Fields(lines[1]))
	assert.Equal(t, "page 1 of 1, 2 rows", lines[3])

	out, _, err = run(t, "explore", "Nowhere")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	_, _, err = run(t, "explore", "Alpha", "--sort", "leanm")
	assert.Error(t, err)
}

func TestAdjustCmd(t *testing.T) {
	out, _, err := run(t, "adjust", "Alpha", "--district", "1,2,3,4,5,6,7,8,9,10", "--grade", "5,6")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected Alpha (2 rows)")
	assert.Contains(t, out, "Teacher_Salary")
	assert.Contains(t, out, "Class_Size")
	assert.Regexp(t, `district:\s+4\.0`, out)
	assert.Regexp(t, `state:\s+N/A`, out)

	_, stderr, err := run(t, "adjust", "Alpha", "--district", "1,2,3,4,5,6,7,8,9,x", "--grade", "5,6")
	require.Error(t, err)
	assert.Contains(t, stderr, "district_feature10: Must be a number")

	_, _, err = run(t, "adjust", "Alpha", "--random", "--grade", "1,2")
	assert.Error(t, err, "--random excludes explicit values")

	out, _, err = run(t, "adjust", "Beta", "--random")
	require.NoError(t, err)
	assert.Contains(t, out, "Median_Income")
}
