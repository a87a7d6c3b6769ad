package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					matched = false
				}
			}
			if !matched {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// two collectors with the same namespace must not collide
	a := NewCollector("district", prometheus.NewRegistry())
	b := NewCollector("district", prometheus.NewRegistry())
	assert.NotSame(t, a.APIRequestsTotal, b.APIRequestsTotal)
}

func TestCollector_Recorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("district", reg)

	c.RecordBackendCall("select_district", nil, 10*time.Millisecond)
	c.RecordBackendCall("select_district", errors.New("down"), time.Millisecond)
	c.RecordDatasetLoad(7, 2)
	c.RecordCacheLookup("prediction", true)
	c.RecordCacheLookup("prediction", false)
	c.RecordValidationFailure("district")
	c.RecordSubmission("accepted")
	c.UpdateDBConnectionPool(1, 2, 3)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "district_backend_requests_total",
		map[string]string{"operation": "select_district", "outcome": "success"}))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "district_backend_requests_total",
		map[string]string{"operation": "select_district", "outcome": "failure"}))
	assert.Equal(t, 7.0, gatheredValue(t, reg, "district_dataset_rows_loaded_total", nil))
	assert.Equal(t, 2.0, gatheredValue(t, reg, "district_dataset_rows_skipped_total", nil))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "district_query_cache_lookups_total",
		map[string]string{"key": "prediction", "result": "hit"}))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "district_validation_failures_total",
		map[string]string{"group": "district"}))
	assert.Equal(t, 3.0, gatheredValue(t, reg, "district_db_connection_pool",
		map[string]string{"state": "total"}))
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewTestCollector()
	timer := c.NewTimer(c.StatsCalculationDuration)
	assert.GreaterOrEqual(t, timer.ObserveDuration(), time.Duration(0))

	var nilTimer = &Timer{start: time.Now()}
	assert.GreaterOrEqual(t, nilTimer.ObserveDuration(), time.Duration(0))
}
