package metrics

import (
	"context"
	"encoding/json"
	stderr "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/health"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Path: "/metrics", Namespace: "fc"}, utils.DiscardLogger())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

// metricValue returns the counter or gauge value of the series of name with the given labels.
func metricValue(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v", err)
		}
		if c.config.Port != 9090 || c.config.Path != "/metrics" || c.config.Namespace != "fieldcache" {
			t.Errorf("unexpected defaults: %+v", c.config)
		}
		if c.Registry() == nil {
			t.Error("enabled collector should have a registry")
		}
	})

	t.Run("disabled collector records nothing", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if c.Registry() != nil || c.Handler() != nil {
			t.Error("disabled collector should not have a registry")
		}
		c.RecordFetch("grid", time.Millisecond, true)
		c.RecordSpill(10, time.Millisecond, nil)
		c.RecordReload(time.Millisecond, nil)
		c.RecordMissing("grid")
		c.RecordRefresh("image", nil)
		c.AddResidentElements(5)
		c.UpdateSpillStats(types.SpillStats{Files: 1})
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector = %v", err)
		}
	})
}

func TestRecordFetch(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordFetch("grid", 10*time.Millisecond, true)
	c.RecordFetch("grid", 30*time.Millisecond, false)
	c.RecordFetch("image", time.Millisecond, true)

	if got := metricValue(t, c, "fc_fetches_total", map[string]string{"kind": "grid", "result": "success"}); got != 1 {
		t.Errorf("grid successes = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_fetches_total", map[string]string{"kind": "grid", "result": "error"}); got != 1 {
		t.Errorf("grid errors = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_fetch_duration_seconds", map[string]string{"kind": "grid"}); got != 2 {
		t.Errorf("grid duration samples = %v, want 2", got)
	}

	summaries := c.FetchSummaries()
	grid := summaries["grid"]
	if grid.Count != 2 || grid.Failures != 1 || grid.AvgDuration != 20*time.Millisecond {
		t.Errorf("grid summary = %+v", grid)
	}

	c.ResetSummaries()
	if len(c.FetchSummaries()) != 0 {
		t.Error("ResetSummaries should clear summaries")
	}
}

func TestRecordSpillAndReload(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordSpill(4096, time.Millisecond, nil)
	c.RecordSpill(0, time.Millisecond, errors.NewError(errors.ErrCodeCacheWriteFailed, "disk full"))
	c.RecordReload(time.Millisecond, nil)
	c.RecordReload(time.Millisecond, errors.NewError(errors.ErrCodeCacheReadFailed, "corrupt"))
	c.RecordReload(time.Millisecond, stderr.New("plain"))

	if got := metricValue(t, c, "fc_spills_total", map[string]string{"result": "success"}); got != 1 {
		t.Errorf("spill successes = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_spills_total", map[string]string{"result": "CACHE_WRITE_FAILED"}); got != 1 {
		t.Errorf("spill failures = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_spill_bytes", nil); got != 1 {
		t.Errorf("spill size samples = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_reloads_total", map[string]string{"result": "CACHE_READ_FAILED"}); got != 1 {
		t.Errorf("reload failures = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_reloads_total", map[string]string{"result": "error"}); got != 1 {
		t.Errorf("uncoded reload failures = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.AddResidentElements(100)
	c.AddResidentElements(-40)
	c.UpdateSpillStats(types.SpillStats{Files: 3, Bytes: 2048})
	c.RecordMissing("image")
	c.RecordRefresh("image", nil)

	if got := metricValue(t, c, "fc_resident_elements", nil); got != 60 {
		t.Errorf("resident elements = %v, want 60", got)
	}
	if got := metricValue(t, c, "fc_spill_files", nil); got != 3 {
		t.Errorf("spill files = %v, want 3", got)
	}
	if got := metricValue(t, c, "fc_spill_disk_bytes", nil); got != 2048 {
		t.Errorf("spill bytes = %v, want 2048", got)
	}
	if got := metricValue(t, c, "fc_missing_reads_total", map[string]string{"kind": "image"}); got != 1 {
		t.Errorf("missing reads = %v, want 1", got)
	}
	if got := metricValue(t, c, "fc_refreshes_total", map[string]string{"kind": "image", "result": "success"}); got != 1 {
		t.Errorf("refreshes = %v, want 1", got)
	}
}

func TestConstLabels(t *testing.T) {
	t.Parallel()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "fc", Labels: map[string]string{"site": "lab"}}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.RecordMissing("grid")
	if got := metricValue(t, c, "fc_missing_reads_total", map[string]string{"site": "lab"}); got != 1 {
		t.Errorf("labelled missing reads = %v, want 1", got)
	}
}

func TestHandlers(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.RecordFetch("grid", time.Millisecond, true)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `fc_fetches_total{kind="grid",result="success"} 1`) {
		t.Errorf("metrics output missing fetch counter:\n%s", body)
	}

	rec := httptest.NewRecorder()
	c.debugFetchesHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/fetches", nil))
	var out struct {
		Fetches map[string]FetchSummary `json:"fetches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode debug output: %v", err)
	}
	if out.Fetches["grid"].Count != 1 {
		t.Errorf("debug fetches = %+v", out.Fetches)
	}

	rec = httptest.NewRecorder()
	c.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestHealthHandlerReportsTracker(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2})
	c.SetHealthTracker(tracker)

	get := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		c.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode health output: %v", err)
		}
		return rec.Code, body
	}

	tracker.RecordFetch("grid", time.Millisecond, true)
	code, body := get()
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("healthy tracker: code=%d body=%v", code, body)
	}

	writeErr := errors.NewError(errors.ErrCodeCacheWriteFailed, "disk full")
	tracker.RecordSpill(0, 0, writeErr)
	code, body = get()
	if code != http.StatusOK || body["status"] != "read-only" {
		t.Errorf("after one spill failure: code=%d body=%v", code, body)
	}

	tracker.RecordSpill(0, 0, writeErr)
	code, body = get()
	if code != http.StatusServiceUnavailable || body["status"] != "unavailable" {
		t.Errorf("after two spill failures: code=%d body=%v", code, body)
	}
	if comps, ok := body["components"].([]interface{}); !ok || len(comps) != 2 {
		t.Errorf("components = %v", body["components"])
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
