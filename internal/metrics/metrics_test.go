package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
)

func TestObserve(t *testing.T) {
	m := New()

	m.Observe(model.KindChannel, sync.ActionInsert, true)
	m.Observe(model.KindChannel, sync.ActionInsert, true)
	m.Observe(model.KindChannel, sync.ActionInsert, false)
	m.Observe(model.KindTag, sync.ActionDelete, true)

	tests := []struct {
		kind   model.Kind
		action sync.Action
		result string
		want   float64
	}{
		{model.KindChannel, sync.ActionInsert, "success", 2},
		{model.KindChannel, sync.ActionInsert, "failure", 1},
		{model.KindTag, sync.ActionDelete, "success", 1},
		{model.KindTag, sync.ActionUpdate, "success", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.operations.WithLabelValues(string(tt.kind), string(tt.action), tt.result))
		if got != tt.want {
			t.Errorf("operations{%s,%s,%s} = %v, want %v", tt.kind, tt.action, tt.result, got, tt.want)
		}
	}
}

func TestSetConnectivity(t *testing.T) {
	m := New()

	if got := testutil.ToFloat64(m.connectivity.WithLabelValues("unknown")); got != 1 {
		t.Errorf("initial unknown = %v, want 1", got)
	}

	m.SetConnectivity(client.ConnectivityConnected)
	for state, want := range map[string]float64{"unknown": 0, "connected": 1, "disconnected": 0} {
		if got := testutil.ToFloat64(m.connectivity.WithLabelValues(state)); got != want {
			t.Errorf("connectivity{%s} = %v, want %v", state, got, want)
		}
	}
}

func TestRecordRun(t *testing.T) {
	m := New()
	start := time.Unix(1700000000, 0)

	m.RecordRun(&sync.Result{
		StartedAt: start,
		Duration:  1500 * time.Millisecond,
		Counts:    sync.Counts{Inserts: 3, Failures: 2},
	}, nil)
	m.RecordRun(nil, errors.ErrConnectionFailed)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("ok")); got != 1 {
		t.Errorf("runs{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("error")); got != 1 {
		t.Errorf("runs{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastRun); got != 1700000000 {
		t.Errorf("last_run_timestamp_seconds = %v, want 1700000000", got)
	}
	if got := testutil.ToFloat64(m.lastDuration); got != 1.5 {
		t.Errorf("last_run_duration_seconds = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(m.lastFailures); got != 2 {
		t.Errorf("last_run_failures = %v, want 2", got)
	}
}

func TestRecordLatencies(t *testing.T) {
	m := New()
	m.RecordLatencies([]client.LatencySummary{
		{Method: "GET", Count: 12, P50: 10 * time.Millisecond, P90: 20 * time.Millisecond, P99: 40 * time.Millisecond},
	})
	m.RecordLatencies([]client.LatencySummary{
		{Method: "POST", Count: 2, P50: 100 * time.Millisecond},
	})

	if got := testutil.CollectAndCount(m.requests); got != 1 {
		t.Errorf("request series = %d, want 1 after reset", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST")); got != 2 {
		t.Errorf("requests{POST} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.latency.WithLabelValues("POST", "0.5")); got != 0.1 {
		t.Errorf("latency{POST,0.5} = %v, want 0.1", got)
	}
}

func TestRouter(t *testing.T) {
	m := New()
	m.Observe(model.KindDevice, sync.ActionUpdate, true)
	s := NewServer("", m)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	status, body := get("/metrics")
	if status != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", status)
	}
	want := `kepsync_operations_total{action="update",kind="device",result="success"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("/metrics does not contain %q", want)
	}

	tests := []struct {
		state      client.Connectivity
		wantStatus int
	}{
		{client.ConnectivityUnknown, http.StatusOK},
		{client.ConnectivityConnected, http.StatusOK},
		{client.ConnectivityDisconnected, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		s.SetConnectivity(tt.state)
		status, body := get("/healthz")
		if status != tt.wantStatus {
			t.Errorf("healthz(%s) status = %d, want %d", tt.state, status, tt.wantStatus)
		}
		if strings.TrimSpace(body) != tt.state.String() {
			t.Errorf("healthz(%s) body = %q", tt.state, body)
		}
	}
}

func TestServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(ln.Addr().String(), New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
