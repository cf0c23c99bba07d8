package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer_Handler(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthFunc
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "metrics are served",
			path:       "/metrics",
			wantStatus: http.StatusOK,
			wantBody:   "test_metric 42",
		},
		{
			name:       "default health",
			path:       "/health",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "unhealthy",
			health:     func() (bool, string) { return false, "closed" },
			path:       "/health",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "closed",
		},
		{
			name:       "unknown route",
			path:       "/debug",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_metric", Help: "Test metric"})
			registry.MustRegister(gauge)
			gauge.Set(42)

			var opts []ServerOption
			if tt.health != nil {
				opts = append(opts, WithHealth(tt.health))
			}
			server := NewMetricsServer("127.0.0.1:0", registry, registry, opts...)

			ts := httptest.NewServer(server.Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestMetricsServer_Profiler(t *testing.T) {
	registry := prometheus.NewRegistry()

	without := httptest.NewServer(NewMetricsServer("127.0.0.1:0", registry, nil).Handler())
	defer without.Close()
	resp, err := http.Get(without.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	with := httptest.NewServer(NewMetricsServer("127.0.0.1:0", registry, nil, WithProfiler()).Handler())
	defer with.Close()
	resp, err = http.Get(with.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsServer_Start(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewSystemCollector(registry)
	require.NoError(t, err)

	server := NewMetricsServer("127.0.0.1:0", registry, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-server.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	addr := server.Addr()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "skinport_system_goroutines")
	assert.Contains(t, string(body), "promhttp_metric_handler_requests_total")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server didn't shut down within timeout")
	}

	_, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
	assert.Error(t, err, "server should be stopped")
}

func TestMetricsServer_StartListenError(t *testing.T) {
	server := NewMetricsServer("256.0.0.1:-1", prometheus.NewRegistry(), nil)
	assert.Error(t, server.Start(context.Background()))
	<-server.Done()
}

func TestSystemCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := NewSystemCollector(registry)
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"skinport_system_memory_bytes",
		"skinport_system_gc_stats",
		"skinport_system_goroutines",
		"skinport_system_threads",
	}, names)

	_, err = NewSystemCollector(registry)
	assert.Error(t, err, "second registration must fail")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, collector.Start(ctx, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-collector.Done():
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
