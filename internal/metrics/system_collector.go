package metrics

import (
	"context"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// SystemCollector implements prometheus.Collector for the Go runtime of the
// feed process: memory, GC and concurrency. Values are read on every scrape.
type SystemCollector struct {
	memStats   *prometheus.GaugeVec
	gcStats    *prometheus.GaugeVec
	goroutines prometheus.Gauge
	threads    prometheus.Gauge
	done       chan struct{}
	logger     *logrus.Entry
}

// NewSystemCollector creates the collector and registers it with reg.
func NewSystemCollector(reg prometheus.Registerer) (*SystemCollector, error) {
	c := &SystemCollector{
		memStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_bytes",
			Help:      "Memory statistics in bytes.",
		}, []string{"type"}),
		gcStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_stats",
			Help:      "Garbage collector statistics.",
		}, []string{"type"}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Number of running goroutines.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "threads",
			Help:      "Number of OS threads created.",
		}),
		done:   make(chan struct{}),
		logger: logrus.WithField("component", "system_collector"),
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *SystemCollector) Describe(ch chan<- *prometheus.Desc) {
	c.memStats.Describe(ch)
	c.gcStats.Describe(ch)
	ch <- c.goroutines.Desc()
	ch <- c.threads.Desc()
}

// Collect implements prometheus.Collector.
func (c *SystemCollector) Collect(ch chan<- prometheus.Metric) {
	var stats systemStats
	stats.update()
	c.set(stats)

	c.memStats.Collect(ch)
	c.gcStats.Collect(ch)
	c.goroutines.Collect(ch)
	c.threads.Collect(ch)
}

func (c *SystemCollector) set(s systemStats) {
	c.memStats.WithLabelValues("alloc").Set(float64(s.m.Alloc))
	c.memStats.WithLabelValues("total_alloc").Set(float64(s.m.TotalAlloc))
	c.memStats.WithLabelValues("sys").Set(float64(s.m.Sys))
	c.memStats.WithLabelValues("heap_alloc").Set(float64(s.m.HeapAlloc))
	c.memStats.WithLabelValues("heap_sys").Set(float64(s.m.HeapSys))
	c.memStats.WithLabelValues("heap_idle").Set(float64(s.m.HeapIdle))
	c.memStats.WithLabelValues("heap_inuse").Set(float64(s.m.HeapInuse))

	c.gcStats.WithLabelValues("num_gc").Set(float64(s.m.NumGC))
	c.gcStats.WithLabelValues("pause_total_ns").Set(float64(s.m.PauseTotalNs))

	c.goroutines.Set(float64(s.goroutines))
	c.threads.Set(float64(s.threads))
}

type systemStats struct {
	m          runtime.MemStats
	goroutines int
	threads    int
}

func (s *systemStats) update() {
	runtime.ReadMemStats(&s.m)
	s.goroutines = runtime.NumGoroutine()
	s.threads = pprof.Lookup("threadcreate").Count()
}

// Start logs a runtime summary every interval until ctx is cancelled.
func (c *SystemCollector) Start(ctx context.Context, interval time.Duration) error {
	go func() {
		defer close(c.done)
		if interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var stats systemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.update()
				c.logStats(stats)
			}
		}
	}()
	return nil
}

func (c *SystemCollector) Done() <-chan struct{} {
	return c.done
}

func (c *SystemCollector) logStats(s systemStats) {
	c.logger.WithFields(logrus.Fields{
		"alloc_mb":      bToMb(s.m.Alloc),
		"sys_mb":        bToMb(s.m.Sys),
		"heap_inuse_mb": bToMb(s.m.HeapInuse),
		"num_gc":        s.m.NumGC,
		"gc_pause_ms":   s.m.PauseTotalNs / 1e6,
		"goroutines":    s.goroutines,
		"threads":       s.threads,
	}).Info("Runtime stats")
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
