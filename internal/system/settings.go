package system

import (
	"runtime"
	"runtime/debug"

	"github.com/alejoacosta74/skinport-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Settings holds the runtime limits applied at startup. Zero fields leave the
// corresponding runtime default alone.
type Settings struct {
	MaxProcs      int
	GCPercent     int
	MaxThreads    int
	MemoryLimitMB int
	logger        *logrus.Entry
}

func FromConfig(c config.SystemConfig) *Settings {
	return &Settings{
		MaxProcs:      c.MaxProcs,
		GCPercent:     c.GCPercent,
		MaxThreads:    c.MaxThreads,
		MemoryLimitMB: c.MemoryLimitMB,
		logger:        logrus.WithField("component", "system_settings"),
	}
}

// Apply configures the runtime and returns the fields it changed.
func (s *Settings) Apply() logrus.Fields {
	applied := logrus.Fields{}

	if s.MaxProcs > 0 {
		runtime.GOMAXPROCS(s.MaxProcs)
		applied["max_procs"] = s.MaxProcs
	}
	if s.GCPercent != 0 {
		debug.SetGCPercent(s.GCPercent)
		applied["gc_percent"] = s.GCPercent
	}
	if s.MaxThreads > 0 {
		debug.SetMaxThreads(s.MaxThreads)
		applied["max_threads"] = s.MaxThreads
	}
	if s.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(s.MemoryLimitMB) * 1024 * 1024)
		applied["memory_limit_mb"] = s.MemoryLimitMB
	}

	if len(applied) > 0 {
		s.logger.WithFields(applied).Info("Applied system settings")
	}
	return applied
}
