package system

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/alejoacosta74/skinport-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Apply(t *testing.T) {
	t.Run("zero values change nothing", func(t *testing.T) {
		procs := runtime.GOMAXPROCS(0)
		applied := FromConfig(config.SystemConfig{}).Apply()
		assert.Empty(t, applied)
		assert.Equal(t, procs, runtime.GOMAXPROCS(0))
	})

	t.Run("configured values are applied", func(t *testing.T) {
		prevProcs := runtime.GOMAXPROCS(0)
		prevGC := debug.SetGCPercent(100)
		prevLimit := debug.SetMemoryLimit(-1)
		defer func() {
			runtime.GOMAXPROCS(prevProcs)
			debug.SetGCPercent(prevGC)
			debug.SetMemoryLimit(prevLimit)
		}()

		applied := FromConfig(config.SystemConfig{MaxProcs: 1, GCPercent: 50, MemoryLimitMB: 512}).Apply()
		assert.Len(t, applied, 3)
		assert.Equal(t, 1, runtime.GOMAXPROCS(0))
		assert.Equal(t, 50, debug.SetGCPercent(50))
		assert.Equal(t, int64(512*1024*1024), debug.SetMemoryLimit(-1))
	})
}

func TestProfiler(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.pprof")
	mem := filepath.Join(dir, "mem.pprof")

	p := NewProfiler(cpu, mem)
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())

	for _, f := range []string{cpu, mem} {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}

	disabled := NewProfiler("", "")
	assert.NoError(t, disabled.Start())
	assert.NoError(t, disabled.Stop())

	bad := NewProfiler(filepath.Join(dir, "missing", "cpu.pprof"), "")
	assert.Error(t, bad.Start())
}
