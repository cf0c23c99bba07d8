package system

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Profiler writes a CPU profile for the lifetime of the process and a heap
// profile when it stops. Empty paths disable the corresponding profile.
// Live profiles are served by the metrics server under /debug/pprof.
type Profiler struct {
	cpuProfile string
	memProfile string
	cpuFile    *os.File
}

func NewProfiler(cpuProfile, memProfile string) *Profiler {
	return &Profiler{cpuProfile: cpuProfile, memProfile: memProfile}
}

// Start begins CPU profiling.
func (p *Profiler) Start() error {
	if p.cpuProfile == "" {
		return nil
	}
	f, err := os.Create(p.cpuProfile)
	if err != nil {
		return fmt.Errorf("could not create cpu profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start cpu profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop ends CPU profiling and writes the heap profile.
func (p *Profiler) Stop() error {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			return err
		}
		p.cpuFile = nil
	}

	if p.memProfile == "" {
		return nil
	}
	f, err := os.Create(p.memProfile)
	if err != nil {
		return fmt.Errorf("could not create memory profile file: %w", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}
