// Package profiling writes CPU, heap and execution trace profiles for one
// command run.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/hashicorp/go-multierror"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// Options names the profile files; empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Start begins CPU profiling and tracing. The returned stop function ends
// them and writes the heap profile; it is safe to call more than once.
func Start(o Options) (stop func() error, err error) {
	var cpuFile, traceFile *os.File
	cleanup := func() error {
		var result *multierror.Error
		if cpuFile != nil {
			pprof.StopCPUProfile()
			result = multierror.Append(result, cpuFile.Close())
			cpuFile = nil
		}
		if traceFile != nil {
			trace.Stop()
			result = multierror.Append(result, traceFile.Close())
			traceFile = nil
		}
		return result.ErrorOrNil()
	}

	if o.CPU != "" {
		if cpuFile, err = os.Create(o.CPU); err != nil {
			return nil, amerrors.Infrastructure("create CPU profile", err)
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			_ = cpuFile.Close()
			return nil, amerrors.Infrastructure("start CPU profile", err)
		}
	}
	if o.Trace != "" {
		if traceFile, err = os.Create(o.Trace); err != nil {
			_ = cleanup()
			return nil, amerrors.Infrastructure("create trace file", err)
		}
		if err := trace.Start(traceFile); err != nil {
			_ = traceFile.Close()
			traceFile = nil
			_ = cleanup()
			return nil, amerrors.Infrastructure("start trace", err)
		}
	}

	heap := o.Heap
	return func() error {
		var result *multierror.Error
		if err := cleanup(); err != nil {
			result = multierror.Append(result, err)
		}
		if heap != "" {
			result = multierror.Append(result, WriteHeap(heap))
			heap = ""
		}
		return result.ErrorOrNil()
	}, nil
}

// WriteHeap writes a heap profile after a forced collection.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return amerrors.Infrastructure("create heap profile", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return amerrors.Infrastructure(fmt.Sprintf("write heap profile %s", path), err)
	}
	return nil
}
