// Package profilers sets up the profiling of the training programs.
//
// If linked, it installs the flags -prof (HTTP pprof server), -cpu_profile and -mem_profile.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, serves the pprof profiles at the given port.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
	flagMemProfile = flag.String("mem_profile", "", "write heap profile to `file` at the end of the program")
)

// Profilers configured by the flags. Create it with Setup and call Stop before the program exits.
type Profilers struct {
	ctx     context.Context
	addr    string
	cpuFile *os.File
}

// Setup starts the profilers configured by the flags. The HTTP profiler keeps the program alive at the
// end (in Stop) until ctx is cancelled.
func Setup(ctx context.Context) (*Profilers, error) {
	p := &Profilers{ctx: ctx}
	if *flagProfiler >= 0 {
		p.addr = fmt.Sprintf("localhost:%d", *flagProfiler)
		fmt.Printf("Profiler serving at %s/debug/pprof\n", p.addr)
		fmt.Printf("- e.g.: $ go tool pprof %s/debug/pprof/heap\n", p.addr)
		go func() {
			klog.Fatal(http.ListenAndServe(p.addr, nil))
		}()
	}
	if *flagCPUProfile != "" {
		f, err := os.Create(*flagCPUProfile)
		if err != nil {
			return nil, errors.Wrapf(err, "creating CPU profile %q", *flagCPUProfile)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "starting CPU profile")
		}
		p.cpuFile = f
	}
	return p, nil
}

// Stop the CPU profile, write the heap profile and, if the HTTP profiler is enabled, wait for the
// context to be cancelled.
func (p *Profilers) Stop() {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			klog.Errorf("closing CPU profile: %+v", err)
		}
		p.cpuFile = nil
	}
	if *flagMemProfile != "" {
		if err := writeHeapProfile(*flagMemProfile); err != nil {
			klog.Errorf("%+v", err)
		}
	}
	if p.addr == "" || p.ctx.Err() != nil {
		return
	}
	runtime.GC()
	fmt.Printf("- Program finished: profiler still serving at %s/debug/pprof, interrupt (Ctrl+C) to exit\n", p.addr)
	<-p.ctx.Done()
}

func writeHeapProfile(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating heap profile %q", filePath)
	}
	defer func() { _ = f.Close() }()
	runtime.GC()
	return errors.Wrapf(pprof.WriteHeapProfile(f), "writing heap profile %q", filePath)
}
