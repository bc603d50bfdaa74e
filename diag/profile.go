package diag

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
)

/// Sample is one scheduler-tick snapshot fed to a Profiler by the D_PROF
/// device: which thread was running and what it was doing.
type Sample struct {
	Tid       int32
	Symbol    string // the thread's current kernel function, possibly mangled
	Ticks     uint64
}

/// Profiler accumulates Samples and renders them as a pprof profile, so
/// scheduler behavior (which thread dominates runnable time) can be
/// inspected with standard pprof tooling instead of a bespoke format.
type Profiler struct {
	mu      sync.Mutex
	samples []Sample
}

/// NewProfiler constructs an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

/// Record appends one sample.
func (p *Profiler) Record(s Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, s)
}

func demangled(sym string) string {
	if ast, err := demangle.ToString(sym, demangle.NoParams); err == nil {
		return ast
	}
	return sym
}

/// Export builds a pprof Profile counting ticks per (tid, symbol), with
/// any Itanium-mangled symbol recovered to its plain name.
func (p *Profiler) Export() *profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	funcs := map[string]*profile.Function{}
	locs := map[string]*profile.Location{}
	var nextID uint64 = 1

	prof := &profile.Profile{
		TimeNanos:     time.Now().UnixNano(),
		SampleType:    []*profile.ValueType{{Type: "ticks", Unit: "count"}},
		DurationNanos: 0,
	}

	for _, s := range p.samples {
		name := demangled(s.Symbol)
		fn, ok := funcs[name]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: name, SystemName: s.Symbol}
			nextID++
			funcs[name] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc, ok := locs[name]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			locs[name] = loc
			prof.Location = append(prof.Location, loc)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(s.Ticks)},
			Label:    map[string][]string{"tid": {fmt.Sprintf("%d", s.Tid)}},
		})
	}
	return prof
}
