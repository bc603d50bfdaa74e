package diag

import "testing"

func TestExportGroupsSamplesByFunction(t *testing.T) {
	p := NewProfiler()
	p.Record(Sample{Tid: 1, Symbol: "idle_loop", Ticks: 5})
	p.Record(Sample{Tid: 2, Symbol: "idle_loop", Ticks: 3})
	p.Record(Sample{Tid: 3, Symbol: "shell_main", Ticks: 1})

	prof := p.Export()

	if len(prof.Function) != 2 {
		t.Fatalf("Function count = %d, want 2 (idle_loop, shell_main)", len(prof.Function))
	}
	if len(prof.Location) != 2 {
		t.Fatalf("Location count = %d, want 2", len(prof.Location))
	}
	if len(prof.Sample) != 3 {
		t.Fatalf("Sample count = %d, want 3 (one per Record call)", len(prof.Sample))
	}

	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}
	if total != 9 {
		t.Errorf("total ticks across samples = %d, want 9", total)
	}
}

func TestExportRecoversManagedSymbolName(t *testing.T) {
	p := NewProfiler()
	// Itanium-mangled name for a demangle-recoverable symbol.
	const mangled = "_Z4idlev"
	p.Record(Sample{Tid: 1, Symbol: mangled, Ticks: 1})

	prof := p.Export()
	if len(prof.Function) != 1 {
		t.Fatalf("Function count = %d, want 1", len(prof.Function))
	}
	fn := prof.Function[0]
	if fn.SystemName != mangled {
		t.Errorf("Function.SystemName = %q, want the original mangled symbol %q", fn.SystemName, mangled)
	}
	if fn.Name == mangled {
		t.Errorf("Function.Name was not demangled, stayed %q", fn.Name)
	}
}

func TestExportEmptyProfilerYieldsNoSamples(t *testing.T) {
	p := NewProfiler()
	prof := p.Export()
	if len(prof.Sample) != 0 || len(prof.Function) != 0 {
		t.Errorf("Export() on an empty profiler produced samples/functions, want none")
	}
}
