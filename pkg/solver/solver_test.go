package solver

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/edp1096/toy-fdtd/pkg/boundary"
	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/monitor"
	"github.com/edp1096/toy-fdtd/pkg/source"
)

// testSim builds a small driven simulation with an absorbing boundary
// and one field monitor, identical across calls.
func testSim(t *testing.T, steps int, hook func(Progress)) *Simulation {
	t.Helper()
	const n = 20
	d := grid.Dims{Nx: n, Ny: n, Nz: n}
	g, err := grid.New(d, grid.UniformSpacing(d, 2e-3), []grid.Material{grid.Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	cfg := boundary.DefaultConfig()
	cfg.Layers = 6
	cpml, err := boundary.New(g, cfg)
	if err != nil {
		t.Fatalf("boundary.New: %v", err)
	}

	scfg := DefaultConfig(steps)
	scfg.Workers = 1
	scfg.OnProgress = hook
	sim, err := New(g, cpml, scfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sim.AddSource(source.NewDipole("feed", grid.CEz, n/2, n/2, n/2,
		source.NewGaussianPulse(3e9, 2e9, 1))); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	m, err := monitor.NewFieldMonitor("probe", grid.CEz, monitor.PointRegion(n/2, n/2, n/2+3),
		[]float64{3e9}, g.Dims)
	if err != nil {
		t.Fatalf("NewFieldMonitor: %v", err)
	}
	sim.AddFieldMonitor(m)
	return sim
}

func TestBoundaryDiagnostic(t *testing.T) {
	sim := testSim(t, 60, nil)
	if _, ok := sim.BoundaryDiagnostic(); ok {
		t.Fatal("diagnostic must not be available before the run")
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	diag, ok := sim.BoundaryDiagnostic()
	if !ok {
		t.Fatal("diagnostic missing after a completed run")
	}
	if diag.MeasuredDB > 0 {
		t.Fatalf("measured reflection %.1f dB cannot exceed the recorded peak", diag.MeasuredDB)
	}
	if diag.TargetDB >= 0 {
		t.Fatalf("target %.1f dB must be negative", diag.TargetDB)
	}
}

// Misplaced excitations must be rejected at registration, not surface
// as an index panic or a silent write into the wrong cell mid-run.
func TestPlacementRejectedBeforeRun(t *testing.T) {
	const n = 8
	d := grid.Dims{Nx: n, Ny: n, Nz: n}
	g, err := grid.New(d, grid.UniformSpacing(d, 1e-3), []grid.Material{grid.Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	sim, err := New(g, nil, DefaultConfig(10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wave := source.NewGaussianPulse(3e9, 2e9, 1)

	t.Run("source outside grid", func(t *testing.T) {
		if err := sim.AddSource(source.NewDipole("bad", grid.CEz, 100, 0, 0, wave)); err == nil {
			t.Fatal("expected error for a dipole outside the grid")
		}
		if len(sim.Sources) != 0 {
			t.Fatal("rejected source was still registered")
		}
	})

	t.Run("port feed on wall", func(t *testing.T) {
		p, err := source.NewLumpedPort("bad", 0, 4, 3, 5, 50, wave, true)
		if err != nil {
			t.Fatalf("NewLumpedPort: %v", err)
		}
		if err := sim.AddPort(p, []float64{3e9}); err == nil {
			t.Fatal("expected error for a feed on the i=0 wall")
		}
		if len(sim.Ports) != 0 || len(sim.PortMonitors) != 0 {
			t.Fatal("rejected port was still registered")
		}
	})
}

func TestRunCompletes(t *testing.T) {
	sim := testSim(t, 60, nil)
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", sim.State())
	}
	if sim.Step() != 60 {
		t.Fatalf("step = %d, want 60", sim.Step())
	}
	if max, _ := sim.Grid.MaxField(); max == 0 {
		t.Fatal("run completed but no field was ever excited")
	}

	t.Run("no rerun", func(t *testing.T) {
		if err := sim.Run(context.Background()); err == nil {
			t.Fatal("expected error running from a completed state")
		}
	})
}

func TestDivergenceDetection(t *testing.T) {
	sim := testSim(t, 60, nil)
	sim.Grid.Ex[sim.Grid.Idx(5, 5, 5)] = math.Inf(1)

	err := sim.Run(context.Background())
	if !errors.Is(err, ErrDiverged) {
		t.Fatalf("got %v, want ErrDiverged", err)
	}
	if sim.State() != StateFailed {
		t.Fatalf("state = %s, want failed", sim.State())
	}
}

func TestCancellation(t *testing.T) {
	sim := testSim(t, 60, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sim.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if sim.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", sim.State())
	}
}

func TestProgressReporting(t *testing.T) {
	var steps []int
	sim := testSim(t, 40, func(p Progress) {
		if p.State == StateRunning {
			steps = append(steps, p.Step)
		}
	})
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(steps) == 0 {
		t.Fatal("no progress callbacks during the run")
	}
	for i := 1; i < len(steps); i++ {
		if steps[i] <= steps[i-1] {
			t.Fatalf("progress steps not monotonic: %v", steps)
		}
	}
	p := sim.Progress()
	if p.State != StateCompleted || p.Step != 40 {
		t.Fatalf("final progress %+v", p)
	}
}

func TestSnapshots(t *testing.T) {
	sim := testSim(t, 40, nil)
	sim.cfg.SnapshotEvery = 10
	sim.cfg.SnapshotComponent = grid.CEz
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snaps := sim.Snapshots()
	if len(snaps) != 4 {
		t.Fatalf("got %d snapshots, want 4", len(snaps))
	}
	if snaps[0].Step != 9 || snaps[3].Step != 39 {
		t.Fatalf("snapshot steps %d..%d, want 9..39", snaps[0].Step, snaps[3].Step)
	}
	if len(snaps[0].Data) != sim.Grid.NodeCount() {
		t.Fatal("snapshot is not a full field copy")
	}
}

// An interrupted, checkpointed, and resumed run must reproduce the
// uninterrupted run bit for bit: fields, boundary state, and monitor
// accumulators.
func TestCheckpointRoundTrip(t *testing.T) {
	const total = 100

	// Interrupt deterministically after the scan at step 49.
	ctx, cancel := context.WithCancel(context.Background())
	interrupted := testSim(t, total, func(p Progress) {
		if p.State == StateRunning && p.Step >= 49 {
			cancel()
		}
	})
	if err := interrupted.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want cancellation", err)
	}
	if interrupted.Step() != 50 {
		t.Fatalf("interrupted at step %d, want 50", interrupted.Step())
	}

	var buf bytes.Buffer
	if err := interrupted.SaveCheckpoint(&buf); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	resumed := testSim(t, total, nil)
	if err := resumed.ResumeCheckpoint(&buf); err != nil {
		t.Fatalf("ResumeCheckpoint: %v", err)
	}
	if resumed.Step() != 50 {
		t.Fatalf("resumed at step %d, want 50", resumed.Step())
	}
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	straight := testSim(t, total, nil)
	if err := straight.Run(context.Background()); err != nil {
		t.Fatalf("straight Run: %v", err)
	}

	fields := []struct {
		name string
		a, b []float64
	}{
		{"Ex", resumed.Grid.Ex, straight.Grid.Ex},
		{"Ey", resumed.Grid.Ey, straight.Grid.Ey},
		{"Ez", resumed.Grid.Ez, straight.Grid.Ez},
		{"Hx", resumed.Grid.Hx, straight.Grid.Hx},
		{"Hy", resumed.Grid.Hy, straight.Grid.Hy},
		{"Hz", resumed.Grid.Hz, straight.Grid.Hz},
	}
	for _, f := range fields {
		for i := range f.a {
			if f.a[i] != f.b[i] {
				t.Fatalf("%s node %d differs after resume: %g vs %g", f.name, i, f.a[i], f.b[i])
			}
		}
	}

	accR := resumed.FieldMonitors[0].AccState()
	accS := straight.FieldMonitors[0].AccState()
	for fi := range accR {
		for c := range accR[fi] {
			if accR[fi][c] != accS[fi][c] {
				t.Fatalf("monitor accumulator differs after resume: %v vs %v", accR[fi][c], accS[fi][c])
			}
		}
	}
}

func TestResumeRejectsMismatch(t *testing.T) {
	sim := testSim(t, 50, nil)
	var buf bytes.Buffer
	if err := sim.SaveCheckpoint(&buf); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	d := grid.Dims{Nx: 10, Ny: 10, Nz: 10}
	g, err := grid.New(d, grid.UniformSpacing(d, 2e-3), []grid.Material{grid.Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	other, err := New(g, nil, DefaultConfig(50))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.ResumeCheckpoint(&buf); err == nil {
		t.Fatal("expected error resuming into a different grid")
	}
}

func TestResultFinalizes(t *testing.T) {
	sim := testSim(t, 60, nil)
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := sim.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(res.Fields) != 1 {
		t.Fatalf("got %d field spectra, want 1", len(res.Fields))
	}
	v := res.Fields[0].Values[0][0]
	if v == 0 {
		t.Fatal("probe spectrum is identically zero")
	}
}
