package boundary

import (
	"math"
	"testing"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

func airGrid(t *testing.T, n int, delta float64) *grid.Grid {
	t.Helper()
	d := grid.Dims{Nx: n, Ny: n, Nz: n}
	g, err := grid.New(d, grid.UniformSpacing(d, delta), []grid.Material{grid.Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

func TestConfigValidation(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		if _, err := New(airGrid(t, 24, 1e-3), DefaultConfig()); err != nil {
			t.Fatalf("New: %v", err)
		}
	})

	t.Run("layers exceed grid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Layers = 6 // both sides of a 12-cell axis
		if _, err := New(airGrid(t, 12, 1e-3), cfg); err == nil {
			t.Fatal("expected error for layers consuming the whole axis")
		}
	})

	t.Run("zero layers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Layers = 0
		if _, err := New(airGrid(t, 12, 1e-3), cfg); err == nil {
			t.Fatal("expected error for zero layers")
		}
	})

	t.Run("kappa below one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.KappaMax = 0.5
		if _, err := New(airGrid(t, 24, 1e-3), cfg); err == nil {
			t.Fatal("expected error for kappa below 1")
		}
	})
}

// A pulse launched at the center must leave the domain through the
// absorbing layer with the residual field at least 40 dB below the
// recorded peak.
func TestPulseAbsorption(t *testing.T) {
	if testing.Short() {
		t.Skip("absorption run is slow")
	}
	const (
		n     = 40
		delta = 5e-3
		steps = 800
	)
	g := airGrid(t, n, delta)
	cpml, err := New(g, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := n / 2
	src := g.Idx(c, c, c)
	// Gaussian pulse around 3 GHz, finished well before the run ends.
	f0, tau := 3e9, 1.5e-10
	t0 := 4 * tau

	energy := func() float64 {
		e := 0.0
		for _, arr := range [][]float64{g.Ex, g.Ey, g.Ez} {
			for _, v := range arr {
				e += v * v
			}
		}
		return e
	}

	peak, peakEnergy := 0.0, 0.0
	for step := 0; step < steps; step++ {
		g.UpdateH()
		cpml.ApplyH()
		g.UpdateE()
		cpml.ApplyE()

		tm := float64(step+1) * g.Dt
		arg := (tm - t0) / tau
		g.Ez[src] += math.Exp(-arg*arg) * math.Sin(2*math.Pi*f0*(tm-t0))

		if max, finite := g.MaxField(); !finite {
			t.Fatalf("field diverged at step %d", step)
		} else if max > peak {
			peak = max
		}
		if e := energy(); e > peakEnergy {
			peakEnergy = e
		}
	}

	residual, _ := g.MaxField()
	if peak == 0 {
		t.Fatal("no field was ever recorded")
	}
	if ratio := residual / peak; ratio > 1e-2 {
		t.Fatalf("residual/peak = %.3e, want < 1e-2 (40 dB)", ratio)
	}

	// The post-run quality figure from the same calibration energies.
	diag := cpml.ReflectionDiagnostic(peakEnergy, energy())
	if diag.MeasuredDB > -40 {
		t.Fatalf("measured boundary reflection %.1f dB, want below -40 dB", diag.MeasuredDB)
	}
	if diag.TargetDB != DefaultConfig().TargetReflectionDB {
		t.Fatalf("diagnostic target %.1f dB, want the configured %.1f dB",
			diag.TargetDB, DefaultConfig().TargetReflectionDB)
	}
	if diag.WithinSpec != (diag.MeasuredDB <= diag.TargetDB) {
		t.Fatal("WithinSpec disagrees with the measured/target comparison")
	}
}

func TestReflectionDiagnostic(t *testing.T) {
	cpml, err := New(airGrid(t, 24, 1e-3), DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Run("measured level", func(t *testing.T) {
		diag := cpml.ReflectionDiagnostic(1.0, 1e-6)
		if math.Abs(diag.MeasuredDB+60) > 1e-9 {
			t.Fatalf("MeasuredDB = %g, want -60", diag.MeasuredDB)
		}
		if !diag.WithinSpec {
			t.Fatal("-60 dB must satisfy the -60 dB target")
		}
	})

	t.Run("out of spec", func(t *testing.T) {
		diag := cpml.ReflectionDiagnostic(1.0, 1e-3)
		if diag.WithinSpec {
			t.Fatal("-30 dB must fail the -60 dB target")
		}
	})

	t.Run("no reflection recorded", func(t *testing.T) {
		diag := cpml.ReflectionDiagnostic(1.0, 0)
		if !math.IsInf(diag.MeasuredDB, -1) || !diag.WithinSpec {
			t.Fatalf("zero reflected energy: got %+v", diag)
		}
	})
}

func TestPsiStateRoundTrip(t *testing.T) {
	g := airGrid(t, 12, 1e-3)
	cfg := DefaultConfig()
	cfg.Layers = 4
	cpml, err := New(g, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Put some energy in so the psi arrays are nonzero.
	g.Ez[g.Idx(6, 6, 6)] = 1
	for i := 0; i < 20; i++ {
		g.UpdateH()
		cpml.ApplyH()
		g.UpdateE()
		cpml.ApplyE()
	}

	state := cpml.PsiState()
	saved := make([][]float64, len(state))
	nonzero := false
	for i, arr := range state {
		saved[i] = append([]float64(nil), arr...)
		for _, v := range arr {
			if v != 0 {
				nonzero = true
			}
		}
	}
	if !nonzero {
		t.Fatal("psi state stayed all-zero, nothing to round-trip")
	}

	// Mutate, then restore.
	for i := 0; i < 20; i++ {
		g.UpdateH()
		cpml.ApplyH()
		g.UpdateE()
		cpml.ApplyE()
	}
	if err := cpml.RestorePsiState(saved); err != nil {
		t.Fatalf("RestorePsiState: %v", err)
	}
	for i, arr := range cpml.PsiState() {
		for j, v := range arr {
			if v != saved[i][j] {
				t.Fatalf("psi array %d node %d: %g, want %g", i, j, v, saved[i][j])
			}
		}
	}

	t.Run("shape mismatch", func(t *testing.T) {
		if err := cpml.RestorePsiState(saved[:3]); err == nil {
			t.Fatal("expected error for truncated psi state")
		}
	})
}
