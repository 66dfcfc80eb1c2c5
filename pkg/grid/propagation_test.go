package grid_test

import (
	"math"
	"testing"

	"github.com/edp1096/toy-fdtd/internal/consts"
	"github.com/edp1096/toy-fdtd/pkg/boundary"
	"github.com/edp1096/toy-fdtd/pkg/grid"
)

// A pulse launched from a point source must cross the gap between two
// on-axis probes at the vacuum speed of light, within the few percent
// budget of grid dispersion and near-field skew.
func TestPulsePropagationSpeed(t *testing.T) {
	if testing.Short() {
		t.Skip("propagation run is slow")
	}
	const (
		n     = 48
		delta = 5e-3
		steps = 250
	)
	d := grid.Dims{Nx: n, Ny: n, Nz: n}
	g, err := grid.New(d, grid.UniformSpacing(d, delta), []grid.Material{grid.Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	cfg := boundary.DefaultConfig()
	cfg.Layers = 8
	cpml, err := boundary.New(g, cfg)
	if err != nil {
		t.Fatalf("boundary.New: %v", err)
	}

	c := n / 2
	src := g.Idx(c, c, c)
	near := g.Idx(c+8, c, c)
	far := g.Idx(c+20, c, c)
	f0, tau := 6e9, 1.7e-10
	t0 := 4 * tau

	sigNear := make([]float64, steps)
	sigFar := make([]float64, steps)
	for step := 0; step < steps; step++ {
		g.UpdateH()
		cpml.ApplyH()
		g.UpdateE()
		cpml.ApplyE()

		tm := float64(step+1) * g.Dt
		arg := (tm - t0) / tau
		g.Ez[src] += math.Exp(-arg*arg) * math.Sin(2*math.Pi*f0*(tm-t0))

		sigNear[step] = g.Ez[near]
		sigFar[step] = g.Ez[far]
	}

	// Energy-centroid arrival time per probe, sub-step accurate.
	centroid := func(sig []float64) float64 {
		num, den := 0.0, 0.0
		for step, v := range sig {
			w := v * v
			num += w * float64(step)
			den += w
		}
		if den == 0 {
			t.Fatal("probe never saw the pulse")
		}
		return num / den
	}

	dist := 12 * delta
	dtSteps := centroid(sigFar) - centroid(sigNear)
	if dtSteps <= 0 {
		t.Fatalf("pulse arrived at the far probe first (dt = %g steps)", dtSteps)
	}
	speed := dist / (dtSteps * g.Dt)
	if rel := math.Abs(speed-consts.C0) / consts.C0; rel > 0.05 {
		t.Fatalf("measured speed %.4g m/s deviates %.1f%% from c0", speed, 100*rel)
	}
}
