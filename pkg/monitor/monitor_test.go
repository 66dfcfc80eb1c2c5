package monitor

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/source"
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

func TestRegionValidation(t *testing.T) {
	d := grid.Dims{Nx: 8, Ny: 8, Nz: 8}
	freqs := []float64{1e9}

	t.Run("outside domain", func(t *testing.T) {
		r := Region{I0: 0, I1: 9, J0: 0, J1: 8, K0: 0, K1: 8}
		if _, err := NewFieldMonitor("m", grid.CEz, r, freqs, d); err == nil {
			t.Fatal("expected error for region past the domain")
		}
	})

	t.Run("empty region", func(t *testing.T) {
		r := Region{I0: 4, I1: 4, J0: 0, J1: 8, K0: 0, K1: 8}
		if _, err := NewFieldMonitor("m", grid.CEz, r, freqs, d); err == nil {
			t.Fatal("expected error for empty region")
		}
	})

	t.Run("no frequencies", func(t *testing.T) {
		if _, err := NewFieldMonitor("m", grid.CEz, PointRegion(4, 4, 4), nil, d); err == nil {
			t.Fatal("expected error for empty frequency list")
		}
	})
}

// Feeding the monitor a pure cosine at its own target frequency must
// accumulate to N*dt/2 on the real axis after whole periods.
func TestFieldMonitorExtractsTone(t *testing.T) {
	g := airGrid(t, 6, 1e-3)
	const stepsPerPeriod = 20
	const periods = 10
	f := 1 / (stepsPerPeriod * g.Dt)

	m, err := NewFieldMonitor("probe", grid.CEz, PointRegion(3, 3, 3), []float64{f}, g.Dims)
	if err != nil {
		t.Fatalf("NewFieldMonitor: %v", err)
	}

	idx := g.Idx(3, 3, 3)
	n := stepsPerPeriod * periods
	for step := 0; step < n; step++ {
		tE := float64(step+1) * g.Dt
		g.Ez[idx] = math.Cos(2 * math.Pi * f * tE)
		m.Accumulate(g, step)
	}

	got := m.AccState()[0][0]
	want := float64(n) * g.Dt / 2
	if math.Abs(real(got)-want) > 1e-9*want {
		t.Fatalf("real part = %g, want %g", real(got), want)
	}
	if math.Abs(imag(got)) > 1e-9*want {
		t.Fatalf("imaginary part = %g, want ~0", imag(got))
	}
}

// stubPort stands in for a real feed so the spectra can be driven with
// closed-form samples.
type stubPort struct {
	name    string
	z0      float64
	excited bool
	v, i    float64
}

func (p *stubPort) GetName() string               { return p.name }
func (p *stubPort) Validate(g *grid.Grid) error   { return nil }
func (p *stubPort) ApplyE(g *grid.Grid, step int) {}
func (p *stubPort) Voltage() float64              { return p.v }
func (p *stubPort) Current() float64              { return p.i }
func (p *stubPort) RefImpedance() float64         { return p.z0 }
func (p *stubPort) Excited() bool                 { return p.excited }

var _ source.Port = (*stubPort)(nil)

// A port seeing V and I in the exact ratio Z0 carries no reflected
// wave: S11 ~ 0 and Zin ~ Z0.
func TestMatchedPortSpectrum(t *testing.T) {
	const (
		z0             = 50.0
		dt             = 1e-12
		stepsPerPeriod = 20
		periods        = 10
	)
	f := 1 / (stepsPerPeriod * dt)
	p := &stubPort{name: "p1", z0: z0, excited: true}
	pm, err := NewPortMonitor(p, []float64{f})
	if err != nil {
		t.Fatalf("NewPortMonitor: %v", err)
	}

	n := stepsPerPeriod * periods
	for step := 0; step < n; step++ {
		tV := float64(step+1) * dt
		tI := (float64(step) + 0.5) * dt
		p.v = math.Cos(2 * math.Pi * f * tV)
		p.i = math.Cos(2*math.Pi*f*tI) / z0
		pm.Accumulate(step, dt)
	}

	res, err := Finalize([]float64{f}, nil, []*PortMonitor{pm})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	ps := res.Ports[0]

	if zin := ps.Zin[0]; math.Abs(cmplx.Abs(zin)-z0) > 1e-6*z0 {
		t.Fatalf("|Zin| = %g, want %g", cmplx.Abs(zin), z0)
	}
	if s11 := cmplx.Abs(res.S.At(0, 0, 0)); s11 > 1e-6 {
		t.Fatalf("|S11| = %g for a matched load, want ~0", s11)
	}
	wantA := float64(n) * dt / (2 * math.Sqrt(z0))
	if a := cmplx.Abs(ps.A[0]); math.Abs(a-wantA) > 1e-6*wantA {
		t.Fatalf("|a| = %g, want %g", a, wantA)
	}
}

// An open port (no current) reflects everything: S11 ~ 1.
func TestOpenPortReflectsFully(t *testing.T) {
	const dt = 1e-12
	f := 1 / (20 * dt)
	p := &stubPort{name: "p1", z0: 50, excited: true}
	pm, err := NewPortMonitor(p, []float64{f})
	if err != nil {
		t.Fatalf("NewPortMonitor: %v", err)
	}
	for step := 0; step < 200; step++ {
		p.v = math.Cos(2 * math.Pi * f * float64(step+1) * dt)
		p.i = 0
		pm.Accumulate(step, dt)
	}
	res, err := Finalize([]float64{f}, nil, []*PortMonitor{pm})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s11 := cmplx.Abs(res.S.At(0, 0, 0)); math.Abs(s11-1) > 1e-9 {
		t.Fatalf("|S11| = %g for an open, want 1", s11)
	}
}

func TestSMatrixColumnsFollowExcitation(t *testing.T) {
	const dt = 1e-12
	f := 1 / (20 * dt)
	driven := &stubPort{name: "p1", z0: 50, excited: true}
	passive := &stubPort{name: "p2", z0: 50, excited: false}

	pm1, _ := NewPortMonitor(driven, []float64{f})
	pm2, _ := NewPortMonitor(passive, []float64{f})
	for step := 0; step < 200; step++ {
		driven.v = math.Cos(2 * math.Pi * f * float64(step+1) * dt)
		driven.i = driven.v / 50
		passive.v = 0.25 * driven.v
		passive.i = -passive.v / 50 // wave leaving through the load
		pm1.Accumulate(step, dt)
		pm2.Accumulate(step, dt)
	}

	res, err := Finalize([]float64{f}, nil, []*PortMonitor{pm1, pm2})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !res.S.Valid[0] || res.S.Valid[1] {
		t.Fatalf("Valid = %v, want only the driven column", res.S.Valid)
	}
	// The passive port carries only an outgoing wave b2 = V2/sqrt(Z0).
	s21 := cmplx.Abs(res.S.At(0, 1, 0))
	if s21 < 0.2 || s21 > 0.3 {
		t.Fatalf("|S21| = %g, want around 0.25", s21)
	}
}

func TestPassivityDefect(t *testing.T) {
	s := &SMatrix{
		Freqs:     []float64{1e9},
		PortNames: []string{"p1"},
		Valid:     []bool{true},
		Data:      [][][]complex128{{{complex(1.1, 0)}}},
	}
	defect := s.PassivityDefect()
	want := 1.1*1.1 - 1
	if math.Abs(defect-want) > 1e-12 {
		t.Fatalf("PassivityDefect = %g, want %g", defect, want)
	}
}

func TestResonanceFrequency(t *testing.T) {
	s := &SMatrix{
		Freqs:     []float64{1e9, 2e9, 3e9},
		PortNames: []string{"p1"},
		Valid:     []bool{true},
		Data: [][][]complex128{
			{{complex(0.9, 0)}},
			{{complex(0.1, 0)}},
			{{complex(0.7, 0)}},
		},
	}
	f, db := s.ResonanceFrequency(0)
	if f != 2e9 {
		t.Fatalf("resonance at %g, want 2e9", f)
	}
	if math.Abs(db-20*math.Log10(0.1)) > 1e-9 {
		t.Fatalf("dip depth %g dB, want -20", db)
	}
}

func TestSurfaceMonitorValidation(t *testing.T) {
	g := airGrid(t, 10, 1e-3)
	freqs := []float64{1e9}

	t.Run("margin enforced", func(t *testing.T) {
		box := Region{I0: 0, I1: 10, J0: 1, J1: 9, K0: 1, K1: 9}
		if _, err := NewSurfaceMonitor("s", box, freqs, g); err == nil {
			t.Fatal("expected error for a box touching the wall")
		}
	})

	t.Run("point count", func(t *testing.T) {
		box := Region{I0: 2, I1: 8, J0: 2, J1: 8, K0: 2, K1: 8}
		m, err := NewSurfaceMonitor("s", box, freqs, g)
		if err != nil {
			t.Fatalf("NewSurfaceMonitor: %v", err)
		}
		sd := m.Finalize()
		if want := 6 * 6 * 6; len(sd.Points) != want {
			t.Fatalf("surface has %d points, want %d", len(sd.Points), want)
		}
		for _, pt := range sd.Points {
			if pt.Area <= 0 {
				t.Fatal("non-positive patch area")
			}
			n := pt.Normal
			if n[0]*n[0]+n[1]*n[1]+n[2]*n[2] != 1 {
				t.Fatalf("normal %v not unit", n)
			}
		}
	})
}
