package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/edp1096/toy-fdtd/internal/consts"
)

func airGrid(t *testing.T, n int, delta float64) *Grid {
	t.Helper()
	d := Dims{Nx: n, Ny: n, Nz: n}
	g, err := New(d, UniformSpacing(d, delta), []Material{Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewValidation(t *testing.T) {
	d := Dims{Nx: 4, Ny: 4, Nz: 4}
	s := UniformSpacing(d, 1e-3)
	air := []Material{Air()}
	cells := make([]int32, d.Cells())

	t.Run("bad dims", func(t *testing.T) {
		if _, err := New(Dims{Nx: 0, Ny: 4, Nz: 4}, s, air, cells, 0); err == nil {
			t.Fatal("expected error for zero-cell axis")
		}
	})

	t.Run("spacing mismatch", func(t *testing.T) {
		bad := UniformSpacing(Dims{Nx: 3, Ny: 4, Nz: 4}, 1e-3)
		if _, err := New(d, bad, air, cells, 0); err == nil {
			t.Fatal("expected error for spacing length mismatch")
		}
	})

	t.Run("material index out of table", func(t *testing.T) {
		badCells := make([]int32, d.Cells())
		badCells[7] = 3
		if _, err := New(d, s, air, badCells, 0); err == nil {
			t.Fatal("expected error for dangling material index")
		}
	})

	t.Run("timestep above bound", func(t *testing.T) {
		bound := CourantLimit(s, air)
		_, err := New(d, s, air, cells, 1.01*bound)
		if !errors.Is(err, ErrUnstableTimestep) {
			t.Fatalf("got %v, want ErrUnstableTimestep", err)
		}
	})

	t.Run("default timestep", func(t *testing.T) {
		g, err := New(d, s, air, cells, 0)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		want := 0.99 * g.MaxStableDt()
		if math.Abs(g.Dt-want) > 1e-18 {
			t.Fatalf("Dt = %g, want %g", g.Dt, want)
		}
	})
}

func TestCourantLimitUniform(t *testing.T) {
	d := Dims{Nx: 5, Ny: 5, Nz: 5}
	delta := 2e-3
	got := CourantLimit(UniformSpacing(d, delta), []Material{Air()})
	want := delta / (consts.C0 * math.Sqrt(3))
	if math.Abs(got-want)/want > 1e-12 {
		t.Fatalf("CourantLimit = %g, want %g", got, want)
	}
}

func TestZeroStateStaysZero(t *testing.T) {
	g := airGrid(t, 8, 1e-3)
	for step := 0; step < 50; step++ {
		g.UpdateH()
		g.UpdateE()
	}
	for _, f := range [][]float64{g.Ex, g.Ey, g.Ez, g.Hx, g.Hy, g.Hz} {
		for i, v := range f {
			if v != 0 {
				t.Fatalf("field node %d is %g after source-free run", i, v)
			}
		}
	}
}

// A centered soft Ez source in a symmetric domain must produce a field
// symmetric under x and y mirroring, reflections off the outer wall
// included.
func TestDipoleFieldSymmetry(t *testing.T) {
	const n = 16
	g := airGrid(t, n, 1e-3)
	c := n / 2
	for step := 0; step < 60; step++ {
		g.UpdateH()
		g.UpdateE()
		arg := float64(step)/10 - 2
		g.Ez[g.Idx(c, c, c)] += math.Exp(-arg * arg)
	}
	for di := 1; di < c; di++ {
		plus := g.Ez[g.Idx(c+di, c, c)]
		minus := g.Ez[g.Idx(c-di, c, c)]
		if math.Abs(plus-minus) > 1e-12*(math.Abs(plus)+1e-30) {
			t.Fatalf("x mirror broken at offset %d: %g vs %g", di, plus, minus)
		}
		plus = g.Ez[g.Idx(c, c+di, c)]
		minus = g.Ez[g.Idx(c, c-di, c)]
		if math.Abs(plus-minus) > 1e-12*(math.Abs(plus)+1e-30) {
			t.Fatalf("y mirror broken at offset %d: %g vs %g", di, plus, minus)
		}
	}
}

func TestOuterBoundaryStaysPEC(t *testing.T) {
	const n = 10
	g := airGrid(t, n, 1e-3)
	c := n / 2
	for step := 0; step < 80; step++ {
		g.UpdateH()
		g.UpdateE()
		g.Ez[g.Idx(c, c, c)] += 1
	}
	// Tangential E on the outer faces never updates.
	for j := 0; j <= n; j++ {
		for k := 0; k < n; k++ {
			if v := g.Ez[g.Idx(0, j, k)]; v != 0 {
				t.Fatalf("Ez(0,%d,%d) = %g on PEC wall", j, k, v)
			}
			if v := g.Ez[g.Idx(n, j, k)]; v != 0 {
				t.Fatalf("Ez(%d,%d,%d) = %g on PEC wall", n, j, k, v)
			}
		}
	}
}

func TestMaxField(t *testing.T) {
	g := airGrid(t, 4, 1e-3)

	t.Run("zero state", func(t *testing.T) {
		max, finite := g.MaxField()
		if max != 0 || !finite {
			t.Fatalf("MaxField = %g, %v on a zero grid", max, finite)
		}
	})

	t.Run("reports magnitude", func(t *testing.T) {
		g.Ey[g.Idx(2, 2, 2)] = -7.5
		max, finite := g.MaxField()
		if max != 7.5 || !finite {
			t.Fatalf("MaxField = %g, %v, want 7.5, true", max, finite)
		}
	})

	t.Run("flags non-finite", func(t *testing.T) {
		g.Ex[g.Idx(1, 1, 1)] = math.NaN()
		if _, finite := g.MaxField(); finite {
			t.Fatal("MaxField missed a NaN node")
		}
	})
}

func TestMaterialValidate(t *testing.T) {
	cases := []struct {
		name string
		mat  Material
		ok   bool
	}{
		{"air", Air(), true},
		{"lossy dielectric", Material{Name: "fr4", EpsR: 4.3, MuR: 1, Sigma: 0.02}, true},
		{"zero permittivity", Material{Name: "bad", EpsR: 0, MuR: 1}, false},
		{"negative conductivity", Material{Name: "bad", EpsR: 1, MuR: 1, Sigma: -1}, false},
		{"zero permeability", Material{Name: "bad", EpsR: 1, MuR: 0}, false},
		{"debye", Material{Name: "water", EpsR: 5, MuR: 1,
			Dispersion: &Dispersion{Type: Debye, DeltaEps: 73, Tau: 8e-12}}, true},
		{"debye without tau", Material{Name: "bad", EpsR: 5, MuR: 1,
			Dispersion: &Dispersion{Type: Debye, DeltaEps: 73}}, false},
		{"drude", Material{Name: "metal", EpsR: 1, MuR: 1,
			Dispersion: &Dispersion{Type: Drude, OmegaP: 1e15, Gamma: 1e13}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mat.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestNodePositions(t *testing.T) {
	d := Dims{Nx: 3, Ny: 3, Nz: 3}
	s := Spacing{
		Dx: []float64{1, 2, 3},
		Dy: []float64{1, 1, 1},
		Dz: []float64{2, 2, 2},
	}
	g, err := New(d, s, []Material{Air()}, make([]int32, d.Cells()), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := g.NodePos(X, 2); got != 3 {
		t.Fatalf("NodePos(X,2) = %g, want 3", got)
	}
	if got := g.NodePos(X, 3); got != 6 {
		t.Fatalf("NodePos(X,3) = %g, want 6", got)
	}
	if got := g.CellCenter(Z, 1); got != 3 {
		t.Fatalf("CellCenter(Z,1) = %g, want 3", got)
	}
}
