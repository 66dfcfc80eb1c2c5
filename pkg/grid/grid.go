package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/toy-fdtd/internal/consts"
)

var ErrUnstableTimestep = errors.New("timestep exceeds Courant stability bound")

type Dims struct {
	Nx, Ny, Nz int
}

func (d Dims) Cells() int { return d.Nx * d.Ny * d.Nz }

// Spacing holds per-cell spacings along each axis. Uniform grids use the
// same value in every slot; graded (octree-derived) meshes vary per cell.
type Spacing struct {
	Dx, Dy, Dz []float64
}

func UniformSpacing(d Dims, delta float64) Spacing {
	s := Spacing{
		Dx: make([]float64, d.Nx),
		Dy: make([]float64, d.Ny),
		Dz: make([]float64, d.Nz),
	}
	for i := range s.Dx {
		s.Dx[i] = delta
	}
	for j := range s.Dy {
		s.Dy[j] = delta
	}
	for k := range s.Dz {
		s.Dz[k] = delta
	}
	return s
}

// Grid owns the six staggered Yee field arrays and the per-edge update
// coefficients baked from the material assignment. Field components live
// at the usual offsets: Ex on x-directed edges, Hx on x-normal faces.
// All arrays are flat with node-count strides so the update kernels and
// the boundary layer can share index arithmetic.
type Grid struct {
	Dims    Dims
	Dt      float64
	Spacing Spacing

	// Inverse primal spacings (H updates) and inverse dual spacings
	// (E updates). The CPML scales these by 1/kappa inside the layer.
	IDx, IDy, IDz    []float64
	IDxD, IDyD, IDzD []float64

	Ex, Ey, Ez []float64
	Hx, Hy, Hz []float64

	// E-update coefficients per edge: E = Ca*E + Cb*curl(H)
	CaX, CbX []float64
	CaY, CbY []float64
	CaZ, CbZ []float64
	// H-update coefficients per face: H = Da*H + Db*curl(E)
	DaX, DbX []float64
	DaY, DbY []float64
	DaZ, DbZ []float64

	materials []Material
	cellMat   []int32
	ade       []adeCoeffs
	dispersed bool

	// Auxiliary dispersive state (allocated only when a dispersive
	// material is assigned): polarization current or polarization plus
	// its previous value, depending on the model.
	Jx, Jy, Jz    []float64
	PPx, PPy, PPz []float64
	dmx, dmy, dmz []int32 // dispersive material per edge, -1 if none

	nx1, ny1, nz1 int
	maxDt         float64
	xn, yn, zn    []float64 // cumulative node coordinates
}

// NodePos returns the coordinate of node i along an axis.
func (g *Grid) NodePos(a Axis, i int) float64 {
	switch a {
	case X:
		return g.xn[i]
	case Y:
		return g.yn[i]
	}
	return g.zn[i]
}

// CellCenter returns the center coordinate of cell i along an axis.
func (g *Grid) CellCenter(a Axis, i int) float64 {
	switch a {
	case X:
		return g.xn[i] + 0.5*g.Spacing.Dx[i]
	case Y:
		return g.yn[i] + 0.5*g.Spacing.Dy[i]
	}
	return g.zn[i] + 0.5*g.Spacing.Dz[i]
}

// Idx maps node coordinates to the flat array index shared by every
// field and coefficient array.
func (g *Grid) Idx(i, j, k int) int {
	return (i*g.ny1+j)*g.nz1 + k
}

// NodeCount is the length of each field array.
func (g *Grid) NodeCount() int { return g.nx1 * g.ny1 * g.nz1 }

// MaxStableDt returns the Courant bound for this grid and material set.
func (g *Grid) MaxStableDt() float64 { return g.maxDt }

// CourantLimit computes the largest stable timestep for the given
// spacings and material table: 1/(c_max*sqrt(sum 1/dmin_i^2)).
func CourantLimit(s Spacing, materials []Material) float64 {
	cMax := 0.0
	for i := range materials {
		if c := materials[i].WaveSpeed(); c > cMax {
			cMax = c
		}
	}
	if cMax == 0 {
		cMax = consts.C0
	}
	sum := 1/sq(minOf(s.Dx)) + 1/sq(minOf(s.Dy)) + 1/sq(minOf(s.Dz))
	return 1 / (cMax * math.Sqrt(sum))
}

func sq(v float64) float64 { return v * v }

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// New validates the mesh description and bakes the update coefficients.
// cellMat assigns a material table index to every cell in x-major order.
// dt <= 0 selects 99% of the Courant bound; a dt above the bound is a
// configuration error, not a runtime surprise.
func New(d Dims, s Spacing, materials []Material, cellMat []int32, dt float64) (*Grid, error) {
	if d.Nx < 1 || d.Ny < 1 || d.Nz < 1 {
		return nil, fmt.Errorf("grid dims must be positive, got %dx%dx%d", d.Nx, d.Ny, d.Nz)
	}
	if len(s.Dx) != d.Nx || len(s.Dy) != d.Ny || len(s.Dz) != d.Nz {
		return nil, fmt.Errorf("spacing arrays (%d,%d,%d) do not match dims %dx%dx%d",
			len(s.Dx), len(s.Dy), len(s.Dz), d.Nx, d.Ny, d.Nz)
	}
	for _, axis := range [][]float64{s.Dx, s.Dy, s.Dz} {
		for _, v := range axis {
			if v <= 0 {
				return nil, fmt.Errorf("cell spacing must be positive, got %g", v)
			}
		}
	}
	if len(materials) == 0 {
		return nil, fmt.Errorf("empty material table")
	}
	for i := range materials {
		if err := materials[i].Validate(); err != nil {
			return nil, err
		}
	}
	if len(cellMat) != d.Cells() {
		return nil, fmt.Errorf("cell material array has %d entries, grid has %d cells", len(cellMat), d.Cells())
	}
	for n, id := range cellMat {
		if id < 0 || int(id) >= len(materials) {
			return nil, fmt.Errorf("cell %d references material %d outside table of %d", n, id, len(materials))
		}
	}

	maxDt := CourantLimit(s, materials)
	if dt <= 0 {
		dt = 0.99 * maxDt
	} else if dt > maxDt {
		return nil, fmt.Errorf("%w: dt=%g, bound=%g", ErrUnstableTimestep, dt, maxDt)
	}

	g := &Grid{
		Dims:    d,
		Dt:      dt,
		Spacing: s,
		nx1:     d.Nx + 1,
		ny1:     d.Ny + 1,
		nz1:     d.Nz + 1,
		maxDt:   maxDt,
	}
	n := g.NodeCount()
	g.Ex, g.Ey, g.Ez = make([]float64, n), make([]float64, n), make([]float64, n)
	g.Hx, g.Hy, g.Hz = make([]float64, n), make([]float64, n), make([]float64, n)
	g.CaX, g.CbX = make([]float64, n), make([]float64, n)
	g.CaY, g.CbY = make([]float64, n), make([]float64, n)
	g.CaZ, g.CbZ = make([]float64, n), make([]float64, n)
	g.DaX, g.DbX = make([]float64, n), make([]float64, n)
	g.DaY, g.DbY = make([]float64, n), make([]float64, n)
	g.DaZ, g.DbZ = make([]float64, n), make([]float64, n)

	g.materials = materials
	g.cellMat = cellMat
	g.bakeSpacings()
	g.bakeCoefficients()
	g.bakeDispersion()

	return g, nil
}

func (g *Grid) bakeSpacings() {
	d, s := g.Dims, g.Spacing
	g.IDx = invert(s.Dx)
	g.IDy = invert(s.Dy)
	g.IDz = invert(s.Dz)
	g.IDxD = invertDual(s.Dx, d.Nx)
	g.IDyD = invertDual(s.Dy, d.Ny)
	g.IDzD = invertDual(s.Dz, d.Nz)
	g.xn = cumulate(s.Dx)
	g.yn = cumulate(s.Dy)
	g.zn = cumulate(s.Dz)
}

func cumulate(p []float64) []float64 {
	out := make([]float64, len(p)+1)
	for i, v := range p {
		out[i+1] = out[i] + v
	}
	return out
}

func invert(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = 1 / v
	}
	return out
}

// invertDual builds inverse dual spacings at the n+1 node positions,
// clamping the half-cells at the domain faces.
func invertDual(p []float64, n int) []float64 {
	out := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		lo := p[clamp(i-1, 0, n-1)]
		hi := p[clamp(i, 0, n-1)]
		out[i] = 1 / (0.5 * (lo + hi))
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MatAt returns the material id of the cell containing node-side indices,
// clamped at the domain faces.
func (g *Grid) MatAt(i, j, k int) int32 {
	d := g.Dims
	return g.cellMat[(clamp(i, 0, d.Nx-1)*d.Ny+clamp(j, 0, d.Ny-1))*d.Nz+clamp(k, 0, d.Nz-1)]
}

// bakeCoefficients averages material properties over the cells adjacent
// to each edge (E) or face (H) and folds them with Dt into the standard
// lossy-update coefficients.
func (g *Grid) bakeCoefficients() {
	d, dt := g.Dims, g.Dt

	eCoeff := func(eps, sig float64) (ca, cb float64) {
		den := 1 + sig*dt/(2*eps)
		return (1 - sig*dt/(2*eps)) / den, dt / eps / den
	}
	hCoeff := func(mu, sigm float64) (da, db float64) {
		den := 1 + sigm*dt/(2*mu)
		return (1 - sigm*dt/(2*mu)) / den, dt / mu / den
	}

	for i := 0; i <= d.Nx; i++ {
		for j := 0; j <= d.Ny; j++ {
			for k := 0; k <= d.Nz; k++ {
				idx := g.Idx(i, j, k)

				// Ex edge: shared by cells (i, j-1..j, k-1..k)
				eps, sig := g.avgElectric([4][3]int{{i, j - 1, k - 1}, {i, j, k - 1}, {i, j - 1, k}, {i, j, k}})
				g.CaX[idx], g.CbX[idx] = eCoeff(eps, sig)
				// Ey edge: cells (i-1..i, j, k-1..k)
				eps, sig = g.avgElectric([4][3]int{{i - 1, j, k - 1}, {i, j, k - 1}, {i - 1, j, k}, {i, j, k}})
				g.CaY[idx], g.CbY[idx] = eCoeff(eps, sig)
				// Ez edge: cells (i-1..i, j-1..j, k)
				eps, sig = g.avgElectric([4][3]int{{i - 1, j - 1, k}, {i, j - 1, k}, {i - 1, j, k}, {i, j, k}})
				g.CaZ[idx], g.CbZ[idx] = eCoeff(eps, sig)

				// Hx face: cells (i-1..i, j, k)
				mu, sigm := g.avgMagnetic([2][3]int{{i - 1, j, k}, {i, j, k}})
				g.DaX[idx], g.DbX[idx] = hCoeff(mu, sigm)
				// Hy face: cells (i, j-1..j, k)
				mu, sigm = g.avgMagnetic([2][3]int{{i, j - 1, k}, {i, j, k}})
				g.DaY[idx], g.DbY[idx] = hCoeff(mu, sigm)
				// Hz face: cells (i, j, k-1..k)
				mu, sigm = g.avgMagnetic([2][3]int{{i, j, k - 1}, {i, j, k}})
				g.DaZ[idx], g.DbZ[idx] = hCoeff(mu, sigm)
			}
		}
	}
}

func (g *Grid) avgElectric(cells [4][3]int) (eps, sig float64) {
	for _, c := range cells {
		m := &g.materials[g.MatAt(c[0], c[1], c[2])]
		eps += m.EpsR
		sig += m.Sigma
	}
	return eps / 4 * consts.Eps0, sig / 4
}

func (g *Grid) avgMagnetic(cells [2][3]int) (mu, sigm float64) {
	for _, c := range cells {
		m := &g.materials[g.MatAt(c[0], c[1], c[2])]
		mu += m.MuR
		sigm += m.SigmaM
	}
	return mu / 2 * consts.Mu0, sigm / 2
}

func (g *Grid) bakeDispersion() {
	g.ade = make([]adeCoeffs, len(g.materials))
	for i := range g.materials {
		if d := g.materials[i].Dispersion; d != nil && d.Type != NoDispersion {
			g.ade[i] = bakeADE(d, g.Dt)
			g.dispersed = true
		}
	}
	if !g.dispersed {
		return
	}
	n := g.NodeCount()
	g.Jx, g.Jy, g.Jz = make([]float64, n), make([]float64, n), make([]float64, n)
	g.PPx, g.PPy, g.PPz = make([]float64, n), make([]float64, n), make([]float64, n)

	g.dmx, g.dmy, g.dmz = make([]int32, n), make([]int32, n), make([]int32, n)
	d := g.Dims
	for i := 0; i <= d.Nx; i++ {
		for j := 0; j <= d.Ny; j++ {
			for k := 0; k <= d.Nz; k++ {
				idx := g.Idx(i, j, k)
				g.dmx[idx] = g.dispMat([4][3]int{{i, j - 1, k - 1}, {i, j, k - 1}, {i, j - 1, k}, {i, j, k}})
				g.dmy[idx] = g.dispMat([4][3]int{{i - 1, j, k - 1}, {i, j, k - 1}, {i - 1, j, k}, {i, j, k}})
				g.dmz[idx] = g.dispMat([4][3]int{{i - 1, j - 1, k}, {i, j - 1, k}, {i - 1, j, k}, {i, j, k}})
			}
		}
	}
}

// dispMat picks the dispersive material shared by an edge, or -1. Mixed
// edges take the first dispersive neighbor; pole averaging across a
// material boundary is not meaningful.
func (g *Grid) dispMat(cells [4][3]int) int32 {
	for _, c := range cells {
		id := g.MatAt(c[0], c[1], c[2])
		if g.ade[id].kind != NoDispersion {
			return id
		}
	}
	return -1
}

// MaxField scans the electric field arrays and reports the largest
// magnitude together with whether every value is finite. The driver uses
// this for divergence detection and progress reporting.
func (g *Grid) MaxField() (max float64, finite bool) {
	finite = true
	for _, arr := range [][]float64{g.Ex, g.Ey, g.Ez} {
		for _, v := range arr {
			a := math.Abs(v)
			if a > max {
				max = a
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
			}
		}
	}
	return max, finite
}
