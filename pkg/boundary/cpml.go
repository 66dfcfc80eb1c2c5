// Package boundary implements the convolutional perfectly matched layer
// (CPML) truncation of the solver domain. Auxiliary psi terms carry the
// recursive convolution history per boundary cell and are folded into
// the adjacent field updates every half-step.
package boundary

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-fdtd/internal/consts"
	"github.com/edp1096/toy-fdtd/pkg/grid"
)

type Config struct {
	Layers             int     // cells per face, 8-12 typical
	Grading            float64 // power-law exponent m, 3-4 typical
	KappaMax           float64 // coordinate-stretching maximum
	AlphaMax           float64 // CFS alpha at the inner interface
	TargetReflectionDB float64 // design reflection level, e.g. -40
}

func DefaultConfig() Config {
	return Config{
		Layers:             10,
		Grading:            3,
		KappaMax:           8,
		AlphaMax:           0.05,
		TargetReflectionDB: -60,
	}
}

func (c *Config) validate(d grid.Dims) error {
	if c.Layers < 1 {
		return fmt.Errorf("cpml: layer count must be at least 1, got %d", c.Layers)
	}
	min := d.Nx
	if d.Ny < min {
		min = d.Ny
	}
	if d.Nz < min {
		min = d.Nz
	}
	if 2*c.Layers >= min {
		return fmt.Errorf("cpml: %d layers per face do not fit the %dx%dx%d grid", c.Layers, d.Nx, d.Ny, d.Nz)
	}
	if c.Grading <= 0 {
		return fmt.Errorf("cpml: grading exponent must be positive, got %g", c.Grading)
	}
	if c.KappaMax < 1 {
		return fmt.Errorf("cpml: kappa max must be at least 1, got %g", c.KappaMax)
	}
	if c.TargetReflectionDB >= 0 {
		return fmt.Errorf("cpml: target reflection must be negative dB, got %g", c.TargetReflectionDB)
	}
	return nil
}

// profile holds the recursion coefficients along one axis: bE/cE at the
// integer node positions used by E derivatives, bH/cH at the half
// positions used by H derivatives. Outside the layer b=1, c=0.
type profile struct {
	bE, cE []float64
	bH, cH []float64
}

type CPML struct {
	cfg Config
	g   *grid.Grid
	px  profile
	py  profile
	pz  profile

	// Unscaled inverse spacings; the grid's own copies are divided by
	// kappa inside the layer when the CPML attaches.
	idx, idy, idz    []float64
	idxD, idyD, idzD []float64

	// psi[component][derivative direction]
	psiExy, psiExz []float64
	psiEyx, psiEyz []float64
	psiEzx, psiEzy []float64
	psiHxy, psiHxz []float64
	psiHyx, psiHyz []float64
	psiHzx, psiHzy []float64
}

// New builds the graded profiles and attaches the layer to the grid by
// kappa-scaling its inverse spacings. The grid must not have stepped yet.
func New(g *grid.Grid, cfg Config) (*CPML, error) {
	if err := cfg.validate(g.Dims); err != nil {
		return nil, err
	}
	c := &CPML{cfg: cfg, g: g}

	c.idx = append([]float64(nil), g.IDx...)
	c.idy = append([]float64(nil), g.IDy...)
	c.idz = append([]float64(nil), g.IDz...)
	c.idxD = append([]float64(nil), g.IDxD...)
	c.idyD = append([]float64(nil), g.IDyD...)
	c.idzD = append([]float64(nil), g.IDzD...)

	c.px = c.bakeProfile(g.Spacing.Dx, g.IDx, g.IDxD)
	c.py = c.bakeProfile(g.Spacing.Dy, g.IDy, g.IDyD)
	c.pz = c.bakeProfile(g.Spacing.Dz, g.IDz, g.IDzD)

	n := g.NodeCount()
	for _, p := range []*[]float64{
		&c.psiExy, &c.psiExz, &c.psiEyx, &c.psiEyz, &c.psiEzx, &c.psiEzy,
		&c.psiHxy, &c.psiHxz, &c.psiHyx, &c.psiHyz, &c.psiHzx, &c.psiHzy,
	} {
		*p = make([]float64, n)
	}
	return c, nil
}

// bakeProfile computes b/c along one axis and kappa-scales the grid's
// inverse spacing arrays in place.
func (c *CPML) bakeProfile(d []float64, inv, invD []float64) profile {
	n := len(d)
	L := c.cfg.Layers
	m := c.cfg.Grading
	dt := c.g.Dt

	p := profile{
		bE: make([]float64, n+1), cE: make([]float64, n+1),
		bH: make([]float64, n), cH: make([]float64, n),
	}
	for i := range p.bE {
		p.bE[i] = 1
	}
	for i := range p.bH {
		p.bH[i] = 1
	}

	// Design sigma from the requested normal-incidence reflection.
	depth := func(side int) float64 {
		total := 0.0
		for l := 0; l < L; l++ {
			if side == 0 {
				total += d[l]
			} else {
				total += d[n-1-l]
			}
		}
		return total
	}
	lnR := c.cfg.TargetReflectionDB * math.Ln10 / 20

	bake := func(rho float64, sigMax float64) (b, cc, kappa float64) {
		if rho <= 0 {
			return 1, 0, 1
		}
		sig := sigMax * math.Pow(rho, m)
		kappa = 1 + (c.cfg.KappaMax-1)*math.Pow(rho, m)
		alpha := c.cfg.AlphaMax * (1 - rho)
		b = math.Exp(-(sig/kappa + alpha) * dt / consts.Eps0)
		den := (sig + kappa*alpha) * kappa
		if den != 0 {
			cc = sig * (b - 1) / den
		}
		return b, cc, kappa
	}

	for side := 0; side < 2; side++ {
		sigMax := -(m + 1) * lnR / (2 * consts.Eta0 * depth(side))

		// E derivative nodes: rho measured from the inner interface.
		for l := 0; l <= L; l++ {
			rho := float64(L-l) / float64(L)
			var i int
			if side == 0 {
				i = l
			} else {
				i = n - l
			}
			b, cc, kappa := bake(rho, sigMax)
			p.bE[i], p.cE[i] = b, cc
			invD[i] /= kappa
		}
		// H derivative half positions.
		for l := 0; l < L; l++ {
			rho := (float64(L-l) - 0.5) / float64(L)
			var i int
			if side == 0 {
				i = l
			} else {
				i = n - 1 - l
			}
			b, cc, kappa := bake(rho, sigMax)
			p.bH[i], p.cH[i] = b, cc
			inv[i] /= kappa
		}
	}
	return p
}

// eNodeRanges lists the node index spans the E-side psi update touches
// along an axis of n cells.
func (c *CPML) eNodeRanges(n int) [2][2]int {
	L := c.cfg.Layers
	return [2][2]int{{1, L}, {n - L + 1, n}} // [lo,hi)
}

func (c *CPML) hNodeRanges(n int) [2][2]int {
	L := c.cfg.Layers
	return [2][2]int{{0, L}, {n - L, n}}
}

// ApplyE updates the psi convolution state from the fresh H field and
// folds it into the boundary-region E cells. Runs after Grid.UpdateE.
func (c *CPML) ApplyE() {
	g := c.g
	d := g.Dims
	ny1 := d.Ny + 1
	nz1 := d.Nz + 1
	stepI := ny1 * nz1

	// x faces: Ey (-dHz/dx), Ez (+dHy/dx)
	for _, r := range c.eNodeRanges(d.Nx) {
		for i := r[0]; i < r[1]; i++ {
			b, cc := c.px.bE[i], c.px.cE[i]
			for j := 0; j <= d.Ny; j++ {
				base := (i*ny1 + j) * nz1
				for k := 0; k <= d.Nz; k++ {
					idx := base + k
					if j < d.Ny && k >= 1 && k < d.Nz {
						psi := b*c.psiEyx[idx] + cc*(g.Hz[idx]-g.Hz[idx-stepI])*c.idxD[i]
						c.psiEyx[idx] = psi
						g.Ey[idx] -= g.CbY[idx] * psi
					}
					if k < d.Nz && j >= 1 && j < d.Ny {
						psi := b*c.psiEzx[idx] + cc*(g.Hy[idx]-g.Hy[idx-stepI])*c.idxD[i]
						c.psiEzx[idx] = psi
						g.Ez[idx] += g.CbZ[idx] * psi
					}
				}
			}
		}
	}
	// y faces: Ex (+dHz/dy), Ez (-dHx/dy)
	for _, r := range c.eNodeRanges(d.Ny) {
		for j := r[0]; j < r[1]; j++ {
			b, cc := c.py.bE[j], c.py.cE[j]
			for i := 0; i <= d.Nx; i++ {
				base := (i*ny1 + j) * nz1
				for k := 0; k <= d.Nz; k++ {
					idx := base + k
					if i < d.Nx && k >= 1 && k < d.Nz {
						psi := b*c.psiExy[idx] + cc*(g.Hz[idx]-g.Hz[idx-nz1])*c.idyD[j]
						c.psiExy[idx] = psi
						g.Ex[idx] += g.CbX[idx] * psi
					}
					if k < d.Nz && i >= 1 && i < d.Nx {
						psi := b*c.psiEzy[idx] + cc*(g.Hx[idx]-g.Hx[idx-nz1])*c.idyD[j]
						c.psiEzy[idx] = psi
						g.Ez[idx] -= g.CbZ[idx] * psi
					}
				}
			}
		}
	}
	// z faces: Ex (-dHy/dz), Ey (+dHx/dz)
	for _, r := range c.eNodeRanges(d.Nz) {
		for k := r[0]; k < r[1]; k++ {
			b, cc := c.pz.bE[k], c.pz.cE[k]
			for i := 0; i <= d.Nx; i++ {
				for j := 0; j <= d.Ny; j++ {
					idx := (i*ny1+j)*nz1 + k
					if i < d.Nx && j >= 1 && j < d.Ny {
						psi := b*c.psiExz[idx] + cc*(g.Hy[idx]-g.Hy[idx-1])*c.idzD[k]
						c.psiExz[idx] = psi
						g.Ex[idx] -= g.CbX[idx] * psi
					}
					if j < d.Ny && i >= 1 && i < d.Nx {
						psi := b*c.psiEyz[idx] + cc*(g.Hx[idx]-g.Hx[idx-1])*c.idzD[k]
						c.psiEyz[idx] = psi
						g.Ey[idx] += g.CbY[idx] * psi
					}
				}
			}
		}
	}
}

// ApplyH updates the psi state from the fresh E field and folds it into
// the boundary-region H cells. Runs after Grid.UpdateH.
func (c *CPML) ApplyH() {
	g := c.g
	d := g.Dims
	ny1 := d.Ny + 1
	nz1 := d.Nz + 1
	stepI := ny1 * nz1

	// x faces: Hy (+dEz/dx), Hz (-dEy/dx)
	for _, r := range c.hNodeRanges(d.Nx) {
		for i := r[0]; i < r[1]; i++ {
			b, cc := c.px.bH[i], c.px.cH[i]
			for j := 0; j <= d.Ny; j++ {
				base := (i*ny1 + j) * nz1
				for k := 0; k <= d.Nz; k++ {
					idx := base + k
					if k < d.Nz {
						psi := b*c.psiHyx[idx] + cc*(g.Ez[idx+stepI]-g.Ez[idx])*c.idx[i]
						c.psiHyx[idx] = psi
						g.Hy[idx] += g.DbY[idx] * psi
					}
					if j < d.Ny {
						psi := b*c.psiHzx[idx] + cc*(g.Ey[idx+stepI]-g.Ey[idx])*c.idx[i]
						c.psiHzx[idx] = psi
						g.Hz[idx] -= g.DbZ[idx] * psi
					}
				}
			}
		}
	}
	// y faces: Hx (-dEz/dy), Hz (+dEx/dy)
	for _, r := range c.hNodeRanges(d.Ny) {
		for j := r[0]; j < r[1]; j++ {
			b, cc := c.py.bH[j], c.py.cH[j]
			for i := 0; i <= d.Nx; i++ {
				base := (i*ny1 + j) * nz1
				for k := 0; k <= d.Nz; k++ {
					idx := base + k
					if k < d.Nz {
						psi := b*c.psiHxy[idx] + cc*(g.Ez[idx+nz1]-g.Ez[idx])*c.idy[j]
						c.psiHxy[idx] = psi
						g.Hx[idx] -= g.DbX[idx] * psi
					}
					if i < d.Nx {
						psi := b*c.psiHzy[idx] + cc*(g.Ex[idx+nz1]-g.Ex[idx])*c.idy[j]
						c.psiHzy[idx] = psi
						g.Hz[idx] += g.DbZ[idx] * psi
					}
				}
			}
		}
	}
	// z faces: Hx (+dEy/dz), Hy (-dEx/dz)
	for _, r := range c.hNodeRanges(d.Nz) {
		for k := r[0]; k < r[1]; k++ {
			b, cc := c.pz.bH[k], c.pz.cH[k]
			for i := 0; i <= d.Nx; i++ {
				for j := 0; j <= d.Ny; j++ {
					idx := (i*ny1+j)*nz1 + k
					if j < d.Ny {
						psi := b*c.psiHxz[idx] + cc*(g.Ey[idx+1]-g.Ey[idx])*c.idz[k]
						c.psiHxz[idx] = psi
						g.Hx[idx] += g.DbX[idx] * psi
					}
					if i < d.Nx {
						psi := b*c.psiHyz[idx] + cc*(g.Ex[idx+1]-g.Ex[idx])*c.idz[k]
						c.psiHyz[idx] = psi
						g.Hy[idx] -= g.DbY[idx] * psi
					}
				}
			}
		}
	}
}

// Diagnostic compares a measured boundary reflection level against the
// configured target. Mis-tuned grading shows up here, never as an error.
type Diagnostic struct {
	MeasuredDB float64
	TargetDB   float64
	WithinSpec bool
}

// ReflectionDiagnostic derives the post-run boundary quality figure from
// incident and reflected pulse energies at a calibration monitor.
func (c *CPML) ReflectionDiagnostic(incidentEnergy, reflectedEnergy float64) Diagnostic {
	measured := math.Inf(-1)
	if reflectedEnergy > 0 && incidentEnergy > 0 {
		measured = 10 * math.Log10(reflectedEnergy/incidentEnergy)
	}
	return Diagnostic{
		MeasuredDB: measured,
		TargetDB:   c.cfg.TargetReflectionDB,
		WithinSpec: measured <= c.cfg.TargetReflectionDB,
	}
}

// Layers reports the configured layer count.
func (c *CPML) Layers() int { return c.cfg.Layers }

// PsiState exposes the auxiliary arrays for checkpointing, in a fixed
// order matching RestorePsiState.
func (c *CPML) PsiState() [][]float64 {
	return [][]float64{
		c.psiExy, c.psiExz, c.psiEyx, c.psiEyz, c.psiEzx, c.psiEzy,
		c.psiHxy, c.psiHxz, c.psiHyx, c.psiHyz, c.psiHzx, c.psiHzy,
	}
}

// RestorePsiState reloads checkpointed auxiliary arrays.
func (c *CPML) RestorePsiState(state [][]float64) error {
	cur := c.PsiState()
	if len(state) != len(cur) {
		return fmt.Errorf("cpml: checkpoint has %d psi arrays, want %d", len(state), len(cur))
	}
	for i, src := range state {
		if len(src) != len(cur[i]) {
			return fmt.Errorf("cpml: psi array %d has %d entries, want %d", i, len(src), len(cur[i]))
		}
		copy(cur[i], src)
	}
	return nil
}
