package source

import (
	"fmt"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

// Port is the solver-facing view of an excitation/monitor pair with a
// reference impedance. The frequency extractor reads the reference-plane
// samples each timestep and derives incident/reflected waves from them.
type Port interface {
	Source
	// Voltage and Current return the latest reference-plane samples.
	// Voltage is sampled on the E half-step, Current on the preceding
	// H half-step.
	Voltage() float64
	Current() float64
	RefImpedance() float64
	Excited() bool
}

// LumpedPort is a resistive voltage source across a column of Ez edges.
// The internal resistance equals the reference impedance, so the feed
// absorbs its own reflection and the measured wave amplitudes decompose
// cleanly.
type LumpedPort struct {
	BaseSource
	I, J   int // feed cell
	K0, K1 int // feed edge span along z, [K0,K1)
	Z0     float64
	Drive  bool

	v, i float64
}

func NewLumpedPort(name string, i, j, k0, k1 int, z0 float64, wave Waveform, drive bool) (*LumpedPort, error) {
	if k1 <= k0 {
		return nil, fmt.Errorf("port %s: empty feed span [%d,%d)", name, k0, k1)
	}
	if z0 <= 0 {
		return nil, fmt.Errorf("port %s: reference impedance must be positive, got %g", name, z0)
	}
	return &LumpedPort{
		BaseSource: BaseSource{Name: name, Wave: wave},
		I:          i, J: j, K0: k0, K1: k1,
		Z0:    z0,
		Drive: drive,
	}, nil
}

// Validate checks the feed placement. The current loop reads H one
// node below the feed cell on both transverse axes, so the cell must
// sit strictly inside the grid.
func (p *LumpedPort) Validate(g *grid.Grid) error {
	d := g.Dims
	if p.I < 1 || p.I > d.Nx-1 || p.J < 1 || p.J > d.Ny-1 {
		return fmt.Errorf("port %s: feed cell (%d,%d) outside interior [1,%d]x[1,%d]",
			p.Name, p.I, p.J, d.Nx-1, d.Ny-1)
	}
	if p.K0 < 0 || p.K1 > d.Nz {
		return fmt.Errorf("port %s: feed span [%d,%d) outside [0,%d]",
			p.Name, p.K0, p.K1, d.Nz)
	}
	return nil
}

func (p *LumpedPort) Voltage() float64      { return p.v }
func (p *LumpedPort) Current() float64      { return p.i }
func (p *LumpedPort) RefImpedance() float64 { return p.Z0 }
func (p *LumpedPort) Excited() bool         { return p.Drive }

func (p *LumpedPort) ApplyE(g *grid.Grid, step int) {
	idx0 := g.Idx(p.I, p.J, p.K0)

	// Port voltage: line integral of -Ez across the gap.
	v := 0.0
	for k := p.K0; k < p.K1; k++ {
		v -= g.Ez[idx0+(k-p.K0)] * g.Spacing.Dz[k]
	}

	if p.Drive {
		// Soft resistive feed: the series current through Z0 enters the
		// update as an impressed current density over the dual cell area.
		vs := p.Wave.Value(step, g.Dt)
		is := (vs - v) / p.Z0
		jz := is * g.IDxD[p.I] * g.IDyD[p.J]
		for k := p.K0; k < p.K1; k++ {
			idx := idx0 + (k - p.K0)
			g.Ez[idx] -= g.CbZ[idx] * jz
		}
		// Re-sample after injection so the recorded voltage matches the
		// field the rest of the step sees.
		v = 0
		for k := p.K0; k < p.K1; k++ {
			v -= g.Ez[idx0+(k-p.K0)] * g.Spacing.Dz[k]
		}
	}
	p.v = v
	p.i = loopCurrentZ(g, p.I, p.I+1, p.J, p.J+1, (p.K0+p.K1)/2)
}

// loopCurrentZ integrates H around the dual contour enclosing the
// z-directed edges in cell window [i0,i1)x[j0,j1) at height k, giving the
// conduction plus displacement current through the window.
func loopCurrentZ(g *grid.Grid, i0, i1, j0, j1, k int) float64 {
	cur := 0.0
	for j := j0; j < j1; j++ {
		dy := 1 / g.IDyD[j]
		cur += (g.Hy[g.Idx(i1-1, j, k)] - g.Hy[g.Idx(i0-1, j, k)]) * dy
	}
	for i := i0; i < i1; i++ {
		dx := 1 / g.IDxD[i]
		cur += (g.Hx[g.Idx(i, j0-1, k)] - g.Hx[g.Idx(i, j1-1, k)]) * dx
	}
	return cur
}

// GuidedPort excites a mode profile over a rectangular cross-section on
// a constant-x reference plane (propagation along x). The per-cell
// weights come from the quasi-static mode solve; modal voltage and
// current are the weighted gap integral and the perimeter H loop.
type GuidedPort struct {
	BaseSource
	I              int // reference plane x-index
	J0, J1, K0, K1 int // window, cells
	Z0             float64
	Drive          bool

	weights [][]float64 // [j-J0][k-K0], sums to 1
	v, i    float64
}

// NewGuidedPort solves the port mode on the window cross-section.
// conductor marks signal-conductor cells in window coordinates.
func NewGuidedPort(name string, i, j0, j1, k0, k1 int, z0 float64, wave Waveform, drive bool, conductor func(u, v int) bool) (*GuidedPort, error) {
	if j1 <= j0 || k1 <= k0 {
		return nil, fmt.Errorf("port %s: empty window [%d,%d)x[%d,%d)", name, j0, j1, k0, k1)
	}
	if z0 <= 0 {
		return nil, fmt.Errorf("port %s: reference impedance must be positive, got %g", name, z0)
	}
	w, err := SolveModeProfile(j1-j0, k1-k0, conductor)
	if err != nil {
		return nil, fmt.Errorf("port %s: mode solve: %w", name, err)
	}
	return &GuidedPort{
		BaseSource: BaseSource{Name: name, Wave: wave},
		I:          i, J0: j0, J1: j1, K0: k0, K1: k1,
		Z0:      z0,
		Drive:   drive,
		weights: w,
	}, nil
}

// Validate checks the reference plane and window placement. The
// perimeter H loop reads one node outside the window on each side.
func (p *GuidedPort) Validate(g *grid.Grid) error {
	d := g.Dims
	if p.I < 1 || p.I > d.Nx-1 {
		return fmt.Errorf("port %s: reference plane x=%d outside interior [1,%d]",
			p.Name, p.I, d.Nx-1)
	}
	if p.J0 < 1 || p.J1 > d.Ny-1 || p.K0 < 1 || p.K1 > d.Nz-1 {
		return fmt.Errorf("port %s: window [%d,%d)x[%d,%d) must stay inside [1,%d]x[1,%d]",
			p.Name, p.J0, p.J1, p.K0, p.K1, d.Ny-1, d.Nz-1)
	}
	return nil
}

func (p *GuidedPort) Voltage() float64      { return p.v }
func (p *GuidedPort) Current() float64      { return p.i }
func (p *GuidedPort) RefImpedance() float64 { return p.Z0 }
func (p *GuidedPort) Excited() bool         { return p.Drive }

// ModeWeights exposes the normalized profile, mainly for inspection.
func (p *GuidedPort) ModeWeights() [][]float64 { return p.weights }

func (p *GuidedPort) ApplyE(g *grid.Grid, step int) {
	if p.Drive {
		vs := p.Wave.Value(step, g.Dt)
		if vs != 0 {
			for j := p.J0; j < p.J1; j++ {
				for k := p.K0; k < p.K1; k++ {
					w := p.weights[j-p.J0][k-p.K0]
					if w == 0 {
						continue
					}
					idx := g.Idx(p.I, j, k)
					is := (vs*w + g.Ez[idx]*g.Spacing.Dz[k]) / p.Z0
					g.Ez[idx] -= g.CbZ[idx] * is * g.IDxD[p.I] * g.IDyD[j]
				}
			}
		}
	}

	v := 0.0
	for j := p.J0; j < p.J1; j++ {
		for k := p.K0; k < p.K1; k++ {
			w := p.weights[j-p.J0][k-p.K0]
			if w == 0 {
				continue
			}
			v -= w * g.Ez[g.Idx(p.I, j, k)] * g.Spacing.Dz[k]
		}
	}
	p.v = v
	p.i = loopCurrentX(g, p.I, p.J0, p.J1, p.K0, p.K1)
}

// loopCurrentX integrates H around the window perimeter in the y-z
// plane, giving the modal current along +x.
func loopCurrentX(g *grid.Grid, i, j0, j1, k0, k1 int) float64 {
	cur := 0.0
	for j := j0; j < j1; j++ {
		dy := g.Spacing.Dy[j]
		cur += (g.Hy[g.Idx(i, j, k0-1)] - g.Hy[g.Idx(i, j, k1)]) * dy
	}
	for k := k0; k < k1; k++ {
		dz := g.Spacing.Dz[k]
		cur += (g.Hz[g.Idx(i, j1, k)] - g.Hz[g.Idx(i, j0-1, k)]) * dz
	}
	return cur
}
