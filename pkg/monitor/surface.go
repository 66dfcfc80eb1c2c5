package monitor

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

// SurfacePoint is one sample on the recording surface: face-center
// position, outward normal, and patch area.
type SurfacePoint struct {
	Pos    [3]float64
	Normal [3]float64
	Area   float64
}

// SurfaceData is the finalized near-field record on a closed box:
// complex E and H vectors per frequency per surface point. It feeds the
// far-field transform and nothing ever flows back.
type SurfaceData struct {
	Freqs  []float64
	Points []SurfacePoint
	E, H   [][][3]complex128 // [freq][point]
}

// SurfaceMonitor accumulates tangential E/H spectra on the six faces of
// a cell box enclosing the radiating structure. Field components are
// averaged from their staggered positions onto face centers.
type SurfaceMonitor struct {
	Name  string
	Box   Region
	Freqs []float64

	points []SurfacePoint
	accE   [][][3]complex128
	accH   [][][3]complex128
}

func NewSurfaceMonitor(name string, box Region, freqs []float64, g *grid.Grid) (*SurfaceMonitor, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("surface monitor %s: no target frequencies", name)
	}
	if err := box.validate(g.Dims, name); err != nil {
		return nil, err
	}
	d := g.Dims
	if box.I0 < 1 || box.J0 < 1 || box.K0 < 1 ||
		box.I1 > d.Nx-1 || box.J1 > d.Ny-1 || box.K1 > d.Nz-1 {
		return nil, fmt.Errorf("surface monitor %s: box must leave a one-cell margin for face averaging", name)
	}
	m := &SurfaceMonitor{Name: name, Box: box, Freqs: freqs}
	m.bakeGeometry(g)
	m.accE = make([][][3]complex128, len(freqs))
	m.accH = make([][][3]complex128, len(freqs))
	for i := range m.accE {
		m.accE[i] = make([][3]complex128, len(m.points))
		m.accH[i] = make([][3]complex128, len(m.points))
	}
	return m, nil
}

func (m *SurfaceMonitor) bakeGeometry(g *grid.Grid) {
	b := m.Box
	// x faces
	for _, side := range [2]struct {
		i int
		n float64
	}{{b.I0, -1}, {b.I1, 1}} {
		for j := b.J0; j < b.J1; j++ {
			for k := b.K0; k < b.K1; k++ {
				m.points = append(m.points, SurfacePoint{
					Pos:    [3]float64{g.NodePos(grid.X, side.i), g.CellCenter(grid.Y, j), g.CellCenter(grid.Z, k)},
					Normal: [3]float64{side.n, 0, 0},
					Area:   g.Spacing.Dy[j] * g.Spacing.Dz[k],
				})
			}
		}
	}
	// y faces
	for _, side := range [2]struct {
		j int
		n float64
	}{{b.J0, -1}, {b.J1, 1}} {
		for i := b.I0; i < b.I1; i++ {
			for k := b.K0; k < b.K1; k++ {
				m.points = append(m.points, SurfacePoint{
					Pos:    [3]float64{g.CellCenter(grid.X, i), g.NodePos(grid.Y, side.j), g.CellCenter(grid.Z, k)},
					Normal: [3]float64{0, side.n, 0},
					Area:   g.Spacing.Dx[i] * g.Spacing.Dz[k],
				})
			}
		}
	}
	// z faces
	for _, side := range [2]struct {
		k int
		n float64
	}{{b.K0, -1}, {b.K1, 1}} {
		for i := b.I0; i < b.I1; i++ {
			for j := b.J0; j < b.J1; j++ {
				m.points = append(m.points, SurfacePoint{
					Pos:    [3]float64{g.CellCenter(grid.X, i), g.CellCenter(grid.Y, j), g.NodePos(grid.Z, side.k)},
					Normal: [3]float64{0, 0, side.n},
					Area:   g.Spacing.Dx[i] * g.Spacing.Dy[j],
				})
			}
		}
	}
}

func (m *SurfaceMonitor) Accumulate(g *grid.Grid, step int) {
	tE := float64(step+1) * g.Dt
	tH := (float64(step) + 0.5) * g.Dt
	for fi, f := range m.Freqs {
		w := 2 * math.Pi * f
		phE := cmplx.Exp(complex(0, -w*tE)) * complex(g.Dt, 0)
		phH := cmplx.Exp(complex(0, -w*tH)) * complex(g.Dt, 0)
		m.accumulateFreq(g, fi, phE, phH)
	}
}

func (m *SurfaceMonitor) accumulateFreq(g *grid.Grid, fi int, phE, phH complex128) {
	b := m.Box
	n := 0
	add := func(e, h [3]float64) {
		for c := 0; c < 3; c++ {
			m.accE[fi][n][c] += complex(e[c], 0) * phE
			m.accH[fi][n][c] += complex(h[c], 0) * phH
		}
		n++
	}

	for _, ib := range [2]int{b.I0, b.I1} {
		for j := b.J0; j < b.J1; j++ {
			for k := b.K0; k < b.K1; k++ {
				ey := 0.5 * (g.Ey[g.Idx(ib, j, k)] + g.Ey[g.Idx(ib, j, k+1)])
				ez := 0.5 * (g.Ez[g.Idx(ib, j, k)] + g.Ez[g.Idx(ib, j+1, k)])
				hy := 0.25 * (g.Hy[g.Idx(ib-1, j, k)] + g.Hy[g.Idx(ib, j, k)] +
					g.Hy[g.Idx(ib-1, j+1, k)] + g.Hy[g.Idx(ib, j+1, k)])
				hz := 0.25 * (g.Hz[g.Idx(ib-1, j, k)] + g.Hz[g.Idx(ib, j, k)] +
					g.Hz[g.Idx(ib-1, j, k+1)] + g.Hz[g.Idx(ib, j, k+1)])
				add([3]float64{0, ey, ez}, [3]float64{0, hy, hz})
			}
		}
	}
	for _, jb := range [2]int{b.J0, b.J1} {
		for i := b.I0; i < b.I1; i++ {
			for k := b.K0; k < b.K1; k++ {
				ex := 0.5 * (g.Ex[g.Idx(i, jb, k)] + g.Ex[g.Idx(i, jb, k+1)])
				ez := 0.5 * (g.Ez[g.Idx(i, jb, k)] + g.Ez[g.Idx(i+1, jb, k)])
				hx := 0.25 * (g.Hx[g.Idx(i, jb-1, k)] + g.Hx[g.Idx(i, jb, k)] +
					g.Hx[g.Idx(i+1, jb-1, k)] + g.Hx[g.Idx(i+1, jb, k)])
				hz := 0.25 * (g.Hz[g.Idx(i, jb-1, k)] + g.Hz[g.Idx(i, jb, k)] +
					g.Hz[g.Idx(i, jb-1, k+1)] + g.Hz[g.Idx(i, jb, k+1)])
				add([3]float64{ex, 0, ez}, [3]float64{hx, 0, hz})
			}
		}
	}
	for _, kb := range [2]int{b.K0, b.K1} {
		for i := b.I0; i < b.I1; i++ {
			for j := b.J0; j < b.J1; j++ {
				ex := 0.5 * (g.Ex[g.Idx(i, j, kb)] + g.Ex[g.Idx(i, j+1, kb)])
				ey := 0.5 * (g.Ey[g.Idx(i, j, kb)] + g.Ey[g.Idx(i+1, j, kb)])
				hx := 0.25 * (g.Hx[g.Idx(i, j, kb-1)] + g.Hx[g.Idx(i, j, kb)] +
					g.Hx[g.Idx(i+1, j, kb-1)] + g.Hx[g.Idx(i+1, j, kb)])
				hy := 0.25 * (g.Hy[g.Idx(i, j, kb-1)] + g.Hy[g.Idx(i, j, kb)] +
					g.Hy[g.Idx(i, j+1, kb-1)] + g.Hy[g.Idx(i, j+1, kb)])
				add([3]float64{ex, ey, 0}, [3]float64{hx, hy, 0})
			}
		}
	}
}

// Finalize copies the accumulated spectra into a standalone SurfaceData
// that outlives the monitor and the grid.
func (m *SurfaceMonitor) Finalize() *SurfaceData {
	sd := &SurfaceData{
		Freqs:  append([]float64(nil), m.Freqs...),
		Points: append([]SurfacePoint(nil), m.points...),
		E:      make([][][3]complex128, len(m.accE)),
		H:      make([][][3]complex128, len(m.accH)),
	}
	for i := range m.accE {
		sd.E[i] = append([][3]complex128(nil), m.accE[i]...)
		sd.H[i] = append([][3]complex128(nil), m.accH[i]...)
	}
	return sd
}

// AccState exposes the accumulators for checkpointing.
func (m *SurfaceMonitor) AccState() (e, h [][][3]complex128) { return m.accE, m.accH }

func (m *SurfaceMonitor) RestoreAccState(e, h [][][3]complex128) error {
	if len(e) != len(m.accE) || len(h) != len(m.accH) {
		return fmt.Errorf("surface monitor %s: checkpoint frequency rows mismatch", m.Name)
	}
	for i := range e {
		if len(e[i]) != len(m.accE[i]) || len(h[i]) != len(m.accH[i]) {
			return fmt.Errorf("surface monitor %s: checkpoint point count mismatch", m.Name)
		}
		copy(m.accE[i], e[i])
		copy(m.accH[i], h[i])
	}
	return nil
}
