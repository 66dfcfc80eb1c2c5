// Package monitor implements the frequency extraction machinery: running
// discrete-Fourier sums accumulated during the time loop at monitor
// locations, finalized into spectra and S-parameters. No time series is
// ever stored.
package monitor

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/source"
)

// Region is a node-index box, upper bounds exclusive. A point monitor is
// a 1x1x1 region.
type Region struct {
	I0, I1, J0, J1, K0, K1 int
}

func PointRegion(i, j, k int) Region {
	return Region{I0: i, I1: i + 1, J0: j, J1: j + 1, K0: k, K1: k + 1}
}

func (r Region) Cells() int {
	return (r.I1 - r.I0) * (r.J1 - r.J0) * (r.K1 - r.K0)
}

func (r Region) validate(d grid.Dims, name string) error {
	if r.I0 < 0 || r.J0 < 0 || r.K0 < 0 || r.I1 > d.Nx || r.J1 > d.Ny || r.K1 > d.Nz {
		return fmt.Errorf("monitor %s: region outside %dx%dx%d domain", name, d.Nx, d.Ny, d.Nz)
	}
	if r.Cells() < 1 {
		return fmt.Errorf("monitor %s: empty region", name)
	}
	return nil
}

// FieldMonitor accumulates one field component over a region at a list
// of target frequencies.
type FieldMonitor struct {
	Name      string
	Component grid.Component
	Region    Region
	Freqs     []float64

	acc [][]complex128 // [freq][cell]
}

func NewFieldMonitor(name string, comp grid.Component, r Region, freqs []float64, d grid.Dims) (*FieldMonitor, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("monitor %s: no target frequencies", name)
	}
	if err := r.validate(d, name); err != nil {
		return nil, err
	}
	m := &FieldMonitor{Name: name, Component: comp, Region: r, Freqs: freqs}
	m.acc = make([][]complex128, len(freqs))
	for i := range m.acc {
		m.acc[i] = make([]complex128, r.Cells())
	}
	return m, nil
}

// sampleTime is the physical time of the just-completed half-step for a
// component: E lands on integer steps, H on the preceding half step.
func sampleTime(c grid.Component, step int, dt float64) float64 {
	if c.IsElectric() {
		return float64(step+1) * dt
	}
	return (float64(step) + 0.5) * dt
}

func (m *FieldMonitor) Accumulate(g *grid.Grid, step int) {
	field := g.Field(m.Component)
	t := sampleTime(m.Component, step, g.Dt)
	for fi, f := range m.Freqs {
		ph := cmplx.Exp(complex(0, -2*math.Pi*f*t)) * complex(g.Dt, 0)
		acc := m.acc[fi]
		n := 0
		for i := m.Region.I0; i < m.Region.I1; i++ {
			for j := m.Region.J0; j < m.Region.J1; j++ {
				base := g.Idx(i, j, m.Region.K0)
				for k := m.Region.K0; k < m.Region.K1; k++ {
					acc[n] += complex(field[base+(k-m.Region.K0)], 0) * ph
					n++
				}
			}
		}
	}
}

// AccState exposes the raw accumulator for checkpointing.
func (m *FieldMonitor) AccState() [][]complex128 { return m.acc }

func (m *FieldMonitor) RestoreAccState(state [][]complex128) error {
	if len(state) != len(m.acc) {
		return fmt.Errorf("monitor %s: checkpoint has %d frequency rows, want %d", m.Name, len(state), len(m.acc))
	}
	for i := range state {
		if len(state[i]) != len(m.acc[i]) {
			return fmt.Errorf("monitor %s: checkpoint row %d has %d cells, want %d", m.Name, i, len(state[i]), len(m.acc[i]))
		}
		copy(m.acc[i], state[i])
	}
	return nil
}

// PortMonitor accumulates the reference-plane voltage and current of a
// port. The half-step offset between the two samplings is carried in the
// phase factors, not corrected afterwards.
type PortMonitor struct {
	Port  source.Port
	Freqs []float64

	accV, accI []complex128
}

func NewPortMonitor(p source.Port, freqs []float64) (*PortMonitor, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("port monitor %s: no target frequencies", p.GetName())
	}
	return &PortMonitor{
		Port:  p,
		Freqs: freqs,
		accV:  make([]complex128, len(freqs)),
		accI:  make([]complex128, len(freqs)),
	}, nil
}

func (m *PortMonitor) Accumulate(step int, dt float64) {
	tV := float64(step+1) * dt
	tI := (float64(step) + 0.5) * dt
	v := complex(m.Port.Voltage()*dt, 0)
	i := complex(m.Port.Current()*dt, 0)
	for fi, f := range m.Freqs {
		w := 2 * math.Pi * f
		m.accV[fi] += v * cmplx.Exp(complex(0, -w*tV))
		m.accI[fi] += i * cmplx.Exp(complex(0, -w*tI))
	}
}

func (m *PortMonitor) AccState() ([]complex128, []complex128) { return m.accV, m.accI }

func (m *PortMonitor) RestoreAccState(v, i []complex128) error {
	if len(v) != len(m.accV) || len(i) != len(m.accI) {
		return fmt.Errorf("port monitor %s: checkpoint accumulator size mismatch", m.Port.GetName())
	}
	copy(m.accV, v)
	copy(m.accI, i)
	return nil
}
