// Package source implements the excitation variants that inject energy
// into the grid: gaussian pulses, continuous waves, plane-wave sheets,
// and lumped/guided ports. The variant set is closed; waveform values
// are derived purely from (step, dt) so a source carries no hidden
// history.
package source

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

type Source interface {
	GetName() string
	// Validate checks the placement against the grid. The driver calls
	// it when the source is registered, before any stepping.
	Validate(g *grid.Grid) error
	// ApplyE adds the source's instantaneous contribution to the grid
	// immediately after the E half-step.
	ApplyE(g *grid.Grid, step int)
}

type BaseSource struct {
	Name string
	Wave Waveform
}

func (s *BaseSource) GetName() string { return s.Name }

type WaveformType int

const (
	GaussianPulse WaveformType = iota
	ContinuousWave
)

// Waveform generates the time profile of an excitation. Gaussian pulses
// are sine carriers under a gaussian envelope sized from Bandwidth;
// continuous waves ramp in over RampCycles to avoid a hard turn-on.
type Waveform struct {
	Type       WaveformType
	Frequency  float64 // carrier (Hz)
	Amplitude  float64
	Bandwidth  float64 // gaussian pulse: spectral half-width (Hz)
	Delay      float64 // seconds; <= 0 picks a smooth default
	RampCycles float64 // continuous wave: carrier cycles to full level
}

func NewGaussianPulse(f0, bandwidth, amplitude float64) Waveform {
	return Waveform{Type: GaussianPulse, Frequency: f0, Bandwidth: bandwidth, Amplitude: amplitude}
}

func NewContinuousWave(f0, amplitude float64) Waveform {
	return Waveform{Type: ContinuousWave, Frequency: f0, Amplitude: amplitude, RampCycles: 3}
}

func (w Waveform) Validate() error {
	if w.Frequency <= 0 {
		return fmt.Errorf("waveform frequency must be positive, got %g", w.Frequency)
	}
	if w.Type == GaussianPulse && w.Bandwidth <= 0 {
		return fmt.Errorf("gaussian pulse bandwidth must be positive, got %g", w.Bandwidth)
	}
	return nil
}

// Value returns the waveform at timestep*dt. Deterministic in
// (step, dt) by construction.
func (w Waveform) Value(step int, dt float64) float64 {
	t := float64(step) * dt
	switch w.Type {
	case GaussianPulse:
		tau := w.envelopeTau()
		t0 := w.Delay
		if t0 <= 0 {
			t0 = 4 * tau
		}
		arg := (t - t0) / tau
		return w.Amplitude * math.Exp(-arg*arg) * math.Sin(2*math.Pi*w.Frequency*(t-t0))
	case ContinuousWave:
		ramp := 1.0
		if w.RampCycles > 0 {
			tr := w.RampCycles / w.Frequency
			if t < tr {
				s := math.Sin(0.5 * math.Pi * t / tr)
				ramp = s * s
			}
		}
		return w.Amplitude * ramp * math.Sin(2*math.Pi*w.Frequency*t)
	}
	return 0
}

func (w Waveform) envelopeTau() float64 {
	// exp(-(pi*bw*tau')^2) down 20 dB at the band edge
	return math.Sqrt(math.Ln10*2) / (math.Pi * w.Bandwidth)
}

// StartupSteps reports how many timesteps the waveform needs before the
// carrier is at full strength; drivers may use it to size run lengths.
func (w Waveform) StartupSteps(dt float64) int {
	switch w.Type {
	case GaussianPulse:
		tau := w.envelopeTau()
		t0 := w.Delay
		if t0 <= 0 {
			t0 = 4 * tau
		}
		return int((t0 + 4*tau) / dt)
	case ContinuousWave:
		return int(w.RampCycles / w.Frequency / dt)
	}
	return 0
}

// Dipole is a soft point source adding the waveform into a single field
// component at one cell.
type Dipole struct {
	BaseSource
	Component grid.Component
	I, J, K   int
}

func NewDipole(name string, comp grid.Component, i, j, k int, wave Waveform) *Dipole {
	return &Dipole{
		BaseSource: BaseSource{Name: name, Wave: wave},
		Component:  comp,
		I:          i, J: j, K: k,
	}
}

func (s *Dipole) Validate(g *grid.Grid) error {
	if !g.Contains(s.I, s.J, s.K) {
		return fmt.Errorf("source %s: cell (%d,%d,%d) outside %dx%dx%d grid",
			s.Name, s.I, s.J, s.K, g.Dims.Nx, g.Dims.Ny, g.Dims.Nz)
	}
	return nil
}

func (s *Dipole) ApplyE(g *grid.Grid, step int) {
	g.Field(s.Component)[g.Idx(s.I, s.J, s.K)] += s.Wave.Value(step, g.Dt)
}

// PlaneWave injects the waveform as a soft sheet across one full grid
// plane, launching a plane wavefront along the plane normal.
type PlaneWave struct {
	BaseSource
	Component grid.Component // tangential E component to drive
	Axis      grid.Axis      // plane normal
	Position  int            // node index along Axis
}

func NewPlaneWave(name string, comp grid.Component, axis grid.Axis, position int, wave Waveform) *PlaneWave {
	return &PlaneWave{
		BaseSource: BaseSource{Name: name, Wave: wave},
		Component:  comp,
		Axis:       axis,
		Position:   position,
	}
}

func (s *PlaneWave) Validate(g *grid.Grid) error {
	n := 0
	switch s.Axis {
	case grid.X:
		n = g.Dims.Nx
	case grid.Y:
		n = g.Dims.Ny
	case grid.Z:
		n = g.Dims.Nz
	}
	// The sheet drives interior E nodes; the outer walls stay PEC.
	if s.Position < 1 || s.Position > n-1 {
		return fmt.Errorf("source %s: plane position %d outside interior [1,%d] along %s",
			s.Name, s.Position, n-1, s.Axis)
	}
	return nil
}

func (s *PlaneWave) ApplyE(g *grid.Grid, step int) {
	v := s.Wave.Value(step, g.Dt)
	if v == 0 {
		return
	}
	field := g.Field(s.Component)
	d := g.Dims
	switch s.Axis {
	case grid.X:
		for j := 1; j < d.Ny; j++ {
			for k := 1; k < d.Nz; k++ {
				field[g.Idx(s.Position, j, k)] += v
			}
		}
	case grid.Y:
		for i := 1; i < d.Nx; i++ {
			for k := 1; k < d.Nz; k++ {
				field[g.Idx(i, s.Position, k)] += v
			}
		}
	case grid.Z:
		for i := 1; i < d.Nx; i++ {
			for j := 1; j < d.Ny; j++ {
				field[g.Idx(i, j, s.Position)] += v
			}
		}
	}
}
