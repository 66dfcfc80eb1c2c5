// Package solver drives the leapfrog time loop: half-step H and E
// updates, boundary convolution, source injection, and monitor
// accumulation, with divergence detection and cooperative cancellation.
package solver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/edp1096/toy-fdtd/pkg/boundary"
	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/monitor"
	"github.com/edp1096/toy-fdtd/pkg/source"
)

// ErrDiverged reports a blown-up field state. The run cannot be
// continued; shrink the timestep or fix the material assignment.
var ErrDiverged = errors.New("field state diverged")

// State is the lifecycle of a simulation. Transitions only move forward;
// a Failed or Cancelled run is never restarted in place.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Config holds the run parameters of the time loop.
type Config struct {
	Steps   int
	Workers int // 0 means GOMAXPROCS

	// Divergence scan period in steps and the absolute field threshold.
	// A non-finite value always trips regardless of the threshold.
	DivergenceEvery int
	DivergenceLimit float64

	// Field snapshot recording; 0 disables it.
	SnapshotEvery     int
	SnapshotComponent grid.Component

	// OnProgress, when set, is called from the run goroutine after each
	// divergence scan. It must not touch the grid.
	OnProgress func(Progress)
}

func DefaultConfig(steps int) Config {
	return Config{
		Steps:           steps,
		DivergenceEvery: 10,
		DivergenceLimit: 1e30,
	}
}

// Progress is a point-in-time view of a running simulation.
type Progress struct {
	Step     int
	Steps    int
	MaxField float64
	State    State
}

// Snapshot is one recorded field component at one step.
type Snapshot struct {
	Step      int
	Component grid.Component
	Data      []float64
}

// Simulation owns the grid, the boundary layer, the excitations, and
// the monitors for one run. It is not safe for concurrent mutation;
// Progress is the only method meant to be polled from another
// goroutine.
type Simulation struct {
	Grid *grid.Grid
	CPML *boundary.CPML

	Sources []source.Source
	Ports   []source.Port

	FieldMonitors []*monitor.FieldMonitor
	PortMonitors  []*monitor.PortMonitor
	Surface       *monitor.SurfaceMonitor

	cfg   Config
	state State
	step  int

	mu       sync.Mutex
	progress Progress

	peakMax   float64
	snapshots []Snapshot
}

func New(g *grid.Grid, cpml *boundary.CPML, cfg Config) (*Simulation, error) {
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("solver: step count %d must be positive", cfg.Steps)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.DivergenceEvery <= 0 {
		cfg.DivergenceEvery = 10
	}
	if cfg.DivergenceLimit <= 0 {
		cfg.DivergenceLimit = 1e30
	}
	return &Simulation{
		Grid:  g,
		CPML:  cpml,
		cfg:   cfg,
		state: StateInitialized,
		progress: Progress{
			Steps: cfg.Steps,
			State: StateInitialized,
		},
	}, nil
}

// AddSource registers an excitation after validating its placement
// against the grid, so a misplaced source fails here instead of
// corrupting the field arrays mid-run.
func (s *Simulation) AddSource(src source.Source) error {
	if err := src.Validate(s.Grid); err != nil {
		return err
	}
	s.Sources = append(s.Sources, src)
	return nil
}

// AddPort registers a port as both an excitation and a monitored
// reference plane. Placement is validated like AddSource.
func (s *Simulation) AddPort(p source.Port, freqs []float64) error {
	if err := p.Validate(s.Grid); err != nil {
		return err
	}
	pm, err := monitor.NewPortMonitor(p, freqs)
	if err != nil {
		return err
	}
	s.Ports = append(s.Ports, p)
	s.PortMonitors = append(s.PortMonitors, pm)
	return nil
}

func (s *Simulation) AddFieldMonitor(m *monitor.FieldMonitor) {
	s.FieldMonitors = append(s.FieldMonitors, m)
}

func (s *Simulation) SetSurfaceMonitor(m *monitor.SurfaceMonitor) { s.Surface = m }

func (s *Simulation) State() State { return s.state }
func (s *Simulation) Step() int    { return s.step }

// Progress returns the latest published progress. Safe to call from any
// goroutine while Run is executing.
func (s *Simulation) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Simulation) publish(maxField float64) {
	s.mu.Lock()
	s.progress = Progress{Step: s.step, Steps: s.cfg.Steps, MaxField: maxField, State: s.state}
	p := s.progress
	s.mu.Unlock()
	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(p)
	}
}

func (s *Simulation) Snapshots() []Snapshot { return s.snapshots }

// Run executes the time loop from the current step to Config.Steps.
// Cancellation is honored at step boundaries so the field state stays
// consistent; a cancelled run can be checkpointed and resumed.
func (s *Simulation) Run(ctx context.Context) error {
	if s.state != StateInitialized {
		return fmt.Errorf("solver: cannot run from state %s", s.state)
	}
	s.state = StateRunning
	s.publish(0)

	lastStable := s.step
	for ; s.step < s.cfg.Steps; s.step++ {
		if err := ctx.Err(); err != nil {
			s.state = StateCancelled
			s.publish(0)
			return err
		}

		s.advance()

		if (s.step+1)%s.cfg.DivergenceEvery == 0 || s.step == s.cfg.Steps-1 {
			max, finite := s.Grid.MaxField()
			if !finite || max > s.cfg.DivergenceLimit {
				s.state = StateFailed
				s.publish(max)
				return fmt.Errorf("%w at step %d (last stable step %d, max |E| %.3e)",
					ErrDiverged, s.step, lastStable, max)
			}
			lastStable = s.step
			if max > s.peakMax {
				s.peakMax = max
			}
			s.publish(max)
		}

		if s.cfg.SnapshotEvery > 0 && (s.step+1)%s.cfg.SnapshotEvery == 0 {
			s.recordSnapshot()
		}
	}

	s.state = StateCompleted
	s.publish(0)
	return nil
}

// advance performs one full leapfrog step: H half-step, E half-step,
// dispersive correction, injection, then monitor accumulation against
// the freshly updated fields.
func (s *Simulation) advance() {
	s.parallel(func(i0, i1 int) { s.Grid.UpdateHRange(i0, i1) })
	if s.CPML != nil {
		s.CPML.ApplyH()
	}

	s.parallel(func(i0, i1 int) { s.Grid.UpdateERange(i0, i1) })
	if s.CPML != nil {
		s.CPML.ApplyE()
	}
	s.Grid.UpdateDispersive()

	for _, src := range s.Sources {
		src.ApplyE(s.Grid, s.step)
	}
	for _, p := range s.Ports {
		p.ApplyE(s.Grid, s.step)
	}

	for _, m := range s.FieldMonitors {
		m.Accumulate(s.Grid, s.step)
	}
	for _, pm := range s.PortMonitors {
		pm.Accumulate(s.step, s.Grid.Dt)
	}
	if s.Surface != nil {
		s.Surface.Accumulate(s.Grid, s.step)
	}
}

// parallel splits the i-range into contiguous slabs, one per worker.
// Slab writes never overlap; cross-slab reads only touch the field the
// pass does not write, so no synchronization beyond the join is needed.
func (s *Simulation) parallel(fn func(i0, i1 int)) {
	n := s.Grid.Dims.Nx + 1
	workers := s.cfg.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		i0 := w * chunk
		i1 := i0 + chunk
		if i1 > n {
			i1 = n
		}
		if i0 >= i1 {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(i0, i1)
	}
	wg.Wait()
}

func (s *Simulation) recordSnapshot() {
	field := s.Grid.Field(s.cfg.SnapshotComponent)
	s.snapshots = append(s.snapshots, Snapshot{
		Step:      s.step,
		Component: s.cfg.SnapshotComponent,
		Data:      append([]float64(nil), field...),
	})
}

// BoundaryDiagnostic reports the absorbing-boundary quality figure
// from the peak and residual field levels seen by the divergence
// scans. Only meaningful after a completed run whose excitation has
// died out; the second return is false when no boundary is attached
// or the run has not completed.
func (s *Simulation) BoundaryDiagnostic() (boundary.Diagnostic, bool) {
	if s.CPML == nil || s.state != StateCompleted {
		return boundary.Diagnostic{}, false
	}
	final, _ := s.Grid.MaxField()
	return s.CPML.ReflectionDiagnostic(s.peakMax*s.peakMax, final*final), true
}

// Result finalizes every monitor into a FrequencyResult. Valid after a
// completed run; calling it earlier yields partial spectra.
func (s *Simulation) Result() (*monitor.FrequencyResult, error) {
	var freqs []float64
	switch {
	case len(s.PortMonitors) > 0:
		freqs = s.PortMonitors[0].Freqs
	case len(s.FieldMonitors) > 0:
		freqs = s.FieldMonitors[0].Freqs
	case s.Surface != nil:
		freqs = s.Surface.Freqs
	}
	return monitor.Finalize(freqs, s.FieldMonitors, s.PortMonitors)
}
