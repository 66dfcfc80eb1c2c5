package solver

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

const checkpointVersion = 1

// checkpointFile is the on-disk snapshot of everything the time loop
// mutates: field arrays, dispersive auxiliaries, boundary convolution
// state, and monitor accumulators. Geometry and materials are not
// saved; the caller rebuilds the simulation from its deck and the
// restore validates shape agreement. Complex accumulators are stored
// as interleaved re/im pairs since gob has no complex encoding.
type checkpointFile struct {
	Version int
	Dims    grid.Dims
	Step    int

	Ex, Ey, Ez []float64
	Hx, Hy, Hz []float64

	Jx, Jy, Jz    []float64
	PPx, PPy, PPz []float64

	Psi [][]float64

	FieldAcc [][][]float64 // [monitor][freq][2*cell]
	PortV    [][]float64   // [monitor][2*freq]
	PortI    [][]float64
	SurfE    [][]float64 // [freq][6*point]
	SurfH    [][]float64
}

func packComplex(src []complex128) []float64 {
	out := make([]float64, 2*len(src))
	for i, c := range src {
		out[2*i] = real(c)
		out[2*i+1] = imag(c)
	}
	return out
}

func unpackComplex(src []float64) ([]complex128, error) {
	if len(src)%2 != 0 {
		return nil, fmt.Errorf("odd-length complex record")
	}
	out := make([]complex128, len(src)/2)
	for i := range out {
		out[i] = complex(src[2*i], src[2*i+1])
	}
	return out, nil
}

func packVectors(src [][3]complex128) []float64 {
	out := make([]float64, 6*len(src))
	for i, v := range src {
		for c := 0; c < 3; c++ {
			out[6*i+2*c] = real(v[c])
			out[6*i+2*c+1] = imag(v[c])
		}
	}
	return out
}

func unpackVectors(src []float64) ([][3]complex128, error) {
	if len(src)%6 != 0 {
		return nil, fmt.Errorf("malformed vector record of %d floats", len(src))
	}
	out := make([][3]complex128, len(src)/6)
	for i := range out {
		for c := 0; c < 3; c++ {
			out[i][c] = complex(src[6*i+2*c], src[6*i+2*c+1])
		}
	}
	return out, nil
}

// SaveCheckpoint writes a resumable snapshot of the simulation state.
// Call it only between steps, never concurrently with Run.
func (s *Simulation) SaveCheckpoint(w io.Writer) error {
	cf := checkpointFile{
		Version: checkpointVersion,
		Dims:    s.Grid.Dims,
		Step:    s.step,
		Ex:      s.Grid.Ex, Ey: s.Grid.Ey, Ez: s.Grid.Ez,
		Hx: s.Grid.Hx, Hy: s.Grid.Hy, Hz: s.Grid.Hz,
		Jx: s.Grid.Jx, Jy: s.Grid.Jy, Jz: s.Grid.Jz,
		PPx: s.Grid.PPx, PPy: s.Grid.PPy, PPz: s.Grid.PPz,
	}
	if s.CPML != nil {
		cf.Psi = s.CPML.PsiState()
	}
	for _, m := range s.FieldMonitors {
		acc := m.AccState()
		rows := make([][]float64, len(acc))
		for i := range acc {
			rows[i] = packComplex(acc[i])
		}
		cf.FieldAcc = append(cf.FieldAcc, rows)
	}
	for _, pm := range s.PortMonitors {
		v, i := pm.AccState()
		cf.PortV = append(cf.PortV, packComplex(v))
		cf.PortI = append(cf.PortI, packComplex(i))
	}
	if s.Surface != nil {
		e, h := s.Surface.AccState()
		for fi := range e {
			cf.SurfE = append(cf.SurfE, packVectors(e[fi]))
			cf.SurfH = append(cf.SurfH, packVectors(h[fi]))
		}
	}
	if err := gob.NewEncoder(w).Encode(&cf); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return nil
}

// ResumeCheckpoint loads a snapshot into a freshly built simulation.
// The simulation must have the same grid dimensions and the same
// monitor layout as the one that wrote the checkpoint.
func (s *Simulation) ResumeCheckpoint(r io.Reader) error {
	if s.state != StateInitialized {
		return fmt.Errorf("checkpoint: cannot resume into state %s", s.state)
	}
	var cf checkpointFile
	if err := gob.NewDecoder(r).Decode(&cf); err != nil {
		return fmt.Errorf("checkpoint: decode: %w", err)
	}
	if cf.Version != checkpointVersion {
		return fmt.Errorf("checkpoint: version %d, want %d", cf.Version, checkpointVersion)
	}
	if cf.Dims != s.Grid.Dims {
		return fmt.Errorf("checkpoint: grid is %dx%dx%d, simulation is %dx%dx%d",
			cf.Dims.Nx, cf.Dims.Ny, cf.Dims.Nz,
			s.Grid.Dims.Nx, s.Grid.Dims.Ny, s.Grid.Dims.Nz)
	}
	if cf.Step < 0 || cf.Step > s.cfg.Steps {
		return fmt.Errorf("checkpoint: step %d outside configured run of %d steps", cf.Step, s.cfg.Steps)
	}

	for name, pair := range map[string][2][]float64{
		"Ex": {s.Grid.Ex, cf.Ex}, "Ey": {s.Grid.Ey, cf.Ey}, "Ez": {s.Grid.Ez, cf.Ez},
		"Hx": {s.Grid.Hx, cf.Hx}, "Hy": {s.Grid.Hy, cf.Hy}, "Hz": {s.Grid.Hz, cf.Hz},
	} {
		if len(pair[0]) != len(pair[1]) {
			return fmt.Errorf("checkpoint: %s has %d nodes, want %d", name, len(pair[1]), len(pair[0]))
		}
		copy(pair[0], pair[1])
	}
	for name, pair := range map[string][2][]float64{
		"Jx": {s.Grid.Jx, cf.Jx}, "Jy": {s.Grid.Jy, cf.Jy}, "Jz": {s.Grid.Jz, cf.Jz},
		"PPx": {s.Grid.PPx, cf.PPx}, "PPy": {s.Grid.PPy, cf.PPy}, "PPz": {s.Grid.PPz, cf.PPz},
	} {
		if len(pair[0]) != len(pair[1]) {
			return fmt.Errorf("checkpoint: dispersive state %s mismatch", name)
		}
		copy(pair[0], pair[1])
	}

	if s.CPML != nil {
		if err := s.CPML.RestorePsiState(cf.Psi); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	} else if len(cf.Psi) > 0 {
		return fmt.Errorf("checkpoint: snapshot has boundary state but simulation has no absorbing boundary")
	}

	if len(cf.FieldAcc) != len(s.FieldMonitors) {
		return fmt.Errorf("checkpoint: %d field monitors recorded, simulation has %d",
			len(cf.FieldAcc), len(s.FieldMonitors))
	}
	for i, m := range s.FieldMonitors {
		rows := make([][]complex128, len(cf.FieldAcc[i]))
		for fi := range rows {
			acc, err := unpackComplex(cf.FieldAcc[i][fi])
			if err != nil {
				return fmt.Errorf("checkpoint: monitor %d: %w", i, err)
			}
			rows[fi] = acc
		}
		if err := m.RestoreAccState(rows); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}

	if len(cf.PortV) != len(s.PortMonitors) {
		return fmt.Errorf("checkpoint: %d port monitors recorded, simulation has %d",
			len(cf.PortV), len(s.PortMonitors))
	}
	for i, pm := range s.PortMonitors {
		v, err := unpackComplex(cf.PortV[i])
		if err != nil {
			return fmt.Errorf("checkpoint: port monitor %d: %w", i, err)
		}
		cur, err := unpackComplex(cf.PortI[i])
		if err != nil {
			return fmt.Errorf("checkpoint: port monitor %d: %w", i, err)
		}
		if err := pm.RestoreAccState(v, cur); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}

	if s.Surface != nil {
		e := make([][][3]complex128, len(cf.SurfE))
		h := make([][][3]complex128, len(cf.SurfH))
		for fi := range cf.SurfE {
			var err error
			if e[fi], err = unpackVectors(cf.SurfE[fi]); err != nil {
				return fmt.Errorf("checkpoint: surface monitor: %w", err)
			}
			if h[fi], err = unpackVectors(cf.SurfH[fi]); err != nil {
				return fmt.Errorf("checkpoint: surface monitor: %w", err)
			}
		}
		if err := s.Surface.RestoreAccState(e, h); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	} else if len(cf.SurfE) > 0 {
		return fmt.Errorf("checkpoint: snapshot has surface data but simulation has no surface monitor")
	}

	s.step = cf.Step
	s.mu.Lock()
	s.progress.Step = cf.Step
	s.mu.Unlock()
	return nil
}

// SaveCheckpointFile and ResumeCheckpointFile are path-taking wrappers.

func (s *Simulation) SaveCheckpointFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := s.SaveCheckpoint(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Simulation) ResumeCheckpointFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	return s.ResumeCheckpoint(f)
}
