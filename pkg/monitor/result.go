package monitor

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-fdtd/pkg/grid"
)

// FieldSpectrum is a finalized field monitor: complex spectra per
// frequency per cell of the region.
type FieldSpectrum struct {
	Name      string
	Component grid.Component
	Region    Region
	Freqs     []float64
	Values    [][]complex128 // [freq][cell]
}

// PortSpectrum carries the finalized reference-plane spectra of one
// port, its wave decomposition, and the input impedance.
type PortSpectrum struct {
	Name    string
	Z0      float64
	Excited bool
	Freqs   []float64
	V, I    []complex128
	A, B    []complex128 // incident / reflected wave amplitudes
	Zin     []complex128
}

// FrequencyResult is the final product of the extractor: everything the
// caller needs, nothing tied to the solver's lifetime.
type FrequencyResult struct {
	Freqs  []float64
	Fields []FieldSpectrum
	Ports  []PortSpectrum
	S      *SMatrix // nil when no port is defined
}

// SMatrix holds S_ij = b_i/a_j per frequency. Only columns belonging to
// an excited port are populated; a full matrix needs one run per
// excitation, combined externally.
type SMatrix struct {
	Freqs     []float64
	PortNames []string
	Data      [][][]complex128 // [freq][i][j]
	Valid     []bool           // per column j
}

func (s *SMatrix) At(freqIdx, i, j int) complex128 { return s.Data[freqIdx][i][j] }

// MagnitudeDB returns 20*log10|S_ij| across frequency.
func (s *SMatrix) MagnitudeDB(i, j int) []float64 {
	out := make([]float64, len(s.Freqs))
	for fi := range s.Freqs {
		out[fi] = 20 * math.Log10(cmplx.Abs(s.Data[fi][i][j]))
	}
	return out
}

// Finalize drains the monitors into a FrequencyResult. The monitors stay
// valid (a resumed run may continue accumulating); the result holds
// copies.
func Finalize(freqs []float64, fields []*FieldMonitor, ports []*PortMonitor) (*FrequencyResult, error) {
	res := &FrequencyResult{Freqs: append([]float64(nil), freqs...)}

	for _, m := range fields {
		fs := FieldSpectrum{
			Name:      m.Name,
			Component: m.Component,
			Region:    m.Region,
			Freqs:     append([]float64(nil), m.Freqs...),
			Values:    make([][]complex128, len(m.acc)),
		}
		for i := range m.acc {
			fs.Values[i] = append([]complex128(nil), m.acc[i]...)
		}
		res.Fields = append(res.Fields, fs)
	}

	for _, pm := range ports {
		ps := PortSpectrum{
			Name:    pm.Port.GetName(),
			Z0:      pm.Port.RefImpedance(),
			Excited: pm.Port.Excited(),
			Freqs:   append([]float64(nil), pm.Freqs...),
			V:       append([]complex128(nil), pm.accV...),
			I:       append([]complex128(nil), pm.accI...),
		}
		sqrtZ := complex(math.Sqrt(ps.Z0), 0)
		z0 := complex(ps.Z0, 0)
		ps.A = make([]complex128, len(ps.V))
		ps.B = make([]complex128, len(ps.V))
		ps.Zin = make([]complex128, len(ps.V))
		for fi := range ps.V {
			ps.A[fi] = (ps.V[fi] + z0*ps.I[fi]) / (2 * sqrtZ)
			ps.B[fi] = (ps.V[fi] - z0*ps.I[fi]) / (2 * sqrtZ)
			if ps.I[fi] != 0 {
				ps.Zin[fi] = ps.V[fi] / ps.I[fi]
			}
		}
		res.Ports = append(res.Ports, ps)
	}

	if len(res.Ports) > 0 {
		s, err := deriveSMatrix(res.Freqs, res.Ports)
		if err != nil {
			return nil, err
		}
		res.S = s
	}
	return res, nil
}

func deriveSMatrix(freqs []float64, ports []PortSpectrum) (*SMatrix, error) {
	n := len(ports)
	s := &SMatrix{
		Freqs:     append([]float64(nil), freqs...),
		PortNames: make([]string, n),
		Data:      make([][][]complex128, len(freqs)),
		Valid:     make([]bool, n),
	}
	for j, p := range ports {
		s.PortNames[j] = p.Name
		s.Valid[j] = p.Excited
		if len(p.A) != len(freqs) {
			return nil, fmt.Errorf("port %s tracks %d frequencies, result has %d", p.Name, len(p.A), len(freqs))
		}
	}
	for fi := range freqs {
		s.Data[fi] = make([][]complex128, n)
		for i := range s.Data[fi] {
			s.Data[fi][i] = make([]complex128, n)
		}
		for j, pj := range ports {
			if !pj.Excited || pj.A[fi] == 0 {
				continue
			}
			for i, pi := range ports {
				s.Data[fi][i][j] = pi.B[fi] / pj.A[fi]
			}
		}
	}
	return s, nil
}

// PassivityDefect reports, per excited column, the worst violation of
// sum_i |S_ij|^2 <= 1 across frequency. Deviations beyond numerical
// tolerance point at a solver or configuration defect; this is a
// correctness check, never enforced.
func (s *SMatrix) PassivityDefect() float64 {
	worst := 0.0
	power := make([]float64, len(s.Freqs))
	for j := range s.PortNames {
		if !s.Valid[j] {
			continue
		}
		for fi := range s.Freqs {
			total := 0.0
			for i := range s.PortNames {
				total += sqAbs(s.Data[fi][i][j])
			}
			power[fi] = total - 1
		}
		if m := floats.Max(power); m > worst {
			worst = m
		}
	}
	return worst
}

func sqAbs(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}

// ResonanceFrequency returns the frequency of minimum |S_jj| for an
// excited port column, a convenience for matched-resonance sweeps.
func (s *SMatrix) ResonanceFrequency(j int) (float64, float64) {
	best := math.Inf(1)
	freq := 0.0
	for fi, f := range s.Freqs {
		if m := cmplx.Abs(s.Data[fi][j][j]); m < best {
			best = m
			freq = f
		}
	}
	return freq, 20 * math.Log10(best)
}
