// Package farfield implements the near-to-far-field transform: a single
// one-way pass integrating the equivalence currents recorded on a closed
// surface into the radiation pattern. Nothing here feeds back into the
// time loop.
package farfield

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-fdtd/internal/consts"
	"github.com/edp1096/toy-fdtd/pkg/monitor"
)

// Result is the far-field pattern at one frequency over a (theta, phi)
// grid. ETheta/EPhi carry the complex amplitudes with the spherical
// spreading factor exp(-jkr)/r removed; GainDBi is the directive gain.
type Result struct {
	Freq          float64
	ThetaDeg      []float64
	PhiDeg        []float64
	ETheta, EPhi  [][]complex128 // [theta][phi]
	GainDBi       [][]float64
	RadiatedPower float64
}

// UniformAngles builds evenly spaced full-sphere observation angles.
func UniformAngles(nTheta, nPhi int) (thetaDeg, phiDeg []float64) {
	thetaDeg = make([]float64, nTheta)
	for i := range thetaDeg {
		thetaDeg[i] = 180 * float64(i) / float64(nTheta-1)
	}
	phiDeg = make([]float64, nPhi)
	for i := range phiDeg {
		phiDeg[i] = 360 * float64(i) / float64(nPhi)
	}
	return thetaDeg, phiDeg
}

// Compute evaluates the radiation integral of the surface equivalence
// currents (J = n x H, M = -n x E) at every requested angle for one of
// the recorded frequencies. Directivity normalization integrates the
// radiation intensity over the sampled sphere, so the angle grid should
// cover it when absolute gain matters.
func Compute(sd *monitor.SurfaceData, freqIdx int, thetaDeg, phiDeg []float64) (*Result, error) {
	if freqIdx < 0 || freqIdx >= len(sd.Freqs) {
		return nil, fmt.Errorf("far field: frequency index %d outside %d recorded", freqIdx, len(sd.Freqs))
	}
	if len(thetaDeg) < 2 || len(phiDeg) < 1 {
		return nil, fmt.Errorf("far field: need at least 2 theta and 1 phi samples, got %dx%d", len(thetaDeg), len(phiDeg))
	}
	freq := sd.Freqs[freqIdx]
	k := 2 * math.Pi * freq / consts.C0

	// Equivalence currents per point, computed once.
	type currents struct {
		j, m [3]complex128
	}
	cur := make([]currents, len(sd.Points))
	for p, pt := range sd.Points {
		e := sd.E[freqIdx][p]
		h := sd.H[freqIdx][p]
		cur[p].j = crossRealComplex(pt.Normal, h)
		m := crossRealComplex(pt.Normal, e)
		for c := 0; c < 3; c++ {
			cur[p].m[c] = -m[c]
		}
	}

	res := &Result{
		Freq:     freq,
		ThetaDeg: append([]float64(nil), thetaDeg...),
		PhiDeg:   append([]float64(nil), phiDeg...),
		ETheta:   make([][]complex128, len(thetaDeg)),
		EPhi:     make([][]complex128, len(thetaDeg)),
		GainDBi:  make([][]float64, len(thetaDeg)),
	}
	intensity := make([][]float64, len(thetaDeg))

	for ti, thd := range thetaDeg {
		res.ETheta[ti] = make([]complex128, len(phiDeg))
		res.EPhi[ti] = make([]complex128, len(phiDeg))
		res.GainDBi[ti] = make([]float64, len(phiDeg))
		intensity[ti] = make([]float64, len(phiDeg))

		th := thd * math.Pi / 180
		st, ct := math.Sin(th), math.Cos(th)
		for pi, phd := range phiDeg {
			ph := phd * math.Pi / 180
			sp, cp := math.Sin(ph), math.Cos(ph)
			rhat := [3]float64{st * cp, st * sp, ct}

			var n, l [3]complex128
			for p, pt := range sd.Points {
				phase := cmplx.Exp(complex(0, k*dotReal(rhat, pt.Pos))) * complex(pt.Area, 0)
				for c := 0; c < 3; c++ {
					n[c] += cur[p].j[c] * phase
					l[c] += cur[p].m[c] * phase
				}
			}

			nTh := n[0]*complex(ct*cp, 0) + n[1]*complex(ct*sp, 0) - n[2]*complex(st, 0)
			nPh := -n[0]*complex(sp, 0) + n[1]*complex(cp, 0)
			lTh := l[0]*complex(ct*cp, 0) + l[1]*complex(ct*sp, 0) - l[2]*complex(st, 0)
			lPh := -l[0]*complex(sp, 0) + l[1]*complex(cp, 0)

			eta := complex(consts.Eta0, 0)
			fTh := lPh + eta*nTh
			fPh := lTh - eta*nPh

			jk4pi := complex(0, k/(4*math.Pi))
			res.ETheta[ti][pi] = -jk4pi * fTh
			res.EPhi[ti][pi] = jk4pi * fPh

			intensity[ti][pi] = k * k / (32 * math.Pi * math.Pi * consts.Eta0) *
				(sqAbs(fTh) + sqAbs(fPh))
		}
	}

	res.RadiatedPower = integrateSphere(intensity, thetaDeg, phiDeg)
	if res.RadiatedPower > 0 {
		for ti := range intensity {
			for pi := range intensity[ti] {
				d := 4 * math.Pi * intensity[ti][pi] / res.RadiatedPower
				if d > 0 {
					res.GainDBi[ti][pi] = 10 * math.Log10(d)
				} else {
					res.GainDBi[ti][pi] = math.Inf(-1)
				}
			}
		}
	}
	return res, nil
}

// PeakGain returns the maximum gain and its angles.
func (r *Result) PeakGain() (gainDBi, thetaDeg, phiDeg float64) {
	gainDBi = math.Inf(-1)
	for ti := range r.GainDBi {
		row := r.GainDBi[ti]
		if m := floats.Max(row); m > gainDBi {
			gainDBi = m
			thetaDeg = r.ThetaDeg[ti]
			phiDeg = r.PhiDeg[floats.MaxIdx(row)]
		}
	}
	return gainDBi, thetaDeg, phiDeg
}

// integrateSphere sums U(theta,phi) sin(theta) dtheta dphi with
// trapezoidal weights in theta and periodic weights in phi.
func integrateSphere(u [][]float64, thetaDeg, phiDeg []float64) float64 {
	total := 0.0
	dPhi := 2 * math.Pi / float64(len(phiDeg))
	for ti := range thetaDeg {
		th := thetaDeg[ti] * math.Pi / 180
		var dTh float64
		switch ti {
		case 0:
			dTh = (thetaDeg[1] - thetaDeg[0]) * math.Pi / 360
		case len(thetaDeg) - 1:
			dTh = (thetaDeg[ti] - thetaDeg[ti-1]) * math.Pi / 360
		default:
			dTh = (thetaDeg[ti+1] - thetaDeg[ti-1]) * math.Pi / 360
		}
		rowSum := floats.Sum(u[ti])
		total += rowSum * math.Sin(th) * dTh * dPhi
	}
	return total
}

func crossRealComplex(a [3]float64, b [3]complex128) [3]complex128 {
	return [3]complex128{
		complex(a[1], 0)*b[2] - complex(a[2], 0)*b[1],
		complex(a[2], 0)*b[0] - complex(a[0], 0)*b[2],
		complex(a[0], 0)*b[1] - complex(a[1], 0)*b[0],
	}
}

func dotReal(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func sqAbs(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}
