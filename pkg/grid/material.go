package grid

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-fdtd/internal/consts"
)

type DispersionType int

const (
	NoDispersion DispersionType = iota
	Debye
	Lorentz
	Drude
)

// Minimum relative permittivity/permeability accepted for a passive material.
const minRelPerm = 1e-3

// Dispersion holds the single-pole model parameters. Which fields are
// meaningful depends on Type:
//
//	Debye:   DeltaEps, Tau
//	Lorentz: DeltaEps, Omega0, Delta
//	Drude:   OmegaP, Gamma
type Dispersion struct {
	Type     DispersionType
	DeltaEps float64 // pole strength (relative)
	Tau      float64 // Debye relaxation time (s)
	Omega0   float64 // Lorentz resonance (rad/s)
	Delta    float64 // Lorentz damping (rad/s)
	OmegaP   float64 // Drude plasma frequency (rad/s)
	Gamma    float64 // Drude collision frequency (rad/s)
}

type Material struct {
	Name       string
	EpsR       float64 // relative permittivity
	MuR        float64 // relative permeability
	Sigma      float64 // electric conductivity (S/m)
	SigmaM     float64 // magnetic loss (Ohm/m)
	Dispersion *Dispersion
}

// Air is the default background material.
func Air() Material { return Material{Name: "air", EpsR: 1, MuR: 1} }

func (m *Material) Validate() error {
	if m.EpsR < minRelPerm {
		return fmt.Errorf("material %q: relative permittivity %g below physical minimum %g", m.Name, m.EpsR, minRelPerm)
	}
	if m.MuR < minRelPerm {
		return fmt.Errorf("material %q: relative permeability %g below physical minimum %g", m.Name, m.MuR, minRelPerm)
	}
	if m.Sigma < 0 || m.SigmaM < 0 {
		return fmt.Errorf("material %q: negative conductivity", m.Name)
	}
	if d := m.Dispersion; d != nil {
		switch d.Type {
		case NoDispersion:
		case Debye:
			if d.Tau <= 0 {
				return fmt.Errorf("material %q: Debye relaxation time must be positive", m.Name)
			}
		case Lorentz:
			if d.Omega0 <= 0 {
				return fmt.Errorf("material %q: Lorentz resonance must be positive", m.Name)
			}
		case Drude:
			if d.OmegaP <= 0 {
				return fmt.Errorf("material %q: Drude plasma frequency must be positive", m.Name)
			}
		default:
			return fmt.Errorf("material %q: unknown dispersion type %d", m.Name, d.Type)
		}
	}
	return nil
}

// WaveSpeed returns the phase velocity in the material.
func (m *Material) WaveSpeed() float64 {
	return consts.C0 / math.Sqrt(m.EpsR*m.MuR)
}

// adeCoeffs holds the auxiliary update coefficients for one dispersive
// material. The polarization state advances as
//
//	aux = A*aux + C*auxPrev + B*E
//
// and the E field receives -Cb*current where the current is derived per
// model (see updateDispersive).
type adeCoeffs struct {
	kind    DispersionType
	a, b, c float64
}

func bakeADE(d *Dispersion, dt float64) adeCoeffs {
	switch d.Type {
	case Debye:
		// P' = (eps0*dEps*E - P)/tau, explicit current J = P'
		return adeCoeffs{
			kind: Debye,
			a:    dt / d.Tau,
			b:    consts.Eps0 * d.DeltaEps,
		}
	case Lorentz:
		// P'' + 2*delta*P' + w0^2 P = eps0*dEps*w0^2 E
		den := 1 + d.Delta*dt
		return adeCoeffs{
			kind: Lorentz,
			a:    (2 - d.Omega0*d.Omega0*dt*dt) / den,
			c:    -(1 - d.Delta*dt) / den,
			b:    consts.Eps0 * d.DeltaEps * d.Omega0 * d.Omega0 * dt * dt / den,
		}
	case Drude:
		// J' + gamma*J = eps0*wp^2 E
		den := 1 + d.Gamma*dt/2
		return adeCoeffs{
			kind: Drude,
			a:    (1 - d.Gamma*dt/2) / den,
			b:    consts.Eps0 * d.OmegaP * d.OmegaP * dt / den,
		}
	}
	return adeCoeffs{}
}
