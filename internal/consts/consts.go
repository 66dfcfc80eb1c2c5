package consts

import "math"

const (
	C0   = 2.99792458e8 // Speed of light in vacuum (m/s)
	Mu0  = 4.0e-7 * math.Pi
	Eps0 = 1.0 / (Mu0 * C0 * C0)
	Eta0 = Mu0 * C0 // Free space wave impedance (Ohm)
)
