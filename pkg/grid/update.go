package grid

// UpdateH advances every magnetic field component by one half-step.
func (g *Grid) UpdateH() { g.UpdateHRange(0, g.nx1) }

// UpdateE advances every electric field component by one half-step.
// Tangential E on the outer domain faces stays zero (PEC backing behind
// the absorbing layer).
func (g *Grid) UpdateE() { g.UpdateERange(0, g.nx1) }

// UpdateHRange updates the i-slab [i0,i1). Slabs may be updated
// concurrently: each H write reads only E values, which are frozen for
// the duration of the half-step.
func (g *Grid) UpdateHRange(i0, i1 int) {
	d := g.Dims
	ny1, nz1 := g.ny1, g.nz1

	// Hx: i in 0..nx, j in 0..ny-1, k in 0..nz-1
	for i := i0; i < i1 && i <= d.Nx; i++ {
		for j := 0; j < d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			idy := g.IDy[j]
			for k := 0; k < d.Nz; k++ {
				idx := base + k
				curl := (g.Ey[idx+1]-g.Ey[idx])*g.IDz[k] - (g.Ez[idx+nz1]-g.Ez[idx])*idy
				g.Hx[idx] = g.DaX[idx]*g.Hx[idx] + g.DbX[idx]*curl
			}
		}
	}
	// Hy: i in 0..nx-1, j in 0..ny, k in 0..nz-1
	for i := i0; i < i1 && i < d.Nx; i++ {
		idxStep := ny1 * nz1
		idxI := g.IDx[i]
		for j := 0; j <= d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			for k := 0; k < d.Nz; k++ {
				idx := base + k
				curl := (g.Ez[idx+idxStep]-g.Ez[idx])*idxI - (g.Ex[idx+1]-g.Ex[idx])*g.IDz[k]
				g.Hy[idx] = g.DaY[idx]*g.Hy[idx] + g.DbY[idx]*curl
			}
		}
	}
	// Hz: i in 0..nx-1, j in 0..ny-1, k in 0..nz
	for i := i0; i < i1 && i < d.Nx; i++ {
		idxStep := ny1 * nz1
		idxI := g.IDx[i]
		for j := 0; j < d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			idy := g.IDy[j]
			for k := 0; k <= d.Nz; k++ {
				idx := base + k
				curl := (g.Ex[idx+nz1]-g.Ex[idx])*idy - (g.Ey[idx+idxStep]-g.Ey[idx])*idxI
				g.Hz[idx] = g.DaZ[idx]*g.Hz[idx] + g.DbZ[idx]*curl
			}
		}
	}
}

// UpdateERange updates the i-slab [i0,i1). Interior nodes only; the
// outer tangential components are the PEC backing.
func (g *Grid) UpdateERange(i0, i1 int) {
	d := g.Dims
	ny1, nz1 := g.ny1, g.nz1
	idxStep := ny1 * nz1

	// Ex: i in 0..nx-1, j in 1..ny-1, k in 1..nz-1
	for i := i0; i < i1 && i < d.Nx; i++ {
		for j := 1; j < d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			idyD := g.IDyD[j]
			for k := 1; k < d.Nz; k++ {
				idx := base + k
				curl := (g.Hz[idx]-g.Hz[idx-nz1])*idyD - (g.Hy[idx]-g.Hy[idx-1])*g.IDzD[k]
				g.Ex[idx] = g.CaX[idx]*g.Ex[idx] + g.CbX[idx]*curl
			}
		}
	}
	// Ey: i in 1..nx-1, j in 0..ny-1, k in 1..nz-1
	for i := maxInt(i0, 1); i < i1 && i < d.Nx; i++ {
		idxD := g.IDxD[i]
		for j := 0; j < d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			for k := 1; k < d.Nz; k++ {
				idx := base + k
				curl := (g.Hx[idx]-g.Hx[idx-1])*g.IDzD[k] - (g.Hz[idx]-g.Hz[idx-idxStep])*idxD
				g.Ey[idx] = g.CaY[idx]*g.Ey[idx] + g.CbY[idx]*curl
			}
		}
	}
	// Ez: i in 1..nx-1, j in 1..ny-1, k in 0..nz-1
	for i := maxInt(i0, 1); i < i1 && i < d.Nx; i++ {
		idxD := g.IDxD[i]
		for j := 1; j < d.Ny; j++ {
			base := (i*ny1 + j) * nz1
			idyD := g.IDyD[j]
			for k := 0; k < d.Nz; k++ {
				idx := base + k
				curl := (g.Hy[idx]-g.Hy[idx-idxStep])*idxD - (g.Hx[idx]-g.Hx[idx-nz1])*idyD
				g.Ez[idx] = g.CaZ[idx]*g.Ez[idx] + g.CbZ[idx]*curl
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UpdateDispersive folds the auxiliary polarization state into the just
// updated E field and advances it one step. Runs after UpdateE; no-op
// when no dispersive material is assigned.
func (g *Grid) UpdateDispersive() {
	if !g.dispersed {
		return
	}
	inv2dt := 1 / (2 * g.Dt)
	n := g.NodeCount()
	for idx := 0; idx < n; idx++ {
		if m := g.dmx[idx]; m >= 0 {
			g.Ex[idx], g.Jx[idx], g.PPx[idx] = g.adeStep(g.ade[m], g.Ex[idx], g.CbX[idx], g.Jx[idx], g.PPx[idx], inv2dt)
		}
		if m := g.dmy[idx]; m >= 0 {
			g.Ey[idx], g.Jy[idx], g.PPy[idx] = g.adeStep(g.ade[m], g.Ey[idx], g.CbY[idx], g.Jy[idx], g.PPy[idx], inv2dt)
		}
		if m := g.dmz[idx]; m >= 0 {
			g.Ez[idx], g.Jz[idx], g.PPz[idx] = g.adeStep(g.ade[m], g.Ez[idx], g.CbZ[idx], g.Jz[idx], g.PPz[idx], inv2dt)
		}
	}
}

// adeStep applies one auxiliary differential equation update. aux holds
// the polarization current (Drude) or polarization (Debye, Lorentz);
// prev is the previous polarization (Lorentz only).
func (g *Grid) adeStep(c adeCoeffs, e, cb, aux, prev, inv2dt float64) (float64, float64, float64) {
	switch c.kind {
	case Drude:
		e -= cb * aux
		aux = c.a*aux + c.b*e
	case Debye:
		jd := (c.b*e - aux) * c.a / g.Dt
		e -= cb * jd
		aux += c.a * (c.b*e - aux)
	case Lorentz:
		pNew := c.a*aux + c.c*prev + c.b*e
		e -= cb * (pNew - prev) * inv2dt
		prev = aux
		aux = pNew
	}
	return e, aux, prev
}
