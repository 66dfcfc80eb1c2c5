package source

import (
	"fmt"
	"math"

	"github.com/edp1096/sparse"
)

// SolveModeProfile computes the quasi-static mode weighting of a guided
// port cross-section of w x h cells. The signal conductor sits at unit
// potential, the window border at ground; the Laplace equation is
// discretized with the usual 5-point stencil and factored directly.
// The returned weights are the E-field magnitude per cell, normalized to
// unit sum, zero on conductor cells.
func SolveModeProfile(w, h int, conductor func(u, v int) bool) ([][]float64, error) {
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("mode window must be at least 1x1, got %dx%d", w, h)
	}
	if conductor == nil {
		return nil, fmt.Errorf("mode solve requires a conductor mask")
	}

	// Unknown numbering over non-conductor cells, 1-based for the
	// sparse solver.
	unknown := make([]int, w*h)
	size := 0
	for u := 0; u < w; u++ {
		for v := 0; v < h; v++ {
			if conductor(u, v) {
				unknown[u*h+v] = 0
				continue
			}
			size++
			unknown[u*h+v] = size
		}
	}
	if size == 0 {
		return nil, fmt.Errorf("mode window is entirely conductor")
	}

	config := &sparse.Configuration{
		Real:           true,
		Expandable:     true,
		ModifiedNodal:  true,
		TiesMultiplier: 5,
	}
	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating mode matrix: %w", err)
	}
	defer mat.Destroy()

	rhs := make([]float64, size+1)
	for u := 0; u < w; u++ {
		for v := 0; v < h; v++ {
			row := unknown[u*h+v]
			if row == 0 {
				continue
			}
			mat.GetElement(int64(row), int64(row)).Real += 4
			for _, n := range [4][2]int{{u - 1, v}, {u + 1, v}, {u, v - 1}, {u, v + 1}} {
				nu, nv := n[0], n[1]
				if nu < 0 || nu >= w || nv < 0 || nv >= h {
					continue // window border: grounded Dirichlet, rhs += 0
				}
				if col := unknown[nu*h+nv]; col != 0 {
					mat.GetElement(int64(row), int64(col)).Real -= 1
				} else {
					rhs[row] += 1 // conductor neighbor at unit potential
				}
			}
		}
	}

	if err := mat.Factor(); err != nil {
		return nil, fmt.Errorf("mode matrix factorization failed: %w", err)
	}
	sol, err := mat.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("mode matrix solve failed: %w", err)
	}

	phi := func(u, v int) float64 {
		if u < 0 || u >= w || v < 0 || v >= h {
			return 0
		}
		if id := unknown[u*h+v]; id != 0 {
			return sol[id]
		}
		return 1
	}

	weights := make([][]float64, w)
	total := 0.0
	for u := 0; u < w; u++ {
		weights[u] = make([]float64, h)
		for v := 0; v < h; v++ {
			if conductor(u, v) {
				continue
			}
			gu := (phi(u+1, v) - phi(u-1, v)) / 2
			gv := (phi(u, v+1) - phi(u, v-1)) / 2
			mag := math.Hypot(gu, gv)
			weights[u][v] = mag
			total += mag
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("mode solve produced a null profile")
	}
	for u := range weights {
		for v := range weights[u] {
			weights[u][v] /= total
		}
	}
	return weights, nil
}
