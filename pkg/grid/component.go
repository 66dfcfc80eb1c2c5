package grid

import "fmt"

type Axis int

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

type Component int

const (
	CEx Component = iota
	CEy
	CEz
	CHx
	CHy
	CHz
)

func (c Component) String() string {
	switch c {
	case CEx:
		return "Ex"
	case CEy:
		return "Ey"
	case CEz:
		return "Ez"
	case CHx:
		return "Hx"
	case CHy:
		return "Hy"
	case CHz:
		return "Hz"
	}
	return fmt.Sprintf("component(%d)", int(c))
}

// IsElectric reports whether the component belongs to the E field.
func (c Component) IsElectric() bool { return c <= CEz }

// Field returns the flat array backing one field component.
func (g *Grid) Field(c Component) []float64 {
	switch c {
	case CEx:
		return g.Ex
	case CEy:
		return g.Ey
	case CEz:
		return g.Ez
	case CHx:
		return g.Hx
	case CHy:
		return g.Hy
	case CHz:
		return g.Hz
	}
	return nil
}

// Contains reports whether the node coordinates fall inside the grid.
func (g *Grid) Contains(i, j, k int) bool {
	return i >= 0 && i <= g.Dims.Nx && j >= 0 && j <= g.Dims.Ny && k >= 0 && k <= g.Dims.Nz
}
