// Package deck loads a simulation description from YAML and builds the
// runnable pieces out of it: grid, boundary, sources, ports, monitors.
package deck

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edp1096/toy-fdtd/pkg/boundary"
	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/monitor"
	"github.com/edp1096/toy-fdtd/pkg/source"
)

// ConfigError names the deck field a validation failure belongs to.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("deck: %s: %s", e.Field, e.Msg) }

func cfgErrf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"M":   1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

// unitSuffixes are trailing unit names stripped before the SI prefix is
// applied, so "2.4GHz" and "1mm" both parse.
var unitSuffixes = []string{"Hz", "hz", "s", "m", "V", "A", "Ohm", "ohm"}

// Value is a float that accepts engineering notation with an SI prefix
// and an optional unit name in YAML scalars.
type Value float64

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case int:
		*v = Value(t)
		return nil
	case int64:
		*v = Value(t)
		return nil
	case float64:
		*v = Value(t)
		return nil
	case string:
		f, err := ParseValue(t)
		if err != nil {
			return err
		}
		*v = Value(f)
		return nil
	}
	return fmt.Errorf("deck: cannot parse %q as a value", node.Value)
}

// ParseValue parses "2.4GHz", "1mm", "50", "1e-12" into a float.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("deck: empty value")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	body := s
	// "mm" is milli+meter, "m" alone is a bare meter: strip the unit
	// name first, then look for a prefix.
	for _, u := range unitSuffixes {
		if len(body) > len(u) && strings.HasSuffix(body, u) {
			trimmed := body[:len(body)-len(u)]
			if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return strconv.ParseFloat(trimmed, 64)
			}
			body = trimmed
			break
		}
	}
	for _, pfx := range []string{"meg", "T", "G", "M", "K", "k", "m", "u", "n", "p", "f"} {
		if strings.HasSuffix(body, pfx) {
			num := body[:len(body)-len(pfx)]
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				break
			}
			return f * unitMap[pfx], nil
		}
	}
	return 0, fmt.Errorf("deck: cannot parse value %q", s)
}

// Deck is the YAML document shape.
type Deck struct {
	Title string `yaml:"title"`

	Grid struct {
		Cells   [3]int  `yaml:"cells"`
		Spacing Value   `yaml:"spacing"`
		Dx      []Value `yaml:"dx"`
		Dy      []Value `yaml:"dy"`
		Dz      []Value `yaml:"dz"`
		Dt      Value   `yaml:"dt"`
	} `yaml:"grid"`

	Materials []MaterialSpec `yaml:"materials"`
	Boxes     []BoxSpec      `yaml:"boxes"`

	Boundary *struct {
		Layers       int   `yaml:"layers"`
		Grading      int   `yaml:"grading"`
		KappaMax     Value `yaml:"kappa_max"`
		AlphaMax     Value `yaml:"alpha_max"`
		ReflectionDB Value `yaml:"reflection_db"`
	} `yaml:"boundary"`

	Sources []SourceSpec `yaml:"sources"`
	Ports   []PortSpec   `yaml:"ports"`

	Monitors []MonitorSpec `yaml:"monitors"`
	Surface  *struct {
		From [3]int `yaml:"from"`
		To   [3]int `yaml:"to"`
	} `yaml:"surface"`

	Run struct {
		Steps         int     `yaml:"steps"`
		SnapshotEvery int     `yaml:"snapshot_every"`
		Frequencies   []Value `yaml:"frequencies"`
		Sweep         *struct {
			Start  Value `yaml:"start"`
			Stop   Value `yaml:"stop"`
			Points int   `yaml:"points"`
		} `yaml:"sweep"`
	} `yaml:"run"`
}

type MaterialSpec struct {
	Name       string `yaml:"name"`
	EpsR       Value  `yaml:"eps_r"`
	MuR        Value  `yaml:"mu_r"`
	Sigma      Value  `yaml:"sigma"`
	SigmaM     Value  `yaml:"sigma_m"`
	Dispersion *struct {
		Type     string `yaml:"type"` // debye, lorentz, drude
		DeltaEps Value  `yaml:"delta_eps"`
		Tau      Value  `yaml:"tau"`
		Omega0   Value  `yaml:"omega0"`
		Delta    Value  `yaml:"delta"`
		OmegaP   Value  `yaml:"omega_p"`
		Gamma    Value  `yaml:"gamma"`
	} `yaml:"dispersion"`
}

type BoxSpec struct {
	Material string `yaml:"material"`
	From     [3]int `yaml:"from"`
	To       [3]int `yaml:"to"`
}

type SourceSpec struct {
	Kind      string `yaml:"kind"` // dipole, plane
	Name      string `yaml:"name"`
	Component string `yaml:"component"`
	At        [3]int `yaml:"at"`       // dipole
	Axis      string `yaml:"axis"`     // plane
	Position  int    `yaml:"position"` // plane
	Waveform  WaveSpec
}

// WaveSpec is inlined into source and port entries.
type WaveSpec struct {
	Shape      string `yaml:"shape"` // gaussian, cw
	Frequency  Value  `yaml:"frequency"`
	Bandwidth  Value  `yaml:"bandwidth"`
	Amplitude  Value  `yaml:"amplitude"`
	RampCycles Value  `yaml:"ramp_cycles"`
}

func (s *SourceSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain SourceSpec
	if err := node.Decode((*plain)(s)); err != nil {
		return err
	}
	return node.Decode(&s.Waveform)
}

type PortSpec struct {
	Kind     string `yaml:"kind"` // lumped, guided
	Name     string `yaml:"name"`
	Z0       Value  `yaml:"z0"`
	Drive    bool   `yaml:"drive"`
	At       [2]int `yaml:"at"`   // lumped: (i, j)
	Span     [2]int `yaml:"span"` // lumped: (k0, k1)
	Plane    int    `yaml:"plane"`
	From     [2]int `yaml:"from"` // guided: (j0, k0)
	To       [2]int `yaml:"to"`   // guided: (j1, k1)
	Strip    [4]int `yaml:"strip"`
	Waveform WaveSpec
}

func (p *PortSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain PortSpec
	if err := node.Decode((*plain)(p)); err != nil {
		return err
	}
	return node.Decode(&p.Waveform)
}

type MonitorSpec struct {
	Name      string `yaml:"name"`
	Component string `yaml:"component"`
	From      [3]int `yaml:"from"`
	To        [3]int `yaml:"to"`
	At        []int  `yaml:"at"` // point shorthand
}

// Load reads and parses a deck file.
func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deck: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and validates it.
func Parse(data []byte) (*Deck, error) {
	var d Deck
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("deck: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Deck) Validate() error {
	for ax, n := range d.Grid.Cells {
		if n < 1 {
			return cfgErrf("grid.cells", "axis %d has %d cells", ax, n)
		}
	}
	if d.Grid.Spacing <= 0 && (len(d.Grid.Dx) == 0 || len(d.Grid.Dy) == 0 || len(d.Grid.Dz) == 0) {
		return cfgErrf("grid.spacing", "need a uniform spacing or per-axis dx/dy/dz lists")
	}
	if d.Run.Steps < 1 {
		return cfgErrf("run.steps", "step count %d must be positive", d.Run.Steps)
	}
	if len(d.Run.Frequencies) == 0 && d.Run.Sweep == nil {
		return cfgErrf("run.frequencies", "no target frequencies and no sweep")
	}
	if d.Run.Sweep != nil {
		sw := d.Run.Sweep
		if sw.Points < 2 || sw.Stop <= sw.Start || sw.Start <= 0 {
			return cfgErrf("run.sweep", "need start < stop and at least 2 points")
		}
	}
	names := map[string]bool{"air": true}
	for i, m := range d.Materials {
		if m.Name == "" {
			return cfgErrf("materials", "entry %d has no name", i)
		}
		if names[m.Name] {
			return cfgErrf("materials", "duplicate name %q", m.Name)
		}
		names[m.Name] = true
	}
	for i, b := range d.Boxes {
		if !names[b.Material] {
			return cfgErrf("boxes", "entry %d references unknown material %q", i, b.Material)
		}
	}
	return nil
}

// Frequencies expands the explicit list or the linear sweep.
func (d *Deck) Frequencies() []float64 {
	if len(d.Run.Frequencies) > 0 {
		out := make([]float64, len(d.Run.Frequencies))
		for i, f := range d.Run.Frequencies {
			out[i] = float64(f)
		}
		return out
	}
	sw := d.Run.Sweep
	out := make([]float64, sw.Points)
	step := float64(sw.Stop-sw.Start) / float64(sw.Points-1)
	for i := range out {
		out[i] = float64(sw.Start) + float64(i)*step
	}
	return out
}

func (d *Deck) spacing() grid.Spacing {
	dims := grid.Dims{Nx: d.Grid.Cells[0], Ny: d.Grid.Cells[1], Nz: d.Grid.Cells[2]}
	if len(d.Grid.Dx) > 0 {
		return grid.Spacing{Dx: values(d.Grid.Dx), Dy: values(d.Grid.Dy), Dz: values(d.Grid.Dz)}
	}
	return grid.UniformSpacing(dims, float64(d.Grid.Spacing))
}

func values(v []Value) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = float64(v[i])
	}
	return out
}

// BuildGrid assembles the material table, paints the boxes onto the cell
// map, and constructs the grid.
func (d *Deck) BuildGrid() (*grid.Grid, error) {
	dims := grid.Dims{Nx: d.Grid.Cells[0], Ny: d.Grid.Cells[1], Nz: d.Grid.Cells[2]}

	materials := []grid.Material{grid.Air()}
	matIdx := map[string]int32{"air": 0}
	for _, ms := range d.Materials {
		m, err := ms.material()
		if err != nil {
			return nil, err
		}
		matIdx[ms.Name] = int32(len(materials))
		materials = append(materials, m)
	}

	cellMat := make([]int32, dims.Cells())
	for bi, b := range d.Boxes {
		for a := 0; a < 3; a++ {
			if b.From[a] < 0 || b.To[a] > d.Grid.Cells[a] || b.From[a] >= b.To[a] {
				return nil, cfgErrf("boxes", "entry %d outside the grid on axis %d", bi, a)
			}
		}
		id := matIdx[b.Material]
		for i := b.From[0]; i < b.To[0]; i++ {
			for j := b.From[1]; j < b.To[1]; j++ {
				for k := b.From[2]; k < b.To[2]; k++ {
					cellMat[(i*dims.Ny+j)*dims.Nz+k] = id
				}
			}
		}
	}

	return grid.New(dims, d.spacing(), materials, cellMat, float64(d.Grid.Dt))
}

func (ms MaterialSpec) material() (grid.Material, error) {
	m := grid.Material{Name: ms.Name, EpsR: float64(ms.EpsR), MuR: float64(ms.MuR),
		Sigma: float64(ms.Sigma), SigmaM: float64(ms.SigmaM)}
	if m.MuR == 0 {
		m.MuR = 1
	}
	if ms.Dispersion != nil {
		disp := &grid.Dispersion{
			DeltaEps: float64(ms.Dispersion.DeltaEps),
			Tau:      float64(ms.Dispersion.Tau),
			Omega0:   float64(ms.Dispersion.Omega0),
			Delta:    float64(ms.Dispersion.Delta),
			OmegaP:   float64(ms.Dispersion.OmegaP),
			Gamma:    float64(ms.Dispersion.Gamma),
		}
		switch strings.ToLower(ms.Dispersion.Type) {
		case "debye":
			disp.Type = grid.Debye
		case "lorentz":
			disp.Type = grid.Lorentz
		case "drude":
			disp.Type = grid.Drude
		default:
			return m, cfgErrf("materials", "%s: unknown dispersion type %q", ms.Name, ms.Dispersion.Type)
		}
		m.Dispersion = disp
	}
	if err := m.Validate(); err != nil {
		return m, cfgErrf("materials", "%s: %v", ms.Name, err)
	}
	return m, nil
}

// BuildBoundary constructs the CPML from the deck, falling back to the
// defaults for omitted entries.
func (d *Deck) BuildBoundary(g *grid.Grid) (*boundary.CPML, error) {
	cfg := boundary.DefaultConfig()
	if b := d.Boundary; b != nil {
		if b.Layers > 0 {
			cfg.Layers = b.Layers
		}
		if b.Grading > 0 {
			cfg.Grading = float64(b.Grading)
		}
		if b.KappaMax > 0 {
			cfg.KappaMax = float64(b.KappaMax)
		}
		if b.AlphaMax > 0 {
			cfg.AlphaMax = float64(b.AlphaMax)
		}
		if b.ReflectionDB != 0 {
			cfg.TargetReflectionDB = float64(b.ReflectionDB)
		}
	}
	return boundary.New(g, cfg)
}

func (w WaveSpec) waveform() (source.Waveform, error) {
	amp := float64(w.Amplitude)
	if amp == 0 {
		amp = 1
	}
	switch strings.ToLower(w.Shape) {
	case "", "gaussian":
		bw := float64(w.Bandwidth)
		if bw == 0 {
			bw = float64(w.Frequency) / 2
		}
		wave := source.NewGaussianPulse(float64(w.Frequency), bw, amp)
		return wave, wave.Validate()
	case "cw":
		wave := source.NewContinuousWave(float64(w.Frequency), amp)
		if w.RampCycles > 0 {
			wave.RampCycles = float64(w.RampCycles)
		}
		return wave, wave.Validate()
	}
	return source.Waveform{}, cfgErrf("sources", "unknown waveform shape %q", w.Shape)
}

func parseComponent(s string) (grid.Component, error) {
	switch strings.ToLower(s) {
	case "ex":
		return grid.CEx, nil
	case "ey":
		return grid.CEy, nil
	case "ez":
		return grid.CEz, nil
	case "hx":
		return grid.CHx, nil
	case "hy":
		return grid.CHy, nil
	case "hz":
		return grid.CHz, nil
	}
	return 0, cfgErrf("component", "unknown field component %q", s)
}

func parseAxis(s string) (grid.Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return grid.X, nil
	case "y":
		return grid.Y, nil
	case "z":
		return grid.Z, nil
	}
	return 0, cfgErrf("axis", "unknown axis %q", s)
}

// BuildSources constructs the non-port excitations.
func (d *Deck) BuildSources() ([]source.Source, error) {
	var out []source.Source
	for i, ss := range d.Sources {
		wave, err := ss.Waveform.waveform()
		if err != nil {
			return nil, err
		}
		comp, err := parseComponent(ss.Component)
		if err != nil {
			return nil, err
		}
		name := ss.Name
		if name == "" {
			name = fmt.Sprintf("source%d", i+1)
		}
		switch strings.ToLower(ss.Kind) {
		case "dipole", "":
			out = append(out, source.NewDipole(name, comp, ss.At[0], ss.At[1], ss.At[2], wave))
		case "plane":
			axis, err := parseAxis(ss.Axis)
			if err != nil {
				return nil, err
			}
			out = append(out, source.NewPlaneWave(name, comp, axis, ss.Position, wave))
		default:
			return nil, cfgErrf("sources", "entry %d: unknown kind %q", i, ss.Kind)
		}
	}
	return out, nil
}

// BuildPorts constructs the port excitations. Guided ports take the
// strip box as the conductor footprint in the port cross-section.
func (d *Deck) BuildPorts() ([]source.Port, error) {
	var out []source.Port
	for i, ps := range d.Ports {
		wave, err := ps.Waveform.waveform()
		if err != nil {
			return nil, err
		}
		name := ps.Name
		if name == "" {
			name = fmt.Sprintf("port%d", i+1)
		}
		z0 := float64(ps.Z0)
		if z0 == 0 {
			z0 = 50
		}
		switch strings.ToLower(ps.Kind) {
		case "lumped", "":
			p, err := source.NewLumpedPort(name, ps.At[0], ps.At[1], ps.Span[0], ps.Span[1], z0, wave, ps.Drive)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		case "guided":
			strip := ps.Strip
			conductor := func(u, v int) bool {
				return u >= strip[0] && u < strip[2] && v >= strip[1] && v < strip[3]
			}
			p, err := source.NewGuidedPort(name, ps.Plane, ps.From[0], ps.To[0], ps.From[1], ps.To[1],
				z0, wave, ps.Drive, conductor)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		default:
			return nil, cfgErrf("ports", "entry %d: unknown kind %q", i, ps.Kind)
		}
	}
	return out, nil
}

// BuildFieldMonitors constructs the field monitors against the target
// frequency list.
func (d *Deck) BuildFieldMonitors(g *grid.Grid) ([]*monitor.FieldMonitor, error) {
	freqs := d.Frequencies()
	var out []*monitor.FieldMonitor
	for i, ms := range d.Monitors {
		comp, err := parseComponent(ms.Component)
		if err != nil {
			return nil, err
		}
		name := ms.Name
		if name == "" {
			name = fmt.Sprintf("monitor%d", i+1)
		}
		var r monitor.Region
		if len(ms.At) == 3 {
			r = monitor.PointRegion(ms.At[0], ms.At[1], ms.At[2])
		} else {
			r = monitor.Region{I0: ms.From[0], I1: ms.To[0], J0: ms.From[1], J1: ms.To[1], K0: ms.From[2], K1: ms.To[2]}
		}
		m, err := monitor.NewFieldMonitor(name, comp, r, freqs, g.Dims)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// BuildSurfaceMonitor constructs the near-field recording box, or
// returns nil when the deck has none.
func (d *Deck) BuildSurfaceMonitor(g *grid.Grid) (*monitor.SurfaceMonitor, error) {
	if d.Surface == nil {
		return nil, nil
	}
	box := monitor.Region{
		I0: d.Surface.From[0], I1: d.Surface.To[0],
		J0: d.Surface.From[1], J1: d.Surface.To[1],
		K0: d.Surface.From[2], K1: d.Surface.To[2],
	}
	return monitor.NewSurfaceMonitor("surface", box, d.Frequencies(), g)
}
