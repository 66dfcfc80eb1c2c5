package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/toy-fdtd/pkg/deck"
	"github.com/edp1096/toy-fdtd/pkg/farfield"
	"github.com/edp1096/toy-fdtd/pkg/grid"
	"github.com/edp1096/toy-fdtd/pkg/monitor"
	"github.com/edp1096/toy-fdtd/pkg/solver"
	"github.com/edp1096/toy-fdtd/pkg/util"
)

func main() {
	deckPath := flag.String("deck", "", "simulation deck file (YAML)")
	workers := flag.Int("workers", 0, "update workers (0 = all CPUs)")
	resumePath := flag.String("resume", "", "resume from checkpoint file")
	savePath := flag.String("save", "", "write checkpoint file on interrupt or completion")
	plotPath := flag.String("plot", "", "write return-loss plot (PNG) for the first driven port")
	farField := flag.Bool("farfield", false, "compute the radiation pattern from the surface monitor")
	quiet := flag.Bool("quiet", false, "suppress progress output")
	flag.Parse()

	if *deckPath == "" {
		fmt.Println("Usage: fdtd -deck <file.yaml> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(*deckPath, *workers, *resumePath, *savePath, *plotPath, *farField, *quiet); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(deckPath string, workers int, resumePath, savePath, plotPath string, farField, quiet bool) error {
	d, err := deck.Load(deckPath)
	if err != nil {
		return err
	}
	if d.Title != "" && !quiet {
		fmt.Printf("Deck: %s\n", d.Title)
	}

	sim, err := buildSimulation(d, workers, quiet)
	if err != nil {
		return err
	}

	if resumePath != "" {
		if err := sim.ResumeCheckpointFile(resumePath); err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Resumed at step %d\n", sim.Step())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := sim.Run(ctx)
	if runErr != nil && savePath != "" && sim.State() == solver.StateCancelled {
		if err := sim.SaveCheckpointFile(savePath); err != nil {
			return err
		}
		fmt.Printf("Interrupted at step %d, checkpoint written to %s\n", sim.Step(), savePath)
		return nil
	}
	if runErr != nil {
		return runErr
	}
	if savePath != "" {
		if err := sim.SaveCheckpointFile(savePath); err != nil {
			return err
		}
	}

	res, err := sim.Result()
	if err != nil {
		return err
	}
	printResults(res)

	if diag, ok := sim.BoundaryDiagnostic(); ok {
		status := "within target"
		if !diag.WithinSpec {
			status = "above target"
		}
		fmt.Printf("\nBoundary reflection: %s measured, %s target (%s)\n",
			util.FormatDB(diag.MeasuredDB), util.FormatDB(diag.TargetDB), status)
	}

	if plotPath != "" && res.S != nil {
		if err := plotReturnLoss(res, plotPath); err != nil {
			return err
		}
		fmt.Printf("Return-loss plot written to %s\n", plotPath)
	}

	if farField {
		if sim.Surface == nil {
			return fmt.Errorf("deck has no surface monitor, cannot compute the far field")
		}
		printFarField(sim.Surface.Finalize())
	}
	return nil
}

func buildSimulation(d *deck.Deck, workers int, quiet bool) (*solver.Simulation, error) {
	g, err := d.BuildGrid()
	if err != nil {
		return nil, err
	}
	cpml, err := d.BuildBoundary(g)
	if err != nil {
		return nil, err
	}

	cfg := solver.DefaultConfig(d.Run.Steps)
	cfg.Workers = workers
	if d.Run.SnapshotEvery > 0 {
		cfg.SnapshotEvery = d.Run.SnapshotEvery
		cfg.SnapshotComponent = grid.CEz
	}
	if !quiet {
		cfg.OnProgress = func(p solver.Progress) {
			if p.State == solver.StateRunning && p.Step%100 == 99 {
				fmt.Printf("\rstep %d/%d  max|E| %s", p.Step+1, p.Steps, util.FormatMagnitude(p.MaxField))
			}
		}
	}
	sim, err := solver.New(g, cpml, cfg)
	if err != nil {
		return nil, err
	}

	sources, err := d.BuildSources()
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		if err := sim.AddSource(s); err != nil {
			return nil, err
		}
	}

	ports, err := d.BuildPorts()
	if err != nil {
		return nil, err
	}
	freqs := d.Frequencies()
	for _, p := range ports {
		if err := sim.AddPort(p, freqs); err != nil {
			return nil, err
		}
	}

	fieldMons, err := d.BuildFieldMonitors(g)
	if err != nil {
		return nil, err
	}
	for _, m := range fieldMons {
		sim.AddFieldMonitor(m)
	}

	surf, err := d.BuildSurfaceMonitor(g)
	if err != nil {
		return nil, err
	}
	if surf != nil {
		sim.SetSurfaceMonitor(surf)
	}
	return sim, nil
}

func printResults(res *monitor.FrequencyResult) {
	fmt.Println("\nSimulation Results:")
	fmt.Println("===================")

	for _, p := range res.Ports {
		role := "passive"
		if p.Excited {
			role = "driven"
		}
		fmt.Printf("\nPort %s (%s, Z0 = %s):\n", p.Name, role, util.FormatValueFactor(p.Z0, "Ohm"))
		fmt.Println("Frequency      Zin                      |V|       ang(V)    |I|")
		fmt.Println("--------------------------------------------------------------")
		for fi, f := range p.Freqs {
			fmt.Printf("%-13s  %s  %s  %s  %s\n",
				util.FormatFrequency(f),
				util.FormatMagnitudePhase("Zin", cmplx.Abs(p.Zin[fi]), phaseDeg(p.Zin[fi])),
				util.FormatMagnitude(cmplx.Abs(p.V[fi])),
				util.FormatPhase(phaseDeg(p.V[fi])),
				util.FormatMagnitude(cmplx.Abs(p.I[fi])))
		}
	}

	if res.S != nil {
		fmt.Println("\nS-Parameters:")
		fmt.Println("Frequency    ", sParamHeader(res.S))
		fmt.Println("--------------------------------------------------------")
		for fi, f := range res.S.Freqs {
			fmt.Printf("%-13s", util.FormatFrequency(f))
			for j := range res.S.PortNames {
				if !res.S.Valid[j] {
					continue
				}
				for i := range res.S.PortNames {
					db := 20 * math.Log10(cmplx.Abs(res.S.At(fi, i, j)))
					fmt.Printf(" %s", util.FormatDB(db))
				}
			}
			fmt.Println()
		}
		if defect := res.S.PassivityDefect(); defect > 0.05 {
			fmt.Printf("Warning: passivity defect %.3f, results are suspect\n", defect)
		}
	}
}

func sParamHeader(s *monitor.SMatrix) string {
	out := ""
	for j := range s.PortNames {
		if !s.Valid[j] {
			continue
		}
		for i := range s.PortNames {
			out += fmt.Sprintf("  |S(%d,%d)|  ", i+1, j+1)
		}
	}
	return out
}

func phaseDeg(c complex128) float64 {
	return cmplx.Phase(c) * 180 / math.Pi
}

func plotReturnLoss(res *monitor.FrequencyResult, path string) error {
	driven := -1
	for j := range res.S.PortNames {
		if res.S.Valid[j] {
			driven = j
			break
		}
	}
	if driven < 0 {
		return fmt.Errorf("no driven port, nothing to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Return loss, port %s", res.S.PortNames[driven])
	p.X.Label.Text = "Frequency (GHz)"
	p.Y.Label.Text = "|S11| (dB)"

	mags := res.S.MagnitudeDB(driven, driven)
	pts := make(plotter.XYs, len(res.S.Freqs))
	for fi, f := range res.S.Freqs {
		pts[fi].X = f / 1e9
		pts[fi].Y = mags[fi]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line, plotter.NewGrid())
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func printFarField(sd *monitor.SurfaceData) {
	theta, phi := farfield.UniformAngles(37, 72)
	for fi, f := range sd.Freqs {
		res, err := farfield.Compute(sd, fi, theta, phi)
		if err != nil {
			log.Printf("far field at %s: %v", util.FormatFrequency(f), err)
			continue
		}
		gain, th, ph := res.PeakGain()
		fmt.Printf("\nFar field at %s: peak gain %.2f dBi at theta=%.0f phi=%.0f, radiated %.3e W\n",
			util.FormatFrequency(f), gain, th, ph, res.RadiatedPower)
	}
}
