package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/config"
	"github.com/JonPisek/PyBEP/internal/dataset"
	"github.com/JonPisek/PyBEP/internal/decomposition"
	"github.com/JonPisek/PyBEP/internal/logging"
)

type runFlags struct {
	cathodeDir  string
	anodeDir    string
	batteryFile string
	output      string

	iterations     int
	workers        int
	seed           int64
	stretch        bool
	polish         bool
	population     int
	generations    int
	tolerance      float64
	weightBattery  float64
	weightDerivInv float64
	weightAnode    float64
	weightCathode  float64
}

func NewRunCommand() *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search all candidate pairs and write the best decomposition",
		Long: `Search all candidate pairs and write the best decomposition.

Candidate curves are the *.txt files of the cathode and anode directories,
two whitespace-separated columns each (SOC, potential). The result is written
as JSON; without --output it goes to DATA_RESULTS_DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)

			lc := cfg.LoggingConfig()
			if logLevel != "" {
				lc.Level = logLevel
			}
			logger, err := logging.NewLogger(lc)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDecomposition(ctx, cmd, cfg, f.output, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.cathodeDir, "cathodes", "", "directory of cathode candidate curves (DATA_CATHODE_DIR)")
	flags.StringVar(&f.anodeDir, "anodes", "", "directory of anode candidate curves (DATA_ANODE_DIR)")
	flags.StringVar(&f.batteryFile, "battery", "", "measured full-cell curve (DATA_BATTERY_FILE)")
	flags.StringVarP(&f.output, "output", "o", "", "result file (default DATA_RESULTS_DIR/decomposition_<cathode>_<anode>.json)")
	flags.IntVarP(&f.iterations, "iterations", "n", 1, "independent sweeps over all pairs (OPT_ITERATIONS)")
	flags.IntVarP(&f.workers, "workers", "w", 0, "concurrent pair optimizations, 0 = all CPUs (OPT_WORKER_COUNT)")
	flags.Int64Var(&f.seed, "seed", 0, "random seed, 0 = time seeded (OPT_SEED)")
	flags.BoolVar(&f.stretch, "stretch", false, "also fit anode and cathode stretch factors (OPT_STRETCH)")
	flags.BoolVar(&f.polish, "polish", true, "refine each pair's winner with Nelder-Mead (OPT_POLISH)")
	flags.IntVar(&f.population, "population", 15, "population size per dimension (OPT_POPULATION)")
	flags.IntVar(&f.generations, "generations", 1000, "maximum generations per pair (OPT_MAX_GENERATIONS)")
	flags.Float64Var(&f.tolerance, "tolerance", 0.01, "relative convergence tolerance (OPT_TOLERANCE)")
	flags.Float64Var(&f.weightBattery, "weight-battery", 1, "weight of the full-cell OCV term (WEIGHT_BATTERY)")
	flags.Float64Var(&f.weightDerivInv, "weight-derivative-inverse", 0, "weight of the dSOC/dOCV term (WEIGHT_DERIVATIVE_INVERSE)")
	flags.Float64Var(&f.weightAnode, "weight-anode", 0, "weight of the anode self-consistency term (WEIGHT_ANODE)")
	flags.Float64Var(&f.weightCathode, "weight-cathode", 0, "weight of the cathode self-consistency term (WEIGHT_CATHODE)")

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("cathodes") {
		cfg.Data.CathodeDir = f.cathodeDir
	}
	if set("anodes") {
		cfg.Data.AnodeDir = f.anodeDir
	}
	if set("battery") {
		cfg.Data.BatteryFile = f.batteryFile
	}
	if set("iterations") {
		cfg.Optimization.Iterations = f.iterations
	}
	if set("workers") {
		cfg.Optimization.WorkerCount = f.workers
	}
	if set("seed") {
		cfg.Optimization.Seed = f.seed
	}
	if set("stretch") {
		cfg.Optimization.Stretch = f.stretch
	}
	if set("polish") {
		cfg.Optimization.Polish = f.polish
	}
	if set("population") {
		cfg.Optimization.PopulationSize = f.population
	}
	if set("generations") {
		cfg.Optimization.MaxGenerations = f.generations
	}
	if set("tolerance") {
		cfg.Optimization.Tolerance = f.tolerance
	}
	if set("weight-battery") {
		cfg.Weights.Battery = f.weightBattery
	}
	if set("weight-derivative-inverse") {
		cfg.Weights.DerivativeInverse = f.weightDerivInv
	}
	if set("weight-anode") {
		cfg.Weights.Anode = f.weightAnode
	}
	if set("weight-cathode") {
		cfg.Weights.Cathode = f.weightCathode
	}
}

func runDecomposition(ctx context.Context, cmd *cobra.Command, cfg *config.Config, output string, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	zl := logging.NewZapLogger(logger)
	defer zl.Sync()

	cathodes, err := dataset.LoadCandidateDir(cfg.Data.CathodeDir, zl.Named("cathodes"))
	if err != nil {
		return err
	}
	anodes, err := dataset.LoadCandidateDir(cfg.Data.AnodeDir, zl.Named("anodes"))
	if err != nil {
		return err
	}
	measured, err := dataset.LoadMeasured(cfg.Data.BatteryFile)
	if err != nil {
		return err
	}

	opts := cfg.SearchOptions()
	opts.Logger = zl
	opts.Progress = func(done, total int) {
		zl.Debug("progress", zap.Int("done", done), zap.Int("total", total))
	}

	res, err := decomposition.Run(ctx, cathodes, anodes, measured, opts)
	if err != nil {
		return err
	}
	if res.Best == nil {
		return res.Diagnostic
	}

	rec, err := decomposition.NewRecord(res)
	if err != nil {
		return err
	}
	if output == "" {
		output = filepath.Join(cfg.Data.ResultsDir, dataset.ResultFileName(rec.CathodeID, rec.AnodeID))
	}
	if err := dataset.WriteResult(output, rec); err != nil {
		return err
	}

	cmd.Printf("Best cathode:    %s\n", rec.CathodeID)
	cmd.Printf("Best anode:      %s\n", rec.AnodeID)
	cmd.Printf("Best parameters: %v\n", rec.Parameters)
	if rec.StretchFactors != nil {
		cmd.Printf("Stretch factors: %v\n", rec.StretchFactors)
	}
	cmd.Printf("Lowest RMSD:     %g\n", float64(rec.LowestRMSD))
	if res.Diagnostic != nil {
		cmd.Printf("Warning:         %v\n", res.Diagnostic)
	}
	cmd.Printf("Result written:  %s\n", output)
	return nil
}
