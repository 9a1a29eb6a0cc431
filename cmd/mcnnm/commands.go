package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"mcnnm"
)

const version = "0.3.0"

// --- Global Command Variables ---
var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string

	// inputs
	yPath     string
	wPath     string
	xPath     string
	zPath     string
	vPaths    []string
	omegaPath string
	header    bool
	outDir    string

	// overrides of the config file
	lambdaL   float64
	lambdaH   float64
	method    string
	folds     int
	maxIter   int
	tol       float64
	workers   int
	noUnitFE  bool
	noTimeFE  bool
	returnAll bool

	rootCmd = &cobra.Command{
		Use:   "mcnnm",
		Short: "Matrix completion with nuclear norm minimization for panel data",
		Long: `mcnnm estimates counterfactual outcomes and average treatment effects
on N x T panels by completing the untreated outcome matrix.`,
		SilenceUsage: true,
	}

	estimateCmd = &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the average treatment effect on the treated entries",
		RunE:  runEstimate,
	}

	completeCmd = &cobra.Command{
		Use:   "complete",
		Short: "Fill in the treated entries of Y with their counterfactual values",
		RunE:  runComplete,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mcnnm", version)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (defaults are used when empty)")
	pf.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "text", "text or json")
	pf.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")

	for _, cmd := range []*cobra.Command{estimateCmd, completeCmd} {
		f := cmd.Flags()
		f.StringVar(&yPath, "y", "", "CSV of outcomes, N x T")
		f.StringVar(&wPath, "w", "", "CSV of treatment indicators, N x T")
		f.StringVar(&xPath, "x", "", "CSV of unit covariates, N x P")
		f.StringVar(&zPath, "z", "", "CSV of time covariates, T x Q")
		f.StringSliceVar(&vPaths, "v", nil, "CSV of one unit-time covariate, N x T (repeatable)")
		f.StringVar(&omegaPath, "omega", "", "CSV of the T x T autocorrelation matrix")
		f.BoolVar(&header, "header", false, "input CSVs start with a header row")
		f.StringVar(&outDir, "out", "", "directory for CSV outputs")

		f.Float64Var(&lambdaL, "lambda-l", 0, "fixed nuclear norm penalty (skips validation together with --lambda-h)")
		f.Float64Var(&lambdaH, "lambda-h", 0, "fixed covariate penalty")
		f.StringVar(&method, "method", "", "penalty selection: cv or holdout")
		f.IntVar(&folds, "k", 0, "number of validation folds")
		f.IntVar(&maxIter, "max-iter", 0, "maximum sweeps of the final fit")
		f.Float64Var(&tol, "tol", 0, "convergence tolerance on the change of L")
		f.IntVar(&workers, "workers", 0, "goroutines scoring the penalty grid")
		f.BoolVar(&noUnitFE, "no-unit-fe", false, "drop unit fixed effects")
		f.BoolVar(&noTimeFE, "no-time-fe", false, "drop time fixed effects")

		_ = cmd.MarkFlagRequired("y")
		_ = cmd.MarkFlagRequired("w")
	}
	estimateCmd.Flags().BoolVar(&returnAll, "all", false, "also report fixed effects and covariate coefficients")

	rootCmd.AddCommand(estimateCmd, completeCmd, versionCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	return run(cmd, func(ctx context.Context, p *mcnnm.Panel, opts mcnnm.Options) (*mcnnm.Result, error) {
		if returnAll {
			opts.ReturnFixedEffects = true
			opts.ReturnCovariateCoefficients = true
		}
		return mcnnm.Estimate(ctx, p, opts)
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	return run(cmd, mcnnm.CompleteMatrix)
}

type estimator func(context.Context, *mcnnm.Panel, mcnnm.Options) (*mcnnm.Result, error)

func run(cmd *cobra.Command, estimate estimator) error {
	logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return err
	}

	// 1. Config file, environment, then flags
	cfg, err := mcnnm.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	opts := cfg.Options()
	opts.Logger = logger

	var reg *prometheus.Registry
	if metricsFile != "" {
		reg = prometheus.NewRegistry()
		opts.Metrics = mcnnm.NewMetrics(reg)
	}

	// 2. Load the panel
	p, err := loadPanel()
	if err != nil {
		return err
	}
	N, T := p.Dims()
	logger.Info("loaded panel", slog.String("y", yPath), slog.Int("N", N), slog.Int("T", T))

	// 3. Estimate
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := estimate(ctx, p, opts)
	if err != nil {
		return err
	}
	mcnnm.PrintResult(cmd.OutOrStdout(), res)

	// 4. Outputs
	if outDir != "" {
		if err := writeOutputs(outDir, res); err != nil {
			return err
		}
		logger.Info("outputs written", slog.String("dir", outDir))
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// applyFlags copies explicitly set flags over cfg and revalidates it.
func applyFlags(cmd *cobra.Command, cfg *mcnnm.Config) error {
	f := cmd.Flags()
	if f.Changed("lambda-l") {
		cfg.Penalty.LambdaL = &lambdaL
	}
	if f.Changed("lambda-h") {
		cfg.Penalty.LambdaH = &lambdaH
	}
	if f.Changed("method") {
		cfg.Validation.Method = method
	}
	if f.Changed("k") {
		cfg.Validation.K = folds
	}
	if f.Changed("max-iter") {
		cfg.Solver.MaxIter = maxIter
	}
	if f.Changed("tol") {
		cfg.Solver.Tol = tol
	}
	if f.Changed("workers") {
		cfg.Workers = workers
	}
	if noUnitFE {
		cfg.Model.UnitFixedEffects = false
	}
	if noTimeFE {
		cfg.Model.TimeFixedEffects = false
	}
	return cfg.Validate()
}

func loadPanel() (*mcnnm.Panel, error) {
	load := func(path string) (*mat.Dense, error) {
		if path == "" {
			return nil, nil
		}
		m, err := mcnnm.LoadMatrixCSV(path, header)
		if err != nil {
			return nil, err
		}
		return m.M, nil
	}

	p := &mcnnm.Panel{}
	var err error
	if p.Y, err = load(yPath); err != nil {
		return nil, err
	}
	if p.W, err = load(wPath); err != nil {
		return nil, err
	}
	if p.X, err = load(xPath); err != nil {
		return nil, err
	}
	if p.Z, err = load(zPath); err != nil {
		return nil, err
	}
	if p.Omega, err = load(omegaPath); err != nil {
		return nil, err
	}
	for _, path := range vPaths {
		v, err := load(path)
		if err != nil {
			return nil, err
		}
		p.V = append(p.V, v)
	}
	if err := mcnnm.CheckPanel(p); err != nil {
		return nil, err
	}
	return p, nil
}

func writeOutputs(dir string, res *mcnnm.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	matrices := map[string]*mat.Dense{
		"L.csv":           res.L,
		"Y_completed.csv": res.YCompleted,
		"H.csv":           res.H,
	}
	for name, m := range matrices {
		if m == nil {
			continue
		}
		if err := mcnnm.SaveMatrixCSV(filepath.Join(dir, name), m, nil); err != nil {
			return err
		}
	}
	vectors := []struct {
		name, column string
		v            []float64
	}{
		{"gamma.csv", "gamma", res.Gamma},
		{"delta.csv", "delta", res.Delta},
		{"beta.csv", "beta", res.Beta},
	}
	for _, vec := range vectors {
		if err := mcnnm.SaveVectorCSV(filepath.Join(dir, vec.name), vec.column, vec.v); err != nil {
			return err
		}
	}

	summary := []float64{}
	columns := []string{}
	if res.Tau != nil {
		summary, columns = append(summary, *res.Tau), append(columns, "tau")
	}
	if res.LambdaL != nil && res.LambdaH != nil {
		summary = append(summary, *res.LambdaL, *res.LambdaH)
		columns = append(columns, "lambda_L", "lambda_H")
	}
	summary = append(summary, float64(res.Iterations), res.Change)
	columns = append(columns, "iterations", "change")
	return mcnnm.SaveMatrixCSV(filepath.Join(dir, "summary.csv"), mat.NewDense(1, len(summary), summary), columns)
}
