package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsawler/fbnconform/artifacts"
	"github.com/tsawler/fbnconform/config"
	"github.com/tsawler/fbnconform/fixtures"
	"github.com/tsawler/fbnconform/notice"
	"github.com/tsawler/fbnconform/onnx"
	"github.com/tsawler/fbnconform/runner"
)

var errUnexpectedFailures = errors.New("some cases failed unexpectedly")

// cli holds state shared by the commands of one invocation.
type cli struct {
	verbose    bool
	configPath string
	workDir    string
	logger     *zap.Logger
}

// generateFlags mirror config.Config; only flags the user set override it.
type generateFlags struct {
	out            string
	seed           int64
	formats        []string
	devices        []string
	precisions     []string
	irVersion      int
	workers        int
	includeXFail   bool
	useNewFrontend bool
	useOldAPI      bool
	keepTemp       bool
}

func addGenerateFlags(fs *pflag.FlagSet, f *generateFlags) {
	fs.StringVarP(&f.out, "out", "o", "", "Output directory for fixtures (default: fixtures)")
	fs.Int64Var(&f.seed, "seed", 0, "Base random seed (default: drawn from the clock)")
	fs.StringSliceVar(&f.formats, "format", nil, "Fixture formats: json, onnx (default: json)")
	fs.StringSliceVar(&f.devices, "device", nil, "Target devices (default: CPU)")
	fs.StringSliceVar(&f.precisions, "precision", nil, "Target precisions: FP32, FP16 (default: FP32)")
	fs.IntVar(&f.irVersion, "ir-version", 0, "IR version recorded with each fixture (default: 11)")
	fs.IntVarP(&f.workers, "workers", "j", 0, "Concurrent cases (default: number of CPUs)")
	fs.BoolVar(&f.includeXFail, "include-xfail", false, "Also generate cases expected to fail")
	fs.BoolVar(&f.useNewFrontend, "use-new-frontend", false, "Record that the new frontend should be used")
	fs.BoolVar(&f.useOldAPI, "use-old-api", false, "Record that the legacy inference API should be used")
	fs.BoolVar(&f.keepTemp, "keep-temp", false, "Keep the per-run scratch directory")
}

// overrides converts the flags the user actually set.
func (f *generateFlags) overrides(fs *pflag.FlagSet) config.Overrides {
	var o config.Overrides
	if fs.Changed("out") {
		o.OutputDir = &f.out
	}
	if fs.Changed("seed") {
		o.Seed = &f.seed
	}
	if fs.Changed("format") {
		o.Formats = f.formats
	}
	if fs.Changed("device") {
		o.Devices = f.devices
	}
	if fs.Changed("precision") {
		o.Precisions = f.precisions
	}
	if fs.Changed("ir-version") {
		o.IRVersion = &f.irVersion
	}
	if fs.Changed("workers") {
		o.Workers = &f.workers
	}
	if fs.Changed("include-xfail") {
		o.IncludeXFail = &f.includeXFail
	}
	if fs.Changed("use-new-frontend") {
		o.UseNewFrontend = &f.useNewFrontend
	}
	if fs.Changed("use-old-api") {
		o.UseOldAPI = &f.useOldAPI
	}
	return o
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "fbnfixtures",
		Short: "FusedBatchNorm conformance fixture generator",
		Long: `fbnfixtures builds the FusedBatchNorm conversion test matrix, synthesizes
inputs for every case, computes reference outputs and writes them as JSON
and ONNX fixtures for a converter under test.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := zap.NewProductionConfig()
			if c.verbose {
				logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			c.logger, err = logCfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .jsonc)")
	rootCmd.PersistentFlags().StringVarP(&c.workDir, "workdir", "C", "", "Working directory (default: current)")

	rootCmd.AddCommand(newListCmd(c))
	rootCmd.AddCommand(newGenerateCmd(c))
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newListCmd(c *cli) *cobra.Command {
	var includeXFail bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the FusedBatchNorm case matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCases(cmd.OutOrStdout(), fixtures.Filter(fixtures.BasicCases(), includeXFail))
		},
	}
	cmd.Flags().BoolVar(&includeXFail, "include-xfail", true, "Include cases expected to fail")
	return cmd
}

func printCases(w io.Writer, cases []fixtures.TestCase) error {
	for i, tc := range cases {
		xfail := "-"
		if tc.ExpectedToFail() {
			xfail = tc.XFail
		}
		if _, err := fmt.Fprintf(w, "%2d  %-45s  channels=%-3d  xfail=%s\n", i+1, tc.ID(), tc.ChannelDim(), xfail); err != nil {
			return err
		}
	}
	return nil
}

func newGenerateCmd(c *cli) *cobra.Command {
	flags := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate fixtures for every case, device and precision",
		Long: `Synthesizes inputs for each case of the matrix, evaluates the reference
FusedBatchNorm and writes one fixture per case, device and precision.

Settings are resolved as defaults < config file < flags. Without --config the
file fbnfixtures.yaml in the working directory is used when it exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadInput{
				WorkDir:    c.workDir,
				ConfigPath: c.configPath,
				Overrides:  flags.overrides(cmd.Flags()),
			})
			if err != nil {
				return err
			}
			return runGenerate(cmd, c.logger, cfg, flags.keepTemp)
		},
	}
	addGenerateFlags(cmd.Flags(), flags)
	return cmd
}

func runGenerate(cmd *cobra.Command, logger *zap.Logger, cfg config.Config, keepTemp bool) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	formats, err := cfg.ArtifactFormats()
	if err != nil {
		return err
	}

	if cfg.Source != "" {
		logger.Info("loaded config", zap.String("path", cfg.Source))
	}

	tester := runner.NewArtifactTester(cfg.OutputDir, artifacts.NewSaver(logger, formats...), logger)
	r := runner.New(tester, runner.Options{
		Devices:        cfg.Devices,
		Precisions:     cfg.Precisions,
		IRVersion:      cfg.IRVersion,
		Workers:        cfg.Workers,
		Seed:           cfg.Seed,
		KeepTemp:       keepTemp,
		UseNewFrontend: cfg.UseNewFrontend,
		UseOldAPI:      cfg.UseOldAPI,
		Logger:         logger,
	})

	report, err := r.Run(ctx, fixtures.Filter(fixtures.BasicCases(), cfg.IncludeXFail))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", report.Summary())
	fmt.Fprintf(out, "fixtures written to %s (seed %d)\n", cfg.OutputDir, report.BaseSeed)
	for _, res := range report.Results {
		if res.Outcome == runner.Failed {
			fmt.Fprintf(out, "FAILED %s %s %s: %v\n", res.Case.ID(), res.Device, res.Precision, res.Err)
		}
	}

	if !report.OK() {
		return errUnexpectedFailures
	}

	printNotices(out, cfg.IRVersion, cfg.UseOldAPI)
	return nil
}

// printNotices prints the IR v11 migration notice and, once due, the update
// notice.
func printNotices(w io.Writer, irVersion int, useOldAPI bool) {
	if irVersion == 11 && !useOldAPI {
		fmt.Fprintln(w, notice.API20Message())
	}
	if msg, ok := notice.GetUpdateMessage(); ok {
		fmt.Fprintln(w, msg)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fbnfixtures %s\n", onnx.ProducerVersion)
			printNotices(out, 11, false)
		},
	}
}
