// Package runner drives FusedBatchNorm cases through a Tester with bounded
// concurrency and records xfail-aware outcomes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/tsawler/fbnconform/fixtures"
	"github.com/tsawler/fbnconform/graph"
	"github.com/tsawler/fbnconform/synth"
)

var (
	ErrNoTasks       = errors.New("no tasks to run")
	ErrInputMismatch = errors.New("network inputs do not match the case")
)

// Request is everything a Tester receives for one case on one device and
// precision.
type Request struct {
	Case           fixtures.TestCase
	Net            *graph.GraphSpec
	Inputs         synth.Bundle
	Device         string
	Precision      string
	IRVersion      int
	TempDir        string
	UseNewFrontend bool
	UseOldAPI      bool

	RunID string
	Seed  int64
}

// Name identifies the request in logs and file names.
func (r *Request) Name() string {
	return fmt.Sprintf("%s_%s_%s", r.Case.ID(), r.Device, r.Precision)
}

// Tester converts, runs and compares one request. A nil error is a pass.
type Tester interface {
	Test(ctx context.Context, req *Request) error
}

// TesterFunc adapts a function to Tester.
type TesterFunc func(ctx context.Context, req *Request) error

func (f TesterFunc) Test(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Outcome is the xfail-aware result of one task.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	XFailed
	XPassed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case XFailed:
		return "xfailed"
	case XPassed:
		return "xpassed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Classify maps a test error and the case's xfail marker to an outcome.
func Classify(tc fixtures.TestCase, err error) Outcome {
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Skipped
	case err == nil && tc.ExpectedToFail():
		return XPassed
	case err == nil:
		return Passed
	case tc.ExpectedToFail():
		return XFailed
	default:
		return Failed
	}
}

// Result records one finished task.
type Result struct {
	Case      fixtures.TestCase
	Device    string
	Precision string
	Seed      int64
	Outcome   Outcome
	Err       error
	Duration  time.Duration
}

// Report collects the results of a run in task order.
type Report struct {
	RunID    string
	BaseSeed int64
	Results  []Result
}

// Counts tallies results by outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// OK reports whether no task failed unexpectedly.
func (r *Report) OK() bool {
	return r.Counts()[Failed] == 0
}

func (r *Report) Summary() string {
	c := r.Counts()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d tasks: %d passed, %d failed, %d xfailed, %d xpassed",
		len(r.Results), c[Passed], c[Failed], c[XFailed], c[XPassed]))
	if c[Skipped] > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", c[Skipped]))
	}
	return sb.String()
}

// Options configures a Runner.
type Options struct {
	Devices        []string
	Precisions     []string
	IRVersion      int
	Workers        int
	Seed           *int64 // nil draws a base seed from the clock
	TempDir        string // parent of the per-run scratch directory; "" uses os.TempDir
	KeepTemp       bool
	UseNewFrontend bool
	UseOldAPI      bool
	Logger         *zap.Logger
}

// Runner executes cases against a Tester.
type Runner struct {
	tester Tester
	opts   Options
	logger *zap.Logger
}

// New creates a runner. Missing devices, precisions and workers fall back to
// CPU, FP32 and 1.
func New(tester Tester, opts Options) *Runner {
	if len(opts.Devices) == 0 {
		opts.Devices = []string{"CPU"}
	}
	if len(opts.Precisions) == 0 {
		opts.Precisions = []string{"FP32"}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{tester: tester, opts: opts, logger: logger}
}

type task struct {
	tc        fixtures.TestCase
	device    string
	precision string
}

func (r *Runner) expand(cases []fixtures.TestCase) []task {
	tasks := make([]task, 0, len(cases)*len(r.opts.Devices)*len(r.opts.Precisions))
	for _, tc := range cases {
		for _, device := range r.opts.Devices {
			for _, precision := range r.opts.Precisions {
				tasks = append(tasks, task{tc: tc, device: device, precision: precision})
			}
		}
	}
	return tasks
}

// Run expands cases across devices and precisions and tests each. Tester
// errors are recorded in the report; the returned error is non-nil only for
// setup failures or cancellation, in which case the partial report is still
// returned.
func (r *Runner) Run(ctx context.Context, cases []fixtures.TestCase) (*Report, error) {
	tasks := r.expand(cases)
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	baseSeed := time.Now().UnixNano()
	if r.opts.Seed != nil {
		baseSeed = *r.opts.Seed
	}

	report := &Report{
		RunID:    uuid.NewString(),
		BaseSeed: baseSeed,
		Results:  make([]Result, len(tasks)),
	}

	runDir, err := os.MkdirTemp(r.opts.TempDir, "fbnconform-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if !r.opts.KeepTemp {
		defer os.RemoveAll(runDir)
	}

	r.logger.Info("run started",
		zap.String("run_id", report.RunID),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", r.opts.Workers),
		zap.Int64("seed", baseSeed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i := range tasks {
		i := i
		seed := baseSeed + int64(i)
		report.Results[i] = Result{
			Case:      tasks[i].tc,
			Device:    tasks[i].device,
			Precision: tasks[i].precision,
			Seed:      seed,
			Outcome:   Skipped,
		}
		if gctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Results[i].Err = err
				return err
			}
			report.Results[i] = r.runTask(gctx, report.RunID, runDir, i, seed, tasks[i])
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	r.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("summary", report.Summary()))

	if err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}
	return report, nil
}

func (r *Runner) runTask(ctx context.Context, runID, runDir string, index int, seed int64, t task) Result {
	res := Result{
		Case:      t.tc,
		Device:    t.device,
		Precision: t.precision,
		Seed:      seed,
	}
	start := time.Now()

	err := r.execute(ctx, runID, runDir, index, seed, t)

	res.Duration = time.Since(start)
	res.Err = err
	res.Outcome = Classify(t.tc, err)

	fields := []zap.Field{
		zap.String("case", t.tc.ID()),
		zap.String("device", t.device),
		zap.String("precision", t.precision),
		zap.Stringer("outcome", res.Outcome),
		zap.Duration("duration", res.Duration),
	}
	if res.Outcome == Failed {
		r.logger.Warn("task failed", append(fields, zap.Error(err))...)
	} else {
		if t.tc.ExpectedToFail() {
			fields = append(fields, zap.String("xfail", t.tc.XFail))
		}
		r.logger.Debug("task finished", fields...)
	}
	return res
}

func (r *Runner) execute(ctx context.Context, runID, runDir string, index int, seed int64, t task) error {
	net, err := fixtures.BuildNet(t.tc)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}

	if ce := r.logger.Check(zap.DebugLevel, "network built"); ce != nil {
		ce.Write(zap.String("case", t.tc.ID()), zap.String("graph", net.Summary()))
	}

	info := net.InputShapes()
	if want := t.tc.InputsInfo(); !sameShapes(info, want) {
		return fmt.Errorf("%w: placeholders %v, case %v", ErrInputMismatch, info, want)
	}

	inputs, err := synth.NewSeeded(seed).Prepare(info)
	if err != nil {
		return fmt.Errorf("failed to synthesize inputs: %w", err)
	}
	if got := inputs.Shapes(); !sameShapes(got, info) {
		return fmt.Errorf("%w: synthesized %v, placeholders %v", ErrInputMismatch, got, info)
	}

	req := &Request{
		Case:           t.tc,
		Net:            net,
		Inputs:         inputs,
		Device:         t.device,
		Precision:      t.precision,
		IRVersion:      r.opts.IRVersion,
		UseNewFrontend: r.opts.UseNewFrontend,
		UseOldAPI:      r.opts.UseOldAPI,
		RunID:          runID,
		Seed:           seed,
	}
	req.TempDir = filepath.Join(runDir, fmt.Sprintf("%03d_%s", index, req.Name()))

	return r.tester.Test(ctx, req)
}

func sameShapes(a, b map[string][]int) bool {
	return maps.EqualFunc(a, b, slices.Equal[[]int])
}
