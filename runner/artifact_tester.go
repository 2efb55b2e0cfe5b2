package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsawler/fbnconform/artifacts"
	"github.com/tsawler/fbnconform/fixtures"
	"github.com/tsawler/fbnconform/onnx"
	"github.com/tsawler/fbnconform/reference"
)

// Framework is recorded as the source framework of every fixture.
const Framework = "tf"

// ArtifactTester writes each request as a fixture: synthesized inputs,
// reference outputs and the comparison tolerance for its precision.
type ArtifactTester struct {
	OutputDir string
	Saver     *artifacts.Saver
	Version   string
	Now       func() time.Time

	logger *zap.Logger
}

// NewArtifactTester writes fixtures into outputDir with saver.
func NewArtifactTester(outputDir string, saver *artifacts.Saver, logger *zap.Logger) *ArtifactTester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if saver == nil {
		saver = artifacts.NewSaver(logger)
	}
	return &ArtifactTester{
		OutputDir: outputDir,
		Saver:     saver,
		Version:   onnx.ProducerVersion,
		Now:       time.Now,
		logger:    logger,
	}
}

func (t *ArtifactTester) Test(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	expected, err := fixtures.Expected(req.Case, req.Inputs)
	if err != nil {
		return fmt.Errorf("failed to compute expected outputs: %w", err)
	}

	tol, err := reference.PrecisionTolerance(req.Precision)
	if err != nil {
		return err
	}

	fixture, err := artifacts.NewFixture(req.Case, req.Inputs, expected, tol, artifacts.Metadata{
		Version:     t.Version,
		Framework:   Framework,
		CreatedAt:   t.Now().UTC(),
		RunID:       req.RunID,
		Seed:        req.Seed,
		Device:      req.Device,
		Precision:   req.Precision,
		IRVersion:   req.IRVersion,
		Description: req.Case.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to build fixture: %w", err)
	}

	paths, err := t.Saver.Save(fixture, req.Net, t.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to save fixture %s: %w", fixture.BaseName(), err)
	}

	t.logger.Debug("fixture written",
		zap.String("request", req.Name()),
		zap.Strings("paths", paths))
	return nil
}
