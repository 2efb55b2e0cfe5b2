package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsawler/fbnconform/artifacts"
	"github.com/tsawler/fbnconform/onnx"
)

var (
	errInspectFailed = errors.New("some files failed inspection")
	errNodeNotFound  = errors.New("node not found")
)

func newInspectCmd() *cobra.Command {
	var node string
	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Check written fixtures and ONNX models",
		Long: `Reads fixtures written by generate. A .json fixture has its expected
outputs recomputed from its inputs and compared within its tolerance. A .onnx
model is decoded and its header and op sequence printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				if err := inspectFile(out, path, node); err != nil {
					fmt.Fprintf(out, "FAILED %s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", errInspectFailed, failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "Also print the inputs, outputs and attributes of this ONNX node")
	return cmd
}

func inspectFile(w io.Writer, path, node string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case artifacts.FormatJSON.Extension():
		return inspectFixture(w, path)
	case artifacts.FormatONNX.Extension():
		return inspectModel(w, path, node)
	default:
		return fmt.Errorf("%w: %s", artifacts.ErrUnknownFormat, filepath.Ext(path))
	}
}

func inspectFixture(w io.Writer, path string) error {
	f, err := artifacts.Load(path)
	if err != nil {
		return err
	}
	if err := f.Verify(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "ok %s seed=%d ir=%d tolerance=%g/%g\n",
		f.BaseName(), f.Metadata.Seed, f.Metadata.IRVersion, f.Tolerance.Abs, f.Tolerance.Rel)
	return err
}

func inspectModel(w io.Writer, path, node string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	info, err := onnx.Decode(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "ok %s graph=%s producer=%s/%s opset=%d ops=%s\n",
		filepath.Base(path), info.GraphName, info.ProducerName, info.ProducerVersion,
		info.Opset, strings.Join(info.OpTypes(), ","))
	if node == "" {
		return nil
	}

	n, ok := info.Node(node)
	if !ok {
		return fmt.Errorf("%w: %q", errNodeNotFound, node)
	}
	fmt.Fprintf(w, "  %s (%s)\n    inputs:  %v\n    outputs: %v\n", n.Name, n.OpType, n.Inputs, n.Outputs)

	names := make([]string, 0, len(n.Attributes))
	for name := range n.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := n.Attributes[name]
		switch a.Type {
		case onnx.AttrFloat:
			fmt.Fprintf(w, "    %s = %g\n", name, a.F)
		case onnx.AttrInt:
			fmt.Fprintf(w, "    %s = %d\n", name, a.I)
		case onnx.AttrString:
			fmt.Fprintf(w, "    %s = %q\n", name, a.S)
		case onnx.AttrInts:
			fmt.Fprintf(w, "    %s = %v\n", name, a.Ints)
		}
	}
	return nil
}
