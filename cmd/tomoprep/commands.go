package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tomoprep/pkg/chunk"
	"tomoprep/pkg/config"
	"tomoprep/pkg/rootfind"
)

var (
	planChunks, planTotal, planPad int
	invertCoefficients             []float64
)

// planCmd prints the chunk plan so a scheduler can size its workers
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the chunk plan as index,start,end,dataStart,dataEnd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chunks := cfg.Processing.Chunks
		total := cfg.TotalProjections()
		pad := cfg.Processing.Pad
		if cmd.Flags().Changed("chunks") {
			chunks = planChunks
		}
		if cmd.Flags().Changed("total") {
			total = planTotal
		}
		if cmd.Flags().Changed("pad") {
			pad = planPad
		}
		return writePlan(cmd.OutOrStdout(), chunks, total, pad)
	},
}

func registerPlanFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&planChunks, "chunks", 8, "Number of chunks")
	cmd.Flags().IntVar(&planTotal, "total", 100, "Total number of projections")
	cmd.Flags().IntVar(&planPad, "pad", 2, "Context frames on each side")
}

func writePlan(w io.Writer, chunks, total, pad int) error {
	plan, err := chunk.New(chunks, total, pad)
	if err != nil {
		return err
	}
	for _, row := range plan.Rows() {
		if _, err := fmt.Fprintln(w, row); err != nil {
			return err
		}
	}
	return nil
}

// invertCmd maps distorted radii back to undistorted ones
var invertCmd = &cobra.Command{
	Use:   "invert TARGET...",
	Short: "Solve the distortion polynomial for each target radius",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coeffs := cfg.Distortion.Coefficients
		if cmd.Flags().Changed("coefficients") {
			coeffs = invertCoefficients
		}
		targets := make([]float64, len(args))
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return fmt.Errorf("invalid target %q: %w", a, err)
			}
			targets[i] = v
		}
		return writeInversions(cmd.OutOrStdout(), coeffs, targets)
	},
}

func registerInvertFlags(cmd *cobra.Command) {
	cmd.Flags().Float64SliceVar(&invertCoefficients, "coefficients", nil, "Polynomial coefficients of r, r^2, r^3, ...")
}

func writeInversions(w io.Writer, coeffs, targets []float64) error {
	if len(coeffs) == 0 {
		return fmt.Errorf("no coefficients given")
	}
	for _, target := range targets {
		res := rootfind.Solve(coeffs, target)
		if !res.Converged && logger != nil {
			logger.Warn("Inversion did not converge",
				zap.Float64("target", target),
				zap.Int("iterations", res.Iterations))
		}
		if _, err := fmt.Fprintf(w, "%g\t%.12g\t%d\t%t\n", target, res.Root, res.Iterations, res.Converged); err != nil {
			return err
		}
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return nil
	},
}
