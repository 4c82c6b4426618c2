package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/pipeline"
)

var (
	stageInput  string
	stageOutput string
	stageAsOf   string
	stageXLSX   bool
)

// stageCommand builds a single-stage command reading --input and writing
// --output (defaulting to defaultOutput under pipeline.output_dir).
func stageCommand(use, short, stage, defaultOutput string, parts canon.Part) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var asOf time.Time
			if stage == model.StageCoverage {
				t, err := parseAsOf(stageAsOf)
				if err != nil {
					return err
				}
				if t.IsZero() {
					return fmt.Errorf("coverage: --as-of is required")
				}
				asOf = t
			}
			if err := pipeline.Preflight(stageInput); err != nil {
				return err
			}

			env, err := initRunner(ctx, parts, stageXLSX)
			if err != nil {
				return err
			}
			defer env.Close()

			output := stageOutput
			if output == "" {
				output = filepath.Join(cfg.Pipeline.OutputDir, defaultOutput)
			}

			m, err := env.Runner.Execute(ctx, pipeline.Request{
				Command: use,
				Input:   stageInput,
				AsOf:    asOf,
				Steps:   []pipeline.Step{{Stage: stage, Input: stageInput, Output: output}},
			})
			if err != nil {
				return err
			}
			printSummary(m)
			return nil
		},
	}
}

var (
	coverageCmd = stageCommand("coverage", "Score ledger evidence coverage per entity and dataset",
		model.StageCoverage, pipeline.CoverageOutput, 0)
	measureCmd = stageCommand("measure", "Run the measurement gate (Module One) over raw facts",
		model.StageModuleOne, pipeline.ModuleOneOutput, canon.PartExecution)
	decideCmd = stageCommand("decide", "Decide AUTH, HOLD or BLOCK (Module Two) from a measurement table",
		model.StageModuleTwo, pipeline.ModuleTwoOutput, canon.PartLogic)
	classifyCmd = stageCommand("classify", "Classify coverage rows as GREEN, YELLOW or RED",
		model.StageClassify, pipeline.ClassifyOutput, canon.PartThresholds)
)

// printSummary writes the stage row counts and summaries to stderr.
func printSummary(m *pipeline.Manifest) {
	for _, s := range m.Stages {
		fmt.Fprintf(os.Stderr, "%-11s %s -> %s  rows_in=%d rows_out=%d excluded=%d\n",
			s.Name, s.Input, s.Output, s.RowsIn, s.RowsOut, s.Excluded)
	}
	for _, k := range []model.Outcome{model.OutcomeAuth, model.OutcomeBlock, model.OutcomeHold} {
		if n, ok := m.Outcomes[string(k)]; ok {
			fmt.Fprintf(os.Stderr, "  %s: %d\n", k, n)
		}
	}
	for _, s := range m.States {
		fmt.Fprintf(os.Stderr, "  %s %s: %d\n", s.Dataset, s.State, s.Rows)
	}
	if m.RunID != "" {
		fmt.Fprintf(os.Stderr, "run %s\n", m.RunID)
	}
}

func init() {
	for _, c := range []*cobra.Command{coverageCmd, measureCmd, decideCmd, classifyCmd} {
		c.Flags().StringVar(&stageInput, "input", "", "input table (.csv or .xlsx)")
		c.Flags().StringVar(&stageOutput, "output", "", "output CSV (default under pipeline.output_dir)")
		c.Flags().BoolVar(&stageXLSX, "xlsx", false, "also write the output as .xlsx")
		_ = c.MarkFlagRequired("input")
		rootCmd.AddCommand(c)
	}
	coverageCmd.Flags().StringVar(&stageAsOf, "as-of", "", "scoring date (YYYY-MM-DD)")
}
