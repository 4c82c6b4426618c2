package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/pipeline"
)

var (
	pipelineInput     string
	pipelineOutputDir string
	pipelineAsOf      string
	pipelineXLSX      bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run Module One then Module Two file-to-file",
	Long: "Runs the measurement gate and the policy decider over the input, writing " +
		pipeline.ModuleOneOutput + " and " + pipeline.ModuleTwoOutput + ". With --as-of the " +
		"coverage and classify stages run as well. A manifest.yaml describing the run is written " +
		"next to the outputs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf, err := parseAsOf(pipelineAsOf)
		if err != nil {
			return err
		}
		if err := pipeline.Preflight(pipelineInput); err != nil {
			return err
		}

		parts := canon.PartExecution | canon.PartLogic
		if !asOf.IsZero() {
			parts |= canon.PartThresholds
		}
		env, err := initRunner(ctx, parts, pipelineXLSX)
		if err != nil {
			return err
		}
		defer env.Close()

		dir := pipelineOutputDir
		if dir == "" {
			dir = cfg.Pipeline.OutputDir
		}
		m, err := env.Runner.Pipeline(ctx, pipeline.PipelineOptions{
			Input:     pipelineInput,
			OutputDir: dir,
			AsOf:      asOf,
		})
		if err != nil {
			return err
		}
		printSummary(m)
		return nil
	},
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineInput, "input", "", "ledger input (.csv or .xlsx)")
	pipelineCmd.Flags().StringVar(&pipelineOutputDir, "output-dir", "", "output directory (default pipeline.output_dir)")
	pipelineCmd.Flags().StringVar(&pipelineAsOf, "as-of", "", "scoring date (YYYY-MM-DD); enables coverage and classify")
	pipelineCmd.Flags().BoolVar(&pipelineXLSX, "xlsx", false, "also write every output as .xlsx")
	_ = pipelineCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(pipelineCmd)
}
