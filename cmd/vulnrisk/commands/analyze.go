package commands

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	appanalysis "github.com/bryanwahyu/vulnrisk/internal/application/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/bootstrap"
)

func analyzeCmd(g *globalFlags) *cobra.Command {
	var (
		fetchTimeout    time.Duration
		analysisTimeout time.Duration
		compact         bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <repository-url>",
		Short: "Run one analysis and print the JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if fetchTimeout > 0 {
				cfg.Analysis.FetchTimeoutMS = int(fetchTimeout.Milliseconds())
			}
			if analysisTimeout > 0 {
				cfg.Analysis.AnalysisTimeoutMS = int(analysisTimeout.Milliseconds())
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, log)
			if err != nil {
				return errors.Wrap(err, "startup failed")
			}
			defer app.Close()

			report, err := app.Service.Analyze(ctx, appanalysis.Input{RepositoryURL: args[0]})
			if err != nil {
				return errors.Wrapf(err, "analysis failed (%s)", appanalysis.FailureReason(err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(report)
		},
	}
	cmd.Flags().DurationVar(&fetchTimeout, "fetch-timeout", 0, "override the clone deadline")
	cmd.Flags().DurationVar(&analysisTimeout, "analysis-timeout", 0, "override the pipeline deadline")
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	return cmd
}
