// Command weatherpipe ingests a daily weather archive into local storage and
// runs metric reports over it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"weatherpipe/internal/config"
	"weatherpipe/internal/pipeline"
	"weatherpipe/internal/util"
)

var cfgPath string

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)
	return cfg, log, nil
}

func newDumpCommand() *cobra.Command {
	var backend, outputRoot string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export the weather_daily table to a timestamped CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			path, err := pipeline.New(cfg, log).DumpTable(cmd.Context(), backend, outputRoot)
			if err != nil {
				return err
			}
			log.Info("table exported", "path", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "override the configured storage backend (sqlite or postgres)")
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "directory that will contain the sqlite/ or pg/ dump folder (default <data>/db)")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "weatherpipe",
		Short:         "Daily weather archive ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "ingest",
			Short: "Fetch the configured date range and persist raw, processed, and table records",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := setup()
				if err != nil {
					return err
				}
				return pipeline.New(cfg, log).Ingest(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "report",
			Short: "Run the configured metric queries and write report artifacts",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := setup()
				if err != nil {
					return err
				}
				_, err = pipeline.New(cfg, log).RunReports(cmd.Context())
				return err
			},
		},
		newDumpCommand(),
		&cobra.Command{
			Use:   "run",
			Short: "Ingest the configured date range and then run the reports",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := setup()
				if err != nil {
					return err
				}
				return pipeline.New(cfg, log).Run(cmd.Context())
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
