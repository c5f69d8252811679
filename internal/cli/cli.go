// Package cli builds the palletd command tree.
//
//	palletd
//	├── run        serve the controller link and the HTTP API
//	├── migrate    create or upgrade the store schema
//	├── seed       load a catalog YAML into the store
//	├── recompute  rebuild a job's occupancy figures
//	├── report     export a robot's work summary (.csv or .json)
//	└── cellsim    serve a simulated cell PLC for the configured points
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"palletizer-control/internal/tasks"
)

const defaultConfig = "config/palletd.yaml"

var configFile string

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "palletd",
		Short:         "palletd: palletizing cell controller",
		Long:          "palletd keeps the websocket link to the robot controller, records jobs and box placements, and serves the cell's HTTP API.",
		Version:       "1.0.0",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfig, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildMigrateCommand())
	rootCmd.AddCommand(buildSeedCommand())
	rootCmd.AddCommand(buildRecomputeCommand())
	rootCmd.AddCommand(buildReportCommand())
	rootCmd.AddCommand(buildCellSimCommand())
	return rootCmd
}

// baseOptions resolves the persistent --config flag. A missing default file
// falls back to built-in defaults; an explicit path must exist.
func baseOptions(cmd *cobra.Command) tasks.Options {
	path := configFile
	if !cmd.Flags().Changed("config") && path == defaultConfig {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return tasks.Options{ConfigPath: path}
}

func buildRunCommand() *cobra.Command {
	var (
		dbPath, listen, url, level, journalDir string
		journal                                bool
		journalQueue                           int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the controller link and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(cmd)
			opts.DBPath = dbPath
			opts.Listen = listen
			opts.ControllerURL = url
			opts.LogLevel = level
			opts.JournalEnabled = journal
			opts.JournalDir = journalDir
			opts.JournalQueue = journalQueue

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return tasks.InitAndRun(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides http.listen)")
	cmd.Flags().StringVar(&url, "controller-url", "", "controller websocket URL (overrides controller.url)")
	cmd.Flags().StringVar(&level, "log-level", "", "log level (overrides log.level)")
	cmd.Flags().BoolVar(&journal, "journal", false, "record controller traffic")
	cmd.Flags().StringVar(&journalDir, "journal-dir", "", "traffic journal directory (implies --journal)")
	cmd.Flags().IntVar(&journalQueue, "journal-queue", 0, "traffic journal queue size (implies --journal)")
	return cmd
}

func buildMigrateCommand() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(cmd)
			opts.DBPath = dbPath
			if err := tasks.Migrate(opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	return cmd
}

func buildSeedCommand() *cobra.Command {
	var dbPath, file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a catalog YAML into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(cmd)
			opts.DBPath = dbPath
			res, err := tasks.Seed(cmd.Context(), opts, file)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func buildRecomputeCommand() *cobra.Command {
	var (
		dbPath string
		jobID  int64
	)
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild a job's load height, loading rate and volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(cmd)
			opts.DBPath = dbPath
			occ, err := tasks.Recompute(cmd.Context(), opts, jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd, occ)
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func buildReportCommand() *cobra.Command {
	var dbPath, serial, date, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a robot's work summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(cmd)
			opts.DBPath = dbPath
			if err := tasks.Report(cmd.Context(), opts, serial, date, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "robot serial (default: first robot)")
	cmd.Flags().StringVar(&date, "date", "", "single day YYYY-MM-DD (default: every day)")
	cmd.Flags().StringVarP(&out, "out", "o", "work-summary.csv", "output file (.csv or .json)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func buildCellSimCommand() *cobra.Command {
	var (
		listen, csvFile string
		interval        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cellsim",
		Short: "Serve a simulated cell PLC over Modbus TCP",
		Long:  "cellsim serves the cellio points of the config file and replays their values from a CSV whose header names the points.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return tasks.CellSim(ctx, baseOptions(cmd), listen, csvFile, interval)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":1502", "Modbus TCP listen address")
	cmd.Flags().StringVar(&csvFile, "csv", "", "CSV file of point values, one row per interval")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "replay interval")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}
