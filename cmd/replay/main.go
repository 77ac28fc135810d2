package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tickreplay/config"
	"tickreplay/internal/adapters/clickhouse"
	"tickreplay/internal/adapters/logger"
	"tickreplay/internal/adapters/sqlite"
	"tickreplay/internal/engine"
	"tickreplay/internal/ports"
	"tickreplay/internal/strategies"
)

var (
	runConfigPath string
	outPath       string
	saveRun       bool
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical ticks through the T+1 backtest engine",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&runConfigPath, "run-config", "c", "", "YAML run configuration file (required)")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "write the JSON report here instead of stdout")
	rootCmd.Flags().BoolVar(&saveRun, "save", false, "persist the run summary and trades into the SQLite store")
	rootCmd.MarkFlagRequired("run-config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	rc, err := config.LoadRunConfig(runConfigPath)
	if err != nil {
		return err
	}
	engCfg, err := rc.EngineConfig()
	if err != nil {
		return err
	}
	strategy, err := strategies.New(rc.Strategy.Name, rc.Strategy.Params, appLogger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		provider ports.TickProvider
		tickDB   *sqlite.Store
	)
	switch cfg.TickSource {
	case config.SourceClickHouse:
		ch, err := clickhouse.NewStore(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Logger:   appLogger,
		})
		if err != nil {
			return err
		}
		defer ch.Close()
		provider = ch
	default:
		tickDB, err = sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			return err
		}
		defer tickDB.Close()
		provider = tickDB
	}

	eng, err := engine.New(engCfg, provider, strategy, appLogger)
	if err != nil {
		return err
	}
	report, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	if saveRun {
		if tickDB == nil {
			tickDB, err = sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
			if err != nil {
				return err
			}
			defer tickDB.Close()
		}
		summary := report.Summary(engCfg.Symbols, engCfg.StartDate, engCfg.EndDate, time.Now().UTC())
		if err := tickDB.SaveRun(ctx, summary); err != nil {
			return fmt.Errorf("saving run %s: %w", report.RunID, err)
		}
		appLogger.Info(ctx, "run persisted", map[string]interface{}{"run_id": report.RunID})
	}

	return writeReport(ctx, appLogger, report)
}

func writeReport(ctx context.Context, appLogger *logger.StdLogger, report *engine.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if outPath == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", outPath, err)
	}
	appLogger.Info(ctx, "report written", map[string]interface{}{"path": outPath})
	return nil
}
