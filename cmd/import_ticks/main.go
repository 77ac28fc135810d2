package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tickreplay/config"
	"tickreplay/internal/adapters/logger"
	"tickreplay/internal/adapters/sqlite"
	"tickreplay/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:   "import_ticks [tick CSV files...]",
	Short: "Load tick CSV files into the SQLite tick store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	store, err := sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	for _, path := range args {
		ticks, err := utils.ReadTicksFromCSV(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if len(ticks) == 0 {
			appLogger.Warn(ctx, "no ticks in file", map[string]interface{}{"path": path})
			continue
		}
		if err := store.InsertTicks(ctx, ticks); err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		appLogger.Info(ctx, "file imported", map[string]interface{}{
			"path":  path,
			"ticks": len(ticks),
		})
	}
	return nil
}
