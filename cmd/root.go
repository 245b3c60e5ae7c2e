package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/driverlink/app"
	"github.com/kilianp07/driverlink/config"
	"github.com/kilianp07/driverlink/infra/logger"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "driverlink",
	Short:        "Driver telemetry and dispatch sync agent",
	SilenceUsage: true,
	RunE:         run,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Go online and keep the session running until interrupted",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level from the configuration file")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

// loadConfig reads cfgPath and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Console)
	return cfg, nil
}
