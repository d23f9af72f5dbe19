package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/recipesurvey/internal/config"
	"github.com/soaringjerry/recipesurvey/internal/logging"
)

var (
	configPath string
	cfg        config.Config
	logger     *slog.Logger

	rootCmd = &cobra.Command{
		Use:               "recipe-survey",
		Short:             "Recipe evaluation survey server and data tools",
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		if err := os.Setenv("SURVEY_CONFIG", configPath); err != nil {
			return err
		}
	}
	c, err := config.Load()
	if err != nil {
		return err
	}
	l, err := logging.Init(c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides $SURVEY_CONFIG)")
	rootCmd.AddCommand(serveCmd, exportCmd, sweepCmd, importLegacyCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
