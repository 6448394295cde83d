package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ystepanoff/racelink/config"
	rlog "github.com/ystepanoff/racelink/internal/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "racelink",
	Short:         "Race timing over half-duplex radio links",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.AddCommand(simulateCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "racelink: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	rlog.Configure(rlog.Config{
		Level:   cfg.Log.Level,
		Service: "racelink",
		Console: cfg.Log.Console,
	})
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Print the configuration after defaults, the config file and RACELINK_* environment variables are applied.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
