package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/config"
	"github.com/relaycommander/rc-agent/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "rc-agent",
	Short: "Remote command agent",
	Long: `rc-agent polls a control server for tasks, runs them and reports the results.

It operates in two modes:
  run  - Registers with the control server and runs the poll loop
  exec - Wraps a command, captures output, reports to the running agent`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	l, err := observability.SetupLogger(c.Log)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
