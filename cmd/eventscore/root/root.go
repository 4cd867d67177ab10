package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/drblury/eventscore"
)

const configFlag = "config"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventscore",
		Short: "Produce and consume events on an eventscore stream",
		Long: `Produce and consume events on any stream backend eventscore supports.
Settings come from the YAML file given with --config and from EVENTSCORE_*
environment variables, e.g. EVENTSCORE_STREAM_BACKEND=redis.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String(configFlag, "", "path to a YAML configuration file")

	// add sub-commands
	rootCmd.AddCommand(newBackendsCommand())
	rootCmd.AddCommand(newProduceCommand())
	rootCmd.AddCommand(newTailCommand())

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*eventscore.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	return eventscore.LoadConfig(path)
}

// newService logs to stderr so stdout only carries command output.
func newService(ctx context.Context, cmd *cobra.Command, cfg *eventscore.Config) (*eventscore.Service, error) {
	logger, err := eventscore.NewLogger(cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return eventscore.NewService(ctx, cfg, eventscore.ServiceDependencies{Logger: logger})
}
