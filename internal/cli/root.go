// Package cli holds the llmchat commands.
package cli

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"llmchat/internal/config"
	"llmchat/internal/logging"
)

type rootOptions struct {
	configPath string
	dbType     string
}

// load reads the config file and configures logging from it.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	logging.Setup(cfg.Log)
	return cfg, nil
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "llmchat",
		Short:         "Multi-provider LLM chat server and terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("LLMCHAT_CONFIG"), "path to config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.dbType, "db", envOr("LLMCHAT_DB", "sqlite3"), "database driver: sqlite3 or mysql")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newChatCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
