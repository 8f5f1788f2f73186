// Package configcmder provides the config command for managing persistent
// ledger configuration stored in the .ledger/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent ledger configuration.

Configuration is stored as config.toml in the .ledger/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  api.listen, client.api_target,
  oracle.provider, oracle.target, oracle.model, oracle.timeout_seconds,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  reconcile.primary_platform, extraction.schedule, extraction.window,
  consolidation.strategy, consolidation.workers, events.provider

Use subcommands to get, set, or list configuration values:
  ledger config set <key> <value>    Set a configuration value
  ledger config get <key>            Get a configuration value
  ledger config list                 List all configuration values

Examples:
  ledger config set oracle.model gpt-4o
  ledger config set reconcile.primary_platform telegram
  ledger config get consolidation.strategy
  ledger config list`

const configShortDesc string = "Manage persistent ledger configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
