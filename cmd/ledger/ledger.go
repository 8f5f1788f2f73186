// Package ledgercmder
package ledgercmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/parchmentco/ledger/cmd/ledger/config"
	consolidatecmder "github.com/parchmentco/ledger/cmd/ledger/consolidate"
	servecmder "github.com/parchmentco/ledger/cmd/ledger/serve"
	versioncmder "github.com/parchmentco/ledger/cmd/version"
)

const ledgerLongDesc string = `Ledger keeps one canonical conversation log across your agent's platforms
and distills it into topics and memories.

Run services using:
  ledger serve          Run the API server with extraction scheduling
  ledger consolidate    Run a memory consolidation pass
  ledger config         Manage persistent configuration`

const ledgerShortDesc string = "Ledger - Conversation Memory"

func NewLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: ledgerShortDesc,
		Long:  ledgerLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: ./.ledger or ~/.ledger)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(consolidatecmder.NewConsolidateCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
