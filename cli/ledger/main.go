package main

import (
	"os"

	ledgercmder "github.com/parchmentco/ledger/cmd/ledger"
)

func main() {
	cmd := ledgercmder.NewLedgerCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
