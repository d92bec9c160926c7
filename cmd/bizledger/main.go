// Command bizledger serves the ledger API and carries its operational
// subcommands.
package main

import (
	"os"

	"github.com/odyssey-erp/bizledger/cmd/bizledger/cli"
	"github.com/odyssey-erp/bizledger/internal/app"
)

func main() {
	if app.SkipStartup("bizledger") {
		return
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
