package cmd

import (
	"fmt"
	"os"

	"github.com/rongwang/medchain-server/internal/config"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/spf13/cobra"
)

// openRepository opens the store named by the environment. A LevelDB store
// is locked by a running server, so stop it first or use the postgres driver.
var openRepository = func() (repository.Repository, error) {
	return config.OpenRepository(config.LoadConfig())
}

var rootCmd = &cobra.Command{
	Use:           "medchainctl",
	Short:         "MedChain ledger tool",
	Long:          "A command-line tool for inspecting and verifying patient audit ledgers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
