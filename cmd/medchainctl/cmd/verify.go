package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/rongwang/medchain-server/internal/ledger"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/spf13/cobra"
)

// errChainInvalid makes the command exit non-zero after the report is printed
var errChainInvalid = errors.New("ledger failed verification")

var verifyCmd = &cobra.Command{
	Use:     "verify <patientId>",
	Short:   "Verify a patient's ledger",
	Example: `  medchainctl verify 6f1c...`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		blocks, err := ledger.NewEngine(repo).GetLedger(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		result := ledger.Verify(blocks)
		printVerification(cmd.OutOrStdout(), len(blocks), result)
		if !result.OK {
			return errChainInvalid
		}
		return nil
	},
}

func printVerification(w io.Writer, n int, result models.VerificationResult) {
	if result.OK {
		fmt.Fprintf(w, "OK: %d blocks verified\n", n)
		return
	}
	fmt.Fprintf(w, "FAILED: %d problems in %d blocks\n", len(result.Failures), n)
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  block %d: %s\n", f.Index, f.Reason)
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
