package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rongwang/medchain-server/internal/ledger"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger <patientId>",
	Short: "Print a patient's ledger",
	Example: `  medchainctl ledger 6f1c...
  medchainctl ledger 6f1c... --output json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		blocks, err := ledger.NewEngine(repo).GetLedger(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printLedger(cmd.OutOrStdout(), blocks, output)
	},
}

func printLedger(w io.Writer, blocks []models.Block, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(blocks)
	}

	if len(blocks) == 0 {
		fmt.Fprintln(w, "No blocks")
		return nil
	}
	for _, b := range blocks {
		ts := time.UnixMilli(b.Timestamp).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "#%d  %s  %-14s %s  by %s\n", b.Index, ts, b.PayloadType, b.PayloadRef, b.AuthorName)
		fmt.Fprintf(w, "    prev %s\n    hash %s\n", b.PrevHash, b.Hash)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().StringP("output", "o", "plain", "Output format: plain|json")
}
