package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/ledger"
)

func newLedgerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger [username]",
		Short: "List recorded crosspost entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.setupLogger(); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			led, err := ledger.Open(cmd.Context(), cfg.Ledger, "")
			if err != nil {
				return err
			}
			defer led.Close()

			sources := led.Sources()
			if len(args) == 1 {
				sources = []string{args[0]}
			}
			return printLedger(cmd.OutOrStdout(), led, sources)
		},
	}
}

func printLedger(w io.Writer, led *ledger.Ledger, sources []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTWEET\tSTATUS\tDETAIL\tRECORDED")
	for _, source := range sources {
		for _, r := range led.Account(source).Entries() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				source,
				r.ItemID,
				r.Entry.Status(),
				entryDetail(r.Entry),
				r.Entry.Timestamp.Format(time.RFC3339),
			)
		}
	}
	return tw.Flush()
}

func entryDetail(e ledger.Entry) string {
	switch {
	case e.Skipped:
		return e.Reason
	case e.Published():
		return e.DestinationRef
	case e.Chunks > 1:
		return fmt.Sprintf("%d chunks", e.Chunks)
	default:
		return "-"
	}
}
