package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcourtman/rosterwatch/internal/analytics"
	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Reconcile one roster export into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, err := openStore("import")
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read roster export: %w", err)
		}
		res, err := ingest.NewUploader(st, cfg.Location()).Upload(cmdContext(cmd), data)
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), filepath.Base(args[0]), res)
		return nil
	},
}

var watchSettle string

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Import every roster export dropped into a directory",
	Long: `Watch a directory for CSV roster exports. Each file is imported as one batch once
it stops changing, then moved to processed/ or failed/ inside the directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, err := openStore("watch")
		if err != nil {
			return err
		}
		defer st.Close()

		w := ingest.NewWatcher(args[0], ingest.NewUploader(st, cfg.Location()))
		if cmd.Flags().Changed("settle") {
			d, err := parseDuration(watchSettle)
			if err != nil {
				return err
			}
			w.SetSettleDelay(d)
		}
		out := cmd.OutOrStdout()
		w.OnResult(func(path string, res *ingest.UploadResult, err error) {
			if err != nil {
				fmt.Fprintf(out, "%s: failed: %v\n", filepath.Base(path), err)
				return
			}
			printResult(out, filepath.Base(path), res)
		})
		return w.Run(cmdContext(cmd))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show upload history with changes between uploads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore("history")
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListHistory(cmdContext(cmd))
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), analytics.WithDeltas(entries))
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchSettle, "settle", "2s", "how long a file must stay unchanged before it is imported")
}

func printResult(out io.Writer, name string, res *ingest.UploadResult) {
	fmt.Fprintf(out, "%s: batch %s imported %d rows: %d new, %d updated, %d churned, %d reactivated",
		name, res.Batch, res.Imported, res.New, res.Updated, res.Churned, res.Reactivated)
	if res.Placeholders > 0 {
		fmt.Fprintf(out, ", %d without email", res.Placeholders)
	}
	if res.Duplicates > 0 {
		fmt.Fprintf(out, ", %d duplicate rows", res.Duplicates)
	}
	fmt.Fprintln(out)
	if res.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", res.Warning)
	}
}

func printHistory(out io.Writer, rows []analytics.HistoryRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No uploads recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UPLOADED\tBATCH\tACTIVE\tNEW\tCHURNED\tPAID\tMRR\tDELTA MEMBERS\tDELTA MRR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\t%+d\t%+.2f\n",
			r.UploadedAt, r.Batch, r.ActiveMembers, r.NewMembers, r.ChurnedMembers,
			r.PaidMembers, r.MRR, r.DeltaMembers, r.DeltaMRR)
	}
	_ = tw.Flush()
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, apperr.Invalid("settle", fmt.Sprintf("%q is not a valid duration", raw))
	}
	return d, nil
}
