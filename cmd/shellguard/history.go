package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/shellguard"
	"github.com/petrijr/shellguard/internal/persistence"
	"github.com/petrijr/shellguard/pkg/api"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		session string
		status  string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished actions from the audit backend",
		Long: `history lists COMPLETED, FAILED and REJECTED actions, newest first.
The in-memory backend only holds actions of the current process, so point
audit.backend at sqlite, postgres, redis or mongo to read past sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			b, err := shellguard.NewFromConfig(cmd.Context(), cfg, shellguard.WithBundleLogger(a.logger(cmd, cfg)))
			if err != nil {
				return err
			}
			defer b.Close(cmd.Context())

			recs, err := b.Audit.List(cmd.Context(), persistence.AuditFilter{
				SessionID: session,
				Status:    api.Phase(strings.ToUpper(status)),
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			writeRecords(out, recs)
			st := persistence.SummarizeAudit(recs)
			fmt.Fprintf(out, "\n%d actions: %d completed, %d failed, %d rejected (avg %s)\n",
				st.Total, st.Completed, st.Failed, st.Rejected, st.AverageDuration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only this session")
	cmd.Flags().StringVar(&status, "status", "", "Only COMPLETED, FAILED or REJECTED")
	cmd.Flags().IntVar(&limit, "limit", persistence.DefaultAuditLimit, "Maximum number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeRecords(w io.Writer, recs []persistence.AuditRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no finished actions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSTATUS\tRISK\tBY\tCOMMAND")
	for _, r := range recs {
		by := r.ApprovedBy
		if r.Status == api.PhaseRejected {
			by = r.RejectedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s(%d)\t%s\t%s\n",
			r.ActionID, r.SessionID, r.Status, r.RiskLevel, r.RiskScore, by, r.Parameter)
	}
	_ = tw.Flush()
}
