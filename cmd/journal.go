package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/driverlink/core/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Offer and emergency journal commands",
}

var journalLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List journal records",
	RunE:  runJournalLs,
}

var (
	lsKind  string
	lsRide  string
	lsSince time.Duration
	lsLimit int
)

func init() {
	journalLsCmd.Flags().StringVar(&lsKind, "kind", "", "record kind (offer or emergency)")
	journalLsCmd.Flags().StringVar(&lsRide, "ride", "", "only records of this ride")
	journalLsCmd.Flags().DurationVar(&lsSince, "since", 0, "only records newer than this duration")
	journalLsCmd.Flags().IntVar(&lsLimit, "limit", 50, "maximum number of records, newest kept")
	journalCmd.AddCommand(journalLsCmd)
	rootCmd.AddCommand(journalCmd)
}

func runJournalLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			if _, ferr := fmt.Fprintf(cmd.ErrOrStderr(), "error while closing journal: %v\n", err); ferr != nil {
				fmt.Println("failed to write to stderr:", ferr)
			}
		}
	}()

	q := journal.Query{Kind: journal.Kind(lsKind), RideID: lsRide, Limit: lsLimit}
	if lsSince > 0 {
		q.Start = time.Now().Add(-lsSince)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := store.Query(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tAGENT\tRIDE\tOUTCOME\tINCIDENT\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format(time.RFC3339), r.Kind, r.AgentID, r.RideID, r.Outcome, r.IncidentID, r.Error)
	}
	return w.Flush()
}
