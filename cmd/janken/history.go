package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/janken/internal/store"
)

var historyOpts struct {
	session  string
	label    string
	limit    int
	sessions bool
	prune    time.Duration
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored classification results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		switch {
		case historyOpts.prune > 0:
			return runPrune(st, historyOpts.prune)
		case historyOpts.sessions:
			return runListSessions(st)
		default:
			return runListHistory(st)
		}
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyOpts.session, "session", "", "only results from this session")
	f.StringVar(&historyOpts.label, "label", "", "only results with this label")
	f.IntVarP(&historyOpts.limit, "limit", "n", 20, "maximum number of results")
	f.BoolVar(&historyOpts.sessions, "sessions", false, "list capture sessions instead of results")
	f.DurationVar(&historyOpts.prune, "prune", 0, "delete results older than this (e.g. 720h)")
	rootCmd.AddCommand(historyCmd)
}

func runListHistory(st *store.Store) error {
	predictions, err := st.Predictions().List(store.PredictionFilter{
		SessionID: historyOpts.session,
		Label:     historyOpts.label,
		Limit:     historyOpts.limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(predictions) == 0 {
		fmt.Println("No results recorded. Run with --history to record them.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tSEQ\tSTATE\tLABEL\tCONFIDENCE\tSOURCE")
	fmt.Fprintln(w, "----\t---\t-----\t-----\t----------\t------")
	for _, p := range predictions {
		label, confidence := "-", "-"
		if p.Label != "" {
			label = p.Label
			confidence = fmt.Sprintf("%d%%", p.Confidence)
		}
		source := p.Source
		if source == "" {
			source = "camera"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"), p.Seq, p.State, label, confidence, source)
	}
	w.Flush()

	counts, err := st.Predictions().CountByLabel(historyOpts.session)
	if err != nil {
		return fmt.Errorf("failed to count labels: %w", err)
	}
	if len(counts) > 0 {
		fmt.Println()
		for _, c := range counts {
			fmt.Printf("%-10s %d\n", c.Label, c.Count)
		}
	}
	return nil
}

func runListSessions(st *store.Store) error {
	sessions, err := st.Sessions().List(historyOpts.limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSTARTED\tENDED")
	fmt.Fprintln(w, "--\t-----\t-------\t-----")
	for _, s := range sessions {
		ended := "running"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Model, s.StartedAt.Local().Format("2006-01-02 15:04"), ended)
	}
	w.Flush()
	return nil
}

func runPrune(st *store.Store, age time.Duration) error {
	n, err := st.Predictions().Prune(time.Now().Add(-age))
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	fmt.Printf("Deleted %d results.\n", n)
	return nil
}
