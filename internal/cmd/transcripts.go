package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/api"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
)

// previewRunes is how much transcript text a list row shows.
const previewRunes = 60

// transcriptQueries is served by the running service over HTTP or by the database directly.
type transcriptQueries interface {
	List(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error)
	Search(ctx context.Context, query string) ([]domain.Transcript, error)
	FetchMany(ctx context.Context, ids []string) ([]domain.Transcript, error)
}

var (
	_ transcriptQueries = (*api.Client)(nil)
	_ transcriptQueries = (*search.Service)(nil)
)

// queries prefers the running service and falls back to reading the database.
// The returned func releases whatever was opened.
func (e *appEnv) queries() (transcriptQueries, func(), error) {
	c, ok, err := e.client()
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return c, func() {}, nil
	}
	st, err := e.openStore()
	if err != nil {
		return nil, nil, err
	}
	return search.New(st, nil), func() { st.Close() }, nil
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var sortBy, order string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseSortKey(sortBy)
			if err != nil {
				return err
			}
			ord, err := domain.ParseOrder(order)
			if err != nil {
				return err
			}
			env, err := loadEnv()
			if err != nil {
				return err
			}
			q, done, err := env.queries()
			if err != nil {
				return err
			}
			defer done()

			ts, err := q.List(cmd.Context(), key, ord)
			if err != nil {
				return err
			}
			printTranscripts(cmd.OutOrStdout(), ts, "No transcripts yet")
			return nil
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort", string(domain.SortByRecorded), "Sort by recorded or transcribed date")
	cmd.Flags().StringVar(&order, "order", string(domain.Descending), "Sort order (asc, desc)")
	return cmd
}

// NewSearchCmd creates the search command
func NewSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search transcript text",
		Long: `Search transcript text.

The query matches any part of the text or the filename, ignoring case.
Results with the most occurrences come first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			q, done, err := env.queries()
			if err != nil {
				return err
			}
			defer done()

			ts, err := q.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTranscripts(cmd.OutOrStdout(), ts, "No matches")
			return nil
		},
	}
}

// NewShowCmd creates the show command
func NewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>...",
		Short: "Print the full text of one or more transcripts",
		Long: `Print the full text of one or more transcripts.

Several IDs are printed together, each under its filename, ready to paste.
Unknown IDs are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			q, done, err := env.queries()
			if err != nil {
				return err
			}
			defer done()

			ts, err := q.FetchMany(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(ts) == 0 {
				return fmt.Errorf("no transcripts found for %d id(s)", len(args))
			}
			fmt.Fprint(cmd.OutOrStdout(), search.Join(ts))
			return nil
		},
	}
}

func printTranscripts(w io.Writer, ts []domain.Transcript, empty string) {
	if len(ts) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tLENGTH\tLANG\tTEXT")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.RecordingID,
			t.RecordedAt.Local().Format("2006-01-02 15:04"),
			search.FormatDuration(t.Duration),
			t.Language,
			search.Preview(t.Text, previewRunes))
	}
	tw.Flush()
}
