package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-finder/internal/model"
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "Inspect search history",
}

// -- searches list --

var searchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past searches, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		skip, _ := cmd.Flags().GetInt("skip")

		searches, err := st.ListSearches(ctx, limit, skip)
		if err != nil {
			return eris.Wrap(err, "searches list")
		}
		if len(searches) == 0 {
			fmt.Fprintln(os.Stderr, "No searches found.")
			return nil
		}

		formatSearches(os.Stdout, searches)
		return nil
	},
}

// -- searches show --

var searchesShowCmd = &cobra.Command{
	Use:   "show <search-id>",
	Short: "Show the stored result of a search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := st.GetSearch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "searches show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	searchesListCmd.Flags().Int("limit", 20, "max number of searches to display")
	searchesListCmd.Flags().Int("skip", 0, "number of searches to skip")

	searchesCmd.AddCommand(searchesListCmd)
	searchesCmd.AddCommand(searchesShowCmd)
	rootCmd.AddCommand(searchesCmd)
}

// formatSearches writes a tabular list of searches to w.
func formatSearches(out io.Writer, searches []model.SearchSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tRADIUS_KM\tWALK_MIN\tSITES\tTOP_SCORE\tCREATED")
	for _, s := range searches {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\t%d\t%.3f\t%s\n",
			s.ID, s.Query, s.Params.RadiusKM(), s.Params.WalkingTime,
			s.TotalCount, s.TopScore, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
