package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search <city-or-postal-code>",
	Short: "Search and rank laundromat sites",
	Long:  "Resolves the city or postal code, scores candidate sites around it, stores the ranked result and prints it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		params, err := searchParamsFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		env, err := initSearch(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Service.Search(ctx, params)
		if err != nil {
			return eris.Wrap(err, "search")
		}
		zap.L().Info("search complete",
			zap.String("search_id", results.ID),
			zap.String("query", params.Query),
			zap.Int("total", results.TotalCount),
		)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		if results.TotalCount == 0 {
			fmt.Fprintf(os.Stderr, "No site found for %q.\n", params.Query)
			return nil
		}
		top, _ := cmd.Flags().GetInt("top")
		fmt.Fprintf(os.Stdout, "Search %s: %d sites for %s\n\n", results.ID, results.TotalCount, params.Query)
		formatLocations(os.Stdout, results.Locations, top)
		return nil
	},
}

func searchParamsFromFlags(cmd *cobra.Command, query string) (model.SearchParameters, error) {
	radiusKM, _ := cmd.Flags().GetFloat64("radius-km")
	walking, _ := cmd.Flags().GetInt("walking-min")

	params := model.SearchParameters{
		Query:              query,
		RadiusM:            int(cfg.Search.RadiusM),
		WalkingTime:        cfg.Search.WalkingTimeMinutes,
		CompetitorKeywords: cfg.Search.CompetitorKeywords,
	}
	if radiusKM > 0 {
		params.RadiusM = int(math.Round(radiusKM * 1000))
	}
	if walking > 0 {
		params.WalkingTime = walking
	}
	if len(params.CompetitorKeywords) == 0 {
		params.CompetitorKeywords = model.DefaultCompetitorKeywords
	}
	return params, params.Validate()
}

// formatLocations writes ranked locations as a table. top <= 0 prints all.
func formatLocations(out io.Writer, locs []model.Location, top int) {
	if top > 0 && top < len(locs) {
		locs = locs[:top]
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSCORE\tPOPULATION\tNEAREST_M\tDENSITY\tADDRESS")
	for i, l := range locs {
		nearest := "-"
		if !math.IsInf(l.NearestCompetitorDistance, 1) {
			nearest = fmt.Sprintf("%.0f", l.NearestCompetitorDistance)
		}
		_, _ = fmt.Fprintf(w, "%d\t%.3f\t%d\t%s\t%.0f\t%s\n",
			i+1, l.Score, l.Population, nearest, l.DensityIndex, l.Address)
	}
	_ = w.Flush()
}

func init() {
	searchCmd.Flags().Float64("radius-km", 0, "search radius in km (default from config)")
	searchCmd.Flags().Int("walking-min", 0, "walking time in minutes (default from config)")
	searchCmd.Flags().Int("top", 10, "number of sites to print (0 for all)")
	searchCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(searchCmd)
}
