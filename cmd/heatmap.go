package main

import (
	"encoding/json"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-finder/internal/grid"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/pkg/geocode"
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap <city-or-postal-code>",
	Short: "Print population density on a lattice around a city",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initSearch(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Geocoder.Geocode(ctx, geocode.WithCountry(args[0], cfg.Search.Country))
		if err != nil {
			return eris.Wrap(err, "heatmap: geocode")
		}
		if res == nil || !res.Matched {
			return eris.Errorf("heatmap: %q not found", args[0])
		}
		center := model.Coordinate{Latitude: res.Latitude, Longitude: res.Longitude}

		radiusKM, _ := cmd.Flags().GetFloat64("radius-km")
		if radiusKM <= 0 {
			radiusKM = cfg.Search.RadiusM / 1000
		}
		resolution, _ := cmd.Flags().GetInt("resolution")

		points, err := env.Grid.Heatmap(ctx, center, radiusKM, resolution)
		if err != nil {
			return eris.Wrap(err, "heatmap")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if asGeoJSON, _ := cmd.Flags().GetBool("geojson"); asGeoJSON {
			return enc.Encode(heatmapFeatures(points))
		}
		return enc.Encode(points)
	},
}

// heatmapFeatures converts lattice points into GeoJSON points carrying their
// density.
func heatmapFeatures(points []grid.HeatPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(p.Coordinate.Point())
		f.Properties["density"] = p.Density
		f.Properties["distance_m"] = p.Distance
		fc.Append(f)
	}
	return fc
}

func init() {
	heatmapCmd.Flags().Float64("radius-km", 0, "radius in km (default from config)")
	heatmapCmd.Flags().Int("resolution", grid.DefaultHeatmapResolution, "lattice points per side")
	heatmapCmd.Flags().Bool("geojson", false, "print a GeoJSON feature collection")
	rootCmd.AddCommand(heatmapCmd)
}
