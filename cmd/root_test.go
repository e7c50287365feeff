package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-finder/internal/config"
	"github.com/sells-group/site-finder/internal/grid"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/report"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"search", "serve", "searches", "report", "cache", "migrate", "heatmap"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "site-finder", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSearchesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range searchesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestReportCommand_Flags(t *testing.T) {
	for _, name := range []string{"format", "out", "title", "max", "no-map", "no-details"} {
		assert.NotNil(t, reportCmd.Flags().Lookup(name), "report should have --%s", name)
	}
	assert.Equal(t, "json", reportCmd.Flags().Lookup("format").DefValue)
}

func withConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{Search: config.SearchConfig{RadiusM: 1000, WalkingTimeMinutes: 10}}
	t.Cleanup(func() { cfg = prev })
}

func newSearchFlags() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Float64("radius-km", 0, "")
	cmd.Flags().Int("walking-min", 0, "")
	return cmd
}

func TestSearchParamsFromFlags(t *testing.T) {
	withConfig(t)

	cmd := newSearchFlags()
	params, err := searchParamsFromFlags(cmd, "Lyon")
	require.NoError(t, err)
	assert.Equal(t, "Lyon", params.Query)
	assert.Equal(t, 1000, params.RadiusM)
	assert.Equal(t, 10, params.WalkingTime)
	assert.Equal(t, model.DefaultCompetitorKeywords, params.CompetitorKeywords)

	require.NoError(t, cmd.Flags().Set("radius-km", "2.25"))
	require.NoError(t, cmd.Flags().Set("walking-min", "15"))
	params, err = searchParamsFromFlags(cmd, "69001")
	require.NoError(t, err)
	assert.Equal(t, 2250, params.RadiusM)
	assert.Equal(t, 15, params.WalkingTime)
}

func TestSearchParamsFromFlags_EmptyQuery(t *testing.T) {
	withConfig(t)
	_, err := searchParamsFromFlags(newSearchFlags(), "  ")
	assert.Error(t, err)
}

func sampleLocations() []model.Location {
	a := model.NewLocation("loc-1", "12 Rue Oberkampf, 75011 Paris", model.Coordinate{Latitude: 48.8652, Longitude: 2.3781})
	a.Population = 12000
	a.DensityIndex = 6000
	a.Score = 0.912
	b := model.NewLocation("loc-2", "5 Rue de la Roquette, 75011 Paris", model.Coordinate{Latitude: 48.855, Longitude: 2.372})
	b.Population = 6000
	b.Score = 0.55
	b.SetCompetitors([]model.Competitor{{Name: "Lavomatic", Distance: 420}})
	return []model.Location{*a, *b}
}

func TestFormatLocations(t *testing.T) {
	var buf bytes.Buffer
	formatLocations(&buf, sampleLocations(), 0)

	out := buf.String()
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "0.912")
	assert.Contains(t, out, "12 Rue Oberkampf")
	assert.Contains(t, out, "420")

	buf.Reset()
	formatLocations(&buf, sampleLocations(), 1)
	assert.NotContains(t, buf.String(), "Roquette")
}

func TestFormatSearches(t *testing.T) {
	var buf bytes.Buffer
	formatSearches(&buf, []model.SearchSummary{{
		ID:         "abc12345",
		Query:      "Paris",
		Params:     model.SearchParameters{Query: "Paris", RadiusM: 1500, WalkingTime: 10},
		TotalCount: 7,
		TopScore:   0.87,
		CreatedAt:  time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "1.5")
	assert.Contains(t, out, "0.870")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestReportConfigFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("title", "", "")
	cmd.Flags().Int("max", 10, "")
	cmd.Flags().Bool("no-map", false, "")
	cmd.Flags().Bool("no-details", false, "")

	rc := reportConfigFromFlags(cmd, "Paris")
	assert.Equal(t, model.DefaultReportConfig("Paris"), rc)

	require.NoError(t, cmd.Flags().Set("title", "Paris 11e"))
	require.NoError(t, cmd.Flags().Set("max", "0"))
	require.NoError(t, cmd.Flags().Set("no-map", "true"))
	rc = reportConfigFromFlags(cmd, "Paris")
	assert.Equal(t, "Paris 11e", rc.Title)
	assert.Equal(t, 0, rc.MaxLocations)
	assert.False(t, rc.IncludeMap)
	assert.True(t, rc.IncludeDetails)
}

func sampleReport() *report.Report {
	r := model.NewSearchResults(model.SearchParameters{Query: "Paris", RadiusM: 1000, WalkingTime: 10}, time.Now())
	r.ID = "search-1"
	r.SetLocations(sampleLocations())
	return report.Build(r, model.DefaultReportConfig("Paris"), time.Now())
}

func TestWriteReport_IntoDirectory(t *testing.T) {
	dir := t.TempDir()

	path, err := writeReport(sampleReport(), report.FormatCSV, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "site-report-search-1.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "loc-1")
}

func TestWriteReport_ToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")

	got, err := writeReport(sampleReport(), report.FormatXLSX, path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func TestWriteReport_Shapefile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shapes")

	path, err := writeReport(sampleReport(), report.FormatShape, dir)
	require.NoError(t, err)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		_, err := os.Stat(filepath.Join(dir, "site-report-search-1"+ext))
		assert.NoError(t, err, ext)
	}
	assert.Equal(t, filepath.Join(dir, "site-report-search-1.shp"), path)
}

func TestWriteReport_ShapefileDefaultsToWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path, err := writeReport(sampleReport(), report.FormatShape, "")
	require.NoError(t, err)
	assert.Equal(t, "site-report-search-1.shp", filepath.Base(path))
	_, err = os.Stat(filepath.Join(dir, "site-report-search-1.dbf"))
	assert.NoError(t, err)
}

func TestHeatmapFeatures(t *testing.T) {
	fc := heatmapFeatures([]grid.HeatPoint{
		{Coordinate: model.Coordinate{Latitude: 48.85, Longitude: 2.35}, Density: 21000, Distance: 0},
		{Coordinate: model.Coordinate{Latitude: 48.86, Longitude: 2.36}, Density: 15000, Distance: 1320},
	})
	require.Len(t, fc.Features, 2)
	assert.Equal(t, 15000.0, fc.Features[1].Properties["density"])
	assert.InDelta(t, 2.36, fc.Features[1].Point().Lon(), 1e-12)
}
