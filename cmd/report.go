package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <search-id>",
	Short: "Render a stored search as a report",
	Long:  "Renders a stored search as JSON, YAML, GeoJSON, CSV, XLSX or a point shapefile. Shapefiles are written into the --out directory, or the current one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := st.GetSearch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "report")
		}

		rep := report.Build(results, reportConfigFromFlags(cmd, results.Params.Query), time.Now())
		path, err := writeReport(rep, format, out)
		if err != nil {
			return err
		}
		if path != "" {
			zap.L().Info("report written", zap.String("path", path), zap.String("format", string(format)))
		}
		return nil
	},
}

func reportConfigFromFlags(cmd *cobra.Command, query string) model.ReportConfig {
	rc := model.DefaultReportConfig(query)
	if title, _ := cmd.Flags().GetString("title"); title != "" {
		rc.Title = title
	}
	if cmd.Flags().Changed("max") {
		rc.MaxLocations, _ = cmd.Flags().GetInt("max")
	}
	if noMap, _ := cmd.Flags().GetBool("no-map"); noMap {
		rc.IncludeMap = false
	}
	if noDetails, _ := cmd.Flags().GetBool("no-details"); noDetails {
		rc.IncludeDetails = false
	}
	return rc
}

// writeReport renders rep to stdout when out is empty, into out when it is a
// directory, or to the file out otherwise. Shapefiles go into the directory
// out, or the working directory when out is empty. It returns the written
// path.
func writeReport(rep *report.Report, format report.Format, out string) (string, error) {
	if format == report.FormatShape {
		if out == "" {
			out = "."
		}
		if err := os.MkdirAll(out, 0o755); err != nil {
			return "", eris.Wrapf(err, "report: create %s", out)
		}
		return report.WriteShapefile(out, report.FileName(rep), rep)
	}

	if out == "" {
		return "", report.Render(os.Stdout, rep, format)
	}
	if fi, err := os.Stat(out); err == nil && fi.IsDir() {
		out = filepath.Join(out, report.FileName(rep)+format.Extension())
	}

	f, err := os.Create(out)
	if err != nil {
		return "", eris.Wrapf(err, "report: create %s", out)
	}
	if err := report.Render(f, rep, format); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "report: close %s", out)
	}
	return out, nil
}

func init() {
	reportCmd.Flags().String("format", "json", "output format: json, yaml, geojson, csv, xlsx or shp")
	reportCmd.Flags().String("out", "", "output file or directory (default stdout)")
	reportCmd.Flags().String("title", "", "report title")
	reportCmd.Flags().Int("max", 10, "max sites in the report (0 for all)")
	reportCmd.Flags().Bool("no-map", false, "omit the GeoJSON map")
	reportCmd.Flags().Bool("no-details", false, "omit per-site details and competitor lists")
	rootCmd.AddCommand(reportCmd)
}
