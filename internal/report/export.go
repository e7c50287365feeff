package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding of a report.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatShape   Format = "shp"
)

// ParseFormat accepts a format name case-insensitively. An empty name is JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case "yml":
		return FormatYAML, nil
	case FormatJSON, FormatYAML, FormatGeoJSON, FormatCSV, FormatXLSX, FormatShape:
		return f, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatShape:
		return "application/octet-stream"
	default:
		return "application/json"
	}
}

// Extension is the file name suffix of the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// Render writes rep to w. Shapefiles are multi-file and go through
// WriteShapefile instead.
func Render(w io.Writer, rep *Report, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(rep), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: close yaml")
	case FormatGeoJSON:
		return WriteGeoJSON(w, rep)
	case FormatCSV:
		return WriteCSV(w, rep)
	case FormatXLSX:
		return WriteXLSX(w, rep)
	case FormatShape:
		return eris.New("report: shapefile output needs a directory, use WriteShapefile")
	default:
		return eris.Errorf("report: unknown format %q", f)
	}
}

// WriteGeoJSON writes the site map, building it when the report was made
// without one.
func WriteGeoJSON(w io.Writer, rep *Report) error {
	fc := rep.Map
	if fc == nil {
		fc = Map(entryLocations(rep))
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "report: encode geojson")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "report: write geojson")
}

var csvHeader = []string{
	"ID", "Address", "Latitude", "Longitude", "Population (walking)",
	"Nearest competitor distance (m)", "Nearest competitor", "Density", "Score",
}

// NoCompetitorDistance is printed when no competitor was found in range.
const NoCompetitorDistance = ">1000"

// NoCompetitorName is printed when no competitor was found in range.
const NoCompetitorName = "none"

// Row returns the flat export row of an entry in csvHeader order.
func (e Entry) Row() []string {
	dist, name := NoCompetitorDistance, NoCompetitorName
	if e.NearestCompetitorDistance != nil {
		dist = strconv.FormatFloat(*e.NearestCompetitorDistance, 'f', 0, 64)
	}
	if e.NearestCompetitor != "" {
		name = e.NearestCompetitor
	}
	return []string{
		e.ID,
		e.Address,
		strconv.FormatFloat(e.Coordinate.Latitude, 'f', -1, 64),
		strconv.FormatFloat(e.Coordinate.Longitude, 'f', -1, 64),
		strconv.Itoa(e.Population),
		dist,
		name,
		strconv.FormatFloat(e.DensityIndex, 'f', 0, 64),
		strconv.FormatFloat(e.Score, 'f', 2, 64),
	}
}

// WriteCSV writes one row per ranked site.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, e := range rep.Entries {
		if err := cw.Write(e.Row()); err != nil {
			return eris.Wrapf(err, "report: write csv row %d", e.Rank)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteXLSX writes a workbook with a ranked "Sites" sheet and a
// "Competitors" sheet.
func WriteXLSX(w io.Writer, rep *Report) error {
	f := xlsx.NewFile()

	sites, err := f.AddSheet("Sites")
	if err != nil {
		return eris.Wrap(err, "report: add sites sheet")
	}
	header := sites.AddRow()
	for _, h := range append([]string{"Rank"}, append(csvHeader, "Band")...) {
		header.AddCell().SetString(h)
	}
	for _, e := range rep.Entries {
		row := sites.AddRow()
		row.AddCell().SetInt(e.Rank)
		row.AddCell().SetString(e.ID)
		row.AddCell().SetString(e.Address)
		row.AddCell().SetFloat(e.Coordinate.Latitude)
		row.AddCell().SetFloat(e.Coordinate.Longitude)
		row.AddCell().SetInt(e.Population)
		if e.NearestCompetitorDistance != nil {
			row.AddCell().SetFloat(*e.NearestCompetitorDistance)
		} else {
			row.AddCell().SetString(NoCompetitorDistance)
		}
		name := e.NearestCompetitor
		if name == "" {
			name = NoCompetitorName
		}
		row.AddCell().SetString(name)
		row.AddCell().SetFloat(e.DensityIndex)
		row.AddCell().SetFloat(e.Score)
		row.AddCell().SetString(string(e.Band))
	}

	competitors, err := f.AddSheet("Competitors")
	if err != nil {
		return eris.Wrap(err, "report: add competitors sheet")
	}
	header = competitors.AddRow()
	for _, h := range []string{"Site ID", "Name", "Address", "Latitude", "Longitude", "Distance (m)"} {
		header.AddCell().SetString(h)
	}
	for _, e := range rep.Entries {
		for _, c := range e.Competitors {
			row := competitors.AddRow()
			row.AddCell().SetString(e.ID)
			row.AddCell().SetString(c.Name)
			row.AddCell().SetString(c.Address)
			row.AddCell().SetFloat(c.Coordinate.Latitude)
			row.AddCell().SetFloat(c.Coordinate.Longitude)
			row.AddCell().SetFloat(c.Distance)
		}
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

// Shapefile attribute names are limited to 10 characters.
var shapeFields = []shp.Field{
	shp.NumberField("RANK", 4),
	shp.StringField("ID", 40),
	shp.StringField("ADDRESS", 200),
	shp.NumberField("POPULATION", 10),
	shp.FloatField("NEAREST_M", 12, 1),
	shp.FloatField("DENSITY", 12, 2),
	shp.FloatField("SCORE", 8, 4),
	shp.StringField("BAND", 10),
}

// WriteShapefile writes the ranked sites as a point shapefile named
// <name>.shp (plus .shx and .dbf) in dir and returns the .shp path. A site
// without competitors has NEAREST_M = -1.
func WriteShapefile(dir, name string, rep *Report) (string, error) {
	path := filepath.Join(dir, name+".shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return "", eris.Wrapf(err, "report: create shapefile %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shapeFields); err != nil {
		return "", eris.Wrap(err, "report: set shapefile fields")
	}
	for _, e := range rep.Entries {
		idx := int(w.Write(&shp.Point{X: e.Coordinate.Longitude, Y: e.Coordinate.Latitude}))
		nearest := -1.0
		if e.NearestCompetitorDistance != nil {
			nearest = *e.NearestCompetitorDistance
		}
		attrs := []any{e.Rank, e.ID, truncate(e.Address, 200), e.Population, nearest, e.DensityIndex, e.Score, string(e.Band)}
		for field, v := range attrs {
			if err := w.WriteAttribute(idx, field, v); err != nil {
				return "", eris.Wrapf(err, "report: write shapefile attribute %d of site %d", field, e.Rank)
			}
		}
	}
	return path, nil
}

// FileName is a filesystem-safe base name for a report export.
func FileName(rep *Report) string {
	id := rep.SearchID
	if id == "" {
		id = rep.GeneratedAt.Format("20060102-150405")
	}
	return fmt.Sprintf("site-report-%s", id)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for len(s) > n {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}
