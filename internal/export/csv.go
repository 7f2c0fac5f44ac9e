// Package export serializes visits to semicolon-separated CSV and runs the
// two-step export: save locally, then upload to blob storage.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/evcraddock/street-kams/internal/visit"
)

const (
	// Separator between fields.
	Separator = ";"
	// ContentType of an exported file.
	ContentType = "text/csv"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var leadingHeaders = []string{
	"ID", "KAM ID", "KAM Email", "Tipo Visita", "Zona", "Brand ID", "Nombre Restaurante",
	"Decision Maker", "Evidencia", "Latitud", "Longitud", "Ubicación Simulada",
}

var trailingHeaders = []string{"Detalles", "Timestamp"}

// Header returns the column names for schema, in row order.
func Header(schema *visit.Schema) []string {
	h := append([]string(nil), leadingHeaders...)
	if schema.HasCampaigns() {
		h = append(h, schema.CampaignsColumn)
	}
	for _, f := range schema.Fields {
		h = append(h, f.Column)
	}
	return append(h, trailingHeaders...)
}

// Row returns the serialized fields of v. Free-text fields come back quoted.
func Row(v *visit.Visit, schema *visit.Schema) []string {
	simulated := "No"
	if v.LocationSimulated {
		simulated = "Sí"
	}

	r := []string{
		orNA(v.ID),
		orNA(v.OwnerID),
		Quote(orNA(v.OwnerLabel)),
		orNA(string(v.VisitType)),
		orNA(v.Zone),
		Quote(orNA(v.BrandID)),
		Quote(orNA(v.RestaurantName)),
		Quote(orNA(v.DecisionMaker)),
		Quote(orNA(v.PhotoEvidence)),
		coordinate(v.Latitude),
		coordinate(v.Longitude),
		simulated,
	}
	if schema.HasCampaigns() {
		r = append(r, orNA(strings.Join(v.Campaigns, ", ")))
	}
	for _, f := range schema.Fields {
		val := orNA(v.Answer(f.Name))
		if f.Kind == visit.Text {
			val = Quote(val)
		}
		r = append(r, val)
	}
	return append(r, Quote(v.Details), timestamp(v.RecordedAt))
}

// Encode writes the header and one row per visit. Rows are separated by a
// single line feed with no trailing newline.
func Encode(w io.Writer, visits []*visit.Visit, schema *visit.Schema) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(Header(schema), Separator)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, v := range visits {
		if _, err := bw.WriteString("\n" + strings.Join(Row(v, schema), Separator)); err != nil {
			return fmt.Errorf("writing row %s: %w", v.ID, err)
		}
	}
	return bw.Flush()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Quote wraps s in double quotes, doubling embedded quotes and collapsing
// each CR, LF or CRLF to one space.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(lineBreaks.Replace(s), `"`, `""`) + `"`
}

// FileName names an export taken at t, to the second.
func FileName(t time.Time) string {
	return "Visitas_KAM_Exportado_" + t.UTC().Format("2006-01-02_15-04-05") + ".csv"
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return visit.NotApplicable
	}
	return s
}

func coordinate(f *float64) string {
	if f == nil {
		return visit.NotApplicable
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func timestamp(t *time.Time) string {
	if t == nil {
		return visit.NotApplicable
	}
	return t.UTC().Format(timestampLayout)
}
