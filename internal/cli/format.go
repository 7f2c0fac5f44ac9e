package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/evcraddock/street-kams/internal/visit"
)

// printJSON marshals v as indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printVisitTable prints visits as a formatted table. withOwner adds the
// KAM column for the admin listing.
func printVisitTable(out io.Writer, visits []*visit.Visit, withOwner bool) error {
	if len(visits) == 0 {
		fmt.Fprintln(out, "No visits recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "DATE\tTYPE\tZONE\tBRAND\tRESTAURANT\tLOCATION"
	if withOwner {
		header = "DATE\tKAM\tTYPE\tZONE\tBRAND\tRESTAURANT\tLOCATION"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}

	for _, v := range visits {
		row := []any{formatRecorded(v)}
		if withOwner {
			row = append(row, truncate(v.OwnerLabel, 28))
		}
		row = append(row, v.VisitType.Label(), v.Zone, v.BrandID, truncate(v.RestaurantName, 32), formatLocation(v))

		format := "%s\t%s\t%s\t%s\t%s\t%s\n"
		if withOwner {
			format = "%s\t%s\t%s\t%s\t%s\t%s\t%s\n"
		}
		if _, err := fmt.Fprintf(w, format, row...); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	fmt.Fprintf(out, "\nTotal: %d visits\n", len(visits))
	return nil
}

// printVisitSummary prints a single recorded visit.
func printVisitSummary(out io.Writer, v *visit.Visit) {
	fmt.Fprintf(out, "Visit %s\n", v.ID)
	fmt.Fprintf(out, "  Recorded:   %s\n", formatRecorded(v))
	fmt.Fprintf(out, "  Type:       %s\n", v.VisitType.Label())
	fmt.Fprintf(out, "  Zone:       %s\n", v.Zone)
	fmt.Fprintf(out, "  Restaurant: %s (%s)\n", v.RestaurantName, v.BrandID)
	fmt.Fprintf(out, "  Location:   %s\n", formatLocation(v))
	if v.PhotoEvidence != "" && v.PhotoEvidence != visit.NotApplicable {
		fmt.Fprintf(out, "  Evidence:   %s\n", v.PhotoEvidence)
	}
}

func formatRecorded(v *visit.Visit) string {
	if v.RecordedAt == nil {
		return "-"
	}
	return v.RecordedAt.Local().Format("2006-01-02 15:04")
}

// formatLocation prints coordinates at four decimals, or N/A.
func formatLocation(v *visit.Visit) string {
	if !v.HasLocation() {
		return visit.NotApplicable
	}
	s := fmt.Sprintf("%.4f, %.4f", *v.Latitude, *v.Longitude)
	if v.LocationSimulated {
		s += " (simulated)"
	}
	return s
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}
