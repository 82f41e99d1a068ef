package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/pipeline"
)

const rule = "--------------------------------------------"

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func elapsed(secs float64) string {
	return FormatDurationShort(time.Duration(secs * float64(time.Second)))
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func header(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "============================================")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "============================================")
}

// PrintDetectReport renders a detection report for a terminal.
func PrintDetectReport(w io.Writer, r pipeline.DetectReport) {
	header(w, "Damage Detection")
	fmt.Fprintf(w, "Images: %d  With damage: %d  Failed: %d  Time: %s\n",
		r.TotalImages, r.ImagesWithDamage, r.ImagesFailed, elapsed(r.ProcessingTimeSeconds))
	fmt.Fprintln(w, rule)
	for _, d := range r.Detections {
		printDetection(w, d)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, r.MergedDamageDescription)
}

func printDetection(w io.Writer, d damage.ImageResult) {
	status := "no damage"
	if d.HasDamage {
		status = fmt.Sprintf("%d finding(s)", len(d.Damages))
	}
	fmt.Fprintf(w, "%s [%s, %.2f] %s\n", filepath.Base(d.ImageURL), d.Side, d.Confidence, status)
	if c := d.Capture; c != nil && !c.TakenAt.IsZero() {
		fmt.Fprintf(w, "   taken %s %s %s\n", c.TakenAt.Format("2006-01-02 15:04"), c.Make, c.Model)
	}
	for _, f := range d.Damages {
		fmt.Fprintf(w, "   - %s: %s %s\n", f.Part, f.Severity, f.Type)
	}
}

// PrintClassifyReport renders side groups in a stable order.
func PrintClassifyReport(w io.Writer, r pipeline.ClassifyReport) {
	header(w, "Side Classification")
	fmt.Fprintf(w, "Images: %d  Time: %s\n", r.TotalImages, elapsed(r.ProcessingTimeSeconds))
	sides := make([]string, 0, len(r.ClassifiedImages))
	for s := range r.ClassifiedImages {
		sides = append(sides, s)
	}
	sort.Strings(sides)
	for _, s := range sides {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s (%d)\n", s, len(r.ClassifiedImages[s]))
		for _, ref := range r.ClassifiedImages[s] {
			fmt.Fprintf(w, "   %s\n", ref)
		}
	}
}

// PrintEstimateReport renders the estimate grouped by category.
func PrintEstimateReport(w io.Writer, r pipeline.EstimateReport) {
	header(w, "Repair Estimate")
	fmt.Fprintf(w, "Claim: %s  Run: %s\n", r.ClaimID, r.RunID)
	if r.VehicleInfo != nil {
		fmt.Fprintf(w, "Vehicle: %s\n", r.VehicleInfo.Summary())
	}
	fmt.Fprintf(w, "Images analysed: %d  With damage: %d  Similar cases: %d  Catalog: %t  Time: %s\n",
		r.ImagesAnalyzed, r.ImagesWithDamage, len(r.RetrievedCases), r.PSSDataUsed, elapsed(r.ProcessingTimeSeconds))
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, r.MergedDescription)
	fmt.Fprintln(w, rule)

	if !r.Success {
		fmt.Fprintf(w, "Estimate failed: %s\n", r.Error)
		return
	}
	est := r.GeneratedEstimate.Estimate
	if est.Empty() {
		fmt.Fprintln(w, "No operations proposed.")
		return
	}
	for _, cat := range est.Categories() {
		fmt.Fprintln(w, cat)
		for _, op := range est[cat] {
			line := fmt.Sprintf("   %-14s %s", op.Operation, op.Description)
			if op.LaborHours != nil {
				line += fmt.Sprintf(" (%.1fh)", *op.LaborHours)
			}
			if op.PartID != "" {
				line += " #" + op.PartID
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
	fmt.Fprintf(w, "%d operation(s) across %d categories\n", est.OperationCount(), len(est))
}
