package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/pkg/theme"
	"github.com/emiliopalmerini/msplit/internal/split"
	"github.com/emiliopalmerini/msplit/internal/util"
)

// alternativeRow is one line of an experiment report.
type alternativeRow struct {
	name       string
	control    bool
	winner     bool
	counts     domain.Counts
	z          float64
	zOK        bool
	confidence string
}

// experimentReport is everything printed for one experiment.
type experimentReport struct {
	name    string
	version int64
	started string
	winner  string
	total   domain.Counts
	rows    []alternativeRow
}

func buildReport(ctx context.Context, exp *split.Experiment) (*experimentReport, error) {
	version, err := exp.Version(ctx)
	if err != nil {
		return nil, err
	}
	start, ok, err := exp.StartTime(ctx)
	if err != nil {
		return nil, err
	}
	winner, err := exp.Winner(ctx)
	if err != nil {
		return nil, err
	}

	r := &experimentReport{
		name:    exp.Name,
		version: version,
		started: util.FormatDateISO(start, ok),
	}
	if winner != nil {
		r.winner = winner.Name
	}

	var control domain.Counts
	for i, alt := range exp.Alternatives() {
		c, err := alt.Counts(ctx)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			control = c
		}
		row := alternativeRow{
			name:    alt.Name,
			control: i == 0,
			winner:  alt.Name == r.winner,
			counts:  c,
		}
		if !row.control {
			row.z, row.zOK = domain.ZScore(c, control)
		}
		row.confidence = domain.ConfidenceLevel(row.z, row.zOK)
		r.rows = append(r.rows, row)
		r.total.Participants += c.Participants
		r.total.Completed += c.Completed
	}
	return r, nil
}

var reportHeaders = []string{"ALTERNATIVE", "PARTICIPANTS", "SHARE", "COMPLETED", "CONVERSION", "Z-SCORE", "CONFIDENCE"}

const shareBarWidth = 10

func (r *experimentReport) cells() [][]string {
	out := make([][]string, 0, len(r.rows)+1)
	for _, row := range r.rows {
		name := row.name
		if row.control {
			name += " (control)"
		}
		if row.winner {
			name += " *"
		}
		out = append(out, []string{
			name,
			util.FormatNumber(row.counts.Participants),
			theme.Bar(r.share(row), shareBarWidth),
			util.FormatNumber(row.counts.Completed),
			util.FormatPercentage(row.counts.ConversionRate()),
			util.FormatZScore(row.z, row.zOK),
			row.confidence,
		})
	}
	return out
}

// share is the fraction of all participants that saw row's alternative.
func (r *experimentReport) share(row alternativeRow) float64 {
	if r.total.Participants == 0 {
		return 0
	}
	return float64(row.counts.Participants) / float64(r.total.Participants)
}

// render writes the report as an aligned table. Padding is applied before
// styling so escape codes do not skew the columns.
func (r *experimentReport) render(w io.Writer) {
	s := theme.Default()

	fmt.Fprintln(w, s.Title.Render(r.name))
	meta := fmt.Sprintf("started %s  version %d  participants %s  completed %s",
		r.started, r.version,
		util.FormatNumber(r.total.Participants), util.FormatNumber(r.total.Completed))
	fmt.Fprintln(w, s.Muted.Render(meta))
	if r.winner != "" {
		fmt.Fprintln(w, s.Winner.Render("winner: "+r.winner))
	}

	rows := r.cells()
	widths := make([]int, len(reportHeaders))
	for i, h := range reportHeaders {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	pad := func(cells []string) []string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = c + strings.Repeat(" ", widths[i]-len(c))
		}
		return out
	}

	fmt.Fprintln(w, "  "+s.Header.Render(strings.Join(pad(reportHeaders), "  ")))
	for i, row := range rows {
		cells := pad(row)
		line := strings.Join(cells[:len(cells)-1], "  ")
		if r.rows[i].winner {
			line = s.Winner.Render(line)
		} else {
			line = s.Body.Render(line)
		}
		confidence := s.Confidence(r.rows[i].confidence).Render(cells[len(cells)-1])
		fmt.Fprintln(w, "  "+line+"  "+confidence)
	}
	fmt.Fprintln(w)
}

func printExperiment(ctx context.Context, w io.Writer, exp *split.Experiment) error {
	r, err := buildReport(ctx, exp)
	if err != nil {
		return fmt.Errorf("failed to build report for %s: %w", exp.Name, err)
	}
	r.render(w)
	return nil
}
