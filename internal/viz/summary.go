package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/dynopt/internal/trajectory"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// Summary renders the headline numbers of a result in a panel.
func Summary(res *trajectory.Result) string {
	var s strings.Builder
	s.WriteString(Title.Render(strings.ToUpper(res.Problem)) + "\n\n")
	s.WriteString(MetricLabel.Render("status") + StatusStyle(res.Status).Render(res.Status) + "\n")
	if res.Message != "" {
		s.WriteString(MetricLabel.Render("") + Subtle.Render(res.Message) + "\n")
	}
	s.WriteString(row("cost", fmt.Sprintf("%.10g", res.Cost)) + "\n")
	s.WriteString(row("solver", res.Solver) + "\n")
	s.WriteString(row("iterations", fmt.Sprintf("%d", res.Iterations)) + "\n")
	s.WriteString(row("samples", fmt.Sprintf("%d (%s)", res.Len(), res.Mode)) + "\n")
	s.WriteString(row("init", res.Timings.Init.String()) + "\n")
	s.WriteString(row("sol", res.Timings.Sol.String()) + "\n")
	s.WriteString(row("post", res.Timings.Post.String()) + "\n")
	if res.Scaled {
		s.WriteString(Subtle.Render("series are scaled by their nominal values") + "\n")
	}

	if len(res.HOpt) > 0 {
		lo, hi := res.HOpt[0], res.HOpt[0]
		for _, h := range res.HOpt {
			lo, hi = min(lo, h), max(hi, h)
		}
		s.WriteString("\n" + Title.Render("ELEMENT LENGTHS") + "\n")
		s.WriteString(row("h_opt range", fmt.Sprintf("[%.4g, %.4g]", lo, hi)) + "\n")
		s.WriteString(MetricLabel.Render("") + Sparkline(res.HOpt, 40) + "\n")
	}
	section(&s, "PARAMETERS", res.Parameters)
	section(&s, "METRICS", res.Metrics)
	return Panel.Render(strings.TrimRight(s.String(), "\n"))
}

func section(s *strings.Builder, title string, values map[string]float64) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.WriteString("\n" + Title.Render(title) + "\n")
	for _, k := range keys {
		s.WriteString(row(k, fmt.Sprintf("%.6g", values[k])) + "\n")
	}
}

// StatsView renders the size of a transcription with rows by origin.
func StatsView(st transcribe.Stats) string {
	var s strings.Builder
	s.WriteString(Title.Render("TRANSCRIPTION") + "\n\n")
	s.WriteString(row("elements", fmt.Sprintf("%d", st.Elements)) + "\n")
	s.WriteString(row("colloc points", fmt.Sprintf("%d", st.Points)) + "\n")
	s.WriteString(row("variables", fmt.Sprintf("%d", st.Variables)) + "\n")
	s.WriteString(row("rows", fmt.Sprintf("%d", st.Rows)) + "\n")
	by := make(map[string]float64, len(st.ByOrigin))
	for k, v := range st.ByOrigin {
		by[k] = float64(v)
	}
	section(&s, "ROWS BY ORIGIN", by)
	return Panel.Render(strings.TrimRight(s.String(), "\n"))
}
