package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Run is one archived export as shown in a report.
type Run struct {
	ID              string
	Source          string
	Query           string
	Schema          string
	Rows            int
	Calls           int
	EndedDueToError bool
	CreatedAt       time.Time
}

// Summary contains aggregated figures over archived runs.
type Summary struct {
	TotalRuns    int
	TotalRows    int
	TotalCalls   int
	ErroredRuns  int
	RunsBySource map[string]int
	RowsBySource map[string]int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Runs         []Run
}

// GenerateSummary aggregates exports, keeping their order in Runs.
func GenerateSummary(exports []*storage.Export) Summary {
	s := Summary{
		RunsBySource: make(map[string]int),
		RowsBySource: make(map[string]int),
	}

	if len(exports) == 0 {
		return s
	}

	s.StartTime = exports[0].CreatedAt
	s.EndTime = exports[0].CreatedAt

	for _, e := range exports {
		s.TotalRuns++
		s.TotalRows += len(e.Rows)
		s.TotalCalls += e.Calls
		if e.EndedDueToError {
			s.ErroredRuns++
		}
		s.RunsBySource[e.Source]++
		s.RowsBySource[e.Source] += len(e.Rows)

		if e.CreatedAt.Before(s.StartTime) {
			s.StartTime = e.CreatedAt
		}
		if e.CreatedAt.After(s.EndTime) {
			s.EndTime = e.CreatedAt
		}

		s.Runs = append(s.Runs, Run{
			ID:              e.ID,
			Source:          e.Source,
			Query:           e.Query,
			Schema:          e.Schema,
			Rows:            len(e.Rows),
			Calls:           e.Calls,
			EndedDueToError: e.EndedDueToError,
			CreatedAt:       e.CreatedAt,
		})
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable summary followed by a table per source
// and a table of runs.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Gleaner Run Summary
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Runs:          {{.TotalRuns}} ({{.ErroredRuns}} ended on error)
Rows:          {{.TotalRows}}
Upstream:      {{.TotalCalls}} page calls
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	sources := make([]string, 0, len(summary.RunsBySource))
	for src := range summary.RunsBySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	bySource := table.NewWriter()
	bySource.SetOutputMirror(w)
	bySource.AppendHeader(table.Row{"Source", "Runs", "Rows"})
	for _, src := range sources {
		bySource.AppendRow(table.Row{src, summary.RunsBySource[src], summary.RowsBySource[src]})
	}
	bySource.SetStyle(table.StyleRounded)
	bySource.Render()

	if len(summary.Runs) == 0 {
		return nil
	}

	runs := table.NewWriter()
	runs.SetOutputMirror(w)
	runs.AppendHeader(table.Row{"Created", "Source", "Query", "Schema", "Rows", "Calls", "Error"})
	for _, r := range summary.Runs {
		errMark := ""
		if r.EndedDueToError {
			errMark = "yes"
		}
		runs.AppendRow(table.Row{
			r.CreatedAt.Format("2006-01-02 15:04"), r.Source, r.Query, r.Schema, r.Rows, r.Calls, errMark,
		})
	}
	runs.AppendFooter(table.Row{"", "", "", "Total", summary.TotalRows, summary.TotalCalls, summary.ErroredRuns})
	runs.SetStyle(table.StyleRounded)
	runs.Render()

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Gleaner Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Gleaner Run Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}}</p>

  <div class="stat-card">
    <div>Runs</div>
    <div class="stat-val">{{.TotalRuns}}</div>
  </div>
  <div class="stat-card">
    <div>Rows</div>
    <div class="stat-val">{{.TotalRows}}</div>
  </div>
  <div class="stat-card">
    <div>Ended On Error</div>
    <div class="stat-val" style="color: {{if gt .ErroredRuns 0}}red{{else}}green{{end}};">{{.ErroredRuns}}</div>
  </div>

  <h3>Runs</h3>
  <table>
    <tr><th>Created</th><th>Source</th><th>Query</th><th>Schema</th><th>Rows</th><th>Calls</th></tr>
    {{- range .Runs}}
    <tr><td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td><td>{{.Source}}</td><td>{{.Query}}</td><td>{{.Schema}}</td><td>{{.Rows}}</td><td>{{.Calls}}</td></tr>
    {{- else}}
    <tr><td colspan="6">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}
