// Package templates renders the server-side HTML pages.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
)

// RunRow is one line of the dashboard's history table.
type RunRow struct {
	Kind       string
	Ref        string
	Document   string
	Mode       string
	Selection  string
	TableCount int
	Artifacts  []string
	Success    bool
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// DashboardParams is the data of the dashboard page.
type DashboardParams struct {
	ActiveRuns    int
	MaxConcurrent int
	Runs          []RunRow
	HistoryError  string
}

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;width:100%;font-size:.9rem}
th,td{border-bottom:1px solid #e5e7eb;padding:.4rem .6rem;text-align:left;vertical-align:top}
.ok{color:#047857}.fail{color:#b91c1c}.muted{color:#6b7280}
.alert{border:1px solid #fca5a5;background:#fef2f2;padding:1rem;border-radius:.375rem}`

func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body>`,
			templ.EscapeString(title), pageStyle); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// Dashboard lists recent extraction runs and batch jobs.
func Dashboard(p DashboardParams) templ.Component {
	return page("Table extraction", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		b.WriteString(`<h1>Table extraction</h1>`)
		fmt.Fprintf(&b, `<p class="muted">%d of %d extraction slots in use</p>`, p.ActiveRuns, p.MaxConcurrent)

		if p.HistoryError != "" {
			fmt.Fprintf(&b, `<div class="alert">History is unavailable: %s</div>`, templ.EscapeString(p.HistoryError))
		}

		if len(p.Runs) == 0 {
			b.WriteString(`<p class="muted">No extractions yet.</p>`)
			_, err := io.WriteString(w, b.String())
			return err
		}

		b.WriteString(`<table><thead><tr><th>Started</th><th>Kind</th><th>Document</th><th>Pages</th><th>Mode</th><th>Tables</th><th>Result</th><th>Spreadsheets</th></tr></thead><tbody>`)
		for _, run := range p.Runs {
			b.WriteString(`<tr>`)
			fmt.Fprintf(&b, `<td>%s<br><span class="muted">%s</span></td>`,
				run.StartedAt.Format("2006-01-02 15:04:05"), run.Duration.Round(time.Millisecond))
			fmt.Fprintf(&b, `<td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td>`,
				templ.EscapeString(run.Kind), templ.EscapeString(run.Document),
				templ.EscapeString(run.Selection), templ.EscapeString(run.Mode), run.TableCount)
			if run.Success {
				b.WriteString(`<td class="ok">ok</td>`)
			} else {
				fmt.Fprintf(&b, `<td class="fail">%s</td>`, templ.EscapeString(run.Error))
			}
			b.WriteString(`<td>`)
			for i, name := range run.Artifacts {
				if i > 0 {
					b.WriteString(`<br>`)
				}
				fmt.Fprintf(&b, `<a href="%s">%s</a>`,
					templ.EscapeString(string(templ.URL("/download/"+name))), templ.EscapeString(name))
			}
			b.WriteString(`</td></tr>`)
		}
		b.WriteString(`</tbody></table>`)

		_, err := io.WriteString(w, b.String())
		return err
	}))
}

// ErrorAlert renders a standalone error page.
func ErrorAlert(message, action, code string) templ.Component {
	return page("Error", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="alert" role="alert"><strong>%s</strong><p>%s</p><p class="muted">Code: %s</p></div>`,
			templ.EscapeString(message), templ.EscapeString(action), templ.EscapeString(code))
		return err
	}))
}
