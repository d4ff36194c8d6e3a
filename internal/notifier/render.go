package notifier

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"

	"datastash/internal/snapshot"

	"github.com/dustin/go-humanize"
)

// maxRenderedRows caps the rows listed per section; the rest is summarized.
const maxRenderedRows = 50

var bodyTmpl = template.Must(template.New("body").Funcs(template.FuncMap{
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
	"row": formatRow,
}).Parse(`{{.Name}}: {{comma .AddedCount}} {{plural .AddedCount "record" "records"}} added, {{comma .RemovedCount}} removed.
{{- if .Added}}

Added:
{{- range .Added}}
  + {{row .}}
{{- end}}
{{- if gt .AddedMore 0}}
  … and {{comma .AddedMore}} more
{{- end}}
{{- end}}
{{- if .Removed}}

Removed:
{{- range .Removed}}
  - {{row .}}
{{- end}}
{{- if gt .RemovedMore 0}}
  … and {{comma .RemovedMore}} more
{{- end}}
{{- end}}
`))

type renderData struct {
	Name                     string
	AddedCount, RemovedCount int
	Added, Removed           []snapshot.Row
	AddedMore, RemovedMore   int
}

// Render builds the subject and plain-text body for a recipe diff.
func Render(recipeName string, d snapshot.Diff) (subject, body string) {
	name := strings.TrimSpace(recipeName)
	if name == "" {
		name = "datastash"
	}
	subject = fmt.Sprintf("%s: +%s / -%s", name, humanize.Comma(int64(len(d.Added))), humanize.Comma(int64(len(d.Removed))))

	data := renderData{
		Name:         name,
		AddedCount:   len(d.Added),
		RemovedCount: len(d.Removed),
	}
	data.Added, data.AddedMore = capRows(d.Added)
	data.Removed, data.RemovedMore = capRows(d.Removed)

	var b strings.Builder
	if err := bodyTmpl.Execute(&b, data); err != nil {
		// The template is static; an error here is a programming bug.
		return subject, fmt.Sprintf("%s: %d added, %d removed", name, len(d.Added), len(d.Removed))
	}
	return subject, b.String()
}

func capRows(rows []snapshot.Row) ([]snapshot.Row, int) {
	if len(rows) <= maxRenderedRows {
		return rows, 0
	}
	return rows[:maxRenderedRows], len(rows) - maxRenderedRows
}

// formatRow renders a row as "k=v, k=v" with keys sorted.
func formatRow(r snapshot.Row) string {
	keys := slices.Sorted(maps.Keys(r))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r[k])
	}
	return strings.Join(parts, ", ")
}
