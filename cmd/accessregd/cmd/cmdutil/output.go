package cmdutil

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// NewTable returns a tabwriter with the column layout the CLI uses and
// writes the header row.
func NewTable(out io.Writer, columns ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	return w
}

// FormatTime renders an optional timestamp for a table cell.
func FormatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// FormatOptional renders an optional string for a table cell.
func FormatOptional(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
