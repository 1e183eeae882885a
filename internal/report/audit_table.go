// Package report renders engine records for terminal output.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// WriteAuditTable prints entries as a table, one row per audit event.
func WriteAuditTable(w io.Writer, entries []domain.AuditEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Time (UTC)", "Event", "Direction", "Size", "Change", "Outcome")

	for _, e := range entries {
		if err := table.Append(
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.DateTime),
			e.Event,
			detailString(e.Detail, "direction"),
			detailNumber(e.Detail, "size", "%.2f"),
			detailPercent(e.Detail, "relative_change"),
			outcome(e.Detail),
		); err != nil {
			return fmt.Errorf("report: append row %d: %w", e.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	_, err := fmt.Fprintf(w, "%d entries\n", len(entries))
	return err
}

func outcome(d map[string]any) string {
	if msg := detailString(d, "error"); msg != "" {
		return msg
	}
	if id := detailString(d, "order_id"); id != "" {
		if status := detailString(d, "status"); status != "" {
			return id + " (" + status + ")"
		}
		return id
	}
	return ""
}

func detailString(d map[string]any, key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func detailNumber(d map[string]any, key, format string) string {
	switch v := d[key].(type) {
	case float64:
		return fmt.Sprintf(format, v)
	case int64:
		return fmt.Sprintf(format, float64(v))
	case int:
		return fmt.Sprintf(format, float64(v))
	default:
		return ""
	}
}

func detailPercent(d map[string]any, key string) string {
	v, ok := d[key].(float64)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%+.3f%%", v*100)
}
