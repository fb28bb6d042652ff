package job

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates an export format; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q (supported: json, csv)", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

var csvHeader = []string{"job_id", "tenant_id", "request_type", "status", "input", "result", "error_message", "created_at", "updated_at"}

// Export writes every job matching f. Limit and offset are ignored.
func (t *Tracker) Export(ctx context.Context, w io.Writer, format Format, f Filter) error {
	f.Limit, f.Offset = 0, 0
	page, err := t.store.Search(ctx, f)
	if err != nil {
		return err
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, page.Jobs)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page.Jobs)
	}
}

func writeCSV(w io.Writer, jobs []*Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, j := range jobs {
		input, err := jsonCell(j.Input)
		if err != nil {
			return err
		}
		result, err := jsonCell(j.Result)
		if err != nil {
			return err
		}
		record := []string{
			j.ID, j.TenantID, j.RequestType, string(j.Status), input, result, j.ErrorMessage,
			j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func jsonCell(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode export cell: %w", err)
	}
	return string(data), nil
}
