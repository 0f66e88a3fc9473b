package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportFormat selects the serialization of an export.
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportNDJSON ExportFormat = "ndjson"
	ExportCSV    ExportFormat = "csv"
)

// DefaultExportMaxRows caps a single export.
const DefaultExportMaxRows = 10000

// ParseExportFormat accepts json, ndjson and csv; empty means json.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ExportJSON, nil
	case ExportJSON, ExportNDJSON, ExportCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", ErrInvalidFilter, s)
}

// ContentType is the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportCSV:
		return "text/csv"
	case ExportNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Walk feeds fn every entry of gymID matching f, newest first, stopping
// after max entries (max <= 0 means DefaultExportMaxRows). f's paging is
// ignored.
func Walk(ctx context.Context, store Store, gymID string, f Filter, max int, fn func(Entry) error) error {
	if max <= 0 {
		max = DefaultExportMaxRows
	}
	f.Limit = MaxLimit

	seen := 0
	for f.Page = 1; ; f.Page++ {
		page, err := store.Query(ctx, gymID, f)
		if err != nil {
			return err
		}
		for _, e := range page.Logs {
			if seen == max {
				return nil
			}
			if err := fn(e); err != nil {
				return err
			}
			seen++
		}
		if f.Page >= page.Pagination.Pages || len(page.Logs) == 0 {
			return nil
		}
	}
}

// EntryWriter serializes entries one at a time. Close must be called to
// finish the document.
type EntryWriter interface {
	Write(e Entry) error
	Close() error
}

// NewEntryWriter returns a streaming writer for format.
func NewEntryWriter(format ExportFormat, w io.Writer) EntryWriter {
	switch format {
	case ExportCSV:
		return &csvWriter{w: csv.NewWriter(w)}
	case ExportNDJSON:
		return &ndjsonWriter{enc: json.NewEncoder(w)}
	default:
		return &jsonArrayWriter{w: w}
	}
}

type ndjsonWriter struct {
	enc *json.Encoder
}

func (n *ndjsonWriter) Write(e Entry) error {
	if err := n.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return nil
}

func (n *ndjsonWriter) Close() error { return nil }

type jsonArrayWriter struct {
	w       io.Writer
	started bool
}

func (j *jsonArrayWriter) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	sep := ","
	if !j.started {
		sep = "["
		j.started = true
	}
	if _, err := io.WriteString(j.w, sep); err != nil {
		return err
	}
	_, err = j.w.Write(data)
	return err
}

func (j *jsonArrayWriter) Close() error {
	closing := "]\n"
	if !j.started {
		closing = "[]\n"
	}
	_, err := io.WriteString(j.w, closing)
	return err
}

var csvHeader = []string{"id", "createdAt", "gymId", "actorUserId", "action", "entityType", "entityId", "ipAddress", "metadata"}

type csvWriter struct {
	w       *csv.Writer
	started bool
}

func (c *csvWriter) header() error {
	if c.started {
		return nil
	}
	c.started = true
	if err := c.w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	return nil
}

func (c *csvWriter) Write(e Entry) error {
	if err := c.header(); err != nil {
		return err
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	row := []string{
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.GymID,
		deref(e.ActorUserID),
		string(e.Action),
		string(e.EntityType),
		deref(e.EntityID),
		deref(e.IPAddress),
		string(metadata),
	}
	for i := range row {
		row[i] = csvCell(row[i])
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	return nil
}

func (c *csvWriter) Close() error {
	if err := c.header(); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// csvCell quotes values a spreadsheet would evaluate as a formula.
func csvCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
