package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

var csvHeader = []string{"tick", "collector_id", "name", "value"}

// CSVWriter appends export rows as CSV records.
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	cw.w.Flush()
	return cw, cw.w.Error()
}

// OpenCSVFile creates or truncates path and writes the header.
func OpenCSVFile(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv export: %w", err)
	}
	cw, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.closer = f
	return cw, nil
}

func (c *CSVWriter) WriteRows(rows []types.ExportRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rows {
		rec := []string{
			strconv.FormatUint(r.Tick, 10),
			r.CollectorID,
			r.Name,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
		}
		if err := c.w.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}

// WriteStoredCSV renders stored rows with the same columns plus created_at.
func WriteStoredCSV(w io.Writer, rows []StoredRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, csvHeader...), "created_at")); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatUint(r.Tick, 10),
			r.CollectorID,
			r.Name,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
