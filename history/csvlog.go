package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSVLog appends tick records to a CSV file, one row per record.
type CSVLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVLog opens (or creates) the log file and writes the header when the
// file is new.
func NewCSVLog(path string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open tick log: %w", err)
	}

	l := &CSVLog{file: file, writer: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat tick log: %w", err)
	}
	if info.Size() == 0 {
		l.writer.Write([]string{
			"iso8601", "ts_ms", "controller", "entity", "sun_azimuth",
			"sun_elevation", "gamma", "sun_in_view", "strategy",
			"computed", "final", "dispatched", "reason", "command_id",
		})
		l.writer.Flush()
	}
	return l, nil
}

// Write appends one record. Errors surface on Close via the csv writer.
func (l *CSVLog) Write(rec TickRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Write([]string{
		rec.Timestamp.Format(time.RFC3339),
		strconv.FormatInt(rec.Timestamp.UnixMilli(), 10),
		rec.Controller,
		rec.EntityID,
		strconv.FormatFloat(rec.SunAzimuth, 'f', 2, 64),
		strconv.FormatFloat(rec.SunElevation, 'f', 2, 64),
		strconv.FormatFloat(rec.Gamma, 'f', 2, 64),
		strconv.FormatBool(rec.SunInView),
		rec.Strategy,
		strconv.Itoa(rec.Computed),
		strconv.Itoa(rec.Final),
		strconv.FormatBool(rec.Dispatched),
		rec.Reason,
		rec.CommandID,
	})
	l.writer.Flush()
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return fmt.Errorf("flush tick log: %w", err)
	}
	return l.file.Close()
}
