package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// TimestampLayout is the DD/MM/YYYY HH:MM:SS format used in CSV exports.
const TimestampLayout = "02/01/2006 15:04:05"

var csvHeader = []string{"Trend", "Timestamp", "Success"}

// Row is one line of an exported history.
type Row struct {
	Topic     string
	Timestamp time.Time
	Succeeded bool
}

// Export writes the history as CSV in chronological order.
// The in-memory state is never modified, even if writing fails.
func (s *RunStats) Export(w io.Writer) error {
	history := s.History()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("%w: write csv header: %v", types.ErrIO, err)
	}
	for _, a := range history {
		record := []string{
			a.Topic,
			a.Timestamp.Format(TimestampLayout),
			strconv.FormatBool(a.Succeeded),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("%w: write csv row: %v", types.ErrIO, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: flush csv: %v", types.ErrIO, err)
	}
	return nil
}

// ExportFile writes the history to a CSV file at path.
func (s *RunStats) ExportFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", types.ErrIO, cerr)
		}
	}()
	return s.Export(f)
}

// ReadCSV parses an export produced by Export. Timestamps are read in loc.
func ReadCSV(r io.Reader, loc *time.Location) ([]Row, error) {
	if loc == nil {
		loc = time.Local
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty export")
		}
		return nil, err
	}
	if header[0] != csvHeader[0] {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := time.ParseInLocation(TimestampLayout, record[1], loc)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", record[1], err)
		}
		ok, err := strconv.ParseBool(record[2])
		if err != nil {
			return nil, fmt.Errorf("invalid success value %q: %w", record[2], err)
		}
		rows = append(rows, Row{Topic: record[0], Timestamp: ts, Succeeded: ok})
	}
	return rows, nil
}
