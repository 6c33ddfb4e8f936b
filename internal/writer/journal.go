// internal/writer/journal.go
package writer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// TimestampLayout is the journal's timestamp format (millisecond precision).
const TimestampLayout = "2006-01-02 15:04:05.000"

// CSVHeader is the column order of the CSV export.
var CSVHeader = []string{"timestamp", "function", "address", "count_or_value", "result", "exception"}

const (
	ResultOK   = "OK"
	ResultFail = "Fail"
)

// Row is one journal entry.
type Row struct {
	Timestamp    time.Time `json:"timestamp"`
	Function     string    `json:"function"`
	Address      string    `json:"address"`
	CountOrValue string    `json:"countOrValue"`
	Result       string    `json:"result"`
	Exception    string    `json:"exception,omitempty"`
}

// Line renders the row for display.
func (r Row) Line() string {
	line := fmt.Sprintf("%s | %s | addr=%s count/value=%s | %s",
		r.Timestamp.Format(TimestampLayout), r.Function, r.Address, r.CountOrValue, r.Result)
	if r.Exception != "" {
		line += " | exc=" + r.Exception
	}
	return line
}

func (r Row) record() []string {
	return []string{
		r.Timestamp.Format(TimestampLayout),
		r.Function,
		r.Address,
		r.CountOrValue,
		r.Result,
		r.Exception,
	}
}

// RowFor converts an event into its journal row.
func RowFor(ev poller.Event) Row {
	r := Row{
		Timestamp: ev.At,
		Function:  ev.Operation(),
		Result:    ResultOK,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	switch ev.Op {
	case poller.OpConnect:
		r.Address = ev.Port
		r.CountOrValue = strconv.Itoa(ev.BaudRate)
	case poller.OpDisconnect:
	default:
		r.Address = strconv.Itoa(int(ev.Address))
		r.CountOrValue = strconv.Itoa(int(ev.CountOrValue()))
	}

	if ev.Err != nil {
		r.Result = ResultFail
		r.Exception = ExceptionText(ev.Err)
	}
	// targets documented to raise an exception are labelled by what is
	// expected; the operator compares it with the exception column
	if ev.Expect != 0 {
		r.Result = fmt.Sprintf("Expect 0x%02X", ev.Expect)
	}
	return r
}

// ExceptionText renders an error for the exception column.
func ExceptionText(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := pmodbus.ExceptionCode(err); ok {
		return fmt.Sprintf("Exception 0x%02X", code)
	}
	var te *pmodbus.TransportError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	return err.Error()
}

// Journal keeps the most recent rows, oldest first.
type Journal struct {
	mu   sync.RWMutex
	rows []Row
	max  int
}

// NewJournal creates a journal holding at most maxRows rows (0 = unbounded).
func NewJournal(maxRows int) *Journal {
	return &Journal{max: maxRows}
}

// Record appends the row for ev and returns it.
func (j *Journal) Record(ev poller.Event) Row {
	r := RowFor(ev)

	j.mu.Lock()
	j.rows = append(j.rows, r)
	if j.max > 0 && len(j.rows) > j.max {
		n := copy(j.rows, j.rows[len(j.rows)-j.max:])
		j.rows = j.rows[:n]
	}
	j.mu.Unlock()
	return r
}

// Rows returns a copy of every row.
func (j *Journal) Rows() []Row {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Row, len(j.rows))
	copy(out, j.rows)
	return out
}

// Lines returns every row rendered for display.
func (j *Journal) Lines() []string {
	rows := j.Rows()
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Line()
	}
	return out
}

// Len returns the number of rows held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.rows)
}

// Clear drops every row.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.rows = nil
	j.mu.Unlock()
}

// WriteCSV exports the journal. An empty journal writes nothing.
func (j *Journal) WriteCSV(w io.Writer) error {
	rows := j.Rows()
	if len(rows) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the CSV export to path.
func (j *Journal) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("journal: create %s: %w", path, err)
	}
	if err := j.WriteCSV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: write %s: %w", path, err)
	}
	return f.Close()
}

// Run records events until ctx is done or the stream closes. onRow, if set,
// receives every recorded row.
func (j *Journal) Run(ctx context.Context, events <-chan poller.Event, onRow func(Row)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r := j.Record(ev)
			if onRow != nil {
				onRow(r)
			}
		}
	}
}
