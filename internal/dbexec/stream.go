package dbexec

import (
	"context"
)

// DefaultFetchBatchSize is the number of rows buffered per fetch.
const DefaultFetchBatchSize = 100

// Stream reads a result set in bounded batches. It is finite and cannot be restarted.
type Stream struct {
	rows      Rows
	columns   int
	batchSize int

	batch   [][]any
	pos     int
	current []any
	done    bool
	err     error
}

// Query runs a statement and returns a stream over rows of the given width.
func Query(ctx context.Context, exec QueryExecutor, batchSize, columns int, query string, args ...any) (*Stream, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return NewStream(rows, columns, batchSize), nil
}

// NewStream wraps rows. A non-positive batch size uses DefaultFetchBatchSize.
func NewStream(rows Rows, columns, batchSize int) *Stream {
	if batchSize <= 0 {
		batchSize = DefaultFetchBatchSize
	}
	return &Stream{rows: rows, columns: columns, batchSize: batchSize}
}

// Next advances to the next row, fetching another batch when the buffer is drained.
func (s *Stream) Next() bool {
	if s.pos >= len(s.batch) {
		if s.done || !s.fill() {
			s.current = nil
			return false
		}
	}
	s.current = s.batch[s.pos]
	s.pos++
	return true
}

// Values returns the current row.
func (s *Stream) Values() []any {
	return s.current
}

// Err returns the first scan or iteration error.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying rows.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.rows.Close()
}

// Buffered reports how many fetched rows have not been consumed yet.
func (s *Stream) Buffered() int {
	return len(s.batch) - s.pos
}

func (s *Stream) fill() bool {
	s.batch = s.batch[:0]
	s.pos = 0
	for len(s.batch) < s.batchSize {
		if !s.rows.Next() {
			s.err = s.rows.Err()
			_ = s.Close()
			break
		}
		values := make([]any, s.columns)
		ptrs := make([]any, s.columns)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			s.err = err
			_ = s.Close()
			return false
		}
		s.batch = append(s.batch, values)
	}
	return len(s.batch) > 0
}
