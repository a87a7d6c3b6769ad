package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"district-insights/internal/models"
)

// Rows is a one-shot, lazily parsed sequence of dataset rows. Iterating a
// second time yields nothing; reload the source to read it again.
type Rows struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *csv.Reader
	header []string

	mu       sync.Mutex
	consumed bool
	parsed   int
	skipped  int
	err      error
}

// Load opens src and reads its header row. Rows are parsed as they are iterated.
func Load(ctx context.Context, src Source) (*Rows, error) {
	body, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		body.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("dataset %s has no header row", src)
		}
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	return &Rows{ctx: ctx, body: body, reader: reader, header: cols}, nil
}

// Header returns the column names in file order
func (r *Rows) Header() []string {
	return append([]string(nil), r.header...)
}

// All yields every well-formed row. Records whose field count differs from
// the header, or that fail to parse, are skipped and counted. The underlying
// stream is closed when iteration ends.
func (r *Rows) All() iter.Seq[models.Row] {
	return func(yield func(models.Row) bool) {
		r.mu.Lock()
		if r.consumed {
			r.mu.Unlock()
			return
		}
		r.consumed = true
		r.mu.Unlock()

		defer r.body.Close()

		for {
			if err := r.ctx.Err(); err != nil {
				r.setErr(err)
				return
			}

			record, err := r.reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.count(false)
				continue
			}
			if err != nil {
				r.setErr(fmt.Errorf("failed to read dataset: %w", err))
				return
			}

			if len(record) != len(r.header) {
				r.count(false)
				continue
			}

			row := make(models.Row, len(record))
			for i, field := range record {
				row[r.header[i]] = models.ParseValue(field)
			}
			r.count(true)

			if !yield(row) {
				return
			}
		}
	}
}

// Collect drains the sequence into a slice
func (r *Rows) Collect() []models.Row {
	var out []models.Row
	for row := range r.All() {
		out = append(out, row)
	}
	return out
}

// Parsed returns the number of rows yielded so far
func (r *Rows) Parsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parsed
}

// Skipped returns the number of malformed rows dropped so far
func (r *Rows) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Err returns the read or cancellation error that ended iteration early, if any
func (r *Rows) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close releases the stream without iterating
func (r *Rows) Close() error {
	r.mu.Lock()
	already := r.consumed
	r.consumed = true
	r.mu.Unlock()
	if already {
		return nil
	}
	return r.body.Close()
}

func (r *Rows) count(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.parsed++
	} else {
		r.skipped++
	}
}

func (r *Rows) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}
