package logparse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultProgressInterval is the number of rows between progress callbacks.
const DefaultProgressInterval = 1000

// StreamError reports a failure reading the input after the header was
// resolved. Line is the 1-based input line where reading stopped.
type StreamError struct {
	Line int
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("read log at line %d: %v", e.Line, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Progress is a point-in-time view of a running parse.
type Progress struct {
	Rows       int64
	BytesRead  int64
	TotalBytes int64
}

// Stats describes a completed parse. None of it is part of the Summary.
type Stats struct {
	Rows        int64
	FieldErrors int64
	BytesRead   int64
	Duration    time.Duration
}

// Parser turns a bid/win log stream into a Summary. The zero value is ready
// to use.
type Parser struct {
	// Logger receives field decode diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// OnProgress, if set, is called every ProgressInterval rows and once at
	// the end of the stream. It runs on the parsing goroutine.
	OnProgress       func(Progress)
	ProgressInterval int
}

// Parse reads the whole stream with a default Parser.
func Parse(ctx context.Context, r io.Reader) (*Summary, error) {
	var p Parser
	sum, _, err := p.Parse(ctx, r, 0)
	return sum, err
}

// Parse reads the header, folds every data row and returns the finalized
// summary. size is the expected input size for progress, or 0.
//
// Errors are *SchemaError when required columns are missing, *StreamError
// when the input cannot be read, and ctx.Err() when ctx is done. No summary
// is returned with an error.
func (p *Parser) Parse(ctx context.Context, r io.Reader, size int64) (*Summary, Stats, error) {
	start := time.Now()
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := p.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	in, counter := wrapInput(r)
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var stats Stats

	header, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, stats, streamError(err, 1)
	}
	schema, err := ResolveSchema(header)
	if err != nil {
		return nil, stats, err
	}

	agg := NewAggregator()
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, streamError(err, line+1)
		}
		line, _ = cr.FieldPos(0)

		rec, ferrs := schema.Decode(row)
		for _, fe := range ferrs {
			stats.FieldErrors++
			log.Debug("field decode failed",
				"line", line,
				"column", fe.Column,
				"value", fe.Value,
				"error", fe.Err,
			)
		}
		agg.Add(rec)

		if p.OnProgress != nil && agg.Records()%int64(interval) == 0 {
			p.OnProgress(Progress{Rows: agg.Records(), BytesRead: counter.BytesRead(), TotalBytes: size})
		}
	}

	summary := agg.Finalize()
	stats.Rows = summary.TotalRecords
	stats.BytesRead = counter.BytesRead()
	stats.Duration = time.Since(start)

	if p.OnProgress != nil {
		p.OnProgress(Progress{Rows: stats.Rows, BytesRead: stats.BytesRead, TotalBytes: size})
	}
	if stats.FieldErrors > 0 {
		log.Info("log parsed with field errors",
			"rows", stats.Rows,
			"field_errors", stats.FieldErrors,
		)
	}

	return summary, stats, nil
}

func streamError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line = pe.Line
	}
	return &StreamError{Line: line, Err: err}
}
