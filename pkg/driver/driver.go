// Package driver feeds a text stream through a predictor, one record per line.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hed1ad/flowguard/pkg/detectors"
	fgio "github.com/hed1ad/flowguard/pkg/io"
	"github.com/hed1ad/flowguard/pkg/io/csv"
	"github.com/hed1ad/flowguard/pkg/io/jsonl"
)

// Predictor scores a single raw line.
type Predictor interface {
	Predict(line string) (detectors.Verdict, error)
}

// Stats summarizes a finished run.
type Stats struct {
	// Lines is the number of non-blank lines read.
	Lines int
	// Results is the number of verdicts written.
	Results int
	// Anomalies is the number of verdicts labelled anomalous.
	Anomalies int
	// Errors is the number of error records written.
	Errors int
}

type options struct {
	logger *zap.Logger
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger for per-line diagnostics, logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run reads in until EOF and writes one JSON record to out per non-blank
// line, in input order. A line that cannot be scored produces an error
// record and processing continues. Run returns an error only when reading
// or writing fails, or ctx is cancelled.
func Run(ctx context.Context, in io.Reader, out io.Writer, p Predictor, opts ...Option) (Stats, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var stats Stats
	r := csv.NewReader(in)
	var w fgio.Writer = jsonl.NewWriter(out)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read line %d: %w", r.Line()+1, err)
		}
		stats.Lines++

		v, err := p.Predict(line)
		if err != nil {
			o.logger.Debug("line rejected", zap.Int("line", r.Line()), zap.Error(err))
			stats.Errors++
			if err := w.WriteError(err); err != nil {
				return stats, fmt.Errorf("write error record: %w", err)
			}
			continue
		}

		stats.Results++
		if v.IsAnomaly() {
			stats.Anomalies++
		}
		if err := w.WriteVerdict(v); err != nil {
			return stats, fmt.Errorf("write verdict: %w", err)
		}
	}

	o.logger.Info("input exhausted",
		zap.Int("lines", stats.Lines),
		zap.Int("results", stats.Results),
		zap.Int("anomalies", stats.Anomalies),
		zap.Int("errors", stats.Errors),
	)
	return stats, w.Close()
}
