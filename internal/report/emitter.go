package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/repeat-buyers/internal/aggregate"
)

// DefaultPrefix is the file name prefix of written reports.
const DefaultPrefix = "repeat-buyers"

// Options configures an Emitter.
type Options struct {
	Dir    string
	Prefix string
	Format Format
}

// Emitter writes one report file per granularity.
type Emitter struct {
	lg   *zap.Logger
	opts Options
}

// NewEmitter creates an Emitter. An empty prefix or format falls back to
// DefaultPrefix and FormatCSV.
func NewEmitter(lg *zap.Logger, opts Options) *Emitter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	return &Emitter{lg: lg, opts: opts}
}

// Path returns the file the report for g is written to.
func (e *Emitter) Path(g aggregate.Granularity) string {
	name := fmt.Sprintf("%s-%s.%s", e.opts.Prefix, g.Adjective(), e.opts.Format.Ext())
	return filepath.Join(e.opts.Dir, name)
}

// Emit writes the report for g, replacing any previous file.
func (e *Emitter) Emit(g aggregate.Granularity, stats []aggregate.Stats) (path string, err error) {
	path = e.Path(g)
	if e.opts.Dir != "" {
		if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
			return "", errors.Wrapf(err, "create %s", e.opts.Dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	if err := Encode(f, e.opts.Format, g, stats); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}

	e.lg.Info("Report written",
		zap.String("granularity", string(g)),
		zap.String("path", path),
		zap.Int("buckets", len(stats)),
	)
	return path, nil
}
