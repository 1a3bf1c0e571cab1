package fulfillment

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// DefaultPrefix is the file name prefix of exports renamed to the
// amazon-fulfilled-report-{year}-{month}.csv convention.
const DefaultPrefix = "amazon-fulfilled-report"

// Batch is the export of a single calendar month.
type Batch struct {
	Dir    string
	Prefix string
	Year   int
	Month  time.Month
}

// Discover returns one Batch per month from January of fromYear through
// December of toYear, in chronological order. Files are not checked for
// existence; a missing file surfaces when the batch is read.
func Discover(dir, prefix string, fromYear, toYear int) []Batch {
	if toYear < fromYear {
		return nil
	}
	batches := make([]Batch, 0, (toYear-fromYear+1)*12)
	for year := fromYear; year <= toYear; year++ {
		for month := time.January; month <= time.December; month++ {
			batches = append(batches, Batch{Dir: dir, Prefix: prefix, Year: year, Month: month})
		}
	}
	return batches
}

// Name returns the batch file name without extension.
func (b Batch) Name() string {
	return fmt.Sprintf("%s-%04d-%02d", b.Prefix, b.Year, int(b.Month))
}

// Paths returns the candidate file paths in lookup order: plain CSV first,
// then gzip-compressed CSV.
func (b Batch) Paths() []string {
	base := filepath.Join(b.Dir, b.Name())
	return []string{base + ".csv", base + ".csv.gz"}
}

// Rows streams the batch's rows to fn in file order. If no candidate file
// exists the returned error matches fs.ErrNotExist.
func (b Batch) Rows(ctx context.Context, fn func(Row) error) error {
	f, path, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	if err := Stream(ctx, src, fn); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return nil
}

func (b Batch) open() (*os.File, string, error) {
	var firstErr error
	for _, path := range b.Paths() {
		f, err := os.Open(path)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", errors.Wrapf(err, "open %s", path)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", errors.Wrapf(firstErr, "batch %s", b.Name())
}

// Stream decodes an export from r and calls fn for each row.
func Stream(ctx context.Context, r io.Reader, fn func(Row) error) error {
	rd, err := NewReader(r)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
