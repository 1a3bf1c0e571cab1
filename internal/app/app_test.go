package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/repeat-buyers/internal/aggregate"
	"github.com/xenking/repeat-buyers/internal/fulfillment"
	"github.com/xenking/repeat-buyers/internal/ledger"
	"github.com/xenking/repeat-buyers/internal/report"
)

// --- Mock implementations ---

type mockRunRepo struct {
	saved *report.Run
	err   error
}

func (m *mockRunRepo) Save(_ context.Context, run *report.Run) error {
	m.saved = run
	return m.err
}

// --- Helpers ---

const exportHeader = "shipment-date,Sales Channel,Amazon Order Id,Buyer Email,Purchase Date,Merchant SKU,Item Price,Shipped Quantity,Item Tax\n"

func writeExport(t *testing.T, dir string, year int, month time.Month, rows ...string) {
	t.Helper()
	b := fulfillment.Batch{Dir: dir, Prefix: fulfillment.DefaultPrefix, Year: year, Month: month}
	data := "\ufeff" + exportHeader + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(b.Paths()[0], []byte(data), 0o600))
}

func newTestPipeline(t *testing.T, cfg *Config, repo report.Repository, console *bytes.Buffer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(zap.NewNop(), metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider(), cfg, repo, console)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := validConfig()
	cfg.DataDir = t.TempDir()
	cfg.Report.Dir = filepath.Join(t.TempDir(), "reports")
	cfg.Report.Prefix = "repeat-buyers"
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

// --- Tests ---

func TestPipeline_SameBuyerTwiceInJanuary(t *testing.T) {
	cfg := testConfig(t)
	writeExport(t, cfg.DataDir, 2022, time.January,
		"2022-01-06,Amazon.com,A-1,new@x.com,2022-01-05T09:00:00+00:00,SKU-1,20.00,1,1.60",
		"2022-01-21,Amazon.com,A-2,new@x.com,2022-01-20T09:00:00+00:00,SKU-1,30.00,1,2.40",
	)

	var console bytes.Buffer
	repo := &mockRunRepo{}
	run, err := newTestPipeline(t, cfg, repo, &console).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Batches)
	assert.Equal(t, 23, run.MissingBatches)
	assert.Equal(t, 2, run.Orders)
	assert.Equal(t, 1, run.Customers)
	assert.Same(t, run, repo.saved)
	require.Len(t, run.Reports, 3)

	monthly := readCSV(t, filepath.Join(cfg.Report.Dir, "repeat-buyers-monthly.csv"))
	require.Len(t, monthly, 2)
	assert.Equal(t, report.Columns(aggregate.Month), monthly[0])
	assert.Equal(t, []string{"2022-01", "2", "1", "1", "1", "1.0000", "50.00", "20.00", "30.00", "0.6000"}, monthly[1])

	daily := readCSV(t, filepath.Join(cfg.Report.Dir, "repeat-buyers-daily.csv"))
	require.Len(t, daily, 3)
	assert.Equal(t, "2022-01-05", daily[1][0])
	assert.Equal(t, "0.0000", daily[1][5])
	assert.Equal(t, "2022-01-20", daily[2][0])

	quarterly := readCSV(t, filepath.Join(cfg.Report.Dir, "repeat-buyers-quarterly.csv"))
	require.Len(t, quarterly, 2)
	assert.Equal(t, "2022Q1", quarterly[1][0])

	assert.Contains(t, console.String(), "Month")
	assert.Contains(t, console.String(), "2022-01")
}

func TestPipeline_ClassificationFollowsFileOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Granularities = []string{"month"}
	cfg.Report.Console = ""
	// The March export holds a February purchase. Its buyer first ordered in
	// January, so it is returning. b@x.com only bought on another channel.
	writeExport(t, cfg.DataDir, 2021, time.December,
		"2021-12-06,Non-Amazon,S-1,b@x.com,2021-12-05T09:00:00Z,SKU-1,5.00,1,0",
	)
	writeExport(t, cfg.DataDir, 2022, time.January,
		"2022-01-06,Amazon.com,A-1,a@x.com,2022-01-05T09:00:00Z,SKU-1,10.00,1,0",
		"2022-01-06,Amazon.com,A-1,a@x.com,2022-01-05T09:00:00Z,SKU-2,5.00,1,0",
	)
	writeExport(t, cfg.DataDir, 2022, time.March,
		"2022-03-02,Amazon.com,A-3,a@x.com,2022-02-27T09:00:00Z,SKU-1,10.00,1,0",
		"2022-03-02,Amazon.com,B-1,b@x.com,2022-03-01T09:00:00Z,SKU-1,10.00,1,0",
	)

	run, err := newTestPipeline(t, cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Reports, 1)
	buckets := run.Reports[0].Buckets
	require.Len(t, buckets, 3)
	assert.Equal(t, "2022-01", buckets[0].Key)
	assert.Equal(t, "2022-02", buckets[1].Key)
	assert.Equal(t, 1, buckets[1].ReturningCustomerCount)
	assert.Equal(t, "2022-03", buckets[2].Key)
	assert.Equal(t, 0, buckets[2].ReturningCustomerCount)

	_, err = os.Stat(filepath.Join(cfg.Report.Dir, "repeat-buyers-daily.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPipeline_SortedBuckets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Granularities = []string{"month"}
	cfg.Report.Sort = true
	writeExport(t, cfg.DataDir, 2022, time.January,
		"2022-01-06,Amazon.com,A-1,a@x.com,2022-01-05T09:00:00Z,SKU-1,10.00,1,0",
		"2022-01-06,Amazon.com,A-0,z@x.com,2021-12-31T09:00:00Z,SKU-1,10.00,1,0",
	)

	run, err := newTestPipeline(t, cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)

	buckets := run.Reports[0].Buckets
	require.Len(t, buckets, 2)
	assert.Equal(t, "2021-12", buckets[0].Key)
	assert.Equal(t, "2022-01", buckets[1].Key)
}

func TestPipeline_NoBatches(t *testing.T) {
	cfg := testConfig(t)

	run, err := newTestPipeline(t, cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, run.Batches)
	assert.Equal(t, 24, run.MissingBatches)
	for _, rep := range run.Reports {
		assert.Empty(t, rep.Buckets)
	}
	monthly := readCSV(t, filepath.Join(cfg.Report.Dir, "repeat-buyers-monthly.csv"))
	assert.Len(t, monthly, 1)
}

func TestPipeline_MalformedRowIsFatal(t *testing.T) {
	cfg := testConfig(t)
	writeExport(t, cfg.DataDir, 2022, time.January,
		"2022-01-06,Amazon.com,A-1,a@x.com,2022-01-05T09:00:00Z,SKU-1,abc,1,0",
	)

	_, err := newTestPipeline(t, cfg, nil, &bytes.Buffer{}).Run(context.Background())

	var rowErr *ledger.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "amazon-fulfilled-report-2022-01", rowErr.Batch)
	assert.Equal(t, 2, rowErr.Line)
}

func TestPipeline_SaveError(t *testing.T) {
	cfg := testConfig(t)
	repo := &mockRunRepo{err: errors.New("db write failed")}

	_, err := newTestPipeline(t, cfg, repo, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save run")
}
