// Package ledger rebuilds orders from fulfillment rows and classifies each
// order's buyer as first-time or returning.
//
// Classification depends only on the order in which rows are ingested, not on
// purchase dates: an order is returning when its buyer appeared in any earlier
// first-party row of the same run. Sources must therefore be passed in
// chronological order. Out-of-order input is not detectable.
package ledger

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/repeat-buyers/internal/domain/order"
	"github.com/xenking/repeat-buyers/internal/fulfillment"
)

const instrumentationName = "github.com/xenking/repeat-buyers/internal/ledger"

// DefaultChannel is the first-party sales channel. Rows from other channels
// fulfilled through the same network are ignored.
const DefaultChannel = "Amazon.com"

// RowSource yields the rows of one batch in file order. A source whose backing
// file is absent returns an error matching fs.ErrNotExist.
type RowSource interface {
	Name() string
	Rows(ctx context.Context, fn func(fulfillment.Row) error) error
}

var _ RowSource = fulfillment.Batch{}

// RowError reports a malformed first-party row.
type RowError struct {
	Batch string
	Line  int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("batch %s line %d: %v", e.Batch, e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Options configures an Engine.
type Options struct {
	// Channels lists the accepted Sales Channel values. Defaults to DefaultChannel.
	Channels []string
}

// Stats counts what one Ingest call processed.
type Stats struct {
	Batches   int
	Missing   int
	Rows      int
	Filtered  int
	Orders    int
	Customers int
}

// Result is the outcome of one Ingest call.
type Result struct {
	Orders *order.Book
	Stats  Stats
}

// Engine ingests batches. It holds no per-run state, so one Engine may run
// any number of independent ingestions.
type Engine struct {
	lg       *zap.Logger
	channels map[string]struct{}
	tracer   trace.Tracer

	rowsCounter     metric.Int64Counter
	filteredCounter metric.Int64Counter
	ordersCounter   metric.Int64Counter
	missingCounter  metric.Int64Counter
}

// New creates an Engine.
func New(lg *zap.Logger, mp metric.MeterProvider, tp trace.TracerProvider, opts Options) (*Engine, error) {
	channels := opts.Channels
	if len(channels) == 0 {
		channels = []string{DefaultChannel}
	}

	e := &Engine{
		lg:       lg,
		channels: make(map[string]struct{}, len(channels)),
		tracer:   tp.Tracer(instrumentationName),
	}
	for _, ch := range channels {
		e.channels[ch] = struct{}{}
	}

	meter := mp.Meter(instrumentationName)
	var err error
	if e.rowsCounter, err = meter.Int64Counter("repeatbuyers.rows",
		metric.WithDescription("Fulfillment rows read"),
	); err != nil {
		return nil, errors.Wrap(err, "rows counter")
	}
	if e.filteredCounter, err = meter.Int64Counter("repeatbuyers.rows.filtered",
		metric.WithDescription("Rows skipped because of their sales channel"),
	); err != nil {
		return nil, errors.Wrap(err, "filtered counter")
	}
	if e.ordersCounter, err = meter.Int64Counter("repeatbuyers.orders",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if e.missingCounter, err = meter.Int64Counter("repeatbuyers.batches.missing",
		metric.WithDescription("Batches skipped because their file does not exist"),
	); err != nil {
		return nil, errors.Wrap(err, "missing counter")
	}

	return e, nil
}

// Ingest reads every source in the given order and returns the assembled
// orders. Missing sources are skipped; any other error aborts the run.
func (e *Engine) Ingest(ctx context.Context, sources ...RowSource) (*Result, error) {
	run := &ingestion{
		engine:    e,
		book:      order.NewBook(),
		customers: newRegistry(),
	}

	for _, src := range sources {
		if err := run.batch(ctx, src); err != nil {
			return nil, err
		}
	}

	run.stats.Orders = run.book.Len()
	run.stats.Customers = run.customers.len()

	return &Result{Orders: run.book, Stats: run.stats}, nil
}

// ingestion is the state of a single Ingest call.
type ingestion struct {
	engine    *Engine
	book      *order.Book
	customers *registry
	stats     Stats
}

// batchCounts is reported per batch to logs and metrics.
type batchCounts struct {
	rows     int
	filtered int
	orders   int
}

func (r *ingestion) batch(ctx context.Context, src RowSource) error {
	e := r.engine
	name := src.Name()
	attrs := metric.WithAttributes(attribute.String("batch", name))

	ctx, span := e.tracer.Start(ctx, "ledger.Batch", trace.WithAttributes(attribute.String("batch", name)))
	defer span.End()

	var counts batchCounts
	err := src.Rows(ctx, func(row fulfillment.Row) error {
		return r.row(name, row, &counts)
	})

	r.stats.Rows += counts.rows
	r.stats.Filtered += counts.filtered
	e.rowsCounter.Add(ctx, int64(counts.rows), attrs)
	e.filteredCounter.Add(ctx, int64(counts.filtered), attrs)
	e.ordersCounter.Add(ctx, int64(counts.orders), attrs)

	switch {
	case err == nil:
		r.stats.Batches++
		e.lg.Info("Batch ingested",
			zap.String("batch", name),
			zap.Int("rows", counts.rows),
			zap.Int("filtered", counts.filtered),
			zap.Int("new_orders", counts.orders),
		)
		return nil
	case counts.rows == 0 && errors.Is(err, fs.ErrNotExist):
		r.stats.Missing++
		e.missingCounter.Add(ctx, 1, attrs)
		span.SetAttributes(attribute.Bool("missing", true))
		e.lg.Info("Batch not found, skipping", zap.String("batch", name))
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest batch")
		return errors.Wrapf(recordError(name, err), "ingest batch %s", name)
	}
}

// recordError attaches the batch to reader errors that point at one record.
func recordError(batch string, err error) error {
	var (
		encErr   *fulfillment.InvalidEncodingError
		fieldErr *fulfillment.MissingFieldError
	)
	switch {
	case errors.As(err, &encErr):
		return &RowError{Batch: batch, Line: encErr.Line, Err: err}
	case errors.As(err, &fieldErr):
		return &RowError{Batch: batch, Line: fieldErr.Line, Err: err}
	default:
		return err
	}
}

func (r *ingestion) row(batch string, row fulfillment.Row, counts *batchCounts) error {
	counts.rows++
	if _, ok := r.engine.channels[row.SalesChannel]; !ok {
		counts.filtered++
		return nil
	}

	o, ok := r.book.Get(row.OrderID)
	if !ok {
		// Membership is checked before this row's buyer is registered.
		o = order.New(row.OrderID, row.BuyerEmail, row.PurchaseDate, row.SalesChannel,
			r.customers.seen(row.BuyerEmail))
		r.book.Add(o)
		counts.orders++
	}
	r.customers.add(row.BuyerEmail)

	item, err := parseLineItem(row)
	if err != nil {
		return &RowError{Batch: batch, Line: row.Line, Err: err}
	}
	o.AddItem(item)

	return nil
}

func parseLineItem(row fulfillment.Row) (order.LineItem, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(row.ItemPrice))
	if err != nil {
		return order.LineItem{}, errors.Wrapf(err, "parse %s %q", fulfillment.ColumnItemPrice, row.ItemPrice)
	}
	qty, err := strconv.Atoi(strings.TrimSpace(row.ShippedQuantity))
	if err != nil {
		return order.LineItem{}, errors.Wrapf(err, "parse %s %q", fulfillment.ColumnShippedQuantity, row.ShippedQuantity)
	}
	tax, err := decimal.NewFromString(strings.TrimSpace(row.ItemTax))
	if err != nil {
		return order.LineItem{}, errors.Wrapf(err, "parse %s %q", fulfillment.ColumnItemTax, row.ItemTax)
	}
	return order.NewLineItem(row.MerchantSKU, price, qty, tax)
}
