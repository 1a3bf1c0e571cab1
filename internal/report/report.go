// Package report renders bucket statistics as CSV files, JSON lines, or a
// console table. Every granularity is written as an independent artifact with
// its own header.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/repeat-buyers/internal/aggregate"
)

// Format selects the file encoding of a report.
type Format string

const (
	// FormatCSV writes a header row followed by one row per bucket.
	FormatCSV Format = "csv"
	// FormatJSONL writes one JSON object per bucket, one per line.
	FormatJSONL Format = "jsonl"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	default:
		return "", errors.Wrapf(ErrUnknownFormat, "%q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// notAvailable is printed on the console for a share with a zero denominator.
const notAvailable = "n/a"

// Columns returns the report header. The first column is named after the
// bucket size.
func Columns(g aggregate.Granularity) []string {
	return []string{
		g.Label(),
		"Order Count",
		"New Customers",
		"Returning Customers",
		"Unique Customers",
		"Returning Share Of Unique",
		"Total Revenue",
		"New Customer Revenue",
		"Returning Customer Revenue",
		"Returning Revenue Share",
	}
}

// jsonFields are the object keys of a JSON lines report, in column order.
var jsonFields = [...]string{
	"key",
	"order_count",
	"new_customer_count",
	"returning_customer_count",
	"unique_customer_count",
	"returning_share_of_unique",
	"total_revenue",
	"new_customer_revenue",
	"returning_customer_revenue",
	"returning_revenue_share",
}

// Record renders one bucket as column values. Money has two decimals, shares
// four; a null share is rendered as an empty string.
func Record(s aggregate.Stats) []string {
	return []string{
		s.Key,
		strconv.Itoa(s.OrderCount),
		strconv.Itoa(s.NewCustomerCount),
		strconv.Itoa(s.ReturningCustomerCount),
		strconv.Itoa(s.UniqueCustomerCount),
		share(s.ReturningShareOfUnique),
		money(s.TotalRevenue),
		money(s.NewCustomerRevenue),
		money(s.ReturningCustomerRevenue),
		share(s.ReturningRevenueShare),
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func share(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(4)
}

// Encode writes stats to w in the given format.
func Encode(w io.Writer, f Format, g aggregate.Granularity, stats []aggregate.Stats) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, g, stats)
	case FormatJSONL:
		return WriteJSONLines(w, stats)
	default:
		return errors.Wrapf(ErrUnknownFormat, "%q", string(f))
	}
}

// WriteCSV writes a header row and one row per bucket.
func WriteCSV(w io.Writer, g aggregate.Granularity, stats []aggregate.Stats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(g)); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, s := range stats {
		if err := cw.Write(Record(s)); err != nil {
			return errors.Wrapf(err, "write bucket %s", s.Key)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	return nil
}

// WriteJSONLines writes one JSON object per bucket. Null shares are encoded
// as JSON null.
func WriteJSONLines(w io.Writer, stats []aggregate.Stats) error {
	bw := bufio.NewWriter(w)
	var e jx.Encoder
	for _, s := range stats {
		e.Reset()
		encodeStats(&e, s)
		if _, err := bw.Write(e.Bytes()); err != nil {
			return errors.Wrapf(err, "write bucket %s", s.Key)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrapf(err, "write bucket %s", s.Key)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush jsonl")
	}
	return nil
}

func encodeStats(e *jx.Encoder, s aggregate.Stats) {
	e.ObjStart()
	e.FieldStart(jsonFields[0])
	e.Str(s.Key)
	for i, n := range []int{s.OrderCount, s.NewCustomerCount, s.ReturningCustomerCount, s.UniqueCustomerCount} {
		e.FieldStart(jsonFields[1+i])
		e.Int(n)
	}
	e.FieldStart(jsonFields[5])
	encodeShare(e, s.ReturningShareOfUnique)
	for i, d := range []decimal.Decimal{s.TotalRevenue, s.NewCustomerRevenue, s.ReturningCustomerRevenue} {
		e.FieldStart(jsonFields[6+i])
		e.Raw([]byte(money(d)))
	}
	e.FieldStart(jsonFields[9])
	encodeShare(e, s.ReturningRevenueShare)
	e.ObjEnd()
}

func encodeShare(e *jx.Encoder, d decimal.NullDecimal) {
	if !d.Valid {
		e.Null()
		return
	}
	e.Raw([]byte(share(d)))
}

// Print writes stats as an aligned console table.
func Print(w io.Writer, g aggregate.Granularity, stats []aggregate.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	if _, err := fmt.Fprintln(tw, strings.Join(Columns(g), "\t")+"\t"); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, s := range stats {
		rec := Record(s)
		for _, i := range []int{5, 9} {
			if rec[i] == "" {
				rec[i] = notAvailable
			}
		}
		if _, err := fmt.Fprintln(tw, strings.Join(rec, "\t")+"\t"); err != nil {
			return errors.Wrapf(err, "write bucket %s", s.Key)
		}
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "flush table")
	}
	return nil
}
