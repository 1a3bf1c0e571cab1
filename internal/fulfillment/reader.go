// Package fulfillment reads monthly fulfilled-shipment exports.
//
// An export is a header-keyed CSV file. Only the columns named by the Column
// constants are used; any other column is ignored. A leading UTF-8 byte order
// mark is stripped. Every other byte is kept as is, and a required field that
// is not valid UTF-8 is an error.
package fulfillment

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Export column names.
const (
	ColumnSalesChannel    = "Sales Channel"
	ColumnOrderID         = "Amazon Order Id"
	ColumnBuyerEmail      = "Buyer Email"
	ColumnPurchaseDate    = "Purchase Date"
	ColumnMerchantSKU     = "Merchant SKU"
	ColumnItemPrice       = "Item Price"
	ColumnShippedQuantity = "Shipped Quantity"
	ColumnItemTax         = "Item Tax"
)

var requiredColumns = [...]string{
	ColumnSalesChannel,
	ColumnOrderID,
	ColumnBuyerEmail,
	ColumnPurchaseDate,
	ColumnMerchantSKU,
	ColumnItemPrice,
	ColumnShippedQuantity,
	ColumnItemTax,
}

// Row is one shipment row with its raw field values. Line is the 1-based line
// number of the record in the file, the header being line 1.
type Row struct {
	Line            int
	SalesChannel    string
	OrderID         string
	BuyerEmail      string
	PurchaseDate    string
	MerchantSKU     string
	ItemPrice       string
	ShippedQuantity string
	ItemTax         string
}

// MissingColumnError indicates the header lacks a required column.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column %q", e.Column)
}

// MissingFieldError indicates a record is too short to hold a required column.
type MissingFieldError struct {
	Column string
	Line   int
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("line %d: missing field %q", e.Line, e.Column)
}

// InvalidEncodingError indicates a required field is not valid UTF-8.
type InvalidEncodingError struct {
	Column string
	Line   int
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("line %d: field %q is not valid UTF-8", e.Line, e.Column)
}

// Reader decodes Rows from an export.
type Reader struct {
	csv  *csv.Reader
	idx  [len(requiredColumns)]int
	line int
}

// NewReader reads the header from r and returns a Reader positioned at the
// first data record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	if prefix, _ := br.Peek(len(utf8BOM)); bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, errors.Wrap(err, "skip byte order mark")
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty export: no header")
		}
		return nil, errors.Wrap(err, "read header")
	}

	// A repeated column name resolves to its last occurrence.
	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.TrimSpace(name)] = i
	}

	rd := &Reader{csv: cr, line: 1}
	for i, col := range requiredColumns {
		pos, ok := positions[col]
		if !ok {
			return nil, &MissingColumnError{Column: col}
		}
		rd.idx[i] = pos
	}

	return rd, nil
}

// Next returns the next row, or io.EOF when the export is exhausted.
func (r *Reader) Next() (Row, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, errors.Wrap(err, "read record")
	}
	r.line, _ = r.csv.FieldPos(0)

	var fields [len(requiredColumns)]string
	for i, pos := range r.idx {
		if pos >= len(record) {
			return Row{}, &MissingFieldError{Column: requiredColumns[i], Line: r.line}
		}
		if !utf8.ValidString(record[pos]) {
			return Row{}, &InvalidEncodingError{Column: requiredColumns[i], Line: r.line}
		}
		fields[i] = record[pos]
	}

	return Row{
		Line:            r.line,
		SalesChannel:    fields[0],
		OrderID:         fields[1],
		BuyerEmail:      fields[2],
		PurchaseDate:    fields[3],
		MerchantSKU:     fields[4],
		ItemPrice:       fields[5],
		ShippedQuantity: fields[6],
		ItemTax:         fields[7],
	}, nil
}
