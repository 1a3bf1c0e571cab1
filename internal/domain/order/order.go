package order

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TagAmazon marks orders whose buyer identifier is an Amazon relay address.
const TagAmazon = "amazon"

// ErrNegativeQuantity is returned when a line item ships a negative quantity.
var ErrNegativeQuantity = errors.New("shipped quantity must not be negative")

// LineItem is a single SKU entry of an order as exported by the fulfillment report.
type LineItem struct {
	SKU      string
	Price    decimal.Decimal
	Quantity int
	Tax      decimal.Decimal
}

// NewLineItem validates and builds a LineItem. Price is not validated: a
// negative price is how corrections appear in the export.
func NewLineItem(sku string, price decimal.Decimal, quantity int, tax decimal.Decimal) (LineItem, error) {
	if quantity < 0 {
		return LineItem{}, ErrNegativeQuantity
	}
	return LineItem{
		SKU:      sku,
		Price:    price,
		Quantity: quantity,
		Tax:      tax,
	}, nil
}

// Revenue returns the item's contribution to order revenue. Item Price in the
// export is already the line total, and sales tax is not revenue.
func (i LineItem) Revenue() decimal.Decimal {
	return i.Price
}

// Order aggregates every line item that shares one order identifier.
type Order struct {
	id         string
	customerID string
	date       string
	tags       []string
	items      []LineItem
	returning  bool
}

// New creates an order with no items. The returning flag is fixed here and
// never recomputed.
func New(id, customerID, date, channel string, returning bool) *Order {
	tags := []string{strings.ToLower(channel)}
	if strings.Contains(customerID, TagAmazon) {
		tags = append(tags, TagAmazon)
	}
	return &Order{
		id:         id,
		customerID: customerID,
		date:       date,
		tags:       tags,
		returning:  returning,
	}
}

// ID returns the order identifier.
func (o *Order) ID() string { return o.id }

// CustomerID returns the buyer identifier.
func (o *Order) CustomerID() string { return o.customerID }

// Date returns the purchase date as exported (ISO-8601 prefixed).
func (o *Order) Date() string { return o.date }

// IsReturning reports whether the buyer had been seen before this order was created.
func (o *Order) IsReturning() bool { return o.returning }

// Tags returns a copy of the order's labels.
func (o *Order) Tags() []string {
	return append([]string(nil), o.tags...)
}

// TagString returns the labels joined with commas.
func (o *Order) TagString() string {
	return strings.Join(o.tags, ",")
}

// Items returns a copy of the order's line items in the order they were added.
func (o *Order) Items() []LineItem {
	return append([]LineItem(nil), o.items...)
}

// AddItem appends a line item.
func (o *Order) AddItem(item LineItem) {
	o.items = append(o.items, item)
}

// Cost returns the sum of item revenue, excluding tax.
func (o *Order) Cost() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.items {
		sum = sum.Add(item.Revenue())
	}
	return sum
}
