package order

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func item(t *testing.T, sku, price string, qty int, tax string) LineItem {
	t.Helper()
	li, err := NewLineItem(sku, d(price), qty, d(tax))
	require.NoError(t, err)
	return li
}

func TestNewLineItem_NegativeQuantity(t *testing.T) {
	_, err := NewLineItem("SKU-1", d("10"), -1, d("0"))
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestNewLineItem_NegativePriceAllowed(t *testing.T) {
	li, err := NewLineItem("SKU-1", d("-4.99"), 1, d("0"))
	require.NoError(t, err)
	assert.True(t, d("-4.99").Equal(li.Revenue()))
}

func TestOrder_Cost(t *testing.T) {
	tests := []struct {
		name  string
		items []LineItem
		want  decimal.Decimal
	}{
		{
			name: "no items",
			want: decimal.Zero,
		},
		{
			name:  "single item excludes tax",
			items: []LineItem{item(t, "A", "19.99", 1, "1.60")},
			want:  d("19.99"),
		},
		{
			name: "price is the line total, quantity is not multiplied",
			items: []LineItem{
				item(t, "A", "30.00", 3, "2.40"),
				item(t, "B", "5.50", 1, "0.44"),
			},
			want: d("35.50"),
		},
		{
			name: "correction lowers cost",
			items: []LineItem{
				item(t, "A", "30.00", 1, "0"),
				item(t, "A", "-10.00", 0, "0"),
			},
			want: d("20.00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New("111-1", "buyer@x.com", "2022-01-05T10:00:00+00:00", "Amazon.com", false)
			for _, it := range tt.items {
				o.AddItem(it)
			}
			assert.True(t, tt.want.Equal(o.Cost()), "got %s want %s", o.Cost(), tt.want)
			assert.Len(t, o.Items(), len(tt.items))
		})
	}
}

func TestNew_Tags(t *testing.T) {
	o := New("111-1", "abc@marketplace.amazon.com", "2022-01-05", "Amazon.com", false)
	assert.Equal(t, []string{"amazon.com", TagAmazon}, o.Tags())
	assert.Equal(t, "amazon.com,amazon", o.TagString())

	o = New("111-2", "buyer@x.com", "2022-01-05", "Amazon.com", true)
	assert.Equal(t, []string{"amazon.com"}, o.Tags())
	assert.True(t, o.IsReturning())
	assert.Equal(t, "buyer@x.com", o.CustomerID())
	assert.Equal(t, "2022-01-05", o.Date())
	assert.Equal(t, "111-2", o.ID())
}

func TestOrder_ItemsIsCopy(t *testing.T) {
	o := New("111-1", "buyer@x.com", "2022-01-05", "Amazon.com", false)
	o.AddItem(item(t, "A", "1", 1, "0"))

	items := o.Items()
	items[0].Price = d("100")

	assert.True(t, d("1").Equal(o.Cost()))
}

func TestBook(t *testing.T) {
	b := NewBook()
	first := New("A-1", "a@x.com", "2022-01-05", "Amazon.com", false)
	second := New("A-2", "b@x.com", "2022-01-06", "Amazon.com", false)

	assert.True(t, b.Add(second))
	assert.True(t, b.Add(first))
	assert.False(t, b.Add(New("A-1", "other@x.com", "2022-02-01", "Amazon.com", true)))

	got, ok := b.Get("A-1")
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = b.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []*Order{second, first}, b.Orders())
}

func TestOrder_CostProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cost equals the sum of item prices regardless of tax", prop.ForAll(
		func(prices, taxes []int64) bool {
			o := New("P-1", "buyer@x.com", "2022-01-05", "Amazon.com", false)
			want := decimal.Zero
			for i, cents := range prices {
				tax := decimal.Zero
				if i < len(taxes) {
					tax = decimal.New(taxes[i], -2)
				}
				price := decimal.New(cents, -2)
				li, err := NewLineItem("SKU", price, 1, tax)
				if err != nil {
					return false
				}
				o.AddItem(li)
				want = want.Add(price)
			}
			return o.Cost().Equal(want)
		},
		gen.SliceOf(gen.Int64Range(-100_000, 1_000_000)),
		gen.SliceOf(gen.Int64Range(0, 100_000)),
	))

	properties.TestingRun(t)
}
