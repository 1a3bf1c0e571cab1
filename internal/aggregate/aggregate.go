// Package aggregate groups orders into day, month, or quarter buckets and
// computes first-time versus returning customer statistics per bucket.
package aggregate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/repeat-buyers/internal/domain/order"
)

// Granularity selects the bucket size.
type Granularity string

const (
	Day     Granularity = "day"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
)

// Granularities lists every supported granularity from finest to coarsest.
var Granularities = []Granularity{Day, Month, Quarter}

// ErrUnknownGranularity is returned for an unsupported granularity name.
var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity accepts both the bucket name ("month") and the report
// name ("monthly").
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "daily":
		return Day, nil
	case "month", "monthly":
		return Month, nil
	case "quarter", "quarterly":
		return Quarter, nil
	default:
		return "", errors.Wrapf(ErrUnknownGranularity, "%q", s)
	}
}

// Adjective returns the report name: daily, monthly, or quarterly.
func (g Granularity) Adjective() string {
	if g == Day {
		return "daily"
	}
	return string(g) + "ly"
}

// Label returns the capitalized bucket name used as a column header.
func (g Granularity) Label() string {
	if g == "" {
		return ""
	}
	return strings.ToUpper(string(g[:1])) + string(g[1:])
}

// Key derives the bucket key of an ISO-8601 prefixed date: YYYY-MM-DD for
// days, YYYY-MM for months, YYYYQn for quarters.
func (g Granularity) Key(date string) (string, error) {
	switch g {
	case Day:
		return prefix(date, 10), nil
	case Month:
		return prefix(date, 7), nil
	case Quarter:
		t, err := time.Parse(time.DateOnly, prefix(date, 10))
		if err != nil {
			return "", errors.Wrapf(err, "parse date %q", date)
		}
		return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1), nil
	default:
		return "", errors.Wrapf(ErrUnknownGranularity, "%q", string(g))
	}
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// Stats summarizes the orders of one bucket. The share fields are null when
// their denominator is zero.
type Stats struct {
	Key                      string
	OrderCount               int
	NewCustomerCount         int
	ReturningCustomerCount   int
	UniqueCustomerCount      int
	ReturningShareOfUnique   decimal.NullDecimal
	TotalRevenue             decimal.Decimal
	NewCustomerRevenue       decimal.Decimal
	ReturningCustomerRevenue decimal.Decimal
	ReturningRevenueShare    decimal.NullDecimal
}

// Aggregate buckets orders by g. Buckets are returned in the order their key
// is first met while scanning orders; use SortByKey for chronological order.
func Aggregate(orders []*order.Order, g Granularity) ([]Stats, error) {
	var keys []string
	groups := make(map[string][]*order.Order)
	for _, o := range orders {
		key, err := g.Key(o.Date())
		if err != nil {
			return nil, errors.Wrapf(err, "order %s", o.ID())
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], o)
	}

	stats := make([]Stats, 0, len(keys))
	for _, key := range keys {
		stats = append(stats, summarize(key, groups[key]))
	}
	return stats, nil
}

func summarize(key string, orders []*order.Order) Stats {
	s := Stats{
		Key:                      key,
		OrderCount:               len(orders),
		TotalRevenue:             decimal.Zero,
		NewCustomerRevenue:       decimal.Zero,
		ReturningCustomerRevenue: decimal.Zero,
	}

	customers := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		customers[o.CustomerID()] = struct{}{}
		cost := o.Cost()
		s.TotalRevenue = s.TotalRevenue.Add(cost)
		if o.IsReturning() {
			s.ReturningCustomerCount++
			s.ReturningCustomerRevenue = s.ReturningCustomerRevenue.Add(cost)
		} else {
			s.NewCustomerCount++
			s.NewCustomerRevenue = s.NewCustomerRevenue.Add(cost)
		}
	}
	s.UniqueCustomerCount = len(customers)

	s.ReturningShareOfUnique = ratio(
		decimal.NewFromInt(int64(s.ReturningCustomerCount)),
		decimal.NewFromInt(int64(s.UniqueCustomerCount)),
	)
	s.ReturningRevenueShare = ratio(s.ReturningCustomerRevenue, s.TotalRevenue)

	return s
}

func ratio(num, den decimal.Decimal) decimal.NullDecimal {
	if den.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(num.Div(den))
}

// SortByKey orders buckets chronologically. Every key shape sorts
// lexicographically in calendar order.
func SortByKey(stats []Stats) {
	slices.SortStableFunc(stats, func(a, b Stats) int {
		return strings.Compare(a.Key, b.Key)
	})
}
