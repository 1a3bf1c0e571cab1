package order

// Book is a set of orders keyed by order ID that remembers the order in which
// IDs were first added.
type Book struct {
	byID   map[string]*Order
	orders []*Order
}

// NewBook returns an empty Book.
func NewBook() *Book {
	return &Book{byID: make(map[string]*Order)}
}

// Get returns the order with the given ID.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Add stores o unless an order with the same ID is already present. It reports
// whether o was stored.
func (b *Book) Add(o *Order) bool {
	if _, ok := b.byID[o.ID()]; ok {
		return false
	}
	b.byID[o.ID()] = o
	b.orders = append(b.orders, o)
	return true
}

// Len returns the number of orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// Orders returns the orders in creation order. The slice is a copy; the
// orders are shared.
func (b *Book) Orders() []*Order {
	return append([]*Order(nil), b.orders...)
}
