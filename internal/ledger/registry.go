package ledger

// registry is the set of buyer identifiers seen so far in one ingestion run.
// Identifiers are compared byte for byte.
type registry struct {
	ids map[string]struct{}
}

func newRegistry() *registry {
	return &registry{ids: make(map[string]struct{})}
}

func (r *registry) seen(id string) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *registry) add(id string) {
	r.ids[id] = struct{}{}
}

func (r *registry) len() int {
	return len(r.ids)
}
