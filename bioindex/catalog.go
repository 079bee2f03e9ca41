package bioindex

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
)

// Catalog is a read-mostly cache of index descriptors, refreshed wholesale
// from a CatalogSource and swapped atomically. Readers always observe a
// complete, consistent snapshot; a snapshot is never mutated in place.
type Catalog struct {
	source  CatalogSource
	indexes atomic.Pointer[map[string]Index]
}

// NewCatalog creates a catalog over the given source. Call Refresh before
// the first Lookup.
func NewCatalog(source CatalogSource) *Catalog {
	return &Catalog{source: source}
}

// Refresh loads the full index set from the source and atomically swaps the
// snapshot. In-flight readers keep the prior snapshot until their next call.
func (c *Catalog) Refresh(ctx context.Context) error {
	indexes, err := c.source.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("bioindex: refreshing catalog: %w", err)
	}

	snapshot := make(map[string]Index, len(indexes))
	for _, idx := range indexes {
		snapshot[idx.Name] = idx
	}
	c.indexes.Store(&snapshot)
	return nil
}

// Lookup returns the descriptor for a named index. Unknown names, including
// every name before the first Refresh, yield ErrIndexNotFound.
func (c *Catalog) Lookup(name string) (Index, error) {
	snapshot := c.indexes.Load()
	if snapshot == nil {
		return Index{}, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	idx, ok := (*snapshot)[name]
	if !ok {
		return Index{}, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return idx, nil
}

// Indexes returns the current snapshot's descriptors sorted by name.
func (c *Catalog) Indexes() []Index {
	snapshot := c.indexes.Load()
	if snapshot == nil {
		return nil
	}
	out := make([]Index, 0, len(*snapshot))
	for _, idx := range *snapshot {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
