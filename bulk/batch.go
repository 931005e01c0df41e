package bulk

import (
	"bytes"

	"github.com/pteich/elastic-client-kit/api"
)

type entry struct {
	item api.BulkItem
	data []byte
}

// Batch is an ordered set of items flushed in one bulk request.
type Batch struct {
	ID    int64
	items []entry
	size  int
}

func (b *Batch) add(e entry) {
	b.items = append(b.items, e)
	b.size += len(e.data)
}

func (b *Batch) Len() int { return len(b.items) }

// Size is the serialized size in bytes.
func (b *Batch) Size() int { return b.size }

func (b *Batch) Items() []api.BulkItem {
	out := make([]api.BulkItem, len(b.items))
	for i, e := range b.items {
		out[i] = e.item
	}
	return out
}

func body(entries []entry) *bytes.Reader {
	var n int
	for _, e := range entries {
		n += len(e.data)
	}
	buf := make([]byte, 0, n)
	for _, e := range entries {
		buf = append(buf, e.data...)
	}
	return bytes.NewReader(buf)
}
