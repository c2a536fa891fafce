package timeline

import (
	"cmp"
	"slices"

	"github.com/babelbye/bbchat/internal/store"
)

// Merge inserts cand unless a message with the same id is already present.
// The first instance of an id always wins.
func Merge(seq []store.Message, cand store.Message) ([]store.Message, bool) {
	if contains(seq, cand.ID) {
		return seq, false
	}
	return append(seq, cand), true
}

// Absorb merges every message of batch into seq and reports how many were new.
func Absorb(seq []store.Message, batch []store.Message) ([]store.Message, int) {
	added := 0
	for _, m := range batch {
		var ok bool
		if seq, ok = Merge(seq, m); ok {
			added++
		}
	}
	return seq, added
}

// Materialize returns a copy of seq ordered by creation time. Messages with
// equal timestamps keep their insertion order.
func Materialize(seq []store.Message) []store.Message {
	out := slices.Clone(seq)
	slices.SortStableFunc(out, func(a, b store.Message) int {
		return cmp.Compare(a.CreatedAt, b.CreatedAt)
	})
	return out
}

func contains(seq []store.Message, id string) bool {
	return slices.ContainsFunc(seq, func(m store.Message) bool { return m.ID == id })
}

func indexOf(seq []store.Message, id string) int {
	return slices.IndexFunc(seq, func(m store.Message) bool { return m.ID == id })
}
