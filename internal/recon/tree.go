// Package recon maintains, per sync scope, a fingerprinted ordered index
// over (created_at, id) pairs. Range fingerprints let two peers discover
// exactly where their item sets diverge in O(log n) probes; the backend
// structure is not protocol-visible, only fingerprint values and item
// order are.
package recon

import (
	"math/rand"
)

// Tree is an ordered index with cached subtree summaries. Insert, Remove
// and Fingerprint are O(log n) expected; Enumerate is O(log n + k). The
// zero value is not usable; use NewTree. Tree is not safe for concurrent
// use; Manager serializes access per scope.
type Tree struct {
	root *node
	rng  *rand.Rand
}

type node struct {
	item     Item
	priority uint64
	left     *node
	right    *node
	sum      agg
}

// NewTree returns an empty index.
func NewTree() *Tree {
	// The seed only shapes internal balance, never protocol-visible
	// state.
	return &Tree{rng: rand.New(rand.NewSource(rand.Int63()))}
}

func (n *node) recompute() {
	sum := aggOf(n.item)
	if n.left != nil {
		sum = sum.add(n.left.sum)
	}
	if n.right != nil {
		sum = sum.add(n.right.sum)
	}
	n.sum = sum
}

// split partitions t into (< pivot, >= pivot).
func split(n *node, pivot Item) (left, right *node) {
	if n == nil {
		return nil, nil
	}
	if n.item.Compare(pivot) < 0 {
		l, r := split(n.right, pivot)
		n.right = l
		n.recompute()
		return n, r
	}
	l, r := split(n.left, pivot)
	n.left = r
	n.recompute()
	return l, n
}

// merge joins two trees where every item of l precedes every item of r.
func merge(l, r *node) *node {
	switch {
	case l == nil:
		return r
	case r == nil:
		return l
	case l.priority >= r.priority:
		l.right = merge(l.right, r)
		l.recompute()
		return l
	default:
		r.left = merge(l, r.left)
		r.recompute()
		return r
	}
}

func (t *Tree) contains(it Item) bool {
	n := t.root
	for n != nil {
		switch c := it.Compare(n.item); {
		case c == 0:
			return true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	return false
}

// Insert adds an item. Inserting a present item is a no-op, mirroring the
// store's idempotent insert.
func (t *Tree) Insert(it Item) {
	if t.contains(it) {
		return
	}
	fresh := &node{item: it, priority: t.rng.Uint64()}
	fresh.recompute()
	l, r := split(t.root, it)
	t.root = merge(merge(l, fresh), r)
}

// Remove deletes an item if present. Removal exists for local pruning
// policy only; the protocol never deletes.
func (t *Tree) Remove(it Item) {
	if !t.contains(it) {
		return
	}
	// Splitting at the item and again at its successor isolates exactly
	// the removed node.
	l, r := split(t.root, it)
	_, rr := split(r, successor(it))
	t.root = merge(l, rr)
}

// successor returns the smallest representable item greater than it.
func successor(it Item) Item {
	for i := len(it.ID) - 1; i >= 0; i-- {
		it.ID[i]++
		if it.ID[i] != 0 {
			return it
		}
	}
	it.CreatedAt++
	return it
}

// Len returns the number of indexed items.
func (t *Tree) Len() int {
	if t.root == nil {
		return 0
	}
	return int(t.root.sum.count)
}

// Fingerprint summarizes the items in [lo, hi): a truncated hash plus the
// exact item count.
func (t *Tree) Fingerprint(lo, hi Item) (Fingerprint, uint64) {
	a := aggRange(t.root, lo, hi)
	return a.fingerprint(), a.count
}

func aggRange(n *node, lo, hi Item) agg {
	if n == nil || lo.Compare(hi) >= 0 {
		return agg{}
	}
	if n.item.Compare(lo) < 0 {
		return aggRange(n.right, lo, hi)
	}
	if n.item.Compare(hi) >= 0 {
		return aggRange(n.left, lo, hi)
	}
	a := aggFrom(n.left, lo)
	a = a.add(aggOf(n.item))
	return a.add(aggUntil(n.right, hi))
}

// aggFrom sums every item >= lo in the subtree.
func aggFrom(n *node, lo Item) agg {
	if n == nil {
		return agg{}
	}
	if n.item.Compare(lo) < 0 {
		return aggFrom(n.right, lo)
	}
	a := aggFrom(n.left, lo)
	a = a.add(aggOf(n.item))
	if n.right != nil {
		a = a.add(n.right.sum)
	}
	return a
}

// aggUntil sums every item < hi in the subtree.
func aggUntil(n *node, hi Item) agg {
	if n == nil {
		return agg{}
	}
	if n.item.Compare(hi) >= 0 {
		return aggUntil(n.left, hi)
	}
	var a agg
	if n.left != nil {
		a = n.left.sum
	}
	a = a.add(aggOf(n.item))
	return a.add(aggUntil(n.right, hi))
}

// Enumerate walks the items in [lo, hi) in order.
func (t *Tree) Enumerate(lo, hi Item) []Item {
	var out []Item
	enumerate(t.root, lo, hi, &out)
	return out
}

func enumerate(n *node, lo, hi Item, out *[]Item) {
	if n == nil {
		return
	}
	if n.item.Compare(lo) >= 0 {
		enumerate(n.left, lo, hi, out)
		if n.item.Compare(hi) < 0 {
			*out = append(*out, n.item)
		}
	}
	if n.item.Compare(hi) < 0 {
		enumerate(n.right, lo, hi, out)
	}
}

// SplitPoints partitions [lo, hi) into up to parts sub-ranges of nearly
// equal item count, returning the interior boundaries in order. Fewer
// boundaries come back when the range holds fewer items than parts.
func (t *Tree) SplitPoints(lo, hi Item, parts int) []Item {
	count := aggRange(t.root, lo, hi).count
	if parts < 2 || count < 2 {
		return nil
	}
	if uint64(parts) > count {
		parts = int(count)
	}

	var bounds []Item
	base := countBelow(t.root, lo)
	for i := 1; i < parts; i++ {
		rank := base + count*uint64(i)/uint64(parts)
		it, ok := selectAt(t.root, rank)
		if !ok {
			break
		}
		if len(bounds) > 0 && bounds[len(bounds)-1].Compare(it) >= 0 {
			continue
		}
		bounds = append(bounds, it)
	}
	return bounds
}

// countBelow counts items strictly before lo.
func countBelow(n *node, lo Item) uint64 {
	var count uint64
	for n != nil {
		if n.item.Compare(lo) < 0 {
			count++
			if n.left != nil {
				count += n.left.sum.count
			}
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// selectAt returns the item at the given zero-based rank in index order.
func selectAt(n *node, rank uint64) (Item, bool) {
	for n != nil {
		var leftCount uint64
		if n.left != nil {
			leftCount = n.left.sum.count
		}
		switch {
		case rank < leftCount:
			n = n.left
		case rank == leftCount:
			return n.item, true
		default:
			rank -= leftCount + 1
			n = n.right
		}
	}
	return Item{}, false
}
