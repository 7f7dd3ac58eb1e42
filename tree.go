package hashtable

import "slices"

// nilNode is the null handle of a tree arena.
const nilNode int32 = -1

// treeNode is a red-black tree node living in a tree's arena. Links are arena
// handles, not pointers, so a whole tree can be copied with one slice copy.
//
// prev/next thread all live nodes in insertion order; iteration, splitting
// and conversion back to a chain walk that list.
type treeNode[K comparable, V any] struct {
	key   K
	value V
	seq   uint64 // insertion sequence, the final tie-break
	hash  uint32
	red   bool

	left, right, parent int32
	prev, next          int32 // next doubles as the free list link
}

// tree is a red-black tree ordered by hash, then by the key order when one
// is known, then by insertion sequence.
type tree[K comparable, V any] struct {
	nodes   []treeNode[K, V]
	root    int32
	head    int32
	tail    int32
	free    int32
	count   int
	nextSeq uint64
}

func newTree[K comparable, V any](hint int) *tree[K, V] {
	return &tree[K, V]{
		nodes: make([]treeNode[K, V], 0, hint),
		root:  nilNode,
		head:  nilNode,
		tail:  nilNode,
		free:  nilNode,
	}
}

// Len returns the number of live nodes.
func (t *tree[K, V]) Len() int {
	return t.count
}

// find returns the handle of the node holding k, or nilNode.
func (t *tree[K, V]) find(ops *keyOps[K], h uint32, k K) int32 {
	return t.findFrom(ops, t.root, h, k)
}

func (t *tree[K, V]) findFrom(ops *keyOps[K], p int32, h uint32, k K) int32 {
	for p != nilNode {
		n := &t.nodes[p]
		switch {
		case h < n.hash:
			p = n.left
		case h > n.hash:
			p = n.right
		case ops.eq(k, n.key):
			return p
		default:
			c := ops.cmp(k, n.key)
			if c < 0 {
				p = n.left
			} else if c > 0 {
				p = n.right
			} else {
				// Unordered collision: the key may be on either side.
				if q := t.findFrom(ops, n.right, h, k); q != nilNode {
					return q
				}
				p = n.left
			}
		}
	}
	return nilNode
}

// get returns the value stored for k.
func (t *tree[K, V]) get(ops *keyOps[K], h uint32, k K) (V, bool) {
	if p := t.find(ops, h, k); p != nilNode {
		return t.nodes[p].value, true
	}
	return *new(V), false
}

// less orders node a before node b.
func (t *tree[K, V]) less(ops *keyOps[K], a, b int32) bool {
	x, y := &t.nodes[a], &t.nodes[b]
	if x.hash != y.hash {
		return x.hash < y.hash
	}
	if c := ops.cmp(x.key, y.key); c != 0 {
		return c < 0
	}
	return x.seq < y.seq
}

// insert adds a node for k. The caller guarantees k is not present.
func (t *tree[K, V]) insert(ops *keyOps[K], h uint32, k K, v V) int32 {
	z := t.alloc(h, k, v)

	parent, p := nilNode, t.root
	goLeft := false
	for p != nilNode {
		parent = p
		goLeft = t.less(ops, z, p)
		if goLeft {
			p = t.nodes[p].left
		} else {
			p = t.nodes[p].right
		}
	}
	t.nodes[z].parent = parent
	switch {
	case parent == nilNode:
		t.root = z
	case goLeft:
		t.nodes[parent].left = z
	default:
		t.nodes[parent].right = z
	}

	t.pushBack(z)
	t.count++
	t.insertFixup(z)
	return z
}

// remove unlinks node z from the tree and releases its slot.
func (t *tree[K, V]) remove(z int32) {
	y, yRed := z, t.nodes[z].red
	var x, xp int32

	switch {
	case t.nodes[z].left == nilNode:
		x, xp = t.nodes[z].right, t.nodes[z].parent
		t.transplant(z, x)
	case t.nodes[z].right == nilNode:
		x, xp = t.nodes[z].left, t.nodes[z].parent
		t.transplant(z, x)
	default:
		y = t.minimum(t.nodes[z].right)
		yRed = t.nodes[y].red
		x = t.nodes[y].right
		if t.nodes[y].parent == z {
			xp = y
		} else {
			xp = t.nodes[y].parent
			t.transplant(y, x)
			t.nodes[y].right = t.nodes[z].right
			t.nodes[t.nodes[y].right].parent = y
		}
		t.transplant(z, y)
		t.nodes[y].left = t.nodes[z].left
		t.nodes[t.nodes[y].left].parent = y
		t.nodes[y].red = t.nodes[z].red
	}

	if !yRed {
		t.deleteFixup(x, xp)
	}
	t.unlink(z)
	t.release(z)
	t.count--
}

// clone returns an independent copy of t.
func (t *tree[K, V]) clone() *tree[K, V] {
	c := *t
	c.nodes = slices.Clone(t.nodes)
	return &c
}

// each visits the live nodes in insertion order until fn returns false.
func (t *tree[K, V]) each(fn func(n *treeNode[K, V]) bool) bool {
	for p := t.head; p != nilNode; p = t.nodes[p].next {
		if !fn(&t.nodes[p]) {
			return false
		}
	}
	return true
}

// split partitions the nodes by hash&bit, preserving insertion order on each
// side. When every node lands on one side, t itself is returned for it.
func (t *tree[K, V]) split(ops *keyOps[K], bit uint32) (lo, hi *tree[K, V]) {
	var nlo int
	t.each(func(n *treeNode[K, V]) bool {
		if n.hash&bit == 0 {
			nlo++
		}
		return true
	})
	switch nlo {
	case t.count:
		return t, nil
	case 0:
		return nil, t
	}
	lo, hi = newTree[K, V](nlo), newTree[K, V](t.count-nlo)
	t.each(func(n *treeNode[K, V]) bool {
		if n.hash&bit == 0 {
			lo.insert(ops, n.hash, n.key, n.value)
		} else {
			hi.insert(ops, n.hash, n.key, n.value)
		}
		return true
	})
	return lo, hi
}

// ============================================================================
// Arena and list
// ============================================================================

func (t *tree[K, V]) alloc(h uint32, k K, v V) int32 {
	n := treeNode[K, V]{
		key:    k,
		value:  v,
		seq:    t.nextSeq,
		hash:   h,
		red:    true,
		left:   nilNode,
		right:  nilNode,
		parent: nilNode,
		prev:   nilNode,
		next:   nilNode,
	}
	t.nextSeq++
	if p := t.free; p != nilNode {
		t.free = t.nodes[p].next
		t.nodes[p] = n
		return p
	}
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

// release clears the slot, so the arena holds no stale references, and
// pushes it on the free list.
func (t *tree[K, V]) release(p int32) {
	t.nodes[p] = treeNode[K, V]{
		left:   nilNode,
		right:  nilNode,
		parent: nilNode,
		prev:   nilNode,
		next:   t.free,
	}
	t.free = p
}

func (t *tree[K, V]) pushBack(p int32) {
	t.nodes[p].prev = t.tail
	t.nodes[p].next = nilNode
	if t.tail != nilNode {
		t.nodes[t.tail].next = p
	} else {
		t.head = p
	}
	t.tail = p
}

func (t *tree[K, V]) unlink(p int32) {
	prev, next := t.nodes[p].prev, t.nodes[p].next
	if prev != nilNode {
		t.nodes[prev].next = next
	} else {
		t.head = next
	}
	if next != nilNode {
		t.nodes[next].prev = prev
	} else {
		t.tail = prev
	}
}

// ============================================================================
// Red-black balancing
// ============================================================================

func (t *tree[K, V]) isRed(p int32) bool {
	return p != nilNode && t.nodes[p].red
}

func (t *tree[K, V]) minimum(p int32) int32 {
	for t.nodes[p].left != nilNode {
		p = t.nodes[p].left
	}
	return p
}

// transplant replaces the subtree rooted at u with the one rooted at v.
func (t *tree[K, V]) transplant(u, v int32) {
	up := t.nodes[u].parent
	switch {
	case up == nilNode:
		t.root = v
	case u == t.nodes[up].left:
		t.nodes[up].left = v
	default:
		t.nodes[up].right = v
	}
	if v != nilNode {
		t.nodes[v].parent = up
	}
}

func (t *tree[K, V]) rotateLeft(x int32) {
	y := t.nodes[x].right
	t.nodes[x].right = t.nodes[y].left
	if l := t.nodes[y].left; l != nilNode {
		t.nodes[l].parent = x
	}
	t.transplant(x, y)
	t.nodes[y].left = x
	t.nodes[x].parent = y
}

func (t *tree[K, V]) rotateRight(x int32) {
	y := t.nodes[x].left
	t.nodes[x].left = t.nodes[y].right
	if r := t.nodes[y].right; r != nilNode {
		t.nodes[r].parent = x
	}
	t.transplant(x, y)
	t.nodes[y].right = x
	t.nodes[x].parent = y
}

func (t *tree[K, V]) insertFixup(z int32) {
	for {
		p := t.nodes[z].parent
		if !t.isRed(p) {
			break
		}
		// p is red, so it is not the root and g exists.
		g := t.nodes[p].parent
		if p == t.nodes[g].left {
			u := t.nodes[g].right
			if t.isRed(u) {
				t.nodes[p].red = false
				t.nodes[u].red = false
				t.nodes[g].red = true
				z = g
				continue
			}
			if z == t.nodes[p].right {
				z = p
				t.rotateLeft(z)
				p = t.nodes[z].parent
			}
			t.nodes[p].red = false
			t.nodes[g].red = true
			t.rotateRight(g)
		} else {
			u := t.nodes[g].left
			if t.isRed(u) {
				t.nodes[p].red = false
				t.nodes[u].red = false
				t.nodes[g].red = true
				z = g
				continue
			}
			if z == t.nodes[p].left {
				z = p
				t.rotateRight(z)
				p = t.nodes[z].parent
			}
			t.nodes[p].red = false
			t.nodes[g].red = true
			t.rotateLeft(g)
		}
	}
	t.nodes[t.root].red = false
}

// deleteFixup restores the red-black properties after removing a black
// node. x may be nilNode, so its parent is tracked in xp.
func (t *tree[K, V]) deleteFixup(x, xp int32) {
	for x != t.root && !t.isRed(x) {
		if x == t.nodes[xp].left {
			w := t.nodes[xp].right
			if t.isRed(w) {
				t.nodes[w].red = false
				t.nodes[xp].red = true
				t.rotateLeft(xp)
				w = t.nodes[xp].right
			}
			if !t.isRed(t.nodes[w].left) && !t.isRed(t.nodes[w].right) {
				t.nodes[w].red = true
				x, xp = xp, t.nodes[xp].parent
				continue
			}
			if !t.isRed(t.nodes[w].right) {
				t.nodes[t.nodes[w].left].red = false
				t.nodes[w].red = true
				t.rotateRight(w)
				w = t.nodes[xp].right
			}
			t.nodes[w].red = t.nodes[xp].red
			t.nodes[xp].red = false
			t.nodes[t.nodes[w].right].red = false
			t.rotateLeft(xp)
			x = t.root
		} else {
			w := t.nodes[xp].left
			if t.isRed(w) {
				t.nodes[w].red = false
				t.nodes[xp].red = true
				t.rotateRight(xp)
				w = t.nodes[xp].left
			}
			if !t.isRed(t.nodes[w].left) && !t.isRed(t.nodes[w].right) {
				t.nodes[w].red = true
				x, xp = xp, t.nodes[xp].parent
				continue
			}
			if !t.isRed(t.nodes[w].left) {
				t.nodes[t.nodes[w].right].red = false
				t.nodes[w].red = true
				t.rotateLeft(w)
				w = t.nodes[xp].left
			}
			t.nodes[w].red = t.nodes[xp].red
			t.nodes[xp].red = false
			t.nodes[t.nodes[w].left].red = false
			t.rotateRight(xp)
			x = t.root
		}
	}
	if x != nilNode {
		t.nodes[x].red = false
	}
}
