package rankindex

import "iter"

// Order-statistic treap. In-order traversal yields the leaderboard from
// first to last; every node carries its subtree size so rank is a single
// root-to-leaf walk.

type node struct {
	key   Key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k Key, prio uint64) *node {
	if n == nil {
		return &node{key: k, prio: prio, size: 1}
	}
	if Compare(k, n.key) < 0 {
		n.left = insert(n.left, k, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, k Key) *node {
	if n == nil {
		return nil
	}
	switch c := Compare(k, n.key); {
	case c < 0:
		n.left = remove(n.left, k)
	case c > 0:
		n.right = remove(n.right, k)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, k)
		}
	}
	fix(n)
	return n
}

// rank returns the 1-based position of k, or 0 when absent.
func rank(n *node, k Key) int {
	before := 0
	for n != nil {
		switch c := Compare(k, n.key); {
		case c < 0:
			n = n.left
		case c > 0:
			before += nsize(n.left) + 1
			n = n.right
		default:
			return before + nsize(n.left) + 1
		}
	}
	return 0
}

// ascend yields keys in leaderboard order and stops as soon as the
// consumer does.
func ascend(root *node) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		var walk func(*node) bool
		walk = func(n *node) bool {
			if n == nil {
				return true
			}
			return walk(n.left) && yield(n.key) && walk(n.right)
		}
		walk(root)
	}
}
