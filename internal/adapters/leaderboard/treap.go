package leaderboard

import "math/rand/v2"

// Treap ordering: xp DESC, then userID ASC. "less" means ranks earlier, so
// an in-order walk yields the board from best to worst.

type node struct {
	id    string
	xp    int64
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

func less(aXP int64, aID string, bXP int64, bID string) bool {
	if aXP != bXP {
		return aXP > bXP
	}
	return aID < bID
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

func insert(n *node, id string, xp int64) *node {
	if n == nil {
		return &node{id: id, xp: xp, prio: rand.Uint64(), size: 1}
	}
	if less(xp, id, n.xp, n.id) {
		n.left = insert(n.left, id, xp)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, xp)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, xp int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case xp == n.xp && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, xp)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, xp)
		}
	case less(xp, id, n.xp, n.id):
		n.left = remove(n.left, id, xp)
	default:
		n.right = remove(n.right, id, xp)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes have strictly more than xp.
func countAbove(n *node, xp int64) int {
	count := 0
	for n != nil {
		if n.xp > xp {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collect appends up to limit nodes in board order.
func collect(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collect(n.right, limit, out)
	}
}
