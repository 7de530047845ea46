package hashing

import "github.com/kilnworks/kiln-cli/internal/core/domain"

// NodeKind distinguishes leaf nodes from internal pairings.
type NodeKind int

const (
	// Leaf wraps one block digest.
	Leaf NodeKind = iota

	// Internal combines two child digests.
	Internal
)

// Node is one entry of a tree arena. Children are referenced by arena
// position, never by pointer.
type Node struct {
	Digest domain.Digest
	Depth  int
	Kind   NodeKind

	// BlockIndex is the block ordinal for leaves.
	BlockIndex uint32

	// Left and Right are child arena positions for internal nodes, -1
	// for leaves.
	Left  int
	Right int
}

// Tree is a per-document binary hash tree over an ordered block digest
// sequence. The root digest changes if and only if some block changed.
//
// Trees are built fresh from the flat digest list each scan and then
// discarded; only the per-block digest list is ever persisted. When a
// level has an odd number of nodes the last one is promoted unchanged to
// the next level, so no padding digest exists to collide with.
type Tree struct {
	nodes []Node
	root  int // arena position, -1 when empty
	leafs []int
}

// Build constructs a tree bottom-up from an ordered digest sequence.
// Deterministic: the same sequence always yields the same root digest.
// An empty sequence yields a tree with no root.
func Build(digests []domain.Digest) *Tree {
	t := &Tree{root: -1}
	if len(digests) == 0 {
		return t
	}

	t.nodes = make([]Node, 0, 2*len(digests)-1)
	t.leafs = make([]int, len(digests))

	level := make([]int, len(digests))
	for i, d := range digests {
		t.nodes = append(t.nodes, Node{
			Digest:     d,
			Depth:      0,
			Kind:       Leaf,
			BlockIndex: uint32(i),
			Left:       -1,
			Right:      -1,
		})
		level[i] = len(t.nodes) - 1
		t.leafs[i] = level[i]
	}

	depth := 0
	for len(level) > 1 {
		depth++
		next := make([]int, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			left, right := level[i], level[i+1]
			t.nodes = append(t.nodes, Node{
				Digest: Combine(t.nodes[left].Digest, t.nodes[right].Digest),
				Depth:  depth,
				Kind:   Internal,
				Left:   left,
				Right:  right,
			})
			next = append(next, len(t.nodes)-1)
		}
		if len(level)%2 == 1 {
			// Odd one out is promoted unchanged.
			next = append(next, level[len(level)-1])
		}
		level = next
	}

	t.root = level[0]
	return t
}

// Root returns the root digest. ok is false for an empty tree.
func (t *Tree) Root() (digest domain.Digest, ok bool) {
	if t.root < 0 {
		return domain.Digest{}, false
	}
	return t.nodes[t.root].Digest, true
}

// LeafCount returns the number of blocks the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.leafs)
}

// LeafDigest returns the digest of the i-th block.
func (t *Tree) LeafDigest(i int) domain.Digest {
	return t.nodes[t.leafs[i]].Digest
}

// DiffResult lists the new-tree block indices that must be reprocessed.
type DiffResult struct {
	// DirtyIndices is sorted ascending.
	DirtyIndices []uint32

	// LeafVisits counts leaf nodes examined during the diff. Equal trees
	// prune at the root and visit zero leaves.
	LeafVisits int
}

// Diff compares an old and a new tree and returns the blocks of the new
// tree that changed. Corresponding subtrees with equal digests are
// pruned without visiting their leaves.
//
// When the block counts differ the shapes no longer correspond, so the
// diff falls back to positional leaf comparison; this may over-report
// dirtiness after structural shifts but never reports a changed block as
// clean.
func Diff(old, neu *Tree) DiffResult {
	var res DiffResult

	if neu == nil || neu.LeafCount() == 0 {
		return res
	}
	if old == nil || old.LeafCount() == 0 {
		for i := range neu.leafs {
			res.DirtyIndices = append(res.DirtyIndices, uint32(i))
		}
		return res
	}

	oldRoot, _ := old.Root()
	newRoot, _ := neu.Root()
	if oldRoot == newRoot && old.LeafCount() == neu.LeafCount() {
		return res
	}

	if old.LeafCount() != neu.LeafCount() {
		diffPositional(old, neu, &res)
		return res
	}

	diffWalk(old, neu, old.root, neu.root, &res)
	return res
}

// diffWalk descends matching subtrees, pruning on digest equality.
// Shapes are identical because both trees were built over the same leaf
// count by the same deterministic pairing.
func diffWalk(old, neu *Tree, oldPos, newPos int, res *DiffResult) {
	oldNode := &old.nodes[oldPos]
	newNode := &neu.nodes[newPos]

	if oldNode.Digest == newNode.Digest {
		return
	}

	if newNode.Kind == Leaf {
		res.LeafVisits++
		res.DirtyIndices = append(res.DirtyIndices, newNode.BlockIndex)
		return
	}

	diffWalk(old, neu, oldNode.Left, newNode.Left, res)
	diffWalk(old, neu, oldNode.Right, newNode.Right, res)
}

// diffPositional compares leaves index by index for the shared prefix
// and marks every leaf past the old count as dirty.
func diffPositional(old, neu *Tree, res *DiffResult) {
	shared := old.LeafCount()
	if neu.LeafCount() < shared {
		shared = neu.LeafCount()
	}

	for i := 0; i < shared; i++ {
		res.LeafVisits++
		if old.LeafDigest(i) != neu.LeafDigest(i) {
			res.DirtyIndices = append(res.DirtyIndices, uint32(i))
		}
	}
	for i := shared; i < neu.LeafCount(); i++ {
		res.LeafVisits++
		res.DirtyIndices = append(res.DirtyIndices, uint32(i))
	}
}
