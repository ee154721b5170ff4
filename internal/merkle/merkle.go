package merkle

import (
	"bytes"
	"errors"
	"hash"

	"golang.org/x/crypto/sha3"
)

var (
	// proof index exceeds the batch length
	ErrOutOfRange = errors.New("leaf index out of range")
)

// Domain separation tags. Leaves and inner nodes hash under different tags so
// a leaf can never be replayed as an inner node (and vice versa); the empty
// batch commits under its own tag, distinct from any single-leaf root
const (
	tagLeaf  byte = 0x00
	tagInner byte = 0x01
	tagEmpty byte = 0x02
)

// Side of the sibling inside a proof step
type Side byte

const (
	SideLeft  Side = 0 // sibling is on the left of the climbing node
	SideRight Side = 1 // sibling is on the right
)

// One step of an inclusion proof, leaf to root
type ProofStep struct {
	Sibling []byte
	Side    Side
}

// Tree commits an ordered batch of payloads to a single root with inclusion
// proofs. The hash family is injected; it must produce 32 bytes. An odd
// trailing node at any level is duplicated (the standard Bitcoin rule)
type Tree struct {
	newHash func() hash.Hash
	leaves  [][]byte // leaf hashes, tag applied
	levels  [][][]byte
	root    []byte
}

// New builds a tree over batch with the given hash constructor;
// nil newHash selects SHA3-256
func New(batch [][]byte, newHash func() hash.Hash) *Tree {
	if newHash == nil {
		newHash = sha3.New256
	}

	t := &Tree{newHash: newHash}
	t.build(batch)
	return t
}

// Build is a one-shot helper returning only the root
func Build(batch [][]byte, newHash func() hash.Hash) []byte {
	return New(batch, newHash).Root()
}

func (t *Tree) build(batch [][]byte) {
	if len(batch) == 0 {
		t.root = t.hash1(tagEmpty, nil)
		return
	}

	leaves := make([][]byte, len(batch))
	for i, payload := range batch {
		leaves[i] = t.hash1(tagLeaf, payload)
	}
	t.leaves = leaves

	level := leaves
	t.levels = [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i] // duplicate odd trailing node
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, t.hash2(level[i], right))
		}
		level = next
		t.levels = append(t.levels, level)
	}

	t.root = level[0]
}

// Root of the committed batch. Never nil: the empty batch has a sentinel root
func (t *Tree) Root() []byte {
	out := make([]byte, len(t.root))
	copy(out, t.root)
	return out
}

// LeafCount of the committed batch
func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

// Proof returns the sibling path for leaf index, climbing to the root
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, ErrOutOfRange
	}

	proof := make([]ProofStep, 0, len(t.levels)-1)
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibIdx := pos ^ 1
		if sibIdx >= len(level) {
			sibIdx = pos // odd trailing node pairs with itself
		}

		side := SideRight
		if sibIdx < pos {
			side = SideLeft
		}

		sib := make([]byte, len(level[sibIdx]))
		copy(sib, level[sibIdx])
		proof = append(proof, ProofStep{Sibling: sib, Side: side})
		pos /= 2
	}

	return proof, nil
}

// Verify checks that payload is committed under root via proof
func (t *Tree) Verify(payload []byte, proof []ProofStep, root []byte) bool {
	cur := t.hash1(tagLeaf, payload)
	for _, step := range proof {
		if step.Side == SideLeft {
			cur = t.hash2(step.Sibling, cur)
		} else {
			cur = t.hash2(cur, step.Sibling)
		}
	}
	return bytes.Equal(cur, root)
}

// Verify is a standalone check for callers that hold no tree
func Verify(payload []byte, proof []ProofStep, root []byte, newHash func() hash.Hash) bool {
	if newHash == nil {
		newHash = sha3.New256
	}
	t := &Tree{newHash: newHash}
	return t.Verify(payload, proof, root)
}

func (t *Tree) hash1(tag byte, data []byte) []byte {
	h := t.newHash()
	h.Write([]byte{tag})
	h.Write(data)
	return h.Sum(nil)
}

func (t *Tree) hash2(left, right []byte) []byte {
	h := t.newHash()
	h.Write([]byte{tagInner})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
