// Package ledger holds the pure parts of the transaction ledger: the Merkle
// tree over transaction hashes and the adaptive checkpoint batching policy.
// Persistence lives in the storage layer.
package ledger

import "github.com/borjamoskv/cortex/internal/canonical"

// MerkleTree is a binary hash tree over an ordered list of leaf hashes.
// A lone right child duplicates the left, so odd levels pair the last node
// with itself.
type MerkleTree struct {
	leaves []string
	levels [][]string // levels[0] = leaves, last level = [root]
}

// NewMerkleTree builds the tree bottom-up. An empty leaf set yields a tree
// with no root.
func NewMerkleTree(leaves []string) *MerkleTree {
	t := &MerkleTree{leaves: leaves}
	if len(leaves) == 0 {
		return t
	}
	level := make([]string, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, canonical.HashPair(left, right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the root hash, or "" for an empty tree.
func (t *MerkleTree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// ProofStep is one sibling hash in a Merkle proof, with the side it sits on.
type ProofStep struct {
	Hash string
	Side string // "L" or "R"
}

// Proof returns the inclusion proof for the leaf at index, or nil if the
// index is out of range.
func (t *MerkleTree) Proof(index int) []ProofStep {
	if len(t.levels) == 0 || index < 0 || index >= len(t.leaves) {
		return nil
	}
	var proof []ProofStep
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		var sibling string
		var side string
		if idx%2 == 0 {
			side = "R"
			if idx+1 < len(level) {
				sibling = level[idx+1]
			} else {
				sibling = level[idx] // lone right child duplicates the left
			}
		} else {
			side = "L"
			sibling = level[idx-1]
		}
		proof = append(proof, ProofStep{Hash: sibling, Side: side})
		idx /= 2
	}
	return proof
}

// VerifyProof checks a leaf hash against a root using the proof path.
func VerifyProof(leafHash string, proof []ProofStep, root string) bool {
	current := leafHash
	for _, step := range proof {
		if step.Side == "L" {
			current = canonical.HashPair(step.Hash, current)
		} else {
			current = canonical.HashPair(current, step.Hash)
		}
	}
	return current == root
}
