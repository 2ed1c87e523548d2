// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SproutMerkleTree is a compact accumulator over the sprout note commitment
// tree.  Only the running root is tracked, which is sufficient for resolving
// chained joinsplit anchors: appending the commitments of one joinsplit
// yields the root the next joinsplit in the same transaction anchors to.
type SproutMerkleTree struct {
	root chainhash.Hash
}

// NewSproutMerkleTreeFromRoot returns a tree positioned at the given root.
func NewSproutMerkleTreeFromRoot(root *chainhash.Hash) SproutMerkleTree {
	return SproutMerkleTree{root: *root}
}

// Append advances the tree by one note commitment.
func (t *SproutMerkleTree) Append(commitment *chainhash.Hash) {
	combined := make([]byte, 0, chainhash.HashSize*2)
	combined = append(combined, t.root[:]...)
	combined = append(combined, commitment[:]...)
	t.root = chainhash.DoubleHashH(combined)
}

// Root returns the current root of the tree.
func (t *SproutMerkleTree) Root() chainhash.Hash {
	return t.root
}
