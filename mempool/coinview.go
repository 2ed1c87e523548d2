// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zecsuite/zecd/blockchain"
	"github.com/zecsuite/zecd/wire"
)

// CoinsViewMempool is a read-only coin view that overlays the contents of a
// transaction pool on a base view, so consensus code can see the outputs of
// pending transactions.  It holds references to both and must not outlive
// either.
type CoinsViewMempool struct {
	base    blockchain.CoinsView
	mempool *TxPool
}

// Ensure CoinsViewMempool implements the blockchain.CoinsView interface.
var _ blockchain.CoinsView = (*CoinsViewMempool)(nil)

// NewCoinsViewMempool returns a view of the passed pool overlaid on the
// passed base view.
func NewCoinsViewMempool(base blockchain.CoinsView, mempool *TxPool) *CoinsViewMempool {
	return &CoinsViewMempool{
		base:    base,
		mempool: mempool,
	}
}

// AccessCoins returns the coins for the given transaction.  If an entry in
// the mempool exists, always return that one, as it's guaranteed to never
// conflict with the base view, and it cannot have pruned outputs since it is
// built from the full transaction.  Checking the base view first would risk
// returning a pruned entry instead.
func (v *CoinsViewMempool) AccessCoins(txid *chainhash.Hash) *blockchain.Coins {
	if tx := v.mempool.Get(txid); tx != nil {
		return blockchain.NewCoinsFromTx(tx.MsgTx(), MempoolHeight)
	}
	coins := v.base.AccessCoins(txid)
	if coins == nil || coins.IsPruned() {
		return nil
	}
	return coins
}

// HaveCoins returns whether the pool contains the transaction or the base
// view has coins for it.
func (v *CoinsViewMempool) HaveCoins(txid *chainhash.Hash) bool {
	return v.mempool.Exists(txid) || v.base.HaveCoins(txid)
}

// GetNullifier returns whether the nullifier has been revealed by a pool
// transaction or in the base view.
func (v *CoinsViewMempool) GetNullifier(nf *chainhash.Hash, kind wire.ShieldedType) bool {
	return v.mempool.NullifierExists(nf, kind) || v.base.GetNullifier(nf, kind)
}

// GetSproutAnchorAt defers to the base view.
func (v *CoinsViewMempool) GetSproutAnchorAt(root *chainhash.Hash) (blockchain.SproutMerkleTree, bool) {
	return v.base.GetSproutAnchorAt(root)
}

// GetSaplingAnchorAt defers to the base view.
func (v *CoinsViewMempool) GetSaplingAnchorAt(root *chainhash.Hash) bool {
	return v.base.GetSaplingAnchorAt(root)
}

// BestHeight defers to the base view.
func (v *CoinsViewMempool) BestHeight() int32 {
	return v.base.BestHeight()
}
