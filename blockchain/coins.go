// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zecsuite/zecd/wire"
)

// Coins represents the unspent transparent outputs of a single transaction.
// Spent outputs are nil entries in the Outputs slice, mirroring how a
// database-backed view prunes them in place.
type Coins struct {
	// Outputs holds one entry per output of the source transaction.  A nil
	// entry means the output has been spent.
	Outputs []*wire.TxOut

	// Height is the height of the block containing the transaction, or a
	// sentinel for unmined transactions.
	Height int32

	// CoinBase denotes whether the source transaction was a coinbase.
	CoinBase bool
}

// NewCoinsFromTx returns the coins created by the passed transaction at the
// given height.  The outputs are copied so later spends of the returned coins
// do not mutate the transaction.
func NewCoinsFromTx(tx *wire.MsgTx, height int32) *Coins {
	outputs := make([]*wire.TxOut, len(tx.TxOut))
	for i, txOut := range tx.TxOut {
		outputs[i] = wire.NewTxOut(txOut.Value, txOut.PkScript)
	}
	return &Coins{
		Outputs:  outputs,
		Height:   height,
		CoinBase: tx.IsCoinBase(),
	}
}

// IsAvailable returns whether the output at the given index exists and is
// unspent.
func (c *Coins) IsAvailable(n uint32) bool {
	return n < uint32(len(c.Outputs)) && c.Outputs[n] != nil
}

// Spend marks the output at the given index as spent.  It returns false when
// the output does not exist or was already spent.
func (c *Coins) Spend(n uint32) bool {
	if !c.IsAvailable(n) {
		return false
	}
	c.Outputs[n] = nil
	return true
}

// IsPruned returns whether every output has been spent.
func (c *Coins) IsPruned() bool {
	for _, out := range c.Outputs {
		if out != nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the coins.
func (c *Coins) Clone() *Coins {
	outputs := make([]*wire.TxOut, len(c.Outputs))
	for i, out := range c.Outputs {
		if out != nil {
			outputs[i] = wire.NewTxOut(out.Value, out.PkScript)
		}
	}
	return &Coins{
		Outputs:  outputs,
		Height:   c.Height,
		CoinBase: c.CoinBase,
	}
}

// CoinsView is the read interface over confirmed transaction outputs,
// nullifier sets and commitment tree anchors.
type CoinsView interface {
	// AccessCoins returns the unspent outputs for the given transaction,
	// or nil when the view has none.
	AccessCoins(txid *chainhash.Hash) *Coins

	// HaveCoins returns whether the view has unspent outputs for the
	// given transaction.
	HaveCoins(txid *chainhash.Hash) bool

	// GetNullifier returns whether the given nullifier has been revealed
	// in the selected shielded pool.
	GetNullifier(nf *chainhash.Hash, kind wire.ShieldedType) bool

	// GetSproutAnchorAt returns the sprout commitment tree whose root is
	// the given anchor, if the anchor is known to the view.
	GetSproutAnchorAt(root *chainhash.Hash) (SproutMerkleTree, bool)

	// GetSaplingAnchorAt returns whether the given root is a known
	// sapling commitment tree anchor.
	GetSaplingAnchorAt(root *chainhash.Hash) bool

	// BestHeight returns the height of the view's best block.
	BestHeight() int32
}

// CoinsViewCache is a mutable overlay on a CoinsView.  Coins are copied into
// the cache on first access so mutations never reach the backing view.  It is
// not safe for concurrent access.
type CoinsViewCache struct {
	base  CoinsView
	coins map[chainhash.Hash]*Coins
}

// NewCoinsViewCache returns a new cache backed by the passed view.
func NewCoinsViewCache(base CoinsView) *CoinsViewCache {
	return &CoinsViewCache{
		base:  base,
		coins: make(map[chainhash.Hash]*Coins),
	}
}

// AccessCoins returns the mutable coins for the given transaction, fetching
// and copying them from the backing view on first access.  It returns nil
// when neither the cache nor the backing view has them.
func (c *CoinsViewCache) AccessCoins(txid *chainhash.Hash) *Coins {
	if coins, ok := c.coins[*txid]; ok {
		return coins
	}
	baseCoins := c.base.AccessCoins(txid)
	if baseCoins == nil {
		return nil
	}
	coins := baseCoins.Clone()
	c.coins[*txid] = coins
	return coins
}

// HaveCoins returns whether unspent outputs for the given transaction exist
// in the cache or the backing view.
func (c *CoinsViewCache) HaveCoins(txid *chainhash.Hash) bool {
	if coins, ok := c.coins[*txid]; ok {
		return !coins.IsPruned()
	}
	return c.base.HaveCoins(txid)
}

// HaveInputs returns whether every transparent input of the passed
// transaction is available and unspent in the view.
func (c *CoinsViewCache) HaveInputs(tx *wire.MsgTx) bool {
	if tx.IsCoinBase() {
		return true
	}
	for _, txIn := range tx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := c.AccessCoins(&prevOut.Hash)
		if coins == nil || !coins.IsAvailable(prevOut.Index) {
			return false
		}
	}
	return true
}

// AddCoins inserts the coins for the given transaction into the cache,
// replacing any existing entry.
func (c *CoinsViewCache) AddCoins(txid *chainhash.Hash, coins *Coins) {
	c.coins[*txid] = coins
}

// GetNullifier returns whether the given nullifier has been revealed in the
// backing view.
func (c *CoinsViewCache) GetNullifier(nf *chainhash.Hash, kind wire.ShieldedType) bool {
	return c.base.GetNullifier(nf, kind)
}

// GetSproutAnchorAt returns the sprout commitment tree for a known anchor in
// the backing view.
func (c *CoinsViewCache) GetSproutAnchorAt(root *chainhash.Hash) (SproutMerkleTree, bool) {
	return c.base.GetSproutAnchorAt(root)
}

// GetSaplingAnchorAt returns whether the given root is a known sapling
// anchor in the backing view.
func (c *CoinsViewCache) GetSaplingAnchorAt(root *chainhash.Hash) bool {
	return c.base.GetSaplingAnchorAt(root)
}

// BestHeight returns the height of the backing view's best block.
func (c *CoinsViewCache) BestHeight() int32 {
	return c.base.BestHeight()
}

// UpdateCoins applies the effects of the passed transaction to the view:
// every transparent input is marked spent and the transaction's own outputs
// become available at the given height.
func UpdateCoins(tx *wire.MsgTx, view *CoinsViewCache, height int32) {
	if !tx.IsCoinBase() {
		for _, txIn := range tx.TxIn {
			prevOut := &txIn.PreviousOutPoint
			if coins := view.AccessCoins(&prevOut.Hash); coins != nil {
				coins.Spend(prevOut.Index)
			}
		}
	}
	txHash := tx.TxHash()
	view.AddCoins(&txHash, NewCoinsFromTx(tx, height))
}
