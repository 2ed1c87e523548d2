// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/zecsuite/zecd/wire"
)

// testView is a trivial CoinsView backed by maps.
type testView struct {
	coins          map[chainhash.Hash]*Coins
	saplingAnchors map[chainhash.Hash]struct{}
	height         int32
}

func newTestView() *testView {
	return &testView{
		coins:          make(map[chainhash.Hash]*Coins),
		saplingAnchors: make(map[chainhash.Hash]struct{}),
		height:         1000,
	}
}

func (v *testView) AccessCoins(txid *chainhash.Hash) *Coins {
	return v.coins[*txid]
}

func (v *testView) HaveCoins(txid *chainhash.Hash) bool {
	coins, ok := v.coins[*txid]
	return ok && !coins.IsPruned()
}

func (v *testView) GetNullifier(*chainhash.Hash, wire.ShieldedType) bool {
	return false
}

func (v *testView) GetSproutAnchorAt(root *chainhash.Hash) (SproutMerkleTree, bool) {
	return SproutMerkleTree{}, false
}

func (v *testView) GetSaplingAnchorAt(root *chainhash.Hash) bool {
	_, ok := v.saplingAnchors[*root]
	return ok
}

func (v *testView) BestHeight() int32 {
	return v.height
}

// fundingTx returns a transaction with the given output values along with
// its hash, registered in the view at the given height.
func fundingTx(v *testView, values []int64, height int32, coinBase bool) (*wire.MsgTx, chainhash.Hash) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if coinBase {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex), []byte{byte(height)}))
	} else {
		prevHash := chainhash.HashH([]byte{byte(len(v.coins)), 0x77})
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil))
	}
	for _, value := range values {
		tx.AddTxOut(wire.NewTxOut(value, []byte{0x51}))
	}
	hash := tx.TxHash()
	v.coins[hash] = NewCoinsFromTx(tx, height)
	return tx, hash
}

// spendOf returns a transaction spending output n of the given transaction,
// paying out the requested amount.
func spendOf(hash *chainhash.Hash, n uint32, payout int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, n), nil))
	tx.AddTxOut(wire.NewTxOut(payout, []byte{0x51}))
	return tx
}

// TestCheckTxInputs covers the input availability, maturity and value
// conservation rules along with the returned fee.
func TestCheckTxInputs(t *testing.T) {
	view := newTestView()
	_, fundHash := fundingTx(view, []int64{10000}, 100, false)
	cache := NewCoinsViewCache(view)

	// Fee is the transparent value balance.
	fee, err := CheckTxInputs(spendOf(&fundHash, 0, 9000), cache, 1000)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1000), fee)

	// Spending more than available fails.
	_, err = CheckTxInputs(spendOf(&fundHash, 0, 10001), cache, 1000)
	require.Error(t, err)

	// Unknown inputs fail.
	missing := chainhash.HashH([]byte("missing"))
	_, err = CheckTxInputs(spendOf(&missing, 0, 1), cache, 1000)
	require.Error(t, err)

	// Out-of-range output indexes fail.
	_, err = CheckTxInputs(spendOf(&fundHash, 5, 1), cache, 1000)
	require.Error(t, err)
}

// TestCheckTxInputsCoinbaseMaturity verifies the maturity window on coinbase
// spends.
func TestCheckTxInputsCoinbaseMaturity(t *testing.T) {
	view := newTestView()
	_, cbHash := fundingTx(view, []int64{5000}, 900, true)

	spend := spendOf(&cbHash, 0, 5000)

	// 99 confirmations: immature.
	_, err := CheckTxInputs(spend, NewCoinsViewCache(view), 999)
	require.Error(t, err)

	// 100 confirmations: mature.
	_, err = CheckTxInputs(spend, NewCoinsViewCache(view), 1000)
	require.NoError(t, err)
}

// TestUpdateCoins verifies spending through a cache view and the
// availability of the new outputs.
func TestUpdateCoins(t *testing.T) {
	view := newTestView()
	_, fundHash := fundingTx(view, []int64{10000, 2000}, 100, false)
	cache := NewCoinsViewCache(view)

	spend := spendOf(&fundHash, 0, 9999)
	require.True(t, cache.HaveInputs(spend))

	UpdateCoins(spend, cache, 101)

	// The consumed output is gone from the replica but untouched in the
	// backing view.
	require.False(t, cache.HaveInputs(spend))
	require.True(t, view.coins[fundHash].IsAvailable(0))
	require.True(t, cache.AccessCoins(&fundHash).IsAvailable(1))

	// The spender's own output is now available.
	spendHash := spend.TxHash()
	coins := cache.AccessCoins(&spendHash)
	require.NotNil(t, coins)
	require.True(t, coins.IsAvailable(0))
	require.Equal(t, int32(101), coins.Height)

	// A second spend of the same output no longer validates.
	_, err := CheckTxInputs(spendOf(&fundHash, 0, 1), cache, 1000)
	require.Error(t, err)
}

// TestIsExpiredTx pins the expiry boundary semantics.
func TestIsExpiredTx(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	require.False(t, IsExpiredTx(tx, 1<<30))

	tx.ExpiryHeight = 500
	require.False(t, IsExpiredTx(tx, 499))
	require.False(t, IsExpiredTx(tx, 500))
	require.True(t, IsExpiredTx(tx, 501))

	// Coinbase transactions never expire.
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{},
		wire.MaxPrevOutIndex), nil))
	coinbase.ExpiryHeight = 500
	require.False(t, IsExpiredTx(coinbase, 501))
}

// TestIsFinalTx covers the height, time and sequence escape hatches.
func TestIsFinalTx(t *testing.T) {
	prevHash := chainhash.HashH([]byte("prev"))
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil))
	tx.TxIn[0].Sequence = 0

	// Zero lock time is always final.
	require.True(t, IsFinalTx(tx, 100, 0))

	// Height-based lock time.
	tx.LockTime = 100
	require.False(t, IsFinalTx(tx, 100, 0))
	require.True(t, IsFinalTx(tx, 101, 0))

	// Time-based lock time.
	tx.LockTime = LockTimeThreshold + 100
	require.False(t, IsFinalTx(tx, 0, LockTimeThreshold+100))
	require.True(t, IsFinalTx(tx, 0, LockTimeThreshold+101))

	// Maxed sequences make the transaction final regardless.
	tx.LockTime = 100
	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum
	require.True(t, IsFinalTx(tx, 50, 0))

	tx.TxIn[0].Sequence = 0
	require.False(t, IsFinalTx(tx, 50, 0))
}

// TestSproutMerkleTree verifies the accumulator advances deterministically.
func TestSproutMerkleTree(t *testing.T) {
	root := chainhash.HashH([]byte("root"))
	a := NewSproutMerkleTreeFromRoot(&root)
	b := NewSproutMerkleTreeFromRoot(&root)
	require.Equal(t, a.Root(), b.Root())

	cm := chainhash.HashH([]byte("cm"))
	a.Append(&cm)
	require.NotEqual(t, a.Root(), b.Root())

	b.Append(&cm)
	require.Equal(t, a.Root(), b.Root())
}
