// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zecsuite/zecd/blockchain"
	"github.com/zecsuite/zecd/wire"
)

// assertCheck panics with a formatted message when the condition does not
// hold.  A failed pool audit indicates an upstream bug there is no local
// recovery from.
func assertCheck(cond bool, format string, args ...interface{}) {
	if !cond {
		panic("mempool check failed: " + fmt.Sprintf(format, args...))
	}
}

// Check audits the entire pool against the passed coin view: every input
// must be satisfied by a pool parent or an available base coin, every cross
// index must agree with the entries, every entry must pass the consensus
// input checks against a replica of the view with the pool applied to it,
// and the cached counters must match recomputed sums.  The audit runs with
// probability checkFrequency/2^32 and any violation is fatal.
//
// This function is safe for concurrent access.
func (mp *TxPool) Check(view blockchain.CoinsView) {
	if mp.checkFrequency == 0 {
		return
	}

	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if mp.rng.Uint32() >= mp.checkFrequency {
		return
	}

	log.Debugf("Checking mempool with %d transactions and %d inputs",
		len(mp.pool), len(mp.outpoints))

	var checkTotal uint64
	var innerUsage int64

	replica := blockchain.NewCoinsViewCache(view)
	spendHeight := view.BestHeight() + 1

	var waitingOnDependants []*TxDesc
	for hash, desc := range mp.pool {
		checkTotal += uint64(desc.TxSize)
		innerUsage += desc.UsageSize
		tx := desc.Tx.MsgTx()

		dependsWait := false
		for i, txIn := range tx.TxIn {
			// Check that every transparent input refers to an
			// available coin or another pool transaction.
			prevOut := &txIn.PreviousOutPoint
			if parent, ok := mp.pool[prevOut.Hash]; ok {
				parentOuts := parent.Tx.MsgTx().TxOut
				assertCheck(prevOut.Index < uint32(len(parentOuts)) &&
					parentOuts[prevOut.Index] != nil,
					"entry %v spends missing output %v of "+
						"pool parent", hash, prevOut)
				dependsWait = true
			} else {
				coins := view.AccessCoins(&prevOut.Hash)
				assertCheck(coins != nil && coins.IsAvailable(prevOut.Index),
					"entry %v spends unavailable coin %v",
					hash, prevOut)
			}

			// Check that the input is marked in the spend index.
			ip, ok := mp.outpoints[*prevOut]
			assertCheck(ok, "input %v of %v missing from the "+
				"spend index", prevOut, hash)
			assertCheck(ip.txHash == hash && ip.index == uint32(i),
				"spend index row for %v names (%v, %d), "+
					"want (%v, %d)", prevOut, ip.txHash,
				ip.index, hash, i)
		}

		// Joinsplits within one transaction may anchor to roots
		// produced by earlier joinsplits of the same transaction, so
		// track the intermediate trees alongside the view's anchors.
		intermediates := make(map[chainhash.Hash]blockchain.SproutMerkleTree)
		for _, js := range tx.JoinSplits {
			for _, nf := range js.Nullifiers {
				nf := nf
				assertCheck(!view.GetNullifier(&nf, wire.Sprout),
					"sprout nullifier %v of %v already in "+
						"the base view", nf, hash)
			}

			var tree blockchain.SproutMerkleTree
			if it, ok := intermediates[js.Anchor]; ok {
				tree = it
			} else {
				var ok bool
				tree, ok = view.GetSproutAnchorAt(&js.Anchor)
				assertCheck(ok, "unknown sprout anchor %v in %v",
					js.Anchor, hash)
			}
			for i := range js.Commitments {
				tree.Append(&js.Commitments[i])
			}
			intermediates[tree.Root()] = tree
		}
		for _, spend := range tx.SaplingSpends {
			assertCheck(view.GetSaplingAnchorAt(&spend.Anchor),
				"unknown sapling anchor %v in %v", spend.Anchor,
				hash)
			nf := spend.Nullifier
			assertCheck(!view.GetNullifier(&nf, wire.Sapling),
				"sapling nullifier %v of %v already in the "+
					"base view", nf, hash)
		}
		for _, nf := range tx.OrchardNullifiers() {
			nf := nf
			assertCheck(!view.GetNullifier(&nf, wire.Orchard),
				"orchard nullifier %v of %v already in the "+
					"base view", nf, hash)
		}

		if dependsWait {
			waitingOnDependants = append(waitingOnDependants, desc)
			continue
		}
		mp.checkInputsAgainst(desc, replica, spendHeight)
	}

	// Entries that depend on other pool entries are re-queued until their
	// parents have been applied to the replica.  The step counter bounds
	// the loop: failing to make progress within one pass over the queue
	// means a dependency cycle or a missing parent.
	stepsSinceLastRemove := 0
	for len(waitingOnDependants) > 0 {
		desc := waitingOnDependants[0]
		waitingOnDependants = waitingOnDependants[1:]

		if !replica.HaveInputs(desc.Tx.MsgTx()) {
			waitingOnDependants = append(waitingOnDependants, desc)
			stepsSinceLastRemove++
			assertCheck(stepsSinceLastRemove < len(waitingOnDependants),
				"no progress resolving %d entries waiting on "+
					"dependants", len(waitingOnDependants))
			continue
		}
		mp.checkInputsAgainst(desc, replica, spendHeight)
		stepsSinceLastRemove = 0
	}

	// Verify the reverse direction of the spend index.
	for prevOut, ip := range mp.outpoints {
		desc, ok := mp.pool[ip.txHash]
		assertCheck(ok, "spend index row %v names missing entry %v",
			prevOut, ip.txHash)
		txIns := desc.Tx.MsgTx().TxIn
		assertCheck(uint32(len(txIns)) > ip.index,
			"spend index row %v names input %d of %v which has "+
				"only %d inputs", prevOut, ip.index, ip.txHash,
			len(txIns))
		assertCheck(txIns[ip.index].PreviousOutPoint == prevOut,
			"input %d of %v spends %v, spend index says %v",
			ip.index, ip.txHash, txIns[ip.index].PreviousOutPoint,
			prevOut)
	}

	mp.checkNullifiers(wire.Sprout)
	mp.checkNullifiers(wire.Sapling)
	mp.checkNullifiers(wire.Orchard)

	assertCheck(mp.weightedTree.size() == len(mp.pool),
		"weighted tree has %d nodes for %d entries",
		mp.weightedTree.size(), len(mp.pool))
	assertCheck(mp.totalTxSize == checkTotal,
		"cached total size %d, recomputed %d", mp.totalTxSize,
		checkTotal)
	assertCheck(mp.cachedInnerUsage == innerUsage,
		"cached inner usage %d, recomputed %d", mp.cachedInnerUsage,
		innerUsage)
}

// checkInputsAgainst runs the consensus input checks for one entry against
// the replica and applies the entry's outputs to it.
//
// This function MUST be called with the mempool lock held.
func (mp *TxPool) checkInputsAgainst(desc *TxDesc, replica *blockchain.CoinsViewCache,
	spendHeight int32) {

	tx := desc.Tx.MsgTx()
	if !tx.IsCoinBase() {
		_, err := blockchain.CheckTxInputs(tx, replica, spendHeight)
		assertCheck(err == nil, "entry %v fails input checks: %v",
			desc.Tx.Hash(), err)
	}
	blockchain.UpdateCoins(tx, replica, checkSentinelHeight)
}

// checkNullifiers verifies that every row of the selected nullifier map
// points at a live pool entry.
//
// This function MUST be called with the mempool lock held.
func (mp *TxPool) checkNullifiers(kind wire.ShieldedType) {
	var mapToUse map[chainhash.Hash]chainhash.Hash
	switch kind {
	case wire.Sprout:
		mapToUse = mp.sproutNullifiers
	case wire.Sapling:
		mapToUse = mp.saplingNullifiers
	case wire.Orchard:
		mapToUse = mp.orchardNullifiers
	default:
		panic(fmt.Sprintf("unknown shielded type %v", kind))
	}

	for nf, spender := range mapToUse {
		_, ok := mp.pool[spender]
		assertCheck(ok, "%v nullifier %v names missing entry %v", kind,
			nf, spender)
	}
}
