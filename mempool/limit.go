// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math/rand"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// minTxCost is the floor applied to a transaction's serialized size
	// when computing its cost, so very small transactions still consume a
	// meaningful share of the pool budget.
	minTxCost = 4000

	// lowFeePenalty is added to the eviction weight of transactions
	// paying less than the minimum relay fee, making them proportionally
	// more likely to be chosen as eviction victims.
	lowFeePenalty = 16000

	// evictionMemoryEntries bounds the number of transaction ids the
	// recently-evicted list will remember regardless of the time window.
	evictionMemoryEntries = 40000
)

// weightedTxInfo describes one weighted tree node: the transaction's cost
// counts against the pool budget and its eviction weight drives the victim
// sampling.
type weightedTxInfo struct {
	txID           chainhash.Hash
	cost           int64
	evictionWeight int64
}

// newWeightedTxInfo derives the weight pair for a pool entry.  The effective
// fee (including any prioritisation delta) is compared against the minimum
// relay fee for the entry's size to decide whether the low-fee penalty
// applies.
func newWeightedTxInfo(txID chainhash.Hash, desc *TxDesc, minRelayFee btcutil.Amount) weightedTxInfo {
	cost := int64(desc.TxSize)
	if cost < minTxCost {
		cost = minTxCost
	}
	evictionWeight := cost
	minFee := NewFeeRate(minRelayFee, 1000).Fee(desc.TxSize)
	if desc.Fee+desc.FeeDelta < minFee {
		evictionWeight += lowFeePenalty
	}
	return weightedTxInfo{
		txID:           txID,
		cost:           cost,
		evictionWeight: evictionWeight,
	}
}

// txWeight is an aggregate of cost and eviction weight over a subtree.
type txWeight struct {
	cost           int64
	evictionWeight int64
}

func (w txWeight) add(other txWeight) txWeight {
	return txWeight{
		cost:           w.cost + other.cost,
		evictionWeight: w.evictionWeight + other.evictionWeight,
	}
}

// weightedTxTree tracks the weight of every pool transaction and supports
// sampling an eviction victim with probability proportional to its eviction
// weight.  The nodes are kept in an implicit binary tree laid out over a
// slice, with a parallel slice of subtree aggregates, so add, remove and
// sampling are all logarithmic.
type weightedTxTree struct {
	limit int64
	rng   *rand.Rand

	txIDAndWeights []weightedTxInfo
	childWeights   []txWeight
	index          map[chainhash.Hash]int
}

// newWeightedTxTree returns an empty tree enforcing the passed aggregate
// cost limit.
func newWeightedTxTree(limit int64, rng *rand.Rand) *weightedTxTree {
	return &weightedTxTree{
		limit: limit,
		rng:   rng,
		index: make(map[chainhash.Hash]int),
	}
}

// size returns the number of transactions in the tree.
func (t *weightedTxTree) size() int {
	return len(t.txIDAndWeights)
}

// totalCost returns the aggregate cost of every transaction in the tree.
func (t *weightedTxTree) totalCost() int64 {
	if len(t.childWeights) == 0 {
		return 0
	}
	return t.childWeights[0].cost
}

// totalEvictionWeight returns the aggregate eviction weight of every
// transaction in the tree.
func (t *weightedTxTree) totalEvictionWeight() int64 {
	if len(t.childWeights) == 0 {
		return 0
	}
	return t.childWeights[0].evictionWeight
}

// weightAt recomputes the aggregate at the given node from its own weights
// and its children's aggregates.
func (t *weightedTxTree) weightAt(i int) txWeight {
	weight := txWeight{
		cost:           t.txIDAndWeights[i].cost,
		evictionWeight: t.txIDAndWeights[i].evictionWeight,
	}
	if left := 2*i + 1; left < len(t.childWeights) {
		weight = weight.add(t.childWeights[left])
	}
	if right := 2*i + 2; right < len(t.childWeights) {
		weight = weight.add(t.childWeights[right])
	}
	return weight
}

// backPropagate refreshes the aggregates from the given node up to the root.
func (t *weightedTxTree) backPropagate(i int) {
	for {
		t.childWeights[i] = t.weightAt(i)
		if i == 0 {
			break
		}
		i = (i - 1) / 2
	}
}

// add appends a transaction to the tree.  Adding a transaction that is
// already present is a programming error the caller must prevent.
func (t *weightedTxTree) add(info weightedTxInfo) {
	t.txIDAndWeights = append(t.txIDAndWeights, info)
	t.childWeights = append(t.childWeights, txWeight{})
	pos := len(t.txIDAndWeights) - 1
	t.index[info.txID] = pos
	t.backPropagate(pos)
}

// remove deletes a transaction from the tree if present by swapping it with
// the last node and refreshing the aggregates along both paths.
func (t *weightedTxTree) remove(txID chainhash.Hash) {
	pos, ok := t.index[txID]
	if !ok {
		return
	}
	delete(t.index, txID)

	last := len(t.txIDAndWeights) - 1
	if pos != last {
		t.txIDAndWeights[pos] = t.txIDAndWeights[last]
		t.index[t.txIDAndWeights[pos].txID] = pos
	}
	t.txIDAndWeights = t.txIDAndWeights[:last]
	t.childWeights = t.childWeights[:last]

	if last == 0 {
		return
	}
	if pos < last {
		t.backPropagate(pos)
	}
	// The removed tail may have been on a different path to the root.
	if parent := (last - 1) / 2; parent != pos {
		t.backPropagate(parent)
	}
}

// findByEvictionWeight descends from the given node to the transaction
// containing the target point of the cumulative eviction weight.
func (t *weightedTxTree) findByEvictionWeight(i int, target int64) int {
	left := 2*i + 1
	var leftWeight int64
	if left < len(t.childWeights) {
		leftWeight = t.childWeights[left].evictionWeight
	}
	if target < leftWeight {
		return t.findByEvictionWeight(left, target)
	}
	target -= leftWeight
	if target < t.txIDAndWeights[i].evictionWeight {
		return i
	}
	target -= t.txIDAndWeights[i].evictionWeight
	return t.findByEvictionWeight(2*i+2, target)
}

// maybeDropRandom samples an eviction victim with probability proportional
// to eviction weight when the aggregate cost exceeds the limit.  The victim
// is not removed from the tree; the caller removes it by way of the pool's
// recursive removal.
func (t *weightedTxTree) maybeDropRandom() (chainhash.Hash, bool) {
	if t.totalCost() <= t.limit {
		return chainhash.Hash{}, false
	}
	target := t.rng.Int63n(t.totalEvictionWeight())
	victim := t.txIDAndWeights[t.findByEvictionWeight(0, target)]
	log.Debugf("Evicting transaction %v (cost %d, weight %d) to reduce "+
		"the mempool size", victim.txID, victim.cost,
		victim.evictionWeight)
	return victim.txID, true
}

// dynamicUsage approximates the heap footprint of the tree.
func (t *weightedTxTree) dynamicUsage() int64 {
	const nodeSize = 48 + 16 // weightedTxInfo + txWeight
	return int64(cap(t.txIDAndWeights))*nodeSize +
		mapUsage(len(t.index), 32+8)
}

// txIDAndTime pairs an evicted transaction id with its eviction time.
type txIDAndTime struct {
	txID chainhash.Hash
	time int64
}

// recentlyEvictedList remembers the ids of transactions dropped by
// EnsureSizeLimit for a bounded length of time.  Entries older than the
// configured window are discarded lazily whenever the list is touched, so
// memory use is proportional to the number of live entries.
type recentlyEvictedList struct {
	timeToKeep int64

	// entries is a circular buffer in eviction-time order.
	entries []txIDAndTime
	start   int
	count   int

	txIDSet map[chainhash.Hash]struct{}
}

// newRecentlyEvictedList returns an empty list remembering ids for the
// passed number of seconds.
func newRecentlyEvictedList(timeToKeep int64) *recentlyEvictedList {
	return &recentlyEvictedList{
		timeToKeep: timeToKeep,
		entries:    make([]txIDAndTime, evictionMemoryEntries),
		txIDSet:    make(map[chainhash.Hash]struct{}),
	}
}

// pruneList discards entries older than the retention window.
func (l *recentlyEvictedList) pruneList(now int64) {
	for l.count > 0 && now-l.entries[l.start].time > l.timeToKeep {
		delete(l.txIDSet, l.entries[l.start].txID)
		l.start = (l.start + 1) % len(l.entries)
		l.count--
	}
}

// add records a transaction id evicted at the given time.  When the list is
// full the oldest entry is discarded first.
func (l *recentlyEvictedList) add(txID chainhash.Hash, now int64) {
	l.pruneList(now)
	if l.count == len(l.entries) {
		delete(l.txIDSet, l.entries[l.start].txID)
		l.start = (l.start + 1) % len(l.entries)
		l.count--
	}
	pos := (l.start + l.count) % len(l.entries)
	l.entries[pos] = txIDAndTime{txID: txID, time: now}
	l.count++
	l.txIDSet[txID] = struct{}{}
}

// contains returns whether the given transaction id was evicted within the
// retention window as of the passed time.
func (l *recentlyEvictedList) contains(txID chainhash.Hash, now int64) bool {
	l.pruneList(now)
	_, ok := l.txIDSet[txID]
	return ok
}

// size returns the number of remembered ids.
func (l *recentlyEvictedList) size() int {
	return l.count
}

// dynamicUsage approximates the heap footprint of the list.
func (l *recentlyEvictedList) dynamicUsage() int64 {
	return int64(cap(l.entries))*40 + mapUsage(len(l.txIDSet), 32)
}
