// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zecsuite/zecd/blockchain"
	"github.com/zecsuite/zecd/wire"
	"github.com/zecsuite/zecd/zecutil"
)

const (
	// MempoolHeight is the sentinel chain height assigned to coins
	// synthesized from unmined pool transactions.
	MempoolHeight int32 = 0x7fffffff

	// DefaultTotalCostLimit is the default aggregate cost the weighted
	// transaction tree enforces when no explicit limit is configured.
	DefaultTotalCostLimit = 80000000

	// DefaultEvictionMemorySeconds is the default duration recently
	// evicted transaction ids are remembered.
	DefaultEvictionMemorySeconds = 3600

	// feeEstimatesMinVersion is the minimum client version able to read a
	// fee estimates file written by this package.
	feeEstimatesMinVersion = 109900

	// clientVersion identifies the writer of a fee estimates file.
	clientVersion = 2010250

	// checkSentinelHeight is the height the checker applies pool
	// transactions to its coin-view replica at.
	checkSentinelHeight = 1000000
)

// FeeRate represents a fee expressed in zatoshis per 1000 bytes of
// serialized transaction.
type FeeRate int64

// NewFeeRate returns the fee rate implied by paying the given fee for a
// transaction of the given serialized size.
func NewFeeRate(fee btcutil.Amount, size int) FeeRate {
	if size == 0 {
		return 0
	}
	return FeeRate(int64(fee) * 1000 / int64(size))
}

// Fee returns the fee implied by the rate for a transaction of the given
// serialized size.
func (r FeeRate) Fee(size int) btcutil.Amount {
	return btcutil.Amount(int64(r) * int64(size) / 1000)
}

// String returns the fee rate in human-readable form.
func (r FeeRate) String() string {
	return fmt.Sprintf("%v/kB", btcutil.Amount(r))
}

// TxDesc is a descriptor containing a transaction in the mempool along with
// the metadata recorded at admission.  All fields other than FeeDelta are
// immutable once the descriptor has been inserted into the pool.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *zecutil.Tx

	// Fee is the total fee the transaction pays in zatoshis.
	Fee btcutil.Amount

	// FeeDelta is the prioritisation adjustment applied to the fee when
	// computing the entry's score.  It does not change Fee itself.
	FeeDelta btcutil.Amount

	// Time is the unix time the transaction was added to the pool.
	Time int64

	// Height is the block height when the transaction entered the pool.
	Height int32

	// StartingPriority is the priority of the transaction when it was
	// added to the pool.
	StartingPriority float64

	// HadNoDependencies denotes whether none of the transaction's inputs
	// referenced a pool transaction at admission.
	HadNoDependencies bool

	// SpendsCoinbase denotes whether any input spends a coinbase output.
	SpendsCoinbase bool

	// SigOpCount is the cached number of signature operations.
	SigOpCount int

	// BranchID is the consensus branch the transaction was validated
	// under.
	BranchID uint32

	// TxSize is the cached serialized size of the transaction.
	TxSize int

	// ModSize is the cached modified size used for priority.
	ModSize int

	// UsageSize is the cached dynamic memory usage of the transaction.
	UsageSize int64
}

// NewTxDesc returns a descriptor for the passed transaction with the size,
// modified size and dynamic usage fields populated.
func NewTxDesc(tx *zecutil.Tx, fee btcutil.Amount, time int64, priority float64,
	height int32, hadNoDependencies, spendsCoinbase bool, sigOpCount int,
	branchID uint32) *TxDesc {

	txSize := tx.Size()
	return &TxDesc{
		Tx:                tx,
		Fee:               fee,
		Time:              time,
		Height:            height,
		StartingPriority:  priority,
		HadNoDependencies: hadNoDependencies,
		SpendsCoinbase:    spendsCoinbase,
		SigOpCount:        sigOpCount,
		BranchID:          branchID,
		TxSize:            txSize,
		ModSize:           tx.MsgTx().CalculateModifiedSize(txSize),
		UsageSize:         int64(dynamicMemUsage(reflect.ValueOf(tx.MsgTx()))),
	}
}

// FeeRate returns the entry's score: the fee rate computed from the
// effective fee including any prioritisation delta.
func (desc *TxDesc) FeeRate() FeeRate {
	return NewFeeRate(desc.Fee+desc.FeeDelta, desc.TxSize)
}

// GetPriority computes the entry's priority at the given chain height by
// aging the admission priority with the value transferred per modified byte.
func (desc *TxDesc) GetPriority(currentHeight int32) float64 {
	valueIn := float64(desc.Tx.MsgTx().ValueOut() + int64(desc.Fee))
	deltaPriority := float64(currentHeight-desc.Height) * valueIn /
		float64(desc.ModSize)
	return desc.StartingPriority + deltaPriority
}

// TxMempoolInfo is the queryable snapshot of a pool entry.
type TxMempoolInfo struct {
	// Tx is the transaction associated with the entry.
	Tx *zecutil.Tx

	// Time is the unix time the transaction entered the pool.
	Time int64

	// FeeRate is the fee rate paid by the base fee, excluding any
	// prioritisation delta.
	FeeRate FeeRate
}

// inPoint names the input of a pool transaction that consumes a particular
// outpoint.
type inPoint struct {
	txHash chainhash.Hash
	index  uint32
}

// txDelta accumulates operator-supplied prioritisation for a transaction id.
// Rows survive the absence of a matching pool entry so a transaction can be
// prioritised before it arrives.
type txDelta struct {
	priorityDelta float64
	feeDelta      btcutil.Amount
}

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// MinRelayFee is the minimum relay fee in zatoshis per 1000 bytes.
	// It seeds the default fee estimator and marks low-fee transactions
	// for the eviction weight penalty.
	MinRelayFee btcutil.Amount

	// AddressIndex enables the unconfirmed address index.
	AddressIndex bool

	// SpentIndex enables the unconfirmed spent-output index.
	SpentIndex bool

	// CheckFinalTx defines the function used to determine whether a
	// transaction is final during a reorg sweep.  When nil every
	// transaction is treated as final.
	CheckFinalTx func(tx *zecutil.Tx, flags int) bool

	// Estimator is the fee/priority estimator fed by the pool.  When nil
	// a FeeEstimator seeded with MinRelayFee is used.
	Estimator Estimator

	// TotalCostLimit is the aggregate cost limit enforced by
	// EnsureSizeLimit.  Zero selects DefaultTotalCostLimit.
	TotalCostLimit int64

	// EvictionMemorySeconds is how long evicted transaction ids are
	// remembered.  Zero selects DefaultEvictionMemorySeconds.
	EvictionMemorySeconds int64

	// RandSource seeds the randomness used for weighted eviction and
	// check gating.  When nil a time-seeded source is used.
	RandSource rand.Source
}

// TxPool is used as a source of validated-but-unmined transactions that
// still need to be mined into blocks and relayed to other peers.  It is safe
// for concurrent access from multiple peers.
type TxPool struct {
	mtx sync.RWMutex
	cfg Config

	pool      map[chainhash.Hash]*TxDesc
	outpoints map[wire.OutPoint]inPoint

	sproutNullifiers  map[chainhash.Hash]chainhash.Hash
	saplingNullifiers map[chainhash.Hash]chainhash.Hash
	orchardNullifiers map[chainhash.Hash]chainhash.Hash

	deltas map[chainhash.Hash]*txDelta

	addressRows     map[addressKey]addressDelta
	addressInserted map[chainhash.Hash][]addressKey
	spentRows       map[wire.OutPoint]SpentValue
	spentInserted   map[chainhash.Hash][]wire.OutPoint

	recentlyAdded         map[chainhash.Hash]*zecutil.Tx
	recentlyAddedSequence uint64
	notifiedSequence      uint64

	weightedTree    *weightedTxTree
	recentlyEvicted *recentlyEvictedList

	totalTxSize         uint64
	cachedInnerUsage    int64
	transactionsUpdated uint32

	checkFrequency uint32
	rng            *rand.Rand

	estimator Estimator
}

// New returns a new memory pool for storing validated standalone transactions
// until they are mined into a block.
func New(cfg *Config) *TxPool {
	poolCfg := *cfg
	if poolCfg.TotalCostLimit == 0 {
		poolCfg.TotalCostLimit = DefaultTotalCostLimit
	}
	if poolCfg.EvictionMemorySeconds == 0 {
		poolCfg.EvictionMemorySeconds = DefaultEvictionMemorySeconds
	}
	source := poolCfg.RandSource
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	rng := rand.New(source)

	estimator := poolCfg.Estimator
	if estimator == nil {
		estimator = NewFeeEstimator(poolCfg.MinRelayFee)
	}

	mp := &TxPool{
		cfg:               poolCfg,
		pool:              make(map[chainhash.Hash]*TxDesc),
		outpoints:         make(map[wire.OutPoint]inPoint),
		sproutNullifiers:  make(map[chainhash.Hash]chainhash.Hash),
		saplingNullifiers: make(map[chainhash.Hash]chainhash.Hash),
		orchardNullifiers: make(map[chainhash.Hash]chainhash.Hash),
		deltas:            make(map[chainhash.Hash]*txDelta),
		recentlyAdded:     make(map[chainhash.Hash]*zecutil.Tx),
		rng:               rng,
		estimator:         estimator,
	}
	if poolCfg.AddressIndex {
		mp.addressRows = make(map[addressKey]addressDelta)
		mp.addressInserted = make(map[chainhash.Hash][]addressKey)
	}
	if poolCfg.SpentIndex {
		mp.spentRows = make(map[wire.OutPoint]SpentValue)
		mp.spentInserted = make(map[chainhash.Hash][]wire.OutPoint)
	}
	mp.weightedTree = newWeightedTxTree(poolCfg.TotalCostLimit, rng)
	mp.recentlyEvicted = newRecentlyEvictedList(poolCfg.EvictionMemorySeconds)
	return mp
}

// descLess reports whether entry a sorts before entry b in descending score
// order.  Ties are broken by the raw transaction id bytes so the ordering is
// deterministic.
func descLess(a, b *TxDesc) bool {
	aRate, bRate := a.FeeRate(), b.FeeRate()
	if aRate != bRate {
		return aRate > bRate
	}
	return bytes.Compare(a.Tx.Hash()[:], b.Tx.Hash()[:]) < 0
}

// addUnchecked is the internal function which implements the public
// AddUnchecked.  See the comment for AddUnchecked for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addUnchecked(hash *chainhash.Hash, desc *TxDesc,
	isCurrentEstimate bool, view blockchain.CoinsView) {

	mp.weightedTree.add(newWeightedTxInfo(*hash, desc, mp.cfg.MinRelayFee))
	mp.pool[*hash] = desc
	mp.cachedInnerUsage += desc.UsageSize
	mp.totalTxSize += uint64(desc.TxSize)

	tx := desc.Tx.MsgTx()
	mp.recentlyAdded[*hash] = desc.Tx
	mp.recentlyAddedSequence++

	for i, txIn := range tx.TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = inPoint{
			txHash: *hash,
			index:  uint32(i),
		}
	}
	for _, js := range tx.JoinSplits {
		for _, nf := range js.Nullifiers {
			mp.sproutNullifiers[nf] = *hash
		}
	}
	for _, spend := range tx.SaplingSpends {
		mp.saplingNullifiers[spend.Nullifier] = *hash
	}
	for _, nf := range tx.OrchardNullifiers() {
		mp.orchardNullifiers[nf] = *hash
	}

	// Apply any fee delta created by a prior PrioritiseTransaction call so
	// the entry's score reflects it from the start.
	if delta, ok := mp.deltas[*hash]; ok && delta.feeDelta != 0 {
		desc.FeeDelta = delta.feeDelta
	}

	mp.transactionsUpdated++
	mp.estimator.ProcessTransaction(desc, isCurrentEstimate)

	if mp.cfg.AddressIndex {
		mp.addAddressIndex(desc, view)
	}
	if mp.cfg.SpentIndex {
		mp.addSpentIndex(desc, view)
	}

	log.Debugf("Accepted transaction %v (pool size: %v)", hash,
		len(mp.pool))
}

// AddUnchecked adds a fully-validated transaction to the memory pool without
// performing any checks of its own.  All admission policy, including
// double-spend and nullifier-collision rejection, is the responsibility of
// the caller.  The behavior is undefined when a transaction with the same
// hash is already in the pool.
//
// The passed view is only consulted to resolve previous output scripts for
// the optional address and spent-output indexes and may be nil when both are
// disabled.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddUnchecked(hash *chainhash.Hash, desc *TxDesc,
	isCurrentEstimate bool, view blockchain.CoinsView) {

	mp.mtx.Lock()
	mp.addUnchecked(hash, desc, isCurrentEstimate, view)
	mp.mtx.Unlock()
}

// removeTransaction is the internal function which implements the public
// RemoveTransaction.  See the comment for RemoveTransaction for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(origTx *zecutil.Tx, recursive bool) []*zecutil.Tx {
	origHash := *origTx.Hash()
	queue := make([]chainhash.Hash, 0, 1)
	queue = append(queue, origHash)

	if _, exists := mp.pool[origHash]; recursive && !exists {
		// When recursively removing but origTx isn't in the pool, be
		// sure to remove any children that are.  This can happen
		// during chain reorgs if origTx isn't re-accepted into the
		// pool for any reason.
		for i := range origTx.MsgTx().TxOut {
			prevOut := wire.OutPoint{Hash: origHash, Index: uint32(i)}
			if ip, ok := mp.outpoints[prevOut]; ok {
				queue = append(queue, ip.txHash)
			}
		}
	}

	var removed []*zecutil.Tx
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]

		desc, exists := mp.pool[hash]
		if !exists {
			continue
		}
		tx := desc.Tx.MsgTx()

		if recursive {
			for i := range tx.TxOut {
				prevOut := wire.OutPoint{Hash: hash, Index: uint32(i)}
				if ip, ok := mp.outpoints[prevOut]; ok {
					queue = append(queue, ip.txHash)
				}
			}
		}

		delete(mp.recentlyAdded, hash)
		for _, txIn := range tx.TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
		for _, js := range tx.JoinSplits {
			for _, nf := range js.Nullifiers {
				delete(mp.sproutNullifiers, nf)
			}
		}
		for _, spend := range tx.SaplingSpends {
			delete(mp.saplingNullifiers, spend.Nullifier)
		}
		for _, nf := range tx.OrchardNullifiers() {
			delete(mp.orchardNullifiers, nf)
		}

		if mp.cfg.AddressIndex {
			mp.removeAddressIndex(&hash)
		}
		if mp.cfg.SpentIndex {
			mp.removeSpentIndex(&hash)
		}

		removed = append(removed, desc.Tx)
		mp.totalTxSize -= uint64(desc.TxSize)
		mp.cachedInnerUsage -= desc.UsageSize
		delete(mp.pool, hash)
		mp.transactionsUpdated++
		mp.estimator.RemoveTx(&hash)
	}

	for _, tx := range removed {
		mp.weightedTree.remove(*tx.Hash())
	}

	return removed
}

// RemoveTransaction removes the passed transaction from the mempool.  When
// the recursive flag is set, any transactions that redeem outputs from the
// removed transaction are also removed recursively, as they would otherwise
// become orphans.  The removed transactions are returned; removing a
// transaction that is not in the pool is a no-op and yields an empty result.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *zecutil.Tx, recursive bool) []*zecutil.Tx {
	mp.mtx.Lock()
	removed := mp.removeTransaction(tx, recursive)
	mp.mtx.Unlock()
	return removed
}

// RemoveForReorg removes transactions that are no longer valid after a chain
// reorganization: entries that are no longer final under the passed flags
// and entries spending a coinbase output that is no longer mature from the
// perspective of mempoolHeight.  Coinbase spends whose parent is itself in
// the pool are exempt from the maturity check.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForReorg(view blockchain.CoinsView, mempoolHeight int32, flags int) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	var toRemove []*zecutil.Tx
	for _, desc := range mp.pool {
		tx := desc.Tx.MsgTx()
		if mp.cfg.CheckFinalTx != nil && !mp.cfg.CheckFinalTx(desc.Tx, flags) {
			toRemove = append(toRemove, desc.Tx)
			continue
		}
		if !desc.SpendsCoinbase {
			continue
		}
		for _, txIn := range tx.TxIn {
			prevHash := txIn.PreviousOutPoint.Hash
			if _, ok := mp.pool[prevHash]; ok {
				continue
			}
			coins := view.AccessCoins(&prevHash)
			if coins == nil || (coins.CoinBase &&
				mempoolHeight-coins.Height < blockchain.CoinbaseMaturity) {

				toRemove = append(toRemove, desc.Tx)
				break
			}
		}
	}

	for _, tx := range toRemove {
		mp.removeTransaction(tx, true)
	}
}

// RemoveWithAnchor removes every transaction with a shielded spend proved
// against the passed invalidated commitment tree root.  This is required
// when a block is disconnected from the tip and the root changes: such
// spends are no longer provable, almost as though they were spending
// coinbases which are no longer mature.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveWithAnchor(invalidRoot *chainhash.Hash, kind wire.ShieldedType) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	var toRemove []*zecutil.Tx
	for _, desc := range mp.pool {
		tx := desc.Tx.MsgTx()
		switch kind {
		case wire.Sprout:
			for _, js := range tx.JoinSplits {
				if js.Anchor == *invalidRoot {
					toRemove = append(toRemove, desc.Tx)
					break
				}
			}
		case wire.Sapling:
			for _, spend := range tx.SaplingSpends {
				if spend.Anchor == *invalidRoot {
					toRemove = append(toRemove, desc.Tx)
					break
				}
			}
		case wire.Orchard:
			if len(tx.OrchardActions) > 0 && tx.OrchardAnchor == *invalidRoot {
				toRemove = append(toRemove, desc.Tx)
			}
		default:
			panic(fmt.Sprintf("unknown shielded type %v", kind))
		}
	}

	for _, tx := range toRemove {
		mp.removeTransaction(tx, true)
	}
}

// removeConflicts is the internal function which implements the public
// RemoveConflicts.  See the comment for RemoveConflicts for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeConflicts(tx *zecutil.Tx) []*zecutil.Tx {
	var removed []*zecutil.Tx
	txHash := *tx.Hash()
	msgTx := tx.MsgTx()

	removeSpender := func(spender chainhash.Hash) {
		if spender == txHash {
			return
		}
		if desc, ok := mp.pool[spender]; ok {
			removed = append(removed, mp.removeTransaction(desc.Tx, true)...)
		}
	}

	for _, txIn := range msgTx.TxIn {
		if ip, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
			removeSpender(ip.txHash)
		}
	}
	for _, nf := range msgTx.SproutNullifiers() {
		if spender, ok := mp.sproutNullifiers[nf]; ok {
			removeSpender(spender)
		}
	}
	for _, nf := range msgTx.SaplingNullifiers() {
		if spender, ok := mp.saplingNullifiers[nf]; ok {
			removeSpender(spender)
		}
	}
	for _, nf := range msgTx.OrchardNullifiers() {
		if spender, ok := mp.orchardNullifiers[nf]; ok {
			removeSpender(spender)
		}
	}

	return removed
}

// RemoveConflicts removes every pool transaction whose transparent inputs or
// shielded nullifiers collide with the passed transaction, excluding the
// transaction itself, along with all of their descendants.  The removed
// transactions are returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveConflicts(tx *zecutil.Tx) []*zecutil.Tx {
	mp.mtx.Lock()
	removed := mp.removeConflicts(tx)
	mp.mtx.Unlock()
	return removed
}

// RemoveExpired removes every transaction that is expired at the passed
// block height along with its descendants and returns the ids of the expired
// transactions.  Descendants removed with them are not listed.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveExpired(height int32) []chainhash.Hash {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	var toRemove []*zecutil.Tx
	for _, desc := range mp.pool {
		if blockchain.IsExpiredTx(desc.Tx.MsgTx(), height) {
			toRemove = append(toRemove, desc.Tx)
		}
	}

	ids := make([]chainhash.Hash, 0, len(toRemove))
	for _, tx := range toRemove {
		mp.removeTransaction(tx, true)
		ids = append(ids, *tx.Hash())
		log.Debugf("Removing expired txid: %v", tx.Hash())
	}
	return ids
}

// RemoveForBlock removes every transaction in the passed connected block
// from the mempool, removes any transactions that conflict with them, and
// clears their prioritisation.  The conflicting transactions that were
// removed are returned.  A snapshot of the pool entries for the block's
// transactions is captured before any removal and handed to the estimator so
// confirmation statistics reflect the pre-block pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForBlock(blockTxns []*zecutil.Tx, height int32,
	isCurrentEstimate bool) []*zecutil.Tx {

	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	entries := make([]*TxDesc, 0, len(blockTxns))
	for _, tx := range blockTxns {
		if desc, ok := mp.pool[*tx.Hash()]; ok {
			entries = append(entries, desc)
		}
	}

	var conflicts []*zecutil.Tx
	for _, tx := range blockTxns {
		mp.removeTransaction(tx, false)
		conflicts = append(conflicts, mp.removeConflicts(tx)...)
		mp.clearPrioritisation(tx.Hash())
	}

	// After the txs in the new block have been removed from the mempool,
	// update the policy estimates.
	mp.estimator.ProcessBlock(height, entries, isCurrentEstimate)

	return conflicts
}

// RemoveWithoutBranchID removes every transaction that does not commit to
// the passed consensus branch.  It is called whenever the tip crosses a
// network upgrade boundary.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveWithoutBranchID(branchID uint32) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	var toRemove []*zecutil.Tx
	for _, desc := range mp.pool {
		if desc.BranchID != branchID {
			toRemove = append(toRemove, desc.Tx)
		}
	}

	for _, tx := range toRemove {
		mp.removeTransaction(tx, true)
	}
}

// Clear discards the entire contents of the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Clear() {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	mp.pool = make(map[chainhash.Hash]*TxDesc)
	mp.outpoints = make(map[wire.OutPoint]inPoint)
	mp.sproutNullifiers = make(map[chainhash.Hash]chainhash.Hash)
	mp.saplingNullifiers = make(map[chainhash.Hash]chainhash.Hash)
	mp.orchardNullifiers = make(map[chainhash.Hash]chainhash.Hash)
	mp.recentlyAdded = make(map[chainhash.Hash]*zecutil.Tx)
	if mp.cfg.AddressIndex {
		mp.addressRows = make(map[addressKey]addressDelta)
		mp.addressInserted = make(map[chainhash.Hash][]addressKey)
	}
	if mp.cfg.SpentIndex {
		mp.spentRows = make(map[wire.OutPoint]SpentValue)
		mp.spentInserted = make(map[chainhash.Hash][]wire.OutPoint)
	}
	mp.weightedTree = newWeightedTxTree(mp.weightedTree.limit, mp.rng)
	mp.totalTxSize = 0
	mp.cachedInnerUsage = 0
	mp.transactionsUpdated++
}

// exists returns whether the passed transaction is in the pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) exists(hash *chainhash.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// Exists returns whether the passed transaction is in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Exists(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	exists := mp.exists(hash)
	mp.mtx.RUnlock()
	return exists
}

// Get returns the shared transaction for the given hash, or nil when it is
// not in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Get(hash *chainhash.Hash) *zecutil.Tx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if desc, ok := mp.pool[*hash]; ok {
		return desc.Tx
	}
	return nil
}

// Info returns the queryable snapshot for the given transaction, or nil when
// it is not in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Info(hash *chainhash.Hash) *TxMempoolInfo {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	desc, ok := mp.pool[*hash]
	if !ok {
		return nil
	}
	return &TxMempoolInfo{
		Tx:      desc.Tx,
		Time:    desc.Time,
		FeeRate: NewFeeRate(desc.Fee, desc.TxSize),
	}
}

// sortedDescs returns the pool entries sorted by descending score with the
// deterministic txid tie-break.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) sortedDescs() []*TxDesc {
	descs := make([]*TxDesc, 0, len(mp.pool))
	for _, desc := range mp.pool {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool {
		return descLess(descs[i], descs[j])
	})
	return descs
}

// InfoAll returns a snapshot for every pool entry sorted by descending
// score.
//
// This function is safe for concurrent access.
func (mp *TxPool) InfoAll() []*TxMempoolInfo {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descs := mp.sortedDescs()
	infos := make([]*TxMempoolInfo, 0, len(descs))
	for _, desc := range descs {
		infos = append(infos, &TxMempoolInfo{
			Tx:      desc.Tx,
			Time:    desc.Time,
			FeeRate: NewFeeRate(desc.Fee, desc.TxSize),
		})
	}
	return infos
}

// QueryHashes returns the ids of every pool transaction sorted by descending
// score.
//
// This function is safe for concurrent access.
func (mp *TxPool) QueryHashes() []chainhash.Hash {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descs := mp.sortedDescs()
	hashes := make([]chainhash.Hash, 0, len(descs))
	for _, desc := range descs {
		hashes = append(hashes, *desc.Tx.Hash())
	}
	return hashes
}

// CompareDepthAndScore reports whether the transaction with hash a should
// sort before the transaction with hash b.  A hash that is not in the pool
// sorts after every pool entry: a missing a yields false and a missing b
// yields true.
//
// Despite the name, only the score is compared: the depth portion of the
// comparison was never backported from upstream and the name is kept to
// avoid gratuitous churn at every call site.
//
// This function is safe for concurrent access.
func (mp *TxPool) CompareDepthAndScore(a, b *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descA, ok := mp.pool[*a]
	if !ok {
		return false
	}
	descB, ok := mp.pool[*b]
	if !ok {
		return true
	}
	return descLess(descA, descB)
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()
	return count
}

// TotalTxSize returns the combined serialized size of every pool
// transaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) TotalTxSize() uint64 {
	mp.mtx.RLock()
	size := mp.totalTxSize
	mp.mtx.RUnlock()
	return size
}

// GetTransactionsUpdated returns the number of pool mutations performed so
// far.  Peers use it to cheaply detect that the pool contents changed.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetTransactionsUpdated() uint32 {
	mp.mtx.RLock()
	n := mp.transactionsUpdated
	mp.mtx.RUnlock()
	return n
}

// AddTransactionsUpdated adds n to the pool mutation counter.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddTransactionsUpdated(n uint32) {
	mp.mtx.Lock()
	mp.transactionsUpdated += n
	mp.mtx.Unlock()
}

// HasNoInputsOf returns whether none of the passed transaction's inputs
// reference a transaction that is in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HasNoInputsOf(tx *zecutil.Tx) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	for _, txIn := range tx.MsgTx().TxIn {
		if mp.exists(&txIn.PreviousOutPoint.Hash) {
			return false
		}
	}
	return true
}

// nullifierExists returns whether the passed nullifier has been revealed by
// a pool transaction in the selected shielded pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) nullifierExists(nf *chainhash.Hash, kind wire.ShieldedType) bool {
	switch kind {
	case wire.Sprout:
		_, ok := mp.sproutNullifiers[*nf]
		return ok
	case wire.Sapling:
		_, ok := mp.saplingNullifiers[*nf]
		return ok
	case wire.Orchard:
		_, ok := mp.orchardNullifiers[*nf]
		return ok
	default:
		panic(fmt.Sprintf("unknown shielded type %v", kind))
	}
}

// NullifierExists returns whether the passed nullifier has been revealed by
// a pool transaction in the selected shielded pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) NullifierExists(nf *chainhash.Hash, kind wire.ShieldedType) bool {
	mp.mtx.RLock()
	exists := mp.nullifierExists(nf, kind)
	mp.mtx.RUnlock()
	return exists
}

// CheckSpend checks whether the passed outpoint is already spent by a
// transaction in the pool.  If that's the case the spending transaction is
// returned, if not nil is returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) CheckSpend(op wire.OutPoint) *zecutil.Tx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	ip, ok := mp.outpoints[op]
	if !ok {
		return nil
	}
	if desc, ok := mp.pool[ip.txHash]; ok {
		return desc.Tx
	}
	return nil
}

// PruneSpent marks every output of the given transaction that is spent by a
// pool transaction as spent in the passed coins.
//
// This function is safe for concurrent access.
func (mp *TxPool) PruneSpent(hash *chainhash.Hash, coins *blockchain.Coins) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	// Visit every outpoint of the source transaction in ascending output
	// order and drop the ones consumed by the pool.
	for i := range coins.Outputs {
		prevOut := wire.OutPoint{Hash: *hash, Index: uint32(i)}
		if _, ok := mp.outpoints[prevOut]; ok {
			coins.Spend(uint32(i))
		}
	}
}

// PrioritiseTransaction accumulates a priority and fee adjustment for the
// given transaction id.  The adjustment applies to the entry's score
// immediately when the transaction is in the pool and is retained for later
// application otherwise.
//
// This function is safe for concurrent access.
func (mp *TxPool) PrioritiseTransaction(hash *chainhash.Hash,
	priorityDelta float64, feeDelta btcutil.Amount) {

	mp.mtx.Lock()
	delta, ok := mp.deltas[*hash]
	if !ok {
		delta = &txDelta{}
		mp.deltas[*hash] = delta
	}
	delta.priorityDelta += priorityDelta
	delta.feeDelta += feeDelta
	if desc, ok := mp.pool[*hash]; ok {
		desc.FeeDelta = delta.feeDelta
	}
	mp.mtx.Unlock()

	log.Infof("PrioritiseTransaction: %v priority += %f, fee += %v", hash,
		priorityDelta, feeDelta)
}

// ApplyDeltas adds any stored prioritisation adjustment for the given
// transaction id to the passed values and returns the results.
//
// This function is safe for concurrent access.
func (mp *TxPool) ApplyDeltas(hash *chainhash.Hash, priority float64,
	fee btcutil.Amount) (float64, btcutil.Amount) {

	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if delta, ok := mp.deltas[*hash]; ok {
		priority += delta.priorityDelta
		fee += delta.feeDelta
	}
	return priority, fee
}

// clearPrioritisation removes the stored prioritisation adjustment for the
// given transaction id.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) clearPrioritisation(hash *chainhash.Hash) {
	delete(mp.deltas, *hash)
}

// ClearPrioritisation removes the stored prioritisation adjustment for the
// given transaction id.
//
// This function is safe for concurrent access.
func (mp *TxPool) ClearPrioritisation(hash *chainhash.Hash) {
	mp.mtx.Lock()
	mp.clearPrioritisation(hash)
	mp.mtx.Unlock()
}

// EstimateFee returns the fee rate expected to confirm a transaction within
// the given number of blocks.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimateFee(numBlocks int) FeeRate {
	// The estimator memoizes its sorted estimates, so the write lock is
	// required here.
	mp.mtx.Lock()
	rate := mp.estimator.EstimateFee(numBlocks)
	mp.mtx.Unlock()
	return rate
}

// EstimatePriority returns the priority expected to confirm a transaction
// within the given number of blocks.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimatePriority(numBlocks int) float64 {
	mp.mtx.Lock()
	priority := mp.estimator.EstimatePriority(numBlocks)
	mp.mtx.Unlock()
	return priority
}

// WriteFeeEstimates serializes the estimator state to w, framed with the
// minimum reader version and the writer version.  Failures are logged
// non-fatally and returned; the pool state is unchanged either way.
//
// This function is safe for concurrent access.
func (mp *TxPool) WriteFeeEstimates(w io.Writer) error {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	err := func() error {
		// Version required to read, then the version that wrote.
		if err := binary.Write(w, binary.LittleEndian,
			uint32(feeEstimatesMinVersion)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian,
			uint32(clientVersion)); err != nil {
			return err
		}
		return mp.estimator.Write(w)
	}()
	if err != nil {
		log.Warnf("WriteFeeEstimates: unable to write policy "+
			"estimator data (non-fatal): %v", err)
		return err
	}
	return nil
}

// ReadFeeEstimates restores estimator state previously written by
// WriteFeeEstimates.  Files written by a future client version are rejected.
// Failures are logged non-fatally and returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) ReadFeeEstimates(r io.Reader) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	err := func() error {
		var versionRequired, versionThatWrote uint32
		if err := binary.Read(r, binary.LittleEndian,
			&versionRequired); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian,
			&versionThatWrote); err != nil {
			return err
		}
		if versionRequired > clientVersion {
			return fmt.Errorf("up-version (%d) fee estimate file",
				versionRequired)
		}
		return mp.estimator.Read(r)
	}()
	if err != nil {
		log.Warnf("ReadFeeEstimates: unable to read policy "+
			"estimator data (non-fatal): %v", err)
		return err
	}
	return nil
}

// SetMempoolCostLimit replaces the aggregate cost limit enforced by
// EnsureSizeLimit and the duration evicted transaction ids are remembered.
// The weighted tree and the recently-evicted list are reconstructed;
// existing pool entries are re-registered with the new tree.
//
// This function is safe for concurrent access.
func (mp *TxPool) SetMempoolCostLimit(totalCostLimit, evictionMemorySeconds int64) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	log.Debugf("Setting mempool cost limit: (limit=%d, time=%d)",
		totalCostLimit, evictionMemorySeconds)

	mp.recentlyEvicted = newRecentlyEvictedList(evictionMemorySeconds)
	mp.weightedTree = newWeightedTxTree(totalCostLimit, mp.rng)
	for hash, desc := range mp.pool {
		mp.weightedTree.add(newWeightedTxInfo(hash, desc, mp.cfg.MinRelayFee))
	}
}

// ensureSizeLimit is the internal function which implements the public
// EnsureSizeLimit.  See the comment for EnsureSizeLimit for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) ensureSizeLimit() {
	now := time.Now().Unix()
	for {
		victim, ok := mp.weightedTree.maybeDropRandom()
		if !ok {
			break
		}
		mp.recentlyEvicted.add(victim, now)
		desc := mp.pool[victim]
		removed := mp.removeTransaction(desc.Tx, true)
		log.Debugf("Evicted %d %s (cost %d over limit)", len(removed),
			pickNoun(len(removed), "transaction", "transactions"),
			mp.weightedTree.totalCost())
	}
}

// EnsureSizeLimit evicts randomly chosen transactions, weighted towards low
// fee rates, until the aggregate cost of the pool no longer exceeds the
// configured limit.  Every victim is recorded in the recently-evicted list
// before it and its descendants are removed.
//
// This function is safe for concurrent access.
func (mp *TxPool) EnsureSizeLimit() {
	mp.mtx.Lock()
	mp.ensureSizeLimit()
	mp.mtx.Unlock()
}

// IsRecentlyEvicted returns whether the given transaction id was evicted by
// EnsureSizeLimit within the configured memory window.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsRecentlyEvicted(hash *chainhash.Hash) bool {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.recentlyEvicted.contains(*hash, time.Now().Unix())
}

// DrainRecentlyAdded moves out every transaction accepted since the previous
// drain along with the current notification sequence number.
//
// This function is safe for concurrent access.
func (mp *TxPool) DrainRecentlyAdded() ([]*zecutil.Tx, uint64) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	txns := make([]*zecutil.Tx, 0, len(mp.recentlyAdded))
	for _, tx := range mp.recentlyAdded {
		txns = append(txns, tx)
	}
	mp.recentlyAdded = make(map[chainhash.Hash]*zecutil.Tx)
	return txns, mp.recentlyAddedSequence
}

// SetNotifiedSequence records the notification sequence number that has been
// fully processed by the wallet notifier.  It is intended for tests and
// regression networks only.
//
// This function is safe for concurrent access.
func (mp *TxPool) SetNotifiedSequence(seq uint64) {
	mp.mtx.Lock()
	mp.notifiedSequence = seq
	mp.mtx.Unlock()
}

// IsFullyNotified returns whether every accepted transaction has been
// processed by the wallet notifier.  It is intended for tests and regression
// networks only.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsFullyNotified() bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.recentlyAddedSequence == mp.notifiedSequence
}

// SetCheckFrequency sets the probability, in [0, 1], that a call to Check
// actually audits the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) SetCheckFrequency(ratio float64) {
	mp.mtx.Lock()
	mp.checkFrequency = uint32(ratio * float64(1<<32-1))
	mp.mtx.Unlock()
}

// DynamicMemoryUsage approximates the total memory footprint of the pool,
// including every cross-index.
//
// This function is safe for concurrent access.
func (mp *TxPool) DynamicMemoryUsage() int64 {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	// Estimate the per-entry bookkeeping as the descriptor itself plus
	// nine pointers worth of map and index overhead.
	entrySize := int64(reflect.TypeOf(TxDesc{}).Size()) + 9*8
	total := entrySize * int64(len(mp.pool))

	// Contained transaction usage is pre-aggregated to save iterating
	// over the full map.
	total += mp.cachedInnerUsage

	total += mapUsage(len(mp.outpoints), 36+40)
	total += mapUsage(len(mp.deltas), 32+8+16)
	total += mapUsage(len(mp.recentlyAdded), 32+8)
	total += mapUsage(len(mp.sproutNullifiers), 64)
	total += mapUsage(len(mp.saplingNullifiers), 64)
	total += mapUsage(len(mp.orchardNullifiers), 64)

	total += mp.weightedTree.dynamicUsage()
	total += mp.recentlyEvicted.dynamicUsage()

	if mp.cfg.AddressIndex {
		total += mapUsage(len(mp.addressRows), 64+56)
		total += mapUsage(len(mp.addressInserted), 32+24)
	}
	if mp.cfg.SpentIndex {
		total += mapUsage(len(mp.spentRows), 36+80)
		total += mapUsage(len(mp.spentInserted), 32+24)
	}

	return total
}
