// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// estimateFeeDepth is the maximum number of blocks before a
	// transaction is confirmed that we want to track.
	estimateFeeDepth = 25

	// estimateFeeBinSize is the number of txs stored in each bin.
	estimateFeeBinSize = 100

	// estimateFeeMaxReplacements is the max number of replacements that
	// can be made by the txs found in a given block.
	estimateFeeMaxReplacements = 10

	// unminedHeight is the sentinel recorded for observed transactions
	// that have not been mined yet.
	unminedHeight int32 = -1
)

// Estimator is the sink the pool feeds with accepted entries and connected
// blocks, and the source of fee and priority estimates.  Implementations
// must not call back into the pool: the pool lock is held across every call.
type Estimator interface {
	// ProcessTransaction is called once for every transaction accepted
	// into the pool.
	ProcessTransaction(desc *TxDesc, isCurrentEstimate bool)

	// ProcessBlock is called after the transactions of a connected block
	// have been removed from the pool, with the pool entries the block
	// confirmed as they existed before removal.
	ProcessBlock(height int32, entries []*TxDesc, isCurrentEstimate bool)

	// RemoveTx is called for every transaction that leaves the pool,
	// including the transactions of a connected block, which are removed
	// before ProcessBlock is called.
	RemoveTx(hash *chainhash.Hash)

	// EstimateFee returns the fee rate expected to confirm a transaction
	// within numBlocks blocks, or -1 when no estimate is available.
	EstimateFee(numBlocks int) FeeRate

	// EstimatePriority returns the priority expected to confirm a
	// transaction within numBlocks blocks, or -1 when no estimate is
	// available.
	EstimatePriority(numBlocks int) float64

	// Write serializes the estimator state.
	Write(w io.Writer) error

	// Read restores estimator state previously written by Write,
	// replacing the current state.
	Read(r io.Reader) error
}

// observedTransaction represents an observed transaction and some additional
// data required for the fee and priority estimation algorithm.
type observedTransaction struct {
	// hash is the transaction hash.
	hash chainhash.Hash

	// feeRate is the effective fee rate of the transaction.
	feeRate FeeRate

	// priority is the priority of the transaction when it entered the
	// pool.
	priority float64

	// observed is the block height when the transaction was observed.
	observed int32

	// mined is the height of the block in which it was mined, or
	// unminedHeight while it is unconfirmed.
	mined int32
}

// FeeEstimator manages the data necessary to create fee and priority
// estimations from the flow of pool admissions and block confirmations.  It
// is driven entirely under the pool lock and performs no locking of its own.
type FeeEstimator struct {
	minRelayFee btcutil.Amount

	// lastKnownHeight is the height of the most recently processed block.
	lastKnownHeight int32

	observed map[chainhash.Hash]*observedTransaction
	bin      [estimateFeeDepth][]*observedTransaction

	// numBlocksProcessed is the number of blocks that have been fed to
	// the estimator.
	numBlocksProcessed uint32

	// cached sorted estimates, invalidated by every processed block.
	cachedFees       []FeeRate
	cachedPriorities []float64
}

// Ensure FeeEstimator implements the Estimator interface.
var _ Estimator = (*FeeEstimator)(nil)

// NewFeeEstimator returns an empty estimator seeded with the minimum relay
// fee.
func NewFeeEstimator(minRelayFee btcutil.Amount) *FeeEstimator {
	return &FeeEstimator{
		minRelayFee:     minRelayFee,
		lastKnownHeight: unminedHeight,
		observed:        make(map[chainhash.Hash]*observedTransaction),
	}
}

// ProcessTransaction is called when a new transaction is accepted into the
// pool.  Only transactions with no in-pool dependencies are tracked: a child
// cannot confirm before its parent, so it would skew the confirmation delay
// statistics.
func (ef *FeeEstimator) ProcessTransaction(desc *TxDesc, isCurrentEstimate bool) {
	if !isCurrentEstimate || !desc.HadNoDependencies {
		return
	}

	hash := *desc.Tx.Hash()
	if _, ok := ef.observed[hash]; ok {
		return
	}

	ef.observed[hash] = &observedTransaction{
		hash:     hash,
		feeRate:  desc.FeeRate(),
		priority: desc.StartingPriority,
		observed: desc.Height,
		mined:    unminedHeight,
	}
}

// ProcessBlock moves the entries confirmed by the passed block into the bin
// matching their confirmation delay and drops observations that have been
// waiting longer than the tracked depth.  Entries whose observation was
// already forgotten by RemoveTx are recorded from the entry itself when they
// had no in-pool dependencies at admission.
func (ef *FeeEstimator) ProcessBlock(height int32, entries []*TxDesc, isCurrentEstimate bool) {
	// The previous sorted estimates are invalid, so delete them.
	ef.cachedFees = nil
	ef.cachedPriorities = nil

	ef.lastKnownHeight = height
	ef.numBlocksProcessed++

	// Count the number of replacements we make per bin so that we don't
	// replace too many.
	var replacementCounts [estimateFeeDepth]int

	for _, desc := range entries {
		hash := *desc.Tx.Hash()

		// Have we observed this tx entering the pool?  The pool removes a
		// block's transactions, and so calls RemoveTx for them, before
		// ProcessBlock, so fall back to the snapshot entry.
		o, ok := ef.observed[hash]
		if ok {
			delete(ef.observed, hash)
		} else if desc.HadNoDependencies {
			o = &observedTransaction{
				hash:     hash,
				feeRate:  desc.FeeRate(),
				priority: desc.StartingPriority,
				observed: desc.Height,
				mined:    unminedHeight,
			}
		} else {
			continue
		}

		if !isCurrentEstimate {
			continue
		}

		o.mined = height
		blocksToConfirm := height - o.observed - 1
		if blocksToConfirm < 0 {
			blocksToConfirm = 0
		}
		if blocksToConfirm >= estimateFeeDepth {
			continue
		}

		// Make sure we do not replace too many transactions per bin.
		if replacementCounts[blocksToConfirm] == estimateFeeMaxReplacements {
			continue
		}
		replacementCounts[blocksToConfirm]++

		bin := ef.bin[blocksToConfirm]
		if len(bin) == estimateFeeBinSize {
			// Replace a random element with the new tx.
			drop := rand.Intn(len(bin))
			bin[drop] = o
		} else {
			ef.bin[blocksToConfirm] = append(bin, o)
		}
	}

	// Go through the mempool for txs that have been waiting too long.
	for hash, o := range ef.observed {
		if o.mined == unminedHeight && height-o.observed >= estimateFeeDepth {
			delete(ef.observed, hash)
		}
	}
}

// RemoveTx forgets an observed transaction that is still unconfirmed.  The
// pool also calls it for the transactions of a connected block; ProcessBlock
// then records those from the entries it is passed.
func (ef *FeeEstimator) RemoveTx(hash *chainhash.Hash) {
	o, ok := ef.observed[*hash]
	if !ok || o.mined != unminedHeight {
		return
	}
	delete(ef.observed, *hash)
}

// estimateSet is a confirmed-observation snapshot sorted for percentile
// extraction.
type estimateSet struct {
	feeRates   []FeeRate
	priorities []float64
	bin        [estimateFeeDepth]uint32
}

// newEstimateSet flattens the bins into sorted slices along with the per-bin
// counts needed to locate the median for a given confirmation target.
func (ef *FeeEstimator) newEstimateSet() *estimateSet {
	set := &estimateSet{}

	capacity := 0
	for i, b := range ef.bin {
		l := len(b)
		set.bin[i] = uint32(l)
		capacity += l
	}

	set.feeRates = make([]FeeRate, 0, capacity)
	set.priorities = make([]float64, 0, capacity)
	for _, b := range ef.bin {
		for _, o := range b {
			set.feeRates = append(set.feeRates, o.feeRate)
			set.priorities = append(set.priorities, o.priority)
		}
	}

	sort.Slice(set.feeRates, func(i, j int) bool {
		return set.feeRates[i] > set.feeRates[j]
	})
	sort.Slice(set.priorities, func(i, j int) bool {
		return set.priorities[i] > set.priorities[j]
	})

	return set
}

// medianIndex locates the median observation among the ones confirmed
// within the given number of blocks.  The bool result is false when no
// observations are available.
func (set *estimateSet) medianIndex(confirmations int) (int, bool) {
	if confirmations > estimateFeeDepth {
		confirmations = estimateFeeDepth
	}

	var min, max uint32
	for i := 0; i < confirmations-1; i++ {
		min += set.bin[i]
	}
	max = min + set.bin[confirmations-1]
	if min == 0 && max == 0 {
		return 0, false
	}
	return int((min + max - 1) / 2), true
}

// estimateFee returns the estimated fee rate for a transaction to confirm
// within the given number of blocks from now.
func (set *estimateSet) estimateFee(confirmations int) FeeRate {
	if confirmations <= 0 {
		return FeeRate(math.MaxInt64)
	}
	idx, ok := set.medianIndex(confirmations)
	if !ok {
		return -1
	}
	return set.feeRates[idx]
}

// estimatePriority returns the estimated priority for a transaction to
// confirm within the given number of blocks from now.
func (set *estimateSet) estimatePriority(confirmations int) float64 {
	if confirmations <= 0 {
		return math.Inf(1)
	}
	idx, ok := set.medianIndex(confirmations)
	if !ok {
		return -1
	}
	return set.priorities[idx]
}

// EstimateFee returns the fee rate expected to confirm a transaction within
// numBlocks blocks, or -1 when no estimate is available.
func (ef *FeeEstimator) EstimateFee(numBlocks int) FeeRate {
	if numBlocks <= 0 || numBlocks > estimateFeeDepth {
		return -1
	}

	if ef.cachedFees == nil {
		set := ef.newEstimateSet()
		ef.cachedFees = make([]FeeRate, estimateFeeDepth)
		ef.cachedPriorities = make([]float64, estimateFeeDepth)
		for i := 0; i < estimateFeeDepth; i++ {
			ef.cachedFees[i] = set.estimateFee(i + 1)
			ef.cachedPriorities[i] = set.estimatePriority(i + 1)
		}
	}

	return ef.cachedFees[numBlocks-1]
}

// EstimatePriority returns the priority expected to confirm a transaction
// within numBlocks blocks, or -1 when no estimate is available.
func (ef *FeeEstimator) EstimatePriority(numBlocks int) float64 {
	if numBlocks <= 0 || numBlocks > estimateFeeDepth {
		return -1
	}

	if ef.cachedPriorities == nil {
		// Populate both caches.
		ef.EstimateFee(numBlocks)
	}

	return ef.cachedPriorities[numBlocks-1]
}

// Write serializes the estimator's confirmed-observation bins and counters
// to w in little-endian form.
func (ef *FeeEstimator) Write(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, ef.lastKnownHeight); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ef.numBlocksProcessed); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(estimateFeeDepth)); err != nil {
		return err
	}
	for _, bin := range &ef.bin {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(bin))); err != nil {
			return err
		}
		for _, o := range bin {
			if err := writeObserved(w, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// Read restores state previously written by Write, replacing the current
// state entirely.
func (ef *FeeEstimator) Read(r io.Reader) error {
	var restored FeeEstimator
	restored.minRelayFee = ef.minRelayFee
	restored.observed = make(map[chainhash.Hash]*observedTransaction)

	if err := binary.Read(r, binary.LittleEndian, &restored.lastKnownHeight); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &restored.numBlocksProcessed); err != nil {
		return err
	}
	var depth uint32
	if err := binary.Read(r, binary.LittleEndian, &depth); err != nil {
		return err
	}
	if depth != estimateFeeDepth {
		return fmt.Errorf("incompatible fee estimation depth %d, "+
			"expected %d", depth, estimateFeeDepth)
	}
	for i := range &restored.bin {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return err
		}
		if count > estimateFeeBinSize {
			return fmt.Errorf("corrupt fee estimation bin: %d "+
				"entries, max %d", count, estimateFeeBinSize)
		}
		bin := make([]*observedTransaction, 0, count)
		for j := uint32(0); j < count; j++ {
			o, err := readObserved(r)
			if err != nil {
				return err
			}
			bin = append(bin, o)
		}
		restored.bin[i] = bin
	}

	*ef = restored
	return nil
}

func writeObserved(w io.Writer, o *observedTransaction) error {
	if _, err := w.Write(o.hash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(o.feeRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, math.Float64bits(o.priority)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, o.observed); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, o.mined)
}

func readObserved(r io.Reader) (*observedTransaction, error) {
	o := observedTransaction{}
	if _, err := io.ReadFull(r, o.hash[:]); err != nil {
		return nil, err
	}
	var feeRate int64
	if err := binary.Read(r, binary.LittleEndian, &feeRate); err != nil {
		return nil, err
	}
	o.feeRate = FeeRate(feeRate)
	var priorityBits uint64
	if err := binary.Read(r, binary.LittleEndian, &priorityBits); err != nil {
		return nil, err
	}
	o.priority = math.Float64frombits(priorityBits)
	if err := binary.Read(r, binary.LittleEndian, &o.observed); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.mined); err != nil {
		return nil, err
	}
	return &o, nil
}
