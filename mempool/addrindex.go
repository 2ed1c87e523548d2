// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/zecsuite/zecd/blockchain"
	"github.com/zecsuite/zecd/wire"
)

// ScriptType classifies the standard transparent script forms tracked by the
// unconfirmed address index.
type ScriptType uint8

// Constants for the tracked script forms.  Non-standard scripts are not
// indexed.
const (
	ScriptTypeUnknown ScriptType = iota
	ScriptTypeP2PKH
	ScriptTypeP2SH
)

// addressKey names one address index row.  The full coordinates of the row
// are part of the key so one transaction can contribute multiple rows per
// address.
type addressKey struct {
	scriptType ScriptType
	addrHash   [20]byte
	txHash     chainhash.Hash
	index      uint32
	spending   bool
}

// addressDelta is the value-flow recorded for one address index row.
type addressDelta struct {
	// time is the unix time the owning transaction entered the pool.
	time int64

	// amount is positive for outputs paying the address and negative for
	// inputs spending from it.
	amount btcutil.Amount

	// prevHash and prevIndex identify the spent outpoint for spending
	// rows.
	prevHash  chainhash.Hash
	prevIndex uint32
}

// AddressIndexEntry is one row returned by GetAddressIndex.
type AddressIndexEntry struct {
	TxHash   chainhash.Hash
	Index    uint32
	Spending bool
	Time     int64
	Amount   btcutil.Amount

	// PrevHash and PrevIndex identify the spent outpoint for spending
	// rows.
	PrevHash  chainhash.Hash
	PrevIndex uint32
}

// SpentValue records which pool transaction consumed an outpoint along with
// metadata about the consumed output.
type SpentValue struct {
	// TxHash and InputIndex identify the consuming input.
	TxHash     chainhash.Hash
	InputIndex uint32

	// BlockHeight is always -1 for pool entries.
	BlockHeight int32

	// Amount, ScriptType and AddrHash describe the consumed output.
	Amount     btcutil.Amount
	ScriptType ScriptType
	AddrHash   [20]byte
}

// extractScriptAddress classifies a transparent output script and extracts
// the 20-byte address hash it pays to.  Unrecognized script forms yield
// ScriptTypeUnknown and are skipped by the address index; the spent-output
// index still records a row for them with that script type.
func extractScriptAddress(pkScript []byte) (ScriptType, [20]byte) {
	var addrHash [20]byte

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript,
		&chaincfg.MainNetParams)
	if err != nil || len(addrs) == 0 {
		return ScriptTypeUnknown, addrHash
	}

	switch class {
	case txscript.PubKeyHashTy:
		copy(addrHash[:], addrs[0].ScriptAddress())
		return ScriptTypeP2PKH, addrHash
	case txscript.PubKeyTy:
		// Pay-to-pubkey rows are indexed under the hash of the pubkey
		// so they collapse with the equivalent pay-to-pubkey-hash
		// rows.
		copy(addrHash[:], btcutil.Hash160(addrs[0].ScriptAddress()))
		return ScriptTypeP2PKH, addrHash
	case txscript.ScriptHashTy:
		copy(addrHash[:], addrs[0].ScriptAddress())
		return ScriptTypeP2SH, addrHash
	}

	return ScriptTypeUnknown, addrHash
}

// fetchOutput resolves the output referenced by the passed outpoint through
// the pool first and the supplied view second.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) fetchOutput(view blockchain.CoinsView, prevOut *wire.OutPoint) *wire.TxOut {
	if desc, ok := mp.pool[prevOut.Hash]; ok {
		outputs := desc.Tx.MsgTx().TxOut
		if prevOut.Index < uint32(len(outputs)) {
			return outputs[prevOut.Index]
		}
		return nil
	}
	if view == nil {
		return nil
	}
	coins := view.AccessCoins(&prevOut.Hash)
	if coins == nil || !coins.IsAvailable(prevOut.Index) {
		return nil
	}
	return coins.Outputs[prevOut.Index]
}

// addAddressIndex derives the address rows for a newly accepted entry:
// a negative-value spending row per recognized input and a positive-value
// funding row per recognized output.  The inserted keys are recorded so
// removal can erase exactly these rows.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addAddressIndex(desc *TxDesc, view blockchain.CoinsView) {
	tx := desc.Tx.MsgTx()
	txHash := *desc.Tx.Hash()
	var inserted []addressKey

	for i, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		output := mp.fetchOutput(view, &prevOut)
		if output == nil {
			continue
		}
		scriptType, addrHash := extractScriptAddress(output.PkScript)
		if scriptType == ScriptTypeUnknown {
			continue
		}
		key := addressKey{
			scriptType: scriptType,
			addrHash:   addrHash,
			txHash:     txHash,
			index:      uint32(i),
			spending:   true,
		}
		mp.addressRows[key] = addressDelta{
			time:      desc.Time,
			amount:    btcutil.Amount(-output.Value),
			prevHash:  prevOut.Hash,
			prevIndex: prevOut.Index,
		}
		inserted = append(inserted, key)
	}

	for i, txOut := range tx.TxOut {
		scriptType, addrHash := extractScriptAddress(txOut.PkScript)
		if scriptType == ScriptTypeUnknown {
			continue
		}
		key := addressKey{
			scriptType: scriptType,
			addrHash:   addrHash,
			txHash:     txHash,
			index:      uint32(i),
		}
		mp.addressRows[key] = addressDelta{
			time:   desc.Time,
			amount: btcutil.Amount(txOut.Value),
		}
		inserted = append(inserted, key)
	}

	mp.addressInserted[txHash] = inserted
}

// removeAddressIndex erases the address rows recorded for the given
// transaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeAddressIndex(txHash *chainhash.Hash) {
	for _, key := range mp.addressInserted[*txHash] {
		delete(mp.addressRows, key)
	}
	delete(mp.addressInserted, *txHash)
}

// GetAddressIndex returns the index rows recorded for the given address in a
// deterministic order.  The address index must be enabled in the pool
// configuration.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetAddressIndex(addrHash [20]byte, scriptType ScriptType) []AddressIndexEntry {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	var results []AddressIndexEntry
	for key, delta := range mp.addressRows {
		if key.addrHash != addrHash || key.scriptType != scriptType {
			continue
		}
		results = append(results, AddressIndexEntry{
			TxHash:    key.txHash,
			Index:     key.index,
			Spending:  key.spending,
			Time:      delta.time,
			Amount:    delta.amount,
			PrevHash:  delta.prevHash,
			PrevIndex: delta.prevIndex,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if cmp := bytes.Compare(a.TxHash[:], b.TxHash[:]); cmp != 0 {
			return cmp < 0
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return !a.Spending && b.Spending
	})
	return results
}

// addSpentIndex records which input of a newly accepted entry consumed each
// of its outpoints.  The inserted outpoints are recorded so removal can
// erase exactly these rows.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addSpentIndex(desc *TxDesc, view blockchain.CoinsView) {
	tx := desc.Tx.MsgTx()
	txHash := *desc.Tx.Hash()
	var inserted []wire.OutPoint

	for i, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		value := SpentValue{
			TxHash:      txHash,
			InputIndex:  uint32(i),
			BlockHeight: -1,
		}
		if output := mp.fetchOutput(view, &prevOut); output != nil {
			value.Amount = btcutil.Amount(output.Value)
			value.ScriptType, value.AddrHash =
				extractScriptAddress(output.PkScript)
		}
		mp.spentRows[prevOut] = value
		inserted = append(inserted, prevOut)
	}

	mp.spentInserted[txHash] = inserted
}

// removeSpentIndex erases the spent-output rows recorded for the given
// transaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeSpentIndex(txHash *chainhash.Hash) {
	for _, prevOut := range mp.spentInserted[*txHash] {
		delete(mp.spentRows, prevOut)
	}
	delete(mp.spentInserted, *txHash)
}

// GetSpentIndex returns the consumer recorded for the given outpoint, if
// any.  The spent-output index must be enabled in the pool configuration.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetSpentIndex(prevOut wire.OutPoint) (SpentValue, bool) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	value, ok := mp.spentRows[prevOut]
	return value, ok
}
