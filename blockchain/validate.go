// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/zecsuite/zecd/wire"
)

const (
	// CoinbaseMaturity is the number of blocks required before newly mined
	// coins can be spent.
	CoinbaseMaturity = 100

	// LockTimeThreshold is the number below which a lock time is
	// interpreted to be a block height.  Since an average of one block is
	// generated per 10 minutes, this allows blocks for about 9,512 years.
	LockTimeThreshold = 5e8
)

// IsFinalTx determines whether or not a transaction is final based on the
// passed block height and time.
func IsFinalTx(tx *wire.MsgTx, blockHeight int32, blockTime int64) bool {
	// Lock time of zero means the transaction is finalized.
	lockTime := tx.LockTime
	if lockTime == 0 {
		return true
	}

	// The lock time field of a transaction is either a block height at
	// which the transaction is finalized or a timestamp depending on if
	// the value is before the LockTimeThreshold.
	var blockTimeOrHeight int64
	if lockTime < LockTimeThreshold {
		blockTimeOrHeight = int64(blockHeight)
	} else {
		blockTimeOrHeight = blockTime
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	// At this point, the transaction's lock time hasn't occurred yet, but
	// it might still be final if the sequence number for all transaction
	// inputs is maxed out.
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

// IsExpiredTx determines whether or not a transaction is expired at the
// passed block height.  A transaction with an expiry height of zero never
// expires.
func IsExpiredTx(tx *wire.MsgTx, blockHeight int32) bool {
	if tx.ExpiryHeight == 0 || tx.IsCoinBase() {
		return false
	}
	return uint32(blockHeight) > tx.ExpiryHeight
}

// CheckTxInputs performs a series of checks on the transparent inputs of a
// transaction to ensure they are valid with respect to the passed view:
// every referenced output must exist and be unspent, spent coinbase outputs
// must have reached maturity at spendHeight, and the total input value must
// not be less than the total output value.  The fee paid by the transparent
// value balance is returned.
func CheckTxInputs(tx *wire.MsgTx, view *CoinsViewCache, spendHeight int32) (btcutil.Amount, error) {
	var totalIn int64
	for i, txIn := range tx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := view.AccessCoins(&prevOut.Hash)
		if coins == nil || !coins.IsAvailable(prevOut.Index) {
			return 0, fmt.Errorf("input %d of %v references missing "+
				"or spent output %v", i, tx.TxHash(), prevOut)
		}

		if coins.CoinBase {
			if confirms := spendHeight - coins.Height; confirms < CoinbaseMaturity {
				return 0, fmt.Errorf("tried to spend coinbase "+
					"%v at height %d with only %d of %d "+
					"required confirmations", prevOut,
					spendHeight, confirms, CoinbaseMaturity)
			}
		}

		totalIn += coins.Outputs[prevOut.Index].Value
	}

	totalOut := tx.ValueOut()
	if totalIn < totalOut {
		return 0, fmt.Errorf("transaction %v spends %d transparent "+
			"value but only has %d available", tx.TxHash(),
			totalOut, totalIn)
	}

	return btcutil.Amount(totalIn - totalOut), nil
}
