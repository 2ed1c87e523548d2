// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// testTx returns a transaction exercising every section of the format:
// transparent inputs and outputs, joinsplits, sapling spends and orchard
// actions.
func testTx() *MsgTx {
	prevHash := chainhash.HashH([]byte("prev"))
	tx := NewMsgTx(TxVersion)
	tx.VersionGroupID = 0x892f2085
	tx.LockTime = 7
	tx.ExpiryHeight = 1200

	tx.AddTxIn(NewTxIn(NewOutPoint(&prevHash, 3), []byte{0x51, 0x52}))
	tx.AddTxOut(NewTxOut(123456, []byte{0x76, 0xa9, 0x14}))
	tx.AddTxOut(NewTxOut(654321, []byte{0x6a}))

	tx.AddJoinSplit(&JoinSplit{
		Anchor: chainhash.HashH([]byte("sprout anchor")),
		Nullifiers: []chainhash.Hash{
			chainhash.HashH([]byte("nf1")),
			chainhash.HashH([]byte("nf2")),
		},
		Commitments: []chainhash.Hash{
			chainhash.HashH([]byte("cm1")),
		},
	})
	tx.AddSaplingSpend(&SaplingSpend{
		Anchor:    chainhash.HashH([]byte("sapling anchor")),
		Nullifier: chainhash.HashH([]byte("sapling nf")),
	})
	tx.OrchardAnchor = chainhash.HashH([]byte("orchard anchor"))
	tx.AddOrchardAction(&OrchardAction{
		Nullifier: chainhash.HashH([]byte("orchard nf")),
	})
	return tx
}

// TestTxSerializeRoundTrip verifies Serialize/Deserialize are inverses and
// SerializeSize matches the encoded length.
func TestTxSerializeRoundTrip(t *testing.T) {
	tx := testTx()

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	require.Equal(t, tx.SerializeSize(), buf.Len())

	var decoded MsgTx
	require.NoError(t, decoded.Deserialize(bytes.NewReader(buf.Bytes())))
	require.Equal(t, tx, &decoded)
	require.Equal(t, tx.TxHash(), decoded.TxHash())
}

// TestTxSerializeEmptySections verifies zero-count shielded sections encode
// and decode cleanly.
func TestTxSerializeEmptySections(t *testing.T) {
	prevHash := chainhash.HashH([]byte("prev"))
	tx := NewMsgTx(TxVersion)
	tx.AddTxIn(NewTxIn(NewOutPoint(&prevHash, 0), nil))
	tx.AddTxOut(NewTxOut(1, []byte{0x6a}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	require.Equal(t, tx.SerializeSize(), buf.Len())

	var decoded MsgTx
	require.NoError(t, decoded.Deserialize(bytes.NewReader(buf.Bytes())))
	require.Equal(t, tx.TxHash(), decoded.TxHash())
	require.Len(t, decoded.JoinSplits, 0)
	require.Len(t, decoded.SaplingSpends, 0)
	require.Len(t, decoded.OrchardActions, 0)
}

// TestTxHashChangesWithContent verifies the id commits to the shielded
// sections.
func TestTxHashChangesWithContent(t *testing.T) {
	tx := testTx()
	hashBefore := tx.TxHash()

	tx.SaplingSpends[0].Nullifier = chainhash.HashH([]byte("other nf"))
	require.NotEqual(t, hashBefore, tx.TxHash())
}

// TestIsCoinBase verifies coinbase detection.
func TestIsCoinBase(t *testing.T) {
	coinbase := NewMsgTx(TxVersion)
	coinbase.AddTxIn(NewTxIn(NewOutPoint(&chainhash.Hash{},
		MaxPrevOutIndex), []byte{0x01}))
	require.True(t, coinbase.IsCoinBase())

	regular := testTx()
	require.False(t, regular.IsCoinBase())

	twoIn := NewMsgTx(TxVersion)
	twoIn.AddTxIn(NewTxIn(NewOutPoint(&chainhash.Hash{}, MaxPrevOutIndex), nil))
	twoIn.AddTxIn(NewTxIn(NewOutPoint(&chainhash.Hash{}, MaxPrevOutIndex), nil))
	require.False(t, twoIn.IsCoinBase())
}

// TestCalculateModifiedSize verifies the per-input allowance, including the
// cap for oversized signature scripts.
func TestCalculateModifiedSize(t *testing.T) {
	prevHash := chainhash.HashH([]byte("prev"))

	small := NewMsgTx(TxVersion)
	small.AddTxIn(NewTxIn(NewOutPoint(&prevHash, 0), make([]byte, 20)))
	size := small.SerializeSize()
	require.Equal(t, size-(scriptSigOffset+20),
		small.CalculateModifiedSize(size))

	// The credit is capped for large signature scripts.
	big := NewMsgTx(TxVersion)
	big.AddTxIn(NewTxIn(NewOutPoint(&prevHash, 0), make([]byte, 500)))
	size = big.SerializeSize()
	require.Equal(t, size-(scriptSigOffset+maxScriptSigCredit),
		big.CalculateModifiedSize(size))
}

// TestNullifierAccessors verifies the flattened per-pool nullifier views.
func TestNullifierAccessors(t *testing.T) {
	tx := testTx()

	require.Len(t, tx.SproutNullifiers(), 2)
	require.Len(t, tx.SaplingNullifiers(), 1)
	require.Len(t, tx.OrchardNullifiers(), 1)
	require.Equal(t, tx.JoinSplits[0].Nullifiers[0], tx.SproutNullifiers()[0])
}

// TestTxCopy verifies deep copies share no mutable state.
func TestTxCopy(t *testing.T) {
	tx := testTx()
	cp := tx.Copy()
	require.Equal(t, tx.TxHash(), cp.TxHash())

	cp.TxIn[0].SignatureScript[0] ^= 0xff
	cp.JoinSplits[0].Nullifiers[0][0] ^= 0xff
	require.NotEqual(t, tx.TxIn[0].SignatureScript[0],
		cp.TxIn[0].SignatureScript[0])
	require.NotEqual(t, tx.JoinSplits[0].Nullifiers[0],
		cp.JoinSplits[0].Nullifiers[0])
	require.Equal(t, tx.TxHash(), testTx().TxHash())
}

// TestShieldedTypeString verifies the enum stringer, including the unknown
// case.
func TestShieldedTypeString(t *testing.T) {
	require.Equal(t, "Sprout", Sprout.String())
	require.Equal(t, "Sapling", Sapling.String())
	require.Equal(t, "Orchard", Orchard.String())
	require.Contains(t, ShieldedType(42).String(), "Unknown")
}
