// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// ShieldedType identifies which shielded pool a nullifier or anchor belongs
// to.
type ShieldedType int

// Constants for the supported shielded pools.
const (
	Sprout ShieldedType = iota
	Sapling
	Orchard
)

// shieldedTypeStrings is a map of shielded types back to their constant names
// for pretty printing.
var shieldedTypeStrings = map[ShieldedType]string{
	Sprout:  "Sprout",
	Sapling: "Sapling",
	Orchard: "Orchard",
}

// String returns the ShieldedType in human-readable form.
func (t ShieldedType) String() string {
	if s, ok := shieldedTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ShieldedType (%d)", int(t))
}

// JoinSplit describes a sprout joinsplit.  It proves spends against the
// sprout commitment tree at Anchor, reveals Nullifiers for the spent notes,
// and appends Commitments for the created notes.
type JoinSplit struct {
	Anchor      chainhash.Hash
	Nullifiers  []chainhash.Hash
	Commitments []chainhash.Hash
}

// SaplingSpend describes a single sapling spend proved against the sapling
// commitment tree at Anchor.
type SaplingSpend struct {
	Anchor    chainhash.Hash
	Nullifier chainhash.Hash
}

// OrchardAction describes a single orchard action.  The anchor is carried at
// the bundle level on MsgTx since every action in a bundle is proved against
// the same root.
type OrchardAction struct {
	Nullifier chainhash.Hash
}

func (js *JoinSplit) copy() *JoinSplit {
	newJS := JoinSplit{
		Anchor:      js.Anchor,
		Nullifiers:  make([]chainhash.Hash, len(js.Nullifiers)),
		Commitments: make([]chainhash.Hash, len(js.Commitments)),
	}
	copy(newJS.Nullifiers, js.Nullifiers)
	copy(newJS.Commitments, js.Commitments)
	return &newJS
}

func (js *JoinSplit) serializeSize() int {
	return 32 + btcwire.VarIntSerializeSize(uint64(len(js.Nullifiers))) +
		32*len(js.Nullifiers) +
		btcwire.VarIntSerializeSize(uint64(len(js.Commitments))) +
		32*len(js.Commitments)
}

func (js *JoinSplit) serialize(w io.Writer) error {
	if err := writeHash(w, &js.Anchor); err != nil {
		return err
	}
	if err := writeHashList(w, js.Nullifiers); err != nil {
		return err
	}
	return writeHashList(w, js.Commitments)
}

func (js *JoinSplit) deserialize(r io.Reader) error {
	if err := readHash(r, &js.Anchor); err != nil {
		return err
	}
	var err error
	if js.Nullifiers, err = readHashList(r); err != nil {
		return err
	}
	js.Commitments, err = readHashList(r)
	return err
}

func writeHashList(w io.Writer, hashes []chainhash.Hash) error {
	if err := btcwire.WriteVarInt(w, 0, uint64(len(hashes))); err != nil {
		return err
	}
	for i := range hashes {
		if err := writeHash(w, &hashes[i]); err != nil {
			return err
		}
	}
	return nil
}

func readHashList(r io.Reader) ([]chainhash.Hash, error) {
	count, err := btcwire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxShieldedPerMessage {
		return nil, fmt.Errorf("readHashList: too many hashes "+
			"[count %d, max %d]", count, maxShieldedPerMessage)
	}
	hashes := make([]chainhash.Hash, count)
	for i := uint64(0); i < count; i++ {
		if err := readHash(r, &hashes[i]); err != nil {
			return nil, err
		}
	}
	return hashes, nil
}
