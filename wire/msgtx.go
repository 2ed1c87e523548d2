// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

const (
	// TxVersion is the current transaction version supported by the
	// shielded protocol (sapling and later).
	TxVersion = 4

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// MaxPrevOutIndex is the maximum index the index field of a previous
	// outpoint can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// defaultTxInOutAlloc is the default size used for the backing array
	// for transaction inputs and outputs.  The array will dynamically grow
	// as needed, but this figure is intended to be large enough to avoid
	// the need to grow the backing array multiple times for the typical
	// transaction.
	defaultTxInOutAlloc = 15

	// maxTxInPerMessage is the maximum number of transaction inputs a
	// decoded transaction is allowed to contain.  It bounds allocations
	// made from a corrupt count.
	maxTxInPerMessage = 65536

	// maxTxOutPerMessage is the maximum number of transaction outputs a
	// decoded transaction is allowed to contain.
	maxTxOutPerMessage = 65536

	// maxShieldedPerMessage is the maximum number of shielded spend
	// descriptions of a single kind a decoded transaction is allowed to
	// contain.
	maxShieldedPerMessage = 65536

	// maxScriptSize is the maximum length a deserialized script is allowed
	// to be.
	maxScriptSize = 10000

	// scriptSigOffset is the per-input base allowance subtracted from the
	// serialized size when computing the modified size used for priority.
	scriptSigOffset = 41

	// maxScriptSigCredit bounds the signature script portion of the
	// per-input modified size allowance.
	maxScriptSigCredit = 110
)

// OutPoint defines a transparent previous transaction output to be spent.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new transaction outpoint with the provided hash and
// index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

// TxIn defines a transparent transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input.
func (t *TxIn) SerializeSize() int {
	// Outpoint hash 32 bytes + outpoint index 4 bytes + sequence 4 bytes +
	// serialized varint size for the length of SignatureScript +
	// SignatureScript bytes.
	return 40 + btcwire.VarIntSerializeSize(uint64(len(t.SignatureScript))) +
		len(t.SignatureScript)
}

// NewTxIn returns a new transaction input with the provided previous outpoint
// and signature script with a default sequence of MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a transparent transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction output.
func (t *TxOut) SerializeSize() int {
	// Value 8 bytes + serialized varint size for the length of PkScript +
	// PkScript bytes.
	return 8 + btcwire.VarIntSerializeSize(uint64(len(t.PkScript))) +
		len(t.PkScript)
}

// NewTxOut returns a new transaction output with the provided value and
// public key script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// MsgTx represents a transaction carrying both the transparent value-transfer
// sections and the shielded spend descriptions of the three supported
// shielded pools.
type MsgTx struct {
	Version        int32
	VersionGroupID uint32
	TxIn           []*TxIn
	TxOut          []*TxOut
	LockTime       uint32
	ExpiryHeight   uint32
	JoinSplits     []*JoinSplit
	SaplingSpends  []*SaplingSpend
	OrchardAnchor  chainhash.Hash
	OrchardActions []*OrchardAction
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// AddJoinSplit adds a sprout joinsplit description to the message.
func (msg *MsgTx) AddJoinSplit(js *JoinSplit) {
	msg.JoinSplits = append(msg.JoinSplits, js)
}

// AddSaplingSpend adds a sapling spend description to the message.
func (msg *MsgTx) AddSaplingSpend(spend *SaplingSpend) {
	msg.SaplingSpends = append(msg.SaplingSpends, spend)
}

// AddOrchardAction adds an orchard action to the message.
func (msg *MsgTx) AddOrchardAction(action *OrchardAction) {
	msg.OrchardActions = append(msg.OrchardActions, action)
}

// TxHash generates the hash for the transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	// Encode the transaction and calculate double sha256 on the result.
	// Ignore the error returns since the only way the encode could fail
	// is being out of memory which would cause a run-time panic.
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.Serialize(buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// IsCoinBase determines whether or not the transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no transparent
// inputs.  This is represented in the block chain by a transaction with a
// single input that has a previous output transaction index set to the
// maximum value along with a zero hash.
func (msg *MsgTx) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}

	prevOut := &msg.TxIn[0].PreviousOutPoint
	return prevOut.Index == MaxPrevOutIndex && prevOut.Hash == chainhash.Hash{}
}

// ValueOut returns the total value of all transparent outputs.
func (msg *MsgTx) ValueOut() int64 {
	var total int64
	for _, txOut := range msg.TxOut {
		total += txOut.Value
	}
	return total
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:        msg.Version,
		VersionGroupID: msg.VersionGroupID,
		TxIn:           make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:          make([]*TxOut, 0, len(msg.TxOut)),
		LockTime:       msg.LockTime,
		ExpiryHeight:   msg.ExpiryHeight,
		OrchardAnchor:  msg.OrchardAnchor,
	}

	for _, oldTxIn := range msg.TxIn {
		newScript := make([]byte, len(oldTxIn.SignatureScript))
		copy(newScript, oldTxIn.SignatureScript)
		newTx.TxIn = append(newTx.TxIn, &TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  newScript,
			Sequence:         oldTxIn.Sequence,
		})
	}

	for _, oldTxOut := range msg.TxOut {
		newScript := make([]byte, len(oldTxOut.PkScript))
		copy(newScript, oldTxOut.PkScript)
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    oldTxOut.Value,
			PkScript: newScript,
		})
	}

	for _, oldJS := range msg.JoinSplits {
		newTx.JoinSplits = append(newTx.JoinSplits, oldJS.copy())
	}
	for _, oldSpend := range msg.SaplingSpends {
		spendCopy := *oldSpend
		newTx.SaplingSpends = append(newTx.SaplingSpends, &spendCopy)
	}
	for _, oldAction := range msg.OrchardActions {
		actionCopy := *oldAction
		newTx.OrchardActions = append(newTx.OrchardActions, &actionCopy)
	}

	return &newTx
}

// Serialize encodes the transaction to w using a format that is suitable for
// long-term storage such as a database.
func (msg *MsgTx) Serialize(w io.Writer) error {
	if err := writeUint32(w, uint32(msg.Version)); err != nil {
		return err
	}
	if err := writeUint32(w, msg.VersionGroupID); err != nil {
		return err
	}

	if err := btcwire.WriteVarInt(w, 0, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeOutPoint(w, &ti.PreviousOutPoint); err != nil {
			return err
		}
		if err := writeVarBytes(w, ti.SignatureScript); err != nil {
			return err
		}
		if err := writeUint32(w, ti.Sequence); err != nil {
			return err
		}
	}

	if err := btcwire.WriteVarInt(w, 0, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := writeUint64(w, uint64(to.Value)); err != nil {
			return err
		}
		if err := writeVarBytes(w, to.PkScript); err != nil {
			return err
		}
	}

	if err := writeUint32(w, msg.LockTime); err != nil {
		return err
	}
	if err := writeUint32(w, msg.ExpiryHeight); err != nil {
		return err
	}

	if err := btcwire.WriteVarInt(w, 0, uint64(len(msg.JoinSplits))); err != nil {
		return err
	}
	for _, js := range msg.JoinSplits {
		if err := js.serialize(w); err != nil {
			return err
		}
	}

	if err := btcwire.WriteVarInt(w, 0, uint64(len(msg.SaplingSpends))); err != nil {
		return err
	}
	for _, spend := range msg.SaplingSpends {
		if err := writeHash(w, &spend.Anchor); err != nil {
			return err
		}
		if err := writeHash(w, &spend.Nullifier); err != nil {
			return err
		}
	}

	if err := writeHash(w, &msg.OrchardAnchor); err != nil {
		return err
	}
	if err := btcwire.WriteVarInt(w, 0, uint64(len(msg.OrchardActions))); err != nil {
		return err
	}
	for _, action := range msg.OrchardActions {
		if err := writeHash(w, &action.Nullifier); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize decodes a transaction from r into the receiver.  It is the
// inverse of Serialize.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Version = int32(version)
	if msg.VersionGroupID, err = readUint32(r); err != nil {
		return err
	}

	count, err := btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxTxInPerMessage {
		return fmt.Errorf("MsgTx.Deserialize: too many input "+
			"transactions [count %d, max %d]", count,
			maxTxInPerMessage)
	}
	msg.TxIn = make([]*TxIn, 0, count)
	for i := uint64(0); i < count; i++ {
		ti := TxIn{}
		if err := readOutPoint(r, &ti.PreviousOutPoint); err != nil {
			return err
		}
		if ti.SignatureScript, err = readVarBytes(r); err != nil {
			return err
		}
		if ti.Sequence, err = readUint32(r); err != nil {
			return err
		}
		msg.TxIn = append(msg.TxIn, &ti)
	}

	count, err = btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxTxOutPerMessage {
		return fmt.Errorf("MsgTx.Deserialize: too many output "+
			"transactions [count %d, max %d]", count,
			maxTxOutPerMessage)
	}
	msg.TxOut = make([]*TxOut, 0, count)
	for i := uint64(0); i < count; i++ {
		to := TxOut{}
		value, err := readUint64(r)
		if err != nil {
			return err
		}
		to.Value = int64(value)
		if to.PkScript, err = readVarBytes(r); err != nil {
			return err
		}
		msg.TxOut = append(msg.TxOut, &to)
	}

	if msg.LockTime, err = readUint32(r); err != nil {
		return err
	}
	if msg.ExpiryHeight, err = readUint32(r); err != nil {
		return err
	}

	count, err = btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxShieldedPerMessage {
		return fmt.Errorf("MsgTx.Deserialize: too many joinsplits "+
			"[count %d, max %d]", count, maxShieldedPerMessage)
	}
	msg.JoinSplits = make([]*JoinSplit, 0, count)
	for i := uint64(0); i < count; i++ {
		js := JoinSplit{}
		if err := js.deserialize(r); err != nil {
			return err
		}
		msg.JoinSplits = append(msg.JoinSplits, &js)
	}

	count, err = btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxShieldedPerMessage {
		return fmt.Errorf("MsgTx.Deserialize: too many sapling spends "+
			"[count %d, max %d]", count, maxShieldedPerMessage)
	}
	msg.SaplingSpends = make([]*SaplingSpend, 0, count)
	for i := uint64(0); i < count; i++ {
		spend := SaplingSpend{}
		if err := readHash(r, &spend.Anchor); err != nil {
			return err
		}
		if err := readHash(r, &spend.Nullifier); err != nil {
			return err
		}
		msg.SaplingSpends = append(msg.SaplingSpends, &spend)
	}

	if err := readHash(r, &msg.OrchardAnchor); err != nil {
		return err
	}
	count, err = btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxShieldedPerMessage {
		return fmt.Errorf("MsgTx.Deserialize: too many orchard "+
			"actions [count %d, max %d]", count,
			maxShieldedPerMessage)
	}
	msg.OrchardActions = make([]*OrchardAction, 0, count)
	for i := uint64(0); i < count; i++ {
		action := OrchardAction{}
		if err := readHash(r, &action.Nullifier); err != nil {
			return err
		}
		msg.OrchardActions = append(msg.OrchardActions, &action)
	}

	return nil
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + version group id 4 bytes + lock time 4 bytes +
	// expiry height 4 bytes + orchard anchor 32 bytes + serialized varint
	// sizes for the number of inputs, outputs and shielded sections.
	n := 48 + btcwire.VarIntSerializeSize(uint64(len(msg.TxIn))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.TxOut))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.JoinSplits))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.SaplingSpends))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.OrchardActions)))

	for _, ti := range msg.TxIn {
		n += ti.SerializeSize()
	}
	for _, to := range msg.TxOut {
		n += to.SerializeSize()
	}
	for _, js := range msg.JoinSplits {
		n += js.serializeSize()
	}
	n += len(msg.SaplingSpends) * 64
	n += len(msg.OrchardActions) * 32

	return n
}

// CalculateModifiedSize computes the modified size of the transaction used by
// the priority calculation.  The modified size is the serialized size with a
// per-input allowance subtracted so that spending older, larger inputs is not
// penalized relative to consolidating them.
func (msg *MsgTx) CalculateModifiedSize(serializedSize int) int {
	size := serializedSize
	for _, ti := range msg.TxIn {
		offset := scriptSigOffset + len(ti.SignatureScript)
		if offset > scriptSigOffset+maxScriptSigCredit {
			offset = scriptSigOffset + maxScriptSigCredit
		}
		if size > offset {
			size -= offset
		}
	}
	return size
}

// SproutNullifiers returns the nullifiers revealed by every sprout joinsplit
// in the transaction, in joinsplit order.
func (msg *MsgTx) SproutNullifiers() []chainhash.Hash {
	var nullifiers []chainhash.Hash
	for _, js := range msg.JoinSplits {
		nullifiers = append(nullifiers, js.Nullifiers...)
	}
	return nullifiers
}

// SaplingNullifiers returns the nullifiers revealed by every sapling spend in
// the transaction, in spend order.
func (msg *MsgTx) SaplingNullifiers() []chainhash.Hash {
	var nullifiers []chainhash.Hash
	for _, spend := range msg.SaplingSpends {
		nullifiers = append(nullifiers, spend.Nullifier)
	}
	return nullifiers
}

// OrchardNullifiers returns the nullifiers revealed by every orchard action
// in the transaction, in action order.
func (msg *MsgTx) OrchardNullifiers() []chainhash.Hash {
	var nullifiers []chainhash.Hash
	for _, action := range msg.OrchardActions {
		nullifiers = append(nullifiers, action.Nullifier)
	}
	return nullifiers
}

// NewMsgTx returns a new transaction message.  The returned instance has the
// passed version and there are no transaction inputs or outputs.  Also, the lock time and expiry height are both set to zero to
// indicate the transaction is valid immediately and never expires.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, defaultTxInOutAlloc),
		TxOut:   make([]*TxOut, 0, defaultTxInOutAlloc),
	}
}

// writeOutPoint encodes op to w.
func writeOutPoint(w io.Writer, op *OutPoint) error {
	if err := writeHash(w, &op.Hash); err != nil {
		return err
	}
	return writeUint32(w, op.Index)
}

// readOutPoint decodes an outpoint from r into op.
func readOutPoint(r io.Reader, op *OutPoint) error {
	if err := readHash(r, &op.Hash); err != nil {
		return err
	}
	var err error
	op.Index, err = readUint32(r)
	return err
}

func writeHash(w io.Writer, hash *chainhash.Hash) error {
	_, err := w.Write(hash[:])
	return err
}

func readHash(r io.Reader, hash *chainhash.Hash) error {
	_, err := io.ReadFull(r, hash[:])
	return err
}

func writeUint32(w io.Writer, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeVarBytes encodes b to w as a varint-prefixed byte slice.
func writeVarBytes(w io.Writer, b []byte) error {
	if err := btcwire.WriteVarInt(w, 0, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readVarBytes decodes a varint-prefixed byte slice from r.
func readVarBytes(r io.Reader) ([]byte, error) {
	count, err := btcwire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxScriptSize {
		return nil, fmt.Errorf("readVarBytes: byte slice is larger "+
			"than the max allowed size [count %d, max %d]", count,
			maxScriptSize)
	}
	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
