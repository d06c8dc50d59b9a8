package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Minimal Borsh codec covering the scalar shapes the program's
// instructions and events use: fixed-width little-endian integers,
// u32-length-prefixed strings, and 32-byte public keys.

type BorshWriter struct {
	buf bytes.Buffer
}

func (w *BorshWriter) U8(v uint8)   { w.buf.WriteByte(v) }
func (w *BorshWriter) U16(v uint16) { w.le(v) }
func (w *BorshWriter) U32(v uint32) { w.le(v) }
func (w *BorshWriter) U64(v uint64) { w.le(v) }
func (w *BorshWriter) I64(v int64)  { w.le(uint64(v)) }

func (w *BorshWriter) le(v any) {
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *BorshWriter) String(s string) error {
	if len(s) > math.MaxUint32 {
		return errors.New("borsh: string too long")
	}
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
	return nil
}

func (w *BorshWriter) PublicKey(pk PublicKey) {
	w.buf.Write(pk[:])
}

// Raw appends bytes without a length prefix, used for discriminators.
func (w *BorshWriter) Raw(b []byte) {
	w.buf.Write(b)
}

func (w *BorshWriter) Bytes() []byte {
	return w.buf.Bytes()
}

type BorshReader struct {
	data []byte
	off  int
}

var errShortBuffer = errors.New("borsh: short buffer")

func NewBorshReader(data []byte) *BorshReader {
	return &BorshReader{data: data}
}

func (r *BorshReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errShortBuffer
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *BorshReader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *BorshReader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *BorshReader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *BorshReader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *BorshReader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *BorshReader) String() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(r.data)-r.off) {
		return "", fmt.Errorf("borsh: string length %d exceeds remaining %d", n, len(r.data)-r.off)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *BorshReader) PublicKey() (PublicKey, error) {
	var pk PublicKey
	b, err := r.take(32)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}
