package commands

import (
	"encoding/binary"
	"fmt"
)

// Hash is a 32-byte block or transaction id.
type Hash [32]byte

// MaxItems caps list lengths decoded from a single payload.
const MaxItems = 1 << 16

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) hashes(ids []Hash) {
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.raw(id[:])
	}
}

func (w *writer) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.raw(b)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d at offset %d, have %d", ErrShortPayload, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) fixed(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (r *reader) count() int {
	n := r.u32()
	if r.err == nil && n > MaxItems {
		r.err = fmt.Errorf("%w: %d", ErrTooManyItems, n)
	}
	return int(n)
}

func (r *reader) hashes() []Hash {
	n := r.count()
	if r.err != nil {
		return nil
	}
	out := make([]Hash, 0, min(n, (len(r.buf)-r.off)/32+1))
	for i := 0; i < n && r.err == nil; i++ {
		var h Hash
		r.fixed(h[:])
		out = append(out, h)
	}
	return out
}

func (r *reader) blob() []byte {
	n := r.u32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// done reports the first read error, or ErrTrailingBytes if input remains.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}
