package mdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader performs positioned little-endian reads over an in-memory MDT file.
// Every read past the end of the data fails with ErrTruncated.
type Reader struct {
	buf *bytes.Reader
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: bytes.NewReader(data)}
}

// Tell returns the current absolute offset.
func (r *Reader) Tell() int {
	return int(r.buf.Size()) - r.buf.Len()
}

// Size returns the total number of bytes in the source.
func (r *Reader) Size() int {
	return int(r.buf.Size())
}

// Seek moves to an absolute offset. Seeking to the very end is allowed.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > r.Size() {
		return fmt.Errorf("seek to 0x%04X outside 0x%04X-byte file: %w", offset, r.Size(), ErrTruncated)
	}
	if _, err := r.buf.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.Tell() + n)
}

// U8 reads an unsigned byte.
func (r *Reader) U8() (int, error) {
	pos := r.Tell()
	b, err := r.buf.ReadByte()
	if err != nil {
		return 0, r.truncated(pos, 1)
	}
	return int(b), nil
}

// S8 reads a signed byte.
func (r *Reader) S8() (int, error) {
	v, err := r.U8()
	if err != nil {
		return 0, err
	}
	return int(int8(v)), nil
}

// U16 reads an unsigned little-endian 16-bit value.
func (r *Reader) U16() (int, error) {
	pos := r.Tell()
	var v uint16
	if err := binary.Read(r.buf, binary.LittleEndian, &v); err != nil {
		return 0, r.truncated(pos, 2)
	}
	return int(v), nil
}

// S16 reads a signed little-endian 16-bit value.
func (r *Reader) S16() (int, error) {
	v, err := r.U16()
	if err != nil {
		return 0, err
	}
	return int(int16(v)), nil
}

// Params reads n unsigned bytes.
func (r *Reader) Params(n int) ([]int, error) {
	raw, err := r.Bytes(n)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i, b := range raw {
		out[i] = int(b)
	}
	return out, nil
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	pos := r.Tell()
	out := make([]byte, n)
	if _, err := io.ReadFull(r.buf, out); err != nil {
		return nil, r.truncated(pos, n)
	}
	return out, nil
}

func (r *Reader) truncated(pos, want int) error {
	// Leave the cursor where the failed read started.
	r.buf.Seek(int64(pos), io.SeekStart)
	return fmt.Errorf("reading %d byte(s) at 0x%04X: %w", want, pos, ErrTruncated)
}
