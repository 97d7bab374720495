package pamenc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrShortRead is returned when fewer bytes remain than a read needs.
	ErrShortRead = errors.New("pamenc: short read")

	// ErrNotTerminated is returned when a C string has no NUL terminator.
	ErrNotTerminated = errors.New("pamenc: string not NUL terminated")

	// ErrInvalidUTF8 is returned when string content is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("pamenc: invalid UTF-8")
)

// Reader reads little-endian wire data with error accumulation.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || n > len(r.data)-r.pos {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// ReadUint32 reads a uint32 and advances by 4.
func (r *Reader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads an int32 and advances by 4.
func (r *Reader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadInt64 reads an int64 and advances by 8.
func (r *Reader) ReadInt64() int64 {
	if !r.require(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return int64(v)
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.require(n) {
		return nil
	}
	b := bytes.Clone(r.data[r.pos : r.pos+n])
	if b == nil {
		b = []byte{}
	}
	r.pos += n
	return b
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) {
	if r.require(n) {
		r.pos += n
	}
}

// ReadCString reads bytes up to and including the next NUL and returns the
// content before it. The content must be valid UTF-8.
func (r *Reader) ReadCString() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		r.err = fmt.Errorf("%w at offset %d", ErrNotTerminated, r.pos)
		return ""
	}
	s := r.data[r.pos : r.pos+i]
	if !utf8.Valid(s) {
		r.err = fmt.Errorf("%w at offset %d", ErrInvalidUTF8, r.pos)
		return ""
	}
	r.pos += i + 1
	return string(s)
}

// Fail records err if no error has been recorded yet.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

// CString validates a NUL-terminated item payload and returns its content.
// The terminator must be the last byte and the only NUL.
func CString(b []byte) (string, error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", ErrNotTerminated
	}
	s := b[:len(b)-1]
	if bytes.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("%w: embedded NUL", ErrNotTerminated)
	}
	if !utf8.Valid(s) {
		return "", ErrInvalidUTF8
	}
	return string(s), nil
}
