package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"firestige.xyz/otus-dissect/internal/core"
)

// DefaultMaxBlob caps any single length field at 16 MiB.
const DefaultMaxBlob = 16 << 20

// DefaultBufferSize is the bufio size used on both directions.
const DefaultBufferSize = 64 << 10

// Limits constrains decode memory use.
type Limits struct {
	MaxBlob int
}

// DefaultLimits returns the default channel limits.
func DefaultLimits() Limits {
	return Limits{MaxBlob: DefaultMaxBlob}
}

// Reader decodes values from the inbound stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
}

// NewReader wraps r in a buffered value reader.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultBufferSize)
}

// NewReaderSize is NewReader with an explicit buffer size.
func NewReaderSize(r io.Reader, size int) *Reader {
	return &Reader{
		r:      bufio.NewReaderSize(r, size),
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits.
func (r *Reader) SetLimits(limits Limits) {
	r.limits = limits
}

// ReadExact blocks until n bytes are read. It returns core.ErrEndOfStream
// when the stream ends before the first byte and core.ErrTruncated when it
// ends part way. Reading zero bytes never fails.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(r.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF) && got == 0:
		return nil, core.ErrEndOfStream
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: got %d of %d bytes", core.ErrTruncated, got, n)
	default:
		return nil, err
	}
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	buf, err := r.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadBlob reads a length-prefixed byte blob.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.limits.MaxBlob) {
		return nil, r.tooLarge(n)
	}
	buf, err := r.ReadExact(int(n))
	if err != nil {
		return nil, Midstream(err)
	}
	return buf, nil
}

// ReadString reads a length-prefixed string and strips its trailing NUL.
func (r *Reader) ReadString() (string, error) {
	buf, err := r.ReadBlob()
	if err != nil {
		return "", err
	}
	if n := len(buf); n > 0 && buf[n-1] == 0 {
		buf = buf[:n-1]
	}
	return string(buf), nil
}

// ReadValue reads a type tag and the value it announces.
func (r *Reader) ReadValue() (Value, error) {
	tag, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	v, err := r.readBody(tag)
	if err != nil {
		return nil, Midstream(err)
	}
	return v, nil
}

func (r *Reader) readBody(tag string) (Value, error) {
	switch tag {
	case TagString:
		s, err := r.ReadString()
		return String(s), err
	case TagData:
		b, err := r.ReadBlob()
		return Data(b), err
	case TagUint32:
		n, err := r.ReadUint32()
		return Uint32(n), err
	case TagSession:
		buf, err := r.ReadExact(sessionLen)
		if err != nil {
			return nil, err
		}
		return unmarshalSession(buf), nil
	case TagRender:
		raw, err := r.ReadBlob()
		if err != nil {
			return nil, err
		}
		label, err := r.ReadString()
		if err != nil {
			return nil, Midstream(err)
		}
		return Render{Raw: raw, Label: label}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownTag, tag)
	}
}

func (r *Reader) tooLarge(n uint32) error {
	return fmt.Errorf("%w: %d > %d", core.ErrBlobTooLarge, n, r.limits.MaxBlob)
}

// Midstream turns an end-of-stream seen after part of a message was read into
// a truncation error; a clean stop is only valid on a message boundary.
func Midstream(err error) error {
	if errors.Is(err, core.ErrEndOfStream) {
		return fmt.Errorf("%w: stream ended inside a message", core.ErrTruncated)
	}
	return err
}
