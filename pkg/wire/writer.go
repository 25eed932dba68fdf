package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/otus-dissect/internal/core"
)

// Writer encodes values onto the outbound stream. Nothing reaches the peer
// until Flush.
type Writer struct {
	w      *bufio.Writer
	limits Limits
}

// NewWriter wraps w in a buffered value writer.
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, DefaultBufferSize)
}

// NewWriterSize is NewWriter with an explicit buffer size.
func NewWriterSize(w io.Writer, size int) *Writer {
	return &Writer{
		w:      bufio.NewWriterSize(w, size),
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits.
func (w *Writer) SetLimits(limits Limits) {
	w.limits = limits
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteBlob writes a length-prefixed byte blob.
func (w *Writer) WriteBlob(b []byte) error {
	if len(b) > w.limits.MaxBlob {
		return fmt.Errorf("%w: %d > %d", core.ErrBlobTooLarge, len(b), w.limits.MaxBlob)
	}
	if err := w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	_, err := w.w.Write(b)
	return err
}

// WriteString writes s as a blob with a trailing NUL.
func (w *Writer) WriteString(s string) error {
	if len(s)+1 > w.limits.MaxBlob {
		return fmt.Errorf("%w: %d > %d", core.ErrBlobTooLarge, len(s)+1, w.limits.MaxBlob)
	}
	if err := w.WriteUint32(uint32(len(s) + 1)); err != nil {
		return err
	}
	if _, err := w.w.WriteString(s); err != nil {
		return err
	}
	return w.w.WriteByte(0)
}

// WriteValue writes v's tag followed by its body.
func (w *Writer) WriteValue(v Value) error {
	if v == nil {
		return fmt.Errorf("%w: nil", core.ErrUnsupportedValue)
	}
	if err := w.WriteString(v.Tag()); err != nil {
		return err
	}
	switch v := v.(type) {
	case String:
		return w.WriteString(string(v))
	case Data:
		return w.WriteBlob(v)
	case Uint32:
		return w.WriteUint32(uint32(v))
	case Session:
		_, err := w.w.Write(v.marshal())
		return err
	case Render:
		if err := w.WriteBlob(v.Raw); err != nil {
			return err
		}
		return w.WriteString(v.Label)
	default:
		return fmt.Errorf("%w: %T", core.ErrUnsupportedValue, v)
	}
}

// Flush delivers everything buffered so far.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
