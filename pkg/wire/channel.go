package wire

import "io"

// Channel pairs the two independent directions of the bridge.
type Channel struct {
	In  *Reader
	Out *Writer
}

// NewChannel builds a channel over an inbound and an outbound stream.
func NewChannel(in io.Reader, out io.Writer, limits Limits, bufSize int) *Channel {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if limits.MaxBlob <= 0 {
		limits.MaxBlob = DefaultMaxBlob
	}
	ch := &Channel{
		In:  NewReaderSize(in, bufSize),
		Out: NewWriterSize(out, bufSize),
	}
	ch.In.SetLimits(limits)
	ch.Out.SetLimits(limits)
	return ch
}

// WriteCall writes a named invocation with its arguments. The caller flushes.
func (c *Channel) WriteCall(name string, args ...Value) error {
	if err := c.Out.WriteString(name); err != nil {
		return err
	}
	if err := c.Out.WriteUint32(uint32(len(args))); err != nil {
		return err
	}
	for _, a := range args {
		if err := c.Out.WriteValue(a); err != nil {
			return err
		}
	}
	return nil
}

// ReadArgs reads an argument count and that many values.
func (c *Channel) ReadArgs() ([]Value, error) {
	argc, err := c.In.ReadUint32()
	if err != nil {
		return nil, err
	}
	// Every value costs at least a tag length, so argc is bounded by MaxBlob too.
	if uint64(argc) > uint64(c.In.limits.MaxBlob) {
		return nil, c.In.tooLarge(argc)
	}
	args := make([]Value, 0, min(int(argc), 16))
	for i := uint32(0); i < argc; i++ {
		v, err := c.In.ReadValue()
		if err != nil {
			return nil, Midstream(err)
		}
		args = append(args, v)
	}
	return args, nil
}
