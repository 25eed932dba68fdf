package plugin

import "fmt"

// Decoder reassembles a session's byte stream into frames. Decode returns a
// nil frame when more bytes are needed.
type Decoder interface {
	Decode(dir Direction, data []byte) (Frame, error)
	Reset()
}

// FrameFunc tries to cut one frame from the front of buf. It returns the frame
// and the number of bytes consumed, or a nil frame when buf is incomplete.
type FrameFunc func(dir Direction, buf []byte) (Frame, int, error)

// DefaultMaxBuffered bounds each direction's accumulator.
const DefaultMaxBuffered = 4 << 20

// StreamDecoder keeps one accumulator per direction and applies a FrameFunc
// to it: accumulate, cut a frame, drop the consumed prefix, repeat.
type StreamDecoder struct {
	next        FrameFunc
	bufs        [2][]byte
	maxBuffered int
}

func NewStreamDecoder(next FrameFunc) *StreamDecoder {
	return &StreamDecoder{next: next, maxBuffered: DefaultMaxBuffered}
}

// SetMaxBuffered changes the accumulator bound.
func (d *StreamDecoder) SetMaxBuffered(n int) { d.maxBuffered = n }

// Decode appends data and returns the next complete frame, if any. Frames
// left in the accumulator are returned by subsequent calls, including calls
// with no new data.
func (d *StreamDecoder) Decode(dir Direction, data []byte) (Frame, error) {
	i := dir.Index()
	if len(d.bufs[i])+len(data) > d.maxBuffered {
		return nil, fmt.Errorf("decoder %s buffer exceeds %d bytes", dir, d.maxBuffered)
	}
	d.bufs[i] = append(d.bufs[i], data...)
	if len(d.bufs[i]) == 0 {
		return nil, nil
	}

	frame, n, err := d.next(dir, d.bufs[i])
	if err != nil || frame == nil {
		return nil, err
	}
	if n <= 0 || n > len(d.bufs[i]) {
		return nil, fmt.Errorf("decoder consumed %d of %d buffered bytes", n, len(d.bufs[i]))
	}
	// Frames may alias the consumed prefix, so the remainder moves to fresh storage.
	if n == len(d.bufs[i]) {
		d.bufs[i] = nil
	} else {
		d.bufs[i] = append([]byte(nil), d.bufs[i][n:]...)
	}
	return frame, nil
}

// DecodeAll appends data and drains every complete frame.
func (d *StreamDecoder) DecodeAll(dir Direction, data []byte) ([]Frame, error) {
	return Drain(d, dir, data)
}

// Buffered returns how many bytes wait in dir's accumulator.
func (d *StreamDecoder) Buffered(dir Direction) int { return len(d.bufs[dir.Index()]) }

func (d *StreamDecoder) Reset() {
	d.bufs[0] = nil
	d.bufs[1] = nil
}

// Drain feeds data to any Decoder and collects frames until it returns none.
func Drain(dec Decoder, dir Direction, data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		f, err := dec.Decode(dir, data)
		if err != nil {
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
		data = nil
	}
}
