package sample

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

// Frame is one decoded message. Data frames carry their TLVs as children once
// the handshake key is known.
type Frame struct {
	Type uint8
	Seed uint32
	TLVs []TLV

	// Obfuscated is set on data frames decoded without a key.
	Obfuscated bool

	label string
	raw   []byte
	kids  []plugin.Frame
}

func (f *Frame) Raw() []byte              { return f.raw }
func (f *Frame) Children() []plugin.Frame { return f.kids }
func (f *Frame) Label() string            { return f.label }

// stream tracks the handshake key of one session and cuts messages from
// both directions.
type stream struct {
	dec   *plugin.StreamDecoder
	key   uint32
	keyed bool
	plain bool
}

func newStream(maxBuffered int, plain bool) *stream {
	s := &stream{plain: plain}
	s.dec = plugin.NewStreamDecoder(s.next)
	s.dec.SetMaxBuffered(maxBuffered)
	return s
}

func (s *stream) Decode(dir plugin.Direction, data []byte) (plugin.Frame, error) {
	return s.dec.Decode(dir, data)
}

func (s *stream) Reset() {
	s.dec.Reset()
	s.key, s.keyed = 0, false
}

func (s *stream) next(_ plugin.Direction, buf []byte) (plugin.Frame, int, error) {
	m, n, err := cutMessage(buf)
	if err != nil || m == nil {
		return nil, 0, err
	}
	f, err := s.frame(m)
	if err != nil {
		return nil, 0, err
	}
	return f, n, nil
}

func (s *stream) frame(m *message) (*Frame, error) {
	f := &Frame{Type: m.typ, raw: m.raw}
	switch m.typ {
	case TypeHandshake:
		if len(m.body) != 4 {
			return nil, fmt.Errorf("sample: handshake body of %d bytes", len(m.body))
		}
		f.Seed = binary.LittleEndian.Uint32(m.body)
		f.label = fmt.Sprintf("handshake seed=0x%08x", f.Seed)
		s.key, s.keyed = Key(f.Seed), true
	case TypeData:
		if s.plain || !s.keyed {
			f.Obfuscated = true
			f.label = fmt.Sprintf("data len=%d (obfuscated)", len(m.body))
			return f, nil
		}
		tlvs, err := parseTLVs(xorBody(m.body, s.key))
		if err != nil {
			return nil, err
		}
		f.TLVs = tlvs
		f.label = fmt.Sprintf("data len=%d", len(m.body))
		for _, t := range tlvs {
			f.kids = append(f.kids, &plugin.BasicFrame{Name: tlvLabel(t), Bytes: t.Value})
		}
	case TypeClose:
		f.label = "close"
	default:
		f.label = fmt.Sprintf("type(%d) len=%d", m.typ, len(m.body))
	}
	return f, nil
}

func tlvLabel(t TLV) string {
	switch t.Tag {
	case TagUser:
		return "user " + string(t.Value)
	case TagHost:
		if addr, ok := netip.AddrFromSlice(t.Value); ok {
			return "host " + addr.Unmap().String()
		}
	case TagCounter:
		if len(t.Value) == 4 {
			return fmt.Sprintf("counter %d", binary.LittleEndian.Uint32(t.Value))
		}
	}
	return fmt.Sprintf("%s len=%d", tagName(t.Tag), len(t.Value))
}
