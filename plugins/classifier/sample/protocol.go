package sample

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Message layout: "SP" | type u8 | flags u8 | body length u32 LE | body.
const (
	HeaderLen = 8
	MaxBody   = 1 << 20

	TypeHandshake uint8 = 1
	TypeData      uint8 = 2
	TypeClose     uint8 = 3

	// keyMask turns a handshake seed into the XOR key of data bodies.
	keyMask uint32 = 0x5a17c0de
)

// Data body TLV tags: u16 tag LE | u16 length LE | value.
const (
	TagUser    uint16 = 1
	TagHost    uint16 = 2
	TagCounter uint16 = 3
)

var magic = [2]byte{'S', 'P'}

var (
	errBadMagic = errors.New("sample: bad magic")
	errTooLarge = errors.New("sample: body too large")
	errShortTLV = errors.New("sample: truncated tlv")
)

type message struct {
	typ   uint8
	flags uint8
	body  []byte
	raw   []byte
}

// cutMessage returns the message at the front of buf, or nil when buf holds
// less than one complete message.
func cutMessage(buf []byte) (*message, int, error) {
	if len(buf) >= 1 && buf[0] != magic[0] || len(buf) >= 2 && buf[1] != magic[1] {
		return nil, 0, errBadMagic
	}
	if len(buf) < HeaderLen {
		return nil, 0, nil
	}
	n := binary.LittleEndian.Uint32(buf[4:8])
	if n > MaxBody {
		return nil, 0, fmt.Errorf("%w: %d", errTooLarge, n)
	}
	total := HeaderLen + int(n)
	if len(buf) < total {
		return nil, 0, nil
	}
	return &message{
		typ:   buf[2],
		flags: buf[3],
		body:  buf[HeaderLen:total],
		raw:   buf[:total],
	}, total, nil
}

// Key derives the XOR key from a handshake seed.
func Key(seed uint32) uint32 { return seed ^ keyMask }

// xorBody returns a copy of body XORed with key, byte i using key byte i%4.
func xorBody(body []byte, key uint32) []byte {
	var k [4]byte
	binary.LittleEndian.PutUint32(k[:], key)
	out := make([]byte, len(body))
	for i, b := range body {
		out[i] = b ^ k[i%4]
	}
	return out
}

// TLV is one element of a data body.
type TLV struct {
	Tag   uint16
	Value []byte
}

func parseTLVs(body []byte) ([]TLV, error) {
	var out []TLV
	for len(body) > 0 {
		if len(body) < 4 {
			return out, errShortTLV
		}
		tag := binary.LittleEndian.Uint16(body[0:2])
		n := int(binary.LittleEndian.Uint16(body[2:4]))
		if len(body) < 4+n {
			return out, errShortTLV
		}
		out = append(out, TLV{Tag: tag, Value: body[4 : 4+n]})
		body = body[4+n:]
	}
	return out, nil
}

func tagName(tag uint16) string {
	switch tag {
	case TagUser:
		return "user"
	case TagHost:
		return "host"
	case TagCounter:
		return "counter"
	default:
		return fmt.Sprintf("tag(%d)", tag)
	}
}

// AppendMessage appends an encoded message to dst.
func AppendMessage(dst []byte, typ, flags uint8, body []byte) []byte {
	dst = append(dst, magic[0], magic[1], typ, flags)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Handshake encodes a handshake carrying seed.
func Handshake(seed uint32) []byte {
	return AppendMessage(nil, TypeHandshake, 0, binary.LittleEndian.AppendUint32(nil, seed))
}

// Data encodes a data message whose TLV body is obfuscated with Key(seed).
func Data(seed uint32, tlvs ...TLV) []byte {
	var body []byte
	for _, t := range tlvs {
		body = binary.LittleEndian.AppendUint16(body, t.Tag)
		body = binary.LittleEndian.AppendUint16(body, uint16(len(t.Value)))
		body = append(body, t.Value...)
	}
	return AppendMessage(nil, TypeData, 0, xorBody(body, Key(seed)))
}

func Close() []byte { return AppendMessage(nil, TypeClose, 0, nil) }

func User(name string) TLV { return TLV{Tag: TagUser, Value: []byte(name)} }

func Host(addr netip.Addr) TLV { return TLV{Tag: TagHost, Value: addr.AsSlice()} }

func Counter(n uint32) TLV {
	return TLV{Tag: TagCounter, Value: binary.LittleEndian.AppendUint32(nil, n)}
}
