package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// sessionLen is the fixed body size of a "session" value.
const sessionLen = 16 + 2 + 16 + 2

// v4InV6Prefix is the ::ffff:0:0/96 prefix marking an IPv4 address.
var v4InV6Prefix = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}

// Session is the address tuple of a captured session. Addresses are always
// 16 bytes; IPv4 addresses are stored IPv4-mapped.
type Session struct {
	Src     [16]byte
	SrcPort uint16
	Dst     [16]byte
	DstPort uint16
}

// NewSession builds a tuple from two address/port pairs.
func NewSession(src, dst netip.AddrPort) Session {
	return Session{
		Src:     src.Addr().As16(),
		SrcPort: src.Port(),
		Dst:     dst.Addr().As16(),
		DstPort: dst.Port(),
	}
}

// IsIPv4 reports whether addr carries the IPv4-mapped prefix.
func IsIPv4(addr [16]byte) bool {
	return [12]byte(addr[:12]) == v4InV6Prefix
}

// FormatAddr renders addr as dotted-quad when IPv4-mapped, colon-hex otherwise.
func FormatAddr(addr [16]byte) string {
	return toAddr(addr).String()
}

func toAddr(addr [16]byte) netip.Addr {
	if IsIPv4(addr) {
		return netip.AddrFrom4([4]byte(addr[12:16]))
	}
	return netip.AddrFrom16(addr)
}

// SrcAddr returns the source address, unmapped when IPv4.
func (s Session) SrcAddr() netip.Addr { return toAddr(s.Src) }

// DstAddr returns the destination address, unmapped when IPv4.
func (s Session) DstAddr() netip.Addr { return toAddr(s.Dst) }

// String renders "src:port -> dst:port".
func (s Session) String() string {
	return fmt.Sprintf("%s -> %s",
		netip.AddrPortFrom(s.SrcAddr(), s.SrcPort),
		netip.AddrPortFrom(s.DstAddr(), s.DstPort))
}

// NetworkFlow returns the gopacket flow of the session's addresses.
func (s Session) NetworkFlow() gopacket.Flow {
	if IsIPv4(s.Src) && IsIPv4(s.Dst) {
		return gopacket.NewFlow(layers.EndpointIPv4, s.Src[12:16], s.Dst[12:16])
	}
	return gopacket.NewFlow(layers.EndpointIPv6, s.Src[:], s.Dst[:])
}

// TransportFlow returns the port flow, typed as TCP or UDP.
func (s Session) TransportFlow(udp bool) gopacket.Flow {
	var src, dst [2]byte
	binary.BigEndian.PutUint16(src[:], s.SrcPort)
	binary.BigEndian.PutUint16(dst[:], s.DstPort)
	if udp {
		return gopacket.NewFlow(layers.EndpointUDPPort, src[:], dst[:])
	}
	return gopacket.NewFlow(layers.EndpointTCPPort, src[:], dst[:])
}

// Reverse swaps source and destination.
func (s Session) Reverse() Session {
	return Session{Src: s.Dst, SrcPort: s.DstPort, Dst: s.Src, DstPort: s.SrcPort}
}

func (s Session) marshal() []byte {
	buf := make([]byte, sessionLen)
	copy(buf[0:16], s.Src[:])
	binary.LittleEndian.PutUint16(buf[16:18], s.SrcPort)
	copy(buf[18:34], s.Dst[:])
	binary.LittleEndian.PutUint16(buf[34:36], s.DstPort)
	return buf
}

func unmarshalSession(buf []byte) Session {
	var s Session
	copy(s.Src[:], buf[0:16])
	s.SrcPort = binary.LittleEndian.Uint16(buf[16:18])
	copy(s.Dst[:], buf[18:34])
	s.DstPort = binary.LittleEndian.Uint16(buf[34:36])
	return s
}
