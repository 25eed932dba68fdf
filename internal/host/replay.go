package host

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// ReplayOptions tunes Replay.
type ReplayOptions struct {
	// Decoder, when set, renders each classified session's kept streams
	// through the named decoder into the report.
	Decoder string
	// FlushTimeout forces out TCP data stuck behind a gap after this much
	// capture time. 0 disables it.
	FlushTimeout time.Duration
}

type flowKey struct {
	net, transport gopacket.Flow
}

// replayer feeds decoded packets into the emulator.
type replayer struct {
	em        *Emulator
	opts      ReplayOptions
	sessions  map[flowKey]*Session
	order     []*Session
	assembler *tcpassembly.Assembler
	lastFlush time.Time
	err       error
	report    *Report
}

// Replay reads a pcap or pcapng capture, runs every TCP and UDP session
// through the plugin and closes them at the end of the capture.
func (em *Emulator) Replay(r io.Reader, opts ReplayOptions) (*Report, error) {
	if err := em.Init(); err != nil {
		return nil, err
	}
	src, err := openCapture(r)
	if err != nil {
		return nil, err
	}

	rp := &replayer{
		em:       em,
		opts:     opts,
		sessions: make(map[flowKey]*Session),
		report:   &Report{},
	}
	rp.assembler = tcpassembly.NewAssembler(tcpassembly.NewStreamPool(&streamFactory{rp: rp}))

	for {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read packet %d: %w", rp.report.Packets+1, err)
		}
		rp.report.Packets++
		rp.packet(pkt)
		if rp.err != nil {
			return nil, rp.err
		}
	}

	rp.assembler.FlushAll()
	if rp.err != nil {
		return nil, rp.err
	}
	for _, sess := range rp.order {
		if err := em.CloseSession(sess); err != nil {
			return nil, err
		}
		sr, err := rp.summarize(sess)
		if err != nil {
			return nil, err
		}
		rp.report.Sessions = append(rp.report.Sessions, sr)
	}
	return rp.report, nil
}

func openCapture(r io.Reader) (*gopacket.PacketSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	// pcapng files start with a section header block.
	if bytes.Equal(magic, []byte{0x0a, 0x0d, 0x0d, 0x0a}) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return gopacket.NewPacketSource(pr, pr.LinkType()), nil
}

func (rp *replayer) packet(pkt gopacket.Packet) {
	nl := pkt.NetworkLayer()
	if nl == nil {
		return
	}
	ts := pkt.Metadata().Timestamp
	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		rp.lookup(plugin.TransportTCP, nl.NetworkFlow(), t.TransportFlow())
		rp.assembler.AssembleWithTimestamp(nl.NetworkFlow(), t, ts)
		rp.flushOld(ts)
	case *layers.UDP:
		if len(t.Payload) == 0 {
			return
		}
		sess, dir := rp.lookup(plugin.TransportUDP, nl.NetworkFlow(), t.TransportFlow())
		if sess != nil {
			rp.fail(rp.em.Feed(sess, t.Payload, dir))
		}
	}
}

func (rp *replayer) flushOld(ts time.Time) {
	if rp.opts.FlushTimeout <= 0 || ts.Sub(rp.lastFlush) < rp.opts.FlushTimeout {
		return
	}
	rp.lastFlush = ts
	rp.assembler.FlushOlderThan(ts.Add(-rp.opts.FlushTimeout))
}

// lookup finds or creates the session of a flow. The first packet seen
// decides which side is the client.
func (rp *replayer) lookup(t plugin.Transport, netFlow, tpFlow gopacket.Flow) (*Session, plugin.Direction) {
	key := flowKey{netFlow, tpFlow}
	if sess, ok := rp.sessions[key]; ok {
		return sess, plugin.DirectionToServer
	}
	if sess, ok := rp.sessions[flowKey{netFlow.Reverse(), tpFlow.Reverse()}]; ok {
		return sess, plugin.DirectionToClient
	}
	tuple, ok := tupleOf(netFlow, tpFlow)
	if !ok {
		return nil, plugin.DirectionToServer
	}
	sess := rp.em.NewSession(t, tuple)
	rp.sessions[key] = sess
	rp.order = append(rp.order, sess)
	return sess, plugin.DirectionToServer
}

func tupleOf(netFlow, tpFlow gopacket.Flow) (wire.Session, bool) {
	src, ok1 := netip.AddrFromSlice(netFlow.Src().Raw())
	dst, ok2 := netip.AddrFromSlice(netFlow.Dst().Raw())
	sp, dp := tpFlow.Src().Raw(), tpFlow.Dst().Raw()
	if !ok1 || !ok2 || len(sp) != 2 || len(dp) != 2 {
		return wire.Session{}, false
	}
	return wire.NewSession(
		netip.AddrPortFrom(src, uint16(sp[0])<<8|uint16(sp[1])),
		netip.AddrPortFrom(dst, uint16(dp[0])<<8|uint16(dp[1])),
	), true
}

func (rp *replayer) fail(err error) {
	if err != nil && rp.err == nil {
		rp.err = err
	}
}

// streamFactory hands tcpassembly one halfStream per direction.
type streamFactory struct {
	rp *replayer
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	sess, dir := f.rp.lookup(plugin.TransportTCP, netFlow, tcpFlow)
	return &halfStream{rp: f.rp, sess: sess, dir: dir}
}

type halfStream struct {
	rp   *replayer
	sess *Session
	dir  plugin.Direction
}

func (s *halfStream) Reassembled(reassembly []tcpassembly.Reassembly) {
	if s.sess == nil {
		return
	}
	for _, r := range reassembly {
		if s.rp.err != nil {
			return
		}
		if len(r.Bytes) > 0 {
			s.rp.fail(s.rp.em.Feed(s.sess, r.Bytes, s.dir))
		}
	}
}

func (s *halfStream) ReassemblyComplete() {}
