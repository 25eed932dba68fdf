// Package host emulates the capture engine side of the dissector channel. It
// serves every plugin operation, drives the callbacks and keeps per-session
// results, which is enough to replay captures offline and to test plugins
// end to end.
package host

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/bridge"
	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// Options configures an Emulator.
type Options struct {
	Limits     wire.Limits
	BufferSize int
	Logger     log.Logger

	// MaxStream bounds the bytes kept per session direction; 0 means DefaultMaxStream.
	MaxStream int
}

// Registration is one classifier announcement received during register.
type Registration struct {
	Name      string
	Transport plugin.Transport
	Offset    uint32
	Pattern   []byte

	// Port is set for port classifiers, which ignore Offset and Pattern.
	Port uint16
}

type matchResult int

const (
	matchPending matchResult = iota
	matchFound
	matchNone
)

// match checks the pattern at Offset from the start of the session's dir
// stream. A UDP classifier only sees the first datagram of each direction.
func (r Registration) match(s *Session, data []byte, dir plugin.Direction) matchResult {
	if r.Transport != s.Transport {
		return matchNone
	}
	if r.Port != 0 {
		if s.Tuple.SrcPort == r.Port || s.Tuple.DstPort == r.Port {
			return matchFound
		}
		return matchNone
	}
	end := int(r.Offset) + len(r.Pattern)
	buf := s.Stream(dir)
	if s.Transport == plugin.TransportUDP {
		buf = data
	}
	if len(buf) < end {
		if s.Transport == plugin.TransportUDP || s.Bytes[dir.Index()] > len(buf) {
			return matchNone
		}
		return matchPending
	}
	if bytes.Equal(buf[r.Offset:end], r.Pattern) {
		return matchFound
	}
	return matchNone
}

type parserRef struct {
	classifier string
	sess       *Session
}

// callContext is the session a callback is running for.
type callContext struct {
	sess       *Session
	classifier string
	handle     uint32
	hasHandle  bool
}

// Emulator is the host end of one plugin channel. It is not safe for
// concurrent use; every callback runs to its "return" before the next.
type Emulator struct {
	ch        *wire.Channel
	logger    log.Logger
	maxStream int

	registrations []Registration
	fields        []plugin.FieldDef
	fieldByKey    map[string]int32
	parsers       map[uint32]parserRef
	nextParser    uint32
	nextSession   int
	cur           *callContext
	initialized   bool

	// PluginLogs collects log and debug messages sent by the plugin.
	PluginLogs []string

	closer io.Closer
	wait   func() error
}

// New builds an emulator reading plugin traffic from in and writing
// callbacks to out.
func New(in io.Reader, out io.Writer, opts Options) *Emulator {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	maxStream := opts.MaxStream
	if maxStream <= 0 {
		maxStream = DefaultMaxStream
	}
	return &Emulator{
		ch:         wire.NewChannel(in, out, opts.Limits, opts.BufferSize),
		logger:     logger.WithField("component", "host"),
		maxStream:  maxStream,
		fieldByKey: make(map[string]int32),
		parsers:    make(map[uint32]parserRef),
		nextParser: 1,
	}
}

// Registrations returns what the plugin registered, in order.
func (em *Emulator) Registrations() []Registration { return em.registrations }

// Field returns the definition behind a field handle.
func (em *Emulator) Field(handle int32) (plugin.FieldDef, bool) {
	if handle < 1 || int(handle) > len(em.fields) {
		return plugin.FieldDef{}, false
	}
	return em.fields[handle-1], true
}

// NewSession allocates a session with the next id.
func (em *Emulator) NewSession(t plugin.Transport, tuple wire.Session) *Session {
	em.nextSession++
	return newSession(em.nextSession, t, tuple, em.maxStream)
}

// Init runs the register and define callbacks once.
func (em *Emulator) Init() error {
	if em.initialized {
		return nil
	}
	if _, err := em.invoke(nil, bridge.CallbackRegister, false); err != nil {
		return err
	}
	if _, err := em.invoke(nil, bridge.CallbackDefine, false); err != nil {
		return err
	}
	em.initialized = true
	em.logger.WithFields(map[string]any{
		"classifiers": len(em.registrations),
		"fields":      len(em.fields),
	}).Debug("plugin initialized")
	return nil
}

// Classify runs the classify callback of one classifier for sess.
func (em *Emulator) Classify(sess *Session, classifier string, data []byte, dir plugin.Direction) error {
	_, err := em.invoke(&callContext{sess: sess, classifier: classifier},
		bridge.CallbackClassify, false,
		wire.String(classifier), sess.Tuple, wire.Data(data), wire.Uint32(dir))
	return err
}

// Parse hands a chunk to a live parser.
func (em *Emulator) Parse(handle uint32, data []byte, dir plugin.Direction) error {
	ref, ok := em.parsers[handle]
	if !ok {
		return fmt.Errorf("parse: no parser %d", handle)
	}
	_, err := em.invoke(&callContext{sess: ref.sess, classifier: ref.classifier, handle: handle, hasHandle: true},
		bridge.CallbackParse, false,
		wire.String(ref.classifier), wire.Uint32(handle), wire.Data(data), wire.Uint32(dir))
	return err
}

// Free releases a parser on the plugin side.
func (em *Emulator) Free(handle uint32) error {
	ref, ok := em.parsers[handle]
	if !ok {
		return fmt.Errorf("free: no parser %d", handle)
	}
	delete(em.parsers, handle)
	ref.sess.dropParser(handle)
	_, err := em.invoke(nil, bridge.CallbackFree, false, wire.String(ref.classifier), wire.Uint32(handle))
	return err
}

// Decode asks a classifier to render data.
func (em *Emulator) Decode(classifier string, data []byte, dir plugin.Direction, decoder string) (wire.Render, error) {
	v, err := em.invoke(nil, bridge.CallbackDecode, true,
		wire.String(classifier), wire.Data(data), wire.Uint32(dir), wire.String(decoder))
	if err != nil {
		return wire.Render{}, err
	}
	r, ok := v.(wire.Render)
	if !ok {
		return wire.Render{}, fmt.Errorf("%w: decode returned %s", core.ErrUnexpectedResult, v.Tag())
	}
	return r, nil
}

// Feed delivers one chunk of a session. Classifiers whose pattern matches
// the start of the session classify it once; then every live parser parses
// the chunk. On TCP, parsers attached by this chunk's classification get the
// direction's bytes from the start of the session instead.
func (em *Emulator) Feed(sess *Session, data []byte, dir plugin.Direction) error {
	if sess.closed || len(data) == 0 {
		return nil
	}
	sess.record(data, dir)

	payload := data
	if stream := sess.Stream(dir); sess.Transport == plugin.TransportTCP && sess.Bytes[dir.Index()] == len(stream) {
		payload = stream
	}
	before := make(map[uint32]bool)
	for _, h := range sess.Parsers() {
		before[h] = true
	}

	declined := sess.declined[dir.Index()]
	for _, reg := range em.registrations {
		if sess.classified[reg.Name] || declined[reg.Name] {
			continue
		}
		switch reg.match(sess, data, dir) {
		case matchPending:
			continue
		case matchNone:
			declined[reg.Name] = true
			continue
		}
		sess.classified[reg.Name] = true
		if err := em.Classify(sess, reg.Name, payload, dir); err != nil {
			return err
		}
	}

	for _, h := range sess.Parsers() {
		if _, live := em.parsers[h]; !live {
			continue
		}
		chunk := data
		if !before[h] {
			chunk = payload
		}
		if err := em.Parse(h, chunk, dir); err != nil {
			return err
		}
	}
	return nil
}

// CloseSession frees every parser still attached to sess.
func (em *Emulator) CloseSession(sess *Session) error {
	if sess.closed {
		return nil
	}
	sess.closed = true
	for _, h := range sess.Parsers() {
		if err := em.Free(h); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown closes the callback stream, which the plugin takes as a clean
// stop, and waits for the plugin to finish.
func (em *Emulator) Shutdown() error {
	closer, wait := em.closer, em.wait
	em.closer, em.wait = nil, nil
	if closer != nil {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	if wait != nil {
		return wait()
	}
	return nil
}

// invoke sends a callback and serves plugin operations until its return.
func (em *Emulator) invoke(ctx *callContext, callback string, withResult bool, args ...wire.Value) (wire.Value, error) {
	em.cur = ctx
	defer func() { em.cur = nil }()

	if err := em.ch.WriteCall(callback, args...); err != nil {
		return nil, fmt.Errorf("send %s: %w", callback, err)
	}
	if err := em.ch.Out.Flush(); err != nil {
		return nil, fmt.Errorf("send %s: %w", callback, err)
	}
	for {
		op, err := em.ch.In.ReadString()
		if err != nil {
			return nil, fmt.Errorf("await %s: %w", callback, wire.Midstream(err))
		}
		if op == bridge.ReturnName {
			if !withResult {
				return nil, nil
			}
			v, err := em.ch.In.ReadValue()
			if err != nil {
				return nil, fmt.Errorf("read %s result: %w", callback, wire.Midstream(err))
			}
			return v, nil
		}
		args, err := em.ch.ReadArgs()
		if err != nil {
			return nil, fmt.Errorf("read %s arguments: %w", op, wire.Midstream(err))
		}
		result, err := em.serve(op, bridge.Args(args))
		if err != nil {
			return nil, fmt.Errorf("during %s: %s: %w", callback, op, err)
		}
		if !bridge.OpReturnsValue(op) {
			continue
		}
		if err := em.ch.Out.WriteValue(result); err != nil {
			return nil, err
		}
		if err := em.ch.Out.Flush(); err != nil {
			return nil, err
		}
	}
}

func (em *Emulator) session() (*Session, error) {
	if em.cur == nil || em.cur.sess == nil {
		return nil, core.ErrNoSession
	}
	return em.cur.sess, nil
}

func (em *Emulator) serve(op string, args bridge.Args) (wire.Value, error) {
	switch op {
	case bridge.OpLog, bridge.OpDebug:
		if err := args.Expect(op, 1); err != nil {
			return nil, err
		}
		msg, err := args.Str(0)
		if err != nil {
			return nil, err
		}
		em.PluginLogs = append(em.PluginLogs, msg)
		if op == bridge.OpLog {
			em.logger.WithField("source", "plugin").Info(msg)
		} else {
			em.logger.WithField("source", "plugin").Debug(msg)
		}
		return nil, nil

	case bridge.OpRegisterTCPClassifier, bridge.OpRegisterUDPClassifier:
		return nil, em.registerPattern(op, args)
	case bridge.OpRegisterPortClassifier:
		return nil, em.registerPort(args)

	case bridge.OpRegisterParser:
		if err := args.Expect(op, 1); err != nil {
			return nil, err
		}
		sess, err := em.session()
		if err != nil {
			return nil, err
		}
		name, err := args.Str(0)
		if err != nil {
			return nil, err
		}
		h := em.nextParser
		em.nextParser++
		em.parsers[h] = parserRef{classifier: name, sess: sess}
		sess.parsers = append(sess.parsers, h)
		return wire.Uint32(h), nil

	case bridge.OpUnregisterParser:
		if err := args.Expect(op, 0); err != nil {
			return nil, err
		}
		if em.cur == nil || !em.cur.hasHandle {
			return nil, core.ErrNoSession
		}
		delete(em.parsers, em.cur.handle)
		em.cur.sess.dropParser(em.cur.handle)
		return nil, nil

	case bridge.OpAddProtocolTag, bridge.OpAddSessionTag, bridge.OpHasProtocol:
		if err := args.Expect(op, 1); err != nil {
			return nil, err
		}
		sess, err := em.session()
		if err != nil {
			return nil, err
		}
		name, err := args.Str(0)
		if err != nil {
			return nil, err
		}
		switch op {
		case bridge.OpAddProtocolTag:
			sess.addProtocol(name)
		case bridge.OpAddSessionTag:
			sess.Tags = append(sess.Tags, name)
		default:
			if sess.HasProtocol(name) {
				return wire.Uint32(1), nil
			}
			return wire.Uint32(0), nil
		}
		return nil, nil

	case bridge.OpDefineField:
		return em.defineField(args)
	case bridge.OpAddStringField, bridge.OpAddIntField, bridge.OpAddIPField:
		return nil, em.addField(op, args)

	case bridge.OpRenderToHTML:
		if err := args.Expect(op, 1); err != nil {
			return nil, err
		}
		raw, err := args.Bytes(0)
		if err != nil {
			return nil, err
		}
		out, err := renderHTML(raw)
		if err != nil {
			return nil, err
		}
		return wire.String(out), nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownOperation, op)
}

func (em *Emulator) registerPattern(op string, args bridge.Args) error {
	if err := args.Expect(op, 3); err != nil {
		return err
	}
	name, err := args.Str(0)
	if err != nil {
		return err
	}
	offset, err := args.Uint32(1)
	if err != nil {
		return err
	}
	pattern, err := args.Bytes(2)
	if err != nil {
		return err
	}
	t := plugin.TransportTCP
	if op == bridge.OpRegisterUDPClassifier {
		t = plugin.TransportUDP
	}
	em.registrations = append(em.registrations, Registration{
		Name: name, Transport: t, Offset: offset, Pattern: bytes.Clone(pattern),
	})
	return nil
}

func (em *Emulator) registerPort(args bridge.Args) error {
	if err := args.Expect(bridge.OpRegisterPortClassifier, 3); err != nil {
		return err
	}
	name, err := args.Str(0)
	if err != nil {
		return err
	}
	port, err := args.Uint32(1)
	if err != nil {
		return err
	}
	ts, err := args.Str(2)
	if err != nil {
		return err
	}
	t, err := plugin.ParseTransport(ts)
	if err != nil {
		return err
	}
	if port == 0 || port > 0xffff {
		return fmt.Errorf("%w: port %d", core.ErrArgumentMismatch, port)
	}
	em.registrations = append(em.registrations, Registration{Name: name, Transport: t, Port: uint16(port)})
	return nil
}

// defineField returns the existing handle for a known DB field.
func (em *Emulator) defineField(args bridge.Args) (wire.Value, error) {
	if err := args.Expect(bridge.OpDefineField, 8); err != nil {
		return nil, err
	}
	var strs [6]string
	for i := range strs {
		s, err := args.Str(i)
		if err != nil {
			return nil, err
		}
		strs[i] = s
	}
	typ, err := args.Uint32(6)
	if err != nil {
		return nil, err
	}
	flags, err := args.Uint32(7)
	if err != nil {
		return nil, err
	}
	def := plugin.FieldDef{
		Group: strs[0], Kind: strs[1], Expression: strs[2], FriendlyName: strs[3],
		DBField: strs[4], Help: strs[5], Type: plugin.FieldType(typ), Flags: plugin.FieldFlag(flags),
	}
	if h, ok := em.fieldByKey[def.DBField]; ok {
		return wire.Uint32(uint32(h)), nil
	}
	em.fields = append(em.fields, def)
	h := int32(len(em.fields))
	em.fieldByKey[def.DBField] = h
	return wire.Uint32(uint32(h)), nil
}

func (em *Emulator) addField(op string, args bridge.Args) error {
	if err := args.Expect(op, 2); err != nil {
		return err
	}
	sess, err := em.session()
	if err != nil {
		return err
	}
	raw, err := args.Uint32(0)
	if err != nil {
		return err
	}
	handle := int32(raw)

	var value string
	if op == bridge.OpAddIntField {
		n, err := args.Uint32(1)
		if err != nil {
			return err
		}
		value = strconv.FormatUint(uint64(n), 10)
	} else {
		if value, err = args.Str(1); err != nil {
			return err
		}
	}

	switch handle {
	case plugin.ProtocolHandle:
		sess.addProtocol(value)
		return nil
	case plugin.TagHandle:
		sess.Tags = append(sess.Tags, value)
		return nil
	}
	def, ok := em.Field(handle)
	if !ok {
		return fmt.Errorf("%w: %d", core.ErrUnknownField, handle)
	}
	sess.Fields[def.DBField] = append(sess.Fields[def.DBField], value)
	return nil
}

// renderHTML wraps text in an escaped <pre> block.
func renderHTML(raw []byte) (string, error) {
	pre := &html.Node{Type: html.ElementNode, DataAtom: atom.Pre, Data: "pre"}
	pre.AppendChild(&html.Node{Type: html.TextNode, Data: string(raw)})
	var buf bytes.Buffer
	if err := html.Render(&buf, pre); err != nil {
		return "", err
	}
	return buf.String(), nil
}
