package plugin

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// echoParser records chunks and unregisters once it sees "bye".
type echoParser struct {
	chunks   [][]byte
	released int
	field    *Field
}

func (p *echoParser) Parse(sess *Session, data []byte, dir Direction) error {
	p.chunks = append(p.chunks, data)
	if p.field != nil {
		if err := sess.Add(p.field, uint32(len(data))); err != nil {
			return err
		}
	}
	if string(data) == "bye" {
		return sess.Unregister()
	}
	return nil
}

func (p *echoParser) Release() { p.released++ }

type stubClassifier struct {
	name      string
	transport Transport
	offset    uint32
	pattern   []byte
	ports     []uint16

	bytesField *Field
	parsers    []*echoParser
	decoder    func() Decoder
}

func (c *stubClassifier) Name() string         { return c.name }
func (c *stubClassifier) Transport() Transport { return c.transport }
func (c *stubClassifier) Offset() uint32       { return c.offset }
func (c *stubClassifier) Pattern() []byte      { return c.pattern }

func (c *stubClassifier) Define(fs *FieldSet) error {
	f, err := fs.Define(FieldDef{Group: c.name, Kind: "integer", Expression: c.name + ".bytes",
		DBField: c.name + ".bytes", Type: FieldIntArray})
	c.bytesField = f
	return err
}

func (c *stubClassifier) Classify(sess *Session, data []byte, dir Direction) error {
	if err := sess.AddProtocol(c.name); err != nil {
		return err
	}
	p := &echoParser{field: c.bytesField}
	if _, err := sess.RegisterParser(p); err != nil {
		return err
	}
	c.parsers = append(c.parsers, p)
	return nil
}

func (c *stubClassifier) NewDecoder(name string) Decoder {
	if c.decoder == nil {
		return nil
	}
	return c.decoder()
}

type portStub struct{ stubClassifier }

func (c *portStub) Ports() []uint16 { return c.ports }

func testTuple() wire.Session {
	return wire.NewSession(netip.MustParseAddrPort("10.0.0.1:1234"), netip.MustParseAddrPort("10.0.0.2:80"))
}

func newTestEngine(t *testing.T, cs ...Classifier) (*Engine, *fakeHost) {
	t.Helper()
	h := newFakeHost()
	e := NewEngine(h)
	for _, c := range cs {
		require.NoError(t, e.Add(c))
	}
	return e, h
}

func TestEngineRegister(t *testing.T) {
	tcp := &stubClassifier{name: "any12", transport: TransportTCP, offset: 12}
	udp := &portStub{stubClassifier{name: "dns", transport: TransportUDP, pattern: []byte{0x01}, ports: []uint16{53, 5353}}}
	e, h := newTestEngine(t, tcp, udp)

	require.NoError(t, e.Register())
	assert.Equal(t, []string{"registertcp", "registerudp", "registerPort", "registerPort"}, h.names())
	assert.Equal(t, []any{"any12", uint32(12), []byte(nil)}, h.calls[0].args)
	assert.Equal(t, []any{"dns", uint16(5353), TransportUDP}, h.calls[3].args)
}

func TestEngineDefineIdempotent(t *testing.T) {
	c := &stubClassifier{name: "s"}
	e, _ := newTestEngine(t, c)
	require.NoError(t, e.Define())
	first := c.bytesField
	require.NoError(t, e.Define())
	assert.Same(t, first, c.bytesField)

	fs, err := e.Fields("s")
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Len())
}

func TestEngineLifecycle(t *testing.T) {
	c := &stubClassifier{name: "s"}
	e, h := newTestEngine(t, c)
	require.NoError(t, e.Define())

	require.NoError(t, e.Classify("s", testTuple(), []byte("hello"), DirectionToServer))
	require.Len(t, c.parsers, 1)
	assert.Equal(t, 1, e.Active("s"))
	assert.True(t, h.protocols["s"])

	p := c.parsers[0]
	require.NoError(t, e.Parse("s", 1, []byte("abc"), DirectionToServer))
	require.NoError(t, e.Parse("s", 1, []byte("de"), DirectionToClient))
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("de")}, p.chunks)
	assert.Equal(t, []any{c.bytesField.Handle(), uint32(2)}, h.last().args)

	require.NoError(t, e.Parse("s", 1, []byte("bye"), DirectionToServer))
	assert.Equal(t, "unregisterParser", h.last().name)
	assert.Zero(t, e.Active("s"))
	assert.Equal(t, 1, p.released)

	// Late chunks after unregister are ignored.
	require.NoError(t, e.Parse("s", 1, []byte("late"), DirectionToServer))
	assert.Len(t, p.chunks, 3)
}

func TestEngineFree(t *testing.T) {
	c := &stubClassifier{name: "s"}
	e, _ := newTestEngine(t, c)
	require.NoError(t, e.Define())

	require.NoError(t, e.Classify("s", testTuple(), nil, DirectionToServer))
	require.NoError(t, e.Classify("s", testTuple().Reverse(), nil, DirectionToServer))
	assert.Equal(t, 2, e.Active("s"))

	require.NoError(t, e.Free("s", 1))
	assert.Equal(t, 1, e.Active("s"))
	assert.Equal(t, 1, c.parsers[0].released)
	assert.Zero(t, c.parsers[1].released)

	require.NoError(t, e.Free("s", 1), "double free is ignored")
	assert.Equal(t, 1, c.parsers[0].released)
}

func TestEngineUnknownClassifier(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Classify("nope", testTuple(), nil, 0), core.ErrUnknownClassifier)
	assert.ErrorIs(t, e.Parse("nope", 1, nil, 0), core.ErrUnknownClassifier)
	assert.ErrorIs(t, e.Free("nope", 1), core.ErrUnknownClassifier)
	_, err := e.Decode("nope", nil, 0, "")
	assert.ErrorIs(t, err, core.ErrUnknownClassifier)
}

func TestEngineAddDuplicate(t *testing.T) {
	e, _ := newTestEngine(t, &stubClassifier{name: "s"})
	assert.ErrorIs(t, e.Add(&stubClassifier{name: "s"}), core.ErrClassifierExists)
}

func TestEngineEnabledList(t *testing.T) {
	h := newFakeHost()
	e := NewEngine(h, WithEnabled([]string{"b"}))
	require.NoError(t, e.Add(&stubClassifier{name: "a"}))
	require.NoError(t, e.Add(&stubClassifier{name: "b"}))
	assert.Equal(t, []string{"b"}, e.Classifiers())

	all := NewEngine(h, WithEnabled([]string{"*"}))
	assert.True(t, all.Enabled("anything"))
	assert.True(t, NewEngine(h).Enabled("anything"))
}

func TestEngineClassifyError(t *testing.T) {
	c := &stubClassifier{name: "s"}
	e, h := newTestEngine(t, c)
	h.failOn = "registerParser"
	err := e.Classify("s", testTuple(), nil, DirectionToServer)
	assert.ErrorIs(t, err, errHostFailed)
	assert.Zero(t, e.Active("s"))
}

func TestEngineDecode(t *testing.T) {
	c := &stubClassifier{name: "s"}
	e, h := newTestEngine(t, c)

	r, err := e.Decode("s", []byte{1, 2, 3}, DirectionToServer, "default")
	require.NoError(t, err)
	assert.True(t, r.Empty(), "no decoder gives an empty render")

	c.decoder = func() Decoder { return NewStreamDecoder(tlvFrames) }
	r, err = e.Decode("s", []byte{2, 1}, DirectionToServer, "default")
	require.NoError(t, err)
	assert.True(t, r.Empty(), "incomplete frame gives an empty render")

	r, err = e.Decode("s", []byte{0, 3, 1, 1, 'a'}, DirectionToServer, "default")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 3, 1, 1, 'a'}, r.Raw)
	assert.Contains(t, r.Label, "child 1")
	assert.NotContains(t, h.names(), "renderToHtml")

	r, err = e.Decode("s", []byte{3, 2, 5, 'b'}, DirectionToServer, "default")
	require.NoError(t, err, "malformed input is not fatal")
	assert.True(t, r.Empty())

	r, err = e.Decode("s", []byte{0, 3, 1, 9, 'x'}, DirectionToServer, "default")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, r.Raw, "frames before the malformed one are kept")

	e.renderHTML = true
	r, err = e.Decode("s", []byte{0}, DirectionToServer, "default")
	require.NoError(t, err)
	assert.Equal(t, "<pre>outer\n", r.Label)
	assert.Equal(t, "renderToHtml", h.last().name)
}
