package sip

import (
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/plugin/plugintest"
	"firestige.xyz/otus-dissect/pkg/wire"
)

const callID = "a84b4c76e66710@10.0.0.1"

var tuple = wire.NewSession(netip.MustParseAddrPort("10.0.0.1:5060"), netip.MustParseAddrPort("10.0.0.2:5060"))

// message builds a SIP message of the call under test.
func message(startLine, cseq string, body string) []byte {
	var b strings.Builder
	b.WriteString(startLine + "\r\n")
	b.WriteString("Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK776asdhds\r\n")
	b.WriteString("Max-Forwards: 70\r\n")
	b.WriteString("To: Bob <sip:bob@example.com>\r\n")
	b.WriteString("From: Alice <sip:alice@example.com>;tag=1928301774\r\n")
	b.WriteString("Call-ID: " + callID + "\r\n")
	b.WriteString("CSeq: " + cseq + "\r\n")
	b.WriteString("User-Agent: softphone/1.0\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.WriteString(body)
	return []byte(b.String())
}

var (
	invite   = message("INVITE sip:bob@example.com SIP/2.0", "314159 INVITE", "")
	ringing  = message("SIP/2.0 180 Ringing", "314159 INVITE", "")
	inviteOK = message("SIP/2.0 200 OK", "314159 INVITE", "")
	busy     = message("SIP/2.0 486 Busy Here", "314159 INVITE", "")
	ack      = message("ACK sip:bob@example.com SIP/2.0", "314159 ACK", "")
	bye      = message("BYE sip:bob@example.com SIP/2.0", "314160 BYE", "")
	byeOK    = message("SIP/2.0 200 OK", "314160 BYE", "")
	toServer = plugin.DirectionToServer
	toClient = plugin.DirectionToClient
)

func newEngine(t *testing.T) (*plugin.Engine, *plugintest.Host, *Classifier) {
	t.Helper()
	h := plugintest.NewHost()
	e := plugin.NewEngine(h)
	c := New().(*Classifier)
	require.NoError(t, e.Add(c))
	require.NoError(t, e.Register())
	require.NoError(t, e.Define())
	h.Reset()
	return e, h, c
}

func TestRegistration(t *testing.T) {
	h := plugintest.NewHost()
	e := plugin.NewEngine(h)
	require.NoError(t, e.Add(New()))
	require.NoError(t, e.Register())
	require.NoError(t, e.Define())

	ops := h.Ops()
	require.Len(t, ops, 8)
	assert.Equal(t, []string{"registerudp", "registerPort"}, ops[:2])
	assert.Equal(t, []any{Name, uint32(0), []byte("INVITE ")}, h.Calls[0].Args)
	assert.Equal(t, []any{Name, uint16(5060), plugin.TransportUDP}, h.Calls[1].Args)
	for _, op := range ops[2:] {
		assert.Equal(t, "defineField", op)
	}
}

func TestCallFlow(t *testing.T) {
	e, h, c := newEngine(t)
	require.NoError(t, e.Classify(Name, tuple, invite, toServer))
	assert.Equal(t, []string{Name}, h.Protocols)
	require.Equal(t, 1, e.Active(Name))

	steps := []struct {
		data []byte
		dir  plugin.Direction
	}{
		{invite, toServer}, {ringing, toClient}, {inviteOK, toClient},
		{ack, toServer}, {bye, toServer}, {byeOK, toClient},
	}
	for _, s := range steps {
		require.NoError(t, e.Parse(Name, 1, s.data, s.dir))
	}

	assert.Equal(t, []any{"INVITE", "ACK", "BYE"}, h.Values("sip.method"))
	assert.Equal(t, []any{uint32(180), uint32(200), uint32(200)}, h.Values("sip.status"))
	assert.Equal(t, []any{callID}, h.Values("sip.callid"))
	assert.Equal(t, []any{"sip:alice@example.com"}, h.Values("sip.from"))
	assert.Equal(t, []any{"sip:bob@example.com"}, h.Values("sip.to"))
	assert.Equal(t, []any{"softphone/1.0"}, h.Values("sip.useragent"))
	assert.Equal(t, []string{TagEstablished}, h.Tags)
	assert.Equal(t, 1, h.Unregistered())
	assert.Zero(t, e.Active(Name))
	assert.Zero(t, c.Dialogs())
}

func TestRetransmissionTagged(t *testing.T) {
	e, h, _ := newEngine(t)
	require.NoError(t, e.Classify(Name, tuple, invite, toServer))

	require.NoError(t, e.Parse(Name, 1, invite, toServer))
	require.NoError(t, e.Parse(Name, 1, invite, toServer))

	assert.Equal(t, []any{"INVITE"}, h.Values("sip.method"))
	assert.Equal(t, []string{TagRetransmission}, h.Tags)
}

func TestFailedCallUnregisters(t *testing.T) {
	e, h, c := newEngine(t)
	require.NoError(t, e.Classify(Name, tuple, invite, toServer))

	require.NoError(t, e.Parse(Name, 1, invite, toServer))
	assert.Equal(t, 1, c.Dialogs())
	require.NoError(t, e.Parse(Name, 1, busy, toClient))

	assert.Equal(t, []any{uint32(486)}, h.Values("sip.status"))
	assert.Empty(t, h.Tags)
	assert.Equal(t, 1, h.Unregistered())
	assert.Zero(t, c.Dialogs())
}

func TestClassifyRejectsNonSIP(t *testing.T) {
	e, h, _ := newEngine(t)
	require.NoError(t, e.Classify(Name, tuple, []byte("INVITE nonsense\r\n\r\n"), toServer))
	assert.Empty(t, h.Protocols)
	assert.Zero(t, e.Active(Name))
	require.Len(t, h.Logs, 1)
	assert.Contains(t, h.Logs[0], "not a SIP message")
}

func TestDecode(t *testing.T) {
	e, _, _ := newEngine(t)
	withBody := message("MESSAGE sip:bob@example.com SIP/2.0", "1 MESSAGE", "hi!!")
	stream := append(append([]byte{}, invite...), withBody...)

	r, err := e.Decode(Name, stream, toServer, "default")
	require.NoError(t, err)
	assert.Equal(t, stream, r.Raw)
	assert.Contains(t, r.Label, "INVITE sip:bob@example.com SIP/2.0\n")
	assert.Contains(t, r.Label, "  CSeq: 1 MESSAGE\n")
	assert.Contains(t, r.Label, "  body (4 bytes)\n")

	r, err = e.Decode(Name, stream, toServer, "other")
	require.NoError(t, err)
	assert.Equal(t, wire.Render{}, r)
}

func TestDecoderChunking(t *testing.T) {
	c := New()
	withBody := message("MESSAGE sip:bob@example.com SIP/2.0", "1 MESSAGE", "body")
	stream := append(append([]byte{}, withBody...), ringing...)

	whole, err := plugin.Drain(c.NewDecoder("default"), toClient, stream)
	require.NoError(t, err)
	require.Len(t, whole, 2)

	dec := c.NewDecoder("default")
	var chunked []plugin.Frame
	for i := range stream {
		fs, err := plugin.Drain(dec, toClient, stream[i:i+1])
		require.NoError(t, err)
		chunked = append(chunked, fs...)
	}
	require.Len(t, chunked, 2)
	for i := range whole {
		assert.Equal(t, plugin.Render(whole[i]), plugin.Render(chunked[i]))
	}
}

func TestCutMessage(t *testing.T) {
	header, body, n, err := cutMessage(invite[:len(invite)-1])
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, header)
	assert.Nil(t, body)

	m := message("MESSAGE sip:b@x SIP/2.0", "1 MESSAGE", "abc")
	_, _, n, err = cutMessage(m[:len(m)-1])
	require.NoError(t, err)
	assert.Zero(t, n, "body incomplete")
	_, body, n, err = cutMessage(m)
	require.NoError(t, err)
	assert.Equal(t, len(m), n)
	assert.Equal(t, "abc", string(body))

	_, _, _, err = cutMessage([]byte("OPTIONS sip:x SIP/2.0\r\nl: many\r\n\r\n"))
	assert.Error(t, err)
	_, _, _, err = cutMessage(make([]byte, maxHeader+1))
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	c := New().(*Classifier)
	require.NoError(t, c.Init(nil))
	assert.Equal(t, defaultDialogTTL, c.ttl)

	require.NoError(t, c.Init(map[string]any{"dialog_ttl": "5s", "cleanup_interval": 10 * time.Second}))
	assert.Equal(t, 5*time.Second, c.ttl)
	assert.Equal(t, 10*time.Second, c.cleanup)

	assert.Error(t, c.Init(map[string]any{"dialog_ttl": 5}))
	assert.Error(t, c.Init(map[string]any{"dialog_ttl": "soon"}))
	assert.Error(t, c.Init(map[string]any{"cleanup_interval": "-1s"}))
}

func TestExtractURI(t *testing.T) {
	tests := map[string]string{
		`"Alice" <sip:alice@example.com>;tag=1`: "sip:alice@example.com",
		"sip:bob@example.com;tag=2":             "sip:bob@example.com",
		"<sip:broken":                           "",
		"":                                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, extractURI(in), in)
	}
}
