package sample

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCutMessage(t *testing.T) {
	msg := Handshake(0x01020304)
	require.Len(t, msg, HeaderLen+4)

	for i := 0; i < len(msg); i++ {
		m, n, err := cutMessage(msg[:i])
		require.NoError(t, err, "prefix %d", i)
		assert.Nil(t, m)
		assert.Zero(t, n)
	}

	m, n, err := cutMessage(append(msg, 'S'))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, TypeHandshake, m.typ)
	assert.Equal(t, []byte{4, 3, 2, 1}, m.body)
}

func TestCutMessageErrors(t *testing.T) {
	_, _, err := cutMessage([]byte("X"))
	assert.ErrorIs(t, err, errBadMagic)
	_, _, err = cutMessage([]byte("SQ"))
	assert.ErrorIs(t, err, errBadMagic)

	huge := []byte{'S', 'P', TypeData, 0, 0, 0, 0x20, 0}
	_, _, err = cutMessage(huge)
	assert.ErrorIs(t, err, errTooLarge)
}

func TestXORRoundTrip(t *testing.T) {
	body := []byte("hello, obfuscated world")
	key := Key(99)
	enc := xorBody(body, key)
	assert.NotEqual(t, body, enc)
	assert.Equal(t, body, xorBody(enc, key))
	assert.Equal(t, uint32(99)^keyMask, key)
}

func TestParseTLVs(t *testing.T) {
	m, _, err := cutMessage(Data(5, User("bob"), Host(netip.MustParseAddr("192.0.2.1")), Counter(3)))
	require.NoError(t, err)

	tlvs, err := parseTLVs(xorBody(m.body, Key(5)))
	require.NoError(t, err)
	require.Len(t, tlvs, 3)
	assert.Equal(t, User("bob"), tlvs[0])
	assert.Equal(t, []byte{192, 0, 2, 1}, tlvs[1].Value)
	assert.Equal(t, Counter(3), tlvs[2])

	_, err = parseTLVs([]byte{1, 0, 9, 0, 'x'})
	assert.ErrorIs(t, err, errShortTLV)
	_, err = parseTLVs([]byte{1, 0})
	assert.ErrorIs(t, err, errShortTLV)
}

func TestAppendMessageLayout(t *testing.T) {
	got := AppendMessage([]byte{0xff}, TypeClose, 0x80, []byte{1, 2})
	want := []byte{0xff, 'S', 'P', 3, 0x80, 2, 0, 0, 0, 1, 2}
	assert.True(t, bytes.Equal(want, got), "%x", got)
	assert.Len(t, Close(), HeaderLen)
}
